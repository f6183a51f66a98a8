package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/observability"
)

// sweepActor is recorded as the caller of sweep-triggered recurring payments.
const sweepActor = "vaultd"

type sweepResult struct {
	Expired []uint64 `json:"expired"`
	Paid    []uint64 `json:"paid"`
	Pruned  int64    `json:"pruned"`
}

func sweepOnce(ctx context.Context, sys *subsystems) (*sweepResult, error) {
	expired, err := sys.engine.SweepExpired(ctx)
	if err != nil {
		return nil, fmt.Errorf("expire: %w", err)
	}
	paid, err := sys.engine.ExecuteDueRecurring(ctx, sweepActor)
	if err != nil {
		return nil, fmt.Errorf("recurring: %w", err)
	}
	pruned, err := sys.prune(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune: %w", err)
	}
	res := &sweepResult{Expired: expired, Paid: paid, Pruned: pruned}
	if res.Expired == nil {
		res.Expired = []uint64{}
	}
	if res.Paid == nil {
		res.Paid = []uint64{}
	}
	sys.logger.InfoContext(ctx, "sweep complete", "expired", len(res.Expired), "paid", len(res.Paid), "pruned", pruned)
	return res, nil
}

func runSweepCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("sweep", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	jsonOutput := cmd.Bool("json", false, "Output result as JSON")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	logger := observability.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	sys, err := openSubsystems(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = sys.Close(ctx) }()

	res, err := sweepOnce(ctx, sys)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOutput {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(res)
		return 0
	}
	_, _ = fmt.Fprintf(stdout, "expired: %v\npaid: %v\npruned: %d\n", res.Expired, res.Paid, res.Pruned)
	return 0
}
