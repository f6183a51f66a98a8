package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/observability"
)

func runInitCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("init", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	path := cmd.String("config", "vault.yaml", "Vault bootstrap file")
	admin := cmd.String("admin", "", "Admin address (overrides the file's admin)")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	vf, err := config.LoadVault(*path)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if *admin == "" {
		*admin = vf.Admin
	}
	if *admin == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --admin is required when the file has no admin")
		return 2
	}
	ic, err := vf.InitConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
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

	if err := sys.engine.Initialize(ctx, *admin, ic); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintf(stdout, "vault initialized: %d signers, threshold %d, admin %s\n",
		len(ic.Config.Signers), ic.Config.Threshold, *admin)
	return 0
}
