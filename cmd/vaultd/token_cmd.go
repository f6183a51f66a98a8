package main

import (
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/auth"
	"github.com/Mindburn-Labs/vault/pkg/config"
)

func runTokenCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("token", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	sub := cmd.String("sub", "", "Vault address the token authenticates (REQUIRED)")
	ttl := cmd.Duration("ttl", time.Hour, "Token lifetime")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if *sub == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --sub is required")
		return 2
	}

	cfg := config.Load()
	tok, err := auth.Issue(cfg.JWTSecret, cfg.JWTIssuer, *sub, time.Now(), *ttl)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v (set JWT_SECRET)\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(stdout, tok)
	return 0
}
