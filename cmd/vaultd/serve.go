package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/api"
	"github.com/Mindburn-Labs/vault/pkg/auth"
	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/observability"
)

func runServeCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)
	addr := cmd.String("addr", "", "Listen address (default :$PORT)")
	sweepEvery := cmd.Duration("sweep-interval", time.Minute, "How often to expire proposals and pay recurring payments; 0 disables")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if *addr == "" {
		*addr = ":" + cfg.Port
	}
	logger := observability.NewLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys, err := openSubsystems(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sys.Close(closeCtx); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set; every /v1 request will be rejected")
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx, time.Minute, 10*time.Minute)

	var handler http.Handler = api.NewServer(sys.engine).Handler()
	handler = limiter.Middleware(handler)
	handler = auth.NewMiddleware(auth.NewValidator(cfg.JWTSecret, cfg.JWTIssuer))(handler)
	handler = api.RequestIDMiddleware(handler)

	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if *sweepEvery > 0 {
		go runSweeper(ctx, sys, *sweepEvery)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	_, _ = fmt.Fprintf(stdout, "vaultd %s listening on %s (store: %s)\n", Version, *addr, cfg.StoreDriver)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return 1
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		return 1
	}
	return 0
}

func runSweeper(ctx context.Context, sys *subsystems, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := sweepOnce(ctx, sys); err != nil {
				sys.logger.WarnContext(ctx, "sweep failed", "error", err)
			}
		}
	}
}
