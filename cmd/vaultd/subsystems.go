package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/vault/pkg/clock"
	"github.com/Mindburn-Labs/vault/pkg/config"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/governance"
	"github.com/Mindburn-Labs/vault/pkg/observability"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// subsystems is everything a command needs to drive the engine.
type subsystems struct {
	cfg      *config.Config
	logger   *slog.Logger
	engine   *governance.Engine
	store    store.Store
	db       *sql.DB
	redis    *store.RedisStore
	outbox   *events.OutboxSink
	provider *observability.Provider
}

func openSubsystems(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*subsystems, error) {
	s := &subsystems{cfg: cfg, logger: logger}

	if err := s.openStore(ctx); err != nil {
		return nil, err
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTLPEndpoint
	otelCfg.ServiceVersion = Version
	provider, err := observability.New(ctx, otelCfg)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("observability: %w", err)
	}
	s.provider = provider

	sinks := events.Fanout{events.NewLogSink(logger)}
	if s.outbox != nil {
		sinks = append(sinks, s.outbox)
	}

	// No Treasury: transfers are recorded in state and events only.
	clk := clock.NewSystem(time.Unix(cfg.GenesisUnix, 0))
	eng, err := governance.NewEngine(s.store, clk,
		governance.WithSink(sinks),
		governance.WithObserver(provider),
		governance.WithLogger(logger),
	)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	s.engine = eng
	return s, nil
}

func (s *subsystems) openStore(ctx context.Context) error {
	switch s.cfg.StoreDriver {
	case "memory":
		s.store = store.NewMemoryStore()
		s.logger.WarnContext(ctx, "memory store selected; state is lost on exit")
		return nil

	case "redis":
		rs := store.NewRedisStore(s.cfg.RedisAddr, s.cfg.RedisPassword, 0)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return fmt.Errorf("redis ping %s: %w", s.cfg.RedisAddr, err)
		}
		s.store, s.redis = rs, rs
		s.logger.InfoContext(ctx, "redis store connected", "addr", s.cfg.RedisAddr)
		return nil
	}

	dialect, err := store.ParseDialect(s.cfg.StoreDriver)
	if err != nil {
		return err
	}
	db, err := sql.Open(dialect.DriverName(), s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open %s: %w", dialect.DriverName(), err)
	}
	if dialect == store.DialectSQLite {
		// One writer; the engine serializes operations anyway.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%s ping: %w", dialect.DriverName(), err)
	}
	st, err := store.NewSQLStore(ctx, db, dialect)
	if err != nil {
		_ = db.Close()
		return err
	}
	outbox, err := events.NewOutboxSink(ctx, db, dialect == store.DialectPostgres)
	if err != nil {
		_ = db.Close()
		return err
	}
	s.store, s.db, s.outbox = st, db, outbox
	s.logger.InfoContext(ctx, "sql store ready", "driver", dialect.DriverName())
	return nil
}

// prune drops lapsed records from stores that keep them until swept.
func (s *subsystems) prune(ctx context.Context) (int64, error) {
	switch st := s.store.(type) {
	case *store.SQLStore:
		return st.Prune(ctx)
	case *store.MemoryStore:
		return int64(st.Prune()), nil
	default:
		// Redis expires keys itself.
		return 0, nil
	}
}

func (s *subsystems) Close(ctx context.Context) error {
	var errs []error
	if s.provider != nil {
		errs = append(errs, s.provider.Shutdown(ctx))
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	return errors.Join(errs...)
}
