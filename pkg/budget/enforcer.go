package budget

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Guard implements fail-closed spending and velocity enforcement over Storage.
type Guard struct {
	storage Storage
	logger  *slog.Logger
}

// NewGuard creates a guard backed by s.
func NewGuard(s Storage) *Guard {
	return &Guard{
		storage: s,
		logger:  slog.Default().With("component", "budget"),
	}
}

// Check verifies amount against the caps given the current bucket totals.
// It does not mutate anything.
func Check(limits Limits, dailySpent, weeklySpent, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount %d", contracts.ErrInvalidAmount, amount)
	}
	if amount > limits.PerTransaction {
		return fmt.Errorf("%w: amount %d > per-transaction cap %d", contracts.ErrLimitExceeded, amount, limits.PerTransaction)
	}
	newDaily, ok := add(dailySpent, amount)
	if !ok {
		return fmt.Errorf("%w: %w", contracts.ErrLimitExceeded, ErrOverflow)
	}
	if newDaily > limits.Daily {
		return fmt.Errorf("%w: daily %d > %d", contracts.ErrLimitExceeded, newDaily, limits.Daily)
	}
	newWeekly, ok := add(weeklySpent, amount)
	if !ok {
		return fmt.Errorf("%w: %w", contracts.ErrLimitExceeded, ErrOverflow)
	}
	if newWeekly > limits.Weekly {
		return fmt.Errorf("%w: weekly %d > %d", contracts.ErrLimitExceeded, newWeekly, limits.Weekly)
	}
	return nil
}

// CheckAndReserve checks amount and, only if every cap passes, adds it to
// both the day and week buckets of period p.
func (g *Guard) CheckAndReserve(ctx context.Context, limits Limits, amount int64, p Period) (*Decision, error) {
	daily, err := g.storage.Spent(ctx, WindowDaily, p.Day)
	if err != nil {
		g.logger.WarnContext(ctx, "daily bucket read failed", "day", p.Day, "error", err)
		return &Decision{Allowed: false, Reason: "storage_error", Amount: amount, Period: p}, fmt.Errorf("read daily bucket: %w", err)
	}
	weekly, err := g.storage.Spent(ctx, WindowWeekly, p.Week)
	if err != nil {
		g.logger.WarnContext(ctx, "weekly bucket read failed", "week", p.Week, "error", err)
		return &Decision{Allowed: false, Reason: "storage_error", Amount: amount, Period: p}, fmt.Errorf("read weekly bucket: %w", err)
	}

	decision := &Decision{Amount: amount, DailySpent: daily, WeeklySpent: weekly, Period: p}
	if err := Check(limits, daily, weekly, amount); err != nil {
		g.logger.WarnContext(ctx, "spend denied", "amount", amount, "daily_spent", daily, "weekly_spent", weekly, "reason", err)
		decision.Reason = err.Error()
		return decision, err
	}

	if err := g.storage.SetSpent(ctx, WindowDaily, p.Day, daily+amount); err != nil {
		decision.Reason = "storage_error"
		return decision, fmt.Errorf("write daily bucket: %w", err)
	}
	if err := g.storage.SetSpent(ctx, WindowWeekly, p.Week, weekly+amount); err != nil {
		decision.Reason = "storage_error"
		return decision, fmt.Errorf("write weekly bucket: %w", err)
	}

	decision.Allowed = true
	decision.Reason = "within limits"
	decision.DailySpent = daily + amount
	decision.WeeklySpent = weekly + amount
	return decision, nil
}

// AdmitVelocity records a proposal by proposer at now if fewer than
// cfg.Limit proposals remain inside the window. A zero limit admits nothing.
func (g *Guard) AdmitVelocity(ctx context.Context, cfg contracts.VelocityConfig, proposer string, now uint64) error {
	history, err := g.storage.History(ctx, proposer)
	if err != nil {
		g.logger.WarnContext(ctx, "velocity history read failed", "proposer", proposer, "error", err)
		return fmt.Errorf("read velocity history: %w", err)
	}
	updated, err := Admit(history, cfg, now)
	if err != nil {
		g.logger.WarnContext(ctx, "velocity denied", "proposer", proposer, "limit", cfg.Limit, "window", cfg.Window)
		return err
	}
	if err := g.storage.SetHistory(ctx, proposer, updated); err != nil {
		return fmt.Errorf("write velocity history: %w", err)
	}
	return nil
}

// Prune drops every timestamp at or before now - window. Order is kept.
func Prune(history []uint64, now, window uint64) []uint64 {
	var start uint64
	if now > window {
		start = now - window
	}
	kept := make([]uint64, 0, len(history)+1)
	for _, ts := range history {
		if ts > start {
			kept = append(kept, ts)
		}
	}
	return kept
}

// Admit prunes history and appends now when the remaining count is below the limit.
func Admit(history []uint64, cfg contracts.VelocityConfig, now uint64) ([]uint64, error) {
	kept := Prune(history, now, cfg.Window)
	if uint64(len(kept)) >= uint64(cfg.Limit) {
		return nil, fmt.Errorf("%w: velocity %d in %ds window", contracts.ErrLimitExceeded, cfg.Limit, cfg.Window)
	}
	return append(kept, now), nil
}

func add(a, b int64) (int64, bool) {
	if b > 0 && a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}
