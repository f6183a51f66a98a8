package governance

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/priority"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// read runs a query under the engine lock. It stages no writes, but the
// expiry of every persistent record it read is refreshed.
func (e *Engine) read(ctx context.Context, fn func(ctx context.Context, t *txn) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := newTxn(e.store)
	if err := fn(ctx, t); err != nil {
		return err
	}
	if len(t.touched) > 0 {
		if err := t.commit(ctx); err != nil {
			e.logger.ErrorContext(ctx, "touch failed", "error", err)
			return err
		}
	}
	return nil
}

// Proposal returns proposal id. A proposal found past its expiry is expired
// first, and the expired record is returned.
func (e *Engine) Proposal(ctx context.Context, id uint64) (*contracts.Proposal, error) {
	var out *contracts.Proposal
	err := e.run(ctx, "get_proposal", func(ctx context.Context, t *txn) ([]events.Event, error) {
		p, err := e.loadProposal(ctx, t, id)
		if err != nil {
			return nil, err
		}
		out = p
		if p.Expired(e.clock.Sequence()) {
			return e.stageExpiry(ctx, t, p)
		}
		return nil, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Config returns the vault configuration.
func (e *Engine) Config(ctx context.Context) (*contracts.Config, error) {
	var cfg *contracts.Config
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		cfg, err = e.loadConfig(ctx, t)
		return err
	})
	return cfg, err
}

// Role returns addr's role; unknown addresses are Members.
func (e *Engine) Role(ctx context.Context, addr string) (contracts.Role, error) {
	var role contracts.Role
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		role, err = e.roleOf(ctx, t, addr)
		return err
	})
	return role, err
}

// Reputation returns addr's record with decay applied. The decayed score is
// not persisted.
func (e *Engine) Reputation(ctx context.Context, addr string) (*contracts.Reputation, error) {
	var rep *contracts.Reputation
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		rep, err = e.loadReputation(ctx, t, addr)
		return err
	})
	return rep, err
}

// ReputationScore is a shortcut for Reputation(...).Score.
func (e *Engine) ReputationScore(ctx context.Context, addr string) (uint32, error) {
	rep, err := e.Reputation(ctx, addr)
	if err != nil {
		return 0, err
	}
	return rep.Score, nil
}

// PriorityQueue returns the pending ids of one tier in insertion order.
func (e *Engine) PriorityQueue(ctx context.Context, tier contracts.Priority) ([]uint64, error) {
	if !tier.Valid() {
		return nil, fmt.Errorf("%w: unknown priority %d", contracts.ErrInvalidConfig, tier)
	}
	var ids []uint64
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		ids, err = priority.NewIndex(t).Queue(ctx, tier)
		return err
	})
	return ids, err
}

// PendingByPriority returns every queued id, Critical tier first.
func (e *Engine) PendingByPriority(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		ids, err = priority.NewIndex(t).Merged(ctx)
		return err
	})
	return ids, err
}

// DailySpent returns the amount executed on day (unix seconds / 86400).
func (e *Engine) DailySpent(ctx context.Context, day uint64) (int64, error) {
	return e.spent(ctx, budget.WindowDaily, day)
}

// WeeklySpent returns the amount executed in week (unix seconds / 604800).
func (e *Engine) WeeklySpent(ctx context.Context, week uint64) (int64, error) {
	return e.spent(ctx, budget.WindowWeekly, week)
}

func (e *Engine) spent(ctx context.Context, w budget.WindowType, index uint64) (int64, error) {
	var amount int64
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		amount, err = t.Spent(ctx, w, index)
		return err
	})
	return amount, err
}

// Recurring returns recurring payment id.
func (e *Engine) Recurring(ctx context.Context, id uint64) (*contracts.RecurringPayment, error) {
	var p *contracts.RecurringPayment
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		p, err = e.loadRecurring(ctx, t, id)
		return err
	})
	return p, err
}

// InsuranceConfig returns the stored insurance config or the default.
func (e *Engine) InsuranceConfig(ctx context.Context) (contracts.InsuranceConfig, error) {
	var cfg contracts.InsuranceConfig
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		cfg, err = e.loadInsurance(ctx, t)
		return err
	})
	return cfg, err
}

// InsuranceTotals returns the pool bookkeeping.
func (e *Engine) InsuranceTotals(ctx context.Context) (contracts.InsuranceTotals, error) {
	var totals contracts.InsuranceTotals
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		_, err := t.get(ctx, store.InsuranceTotalsKey(), &totals)
		return err
	})
	return totals, err
}

// CrossChainProposal returns cross-chain proposal id as stored.
func (e *Engine) CrossChainProposal(ctx context.Context, id uint64) (*contracts.CrossChainProposal, error) {
	var p contracts.CrossChainProposal
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		ok, err := t.get(ctx, store.CrossChainKey(id), &p)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cross-chain proposal %d", contracts.ErrProposalNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CrossChainAsset returns asset id.
func (e *Engine) CrossChainAsset(ctx context.Context, id uint64) (*contracts.CrossChainAsset, error) {
	var a contracts.CrossChainAsset
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		ok, err := t.get(ctx, store.AssetKey(id), &a)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: cross-chain asset %d", contracts.ErrProposalNotFound, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// BridgeConfig returns the bridge configuration or ErrBridgeNotConfigured.
func (e *Engine) BridgeConfig(ctx context.Context) (*contracts.BridgeConfig, error) {
	var b *contracts.BridgeConfig
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		var err error
		b, err = e.loadBridge(ctx, t)
		return err
	})
	return b, err
}

// Preview reports whether amount would pass the spending caps right now,
// without reserving anything.
func (e *Engine) Preview(ctx context.Context, amount int64) (*budget.Decision, error) {
	var d *budget.Decision
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return err
		}
		period := budget.PeriodAt(e.clock.Timestamp())
		daily, err := t.Spent(ctx, budget.WindowDaily, period.Day)
		if err != nil {
			return err
		}
		weekly, err := t.Spent(ctx, budget.WindowWeekly, period.Week)
		if err != nil {
			return err
		}
		limits := budget.Limits{PerTransaction: cfg.SpendingLimit, Daily: cfg.DailyLimit, Weekly: cfg.WeeklyLimit}
		d = &budget.Decision{Allowed: true, Reason: "within limits", Amount: amount, DailySpent: daily, WeeklySpent: weekly, Period: period}
		if err := budget.Check(limits, daily, weekly, amount); err != nil {
			d.Allowed = false
			d.Reason = err.Error()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}
