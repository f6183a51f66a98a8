package governance

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/recipients"
	"github.com/Mindburn-Labs/vault/pkg/recurring"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// RecurringRequest describes a periodic payment.
type RecurringRequest struct {
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    int64  `json:"amount"`
	Memo      string `json:"memo,omitempty"`
	// Interval is in ledgers; the first payment is due one interval from now.
	Interval uint64 `json:"interval"`
}

// CreateRecurring schedules a payment. Caller must be a Treasurer or Admin.
func (e *Engine) CreateRecurring(ctx context.Context, caller string, req RecurringRequest) (uint64, error) {
	var id uint64
	err := e.run(ctx, "create_recurring", func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err != nil {
			return nil, err
		}
		if err := e.requireRole(ctx, t, caller, contracts.RoleTreasurer); err != nil {
			return nil, err
		}
		if err := recipients.NewPolicy(t).Check(ctx, req.Recipient); err != nil {
			return nil, err
		}
		next, err := t.nextID(ctx, store.NextRecurringIDKey())
		if err != nil {
			return nil, err
		}
		p, err := recurring.New(next, contracts.NormalizeAddress(caller), contracts.NormalizeAddress(req.Recipient), req.Token, req.Amount, req.Memo, req.Interval, e.clock.Sequence())
		if err != nil {
			return nil, err
		}
		if err := t.put(store.RecurringKey(next), p); err != nil {
			return nil, err
		}
		id = next
		e.logger.InfoContext(ctx, "recurring payment created", "payment_id", id, "interval", p.Interval, "amount", p.Amount)
		return []events.Event{events.New(events.RecurringCreated, id, caller, map[string]any{
			"recipient":           p.Recipient,
			"token":               p.Token,
			"amount":              p.Amount,
			"interval":            p.Interval,
			"next_payment_ledger": p.NextPaymentLedger,
		})}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) loadRecurring(ctx context.Context, t *txn, id uint64) (*contracts.RecurringPayment, error) {
	var p contracts.RecurringPayment
	ok, err := t.get(ctx, store.RecurringKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: recurring payment %d", contracts.ErrProposalNotFound, id)
	}
	return &p, nil
}

// ExecuteRecurring pays one due cycle of payment id. Anyone may trigger it.
// A payment several cycles behind needs one call per cycle.
func (e *Engine) ExecuteRecurring(ctx context.Context, caller string, id uint64) error {
	return e.run(ctx, "execute_recurring", func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		p, err := e.loadRecurring(ctx, t, id)
		if err != nil {
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: recurring payment %d is stopped", contracts.ErrInvalidState, id)
		}
		due, ok := recurring.MaybeMature(p, e.clock.Sequence())
		if !ok {
			return nil, fmt.Errorf("%w: recurring payment %d due at ledger %d", contracts.ErrTimelockNotElapsed, id, p.NextPaymentLedger)
		}
		if err := recipients.NewPolicy(t).Check(ctx, p.Recipient); err != nil {
			return nil, err
		}
		limits := budget.Limits{PerTransaction: cfg.SpendingLimit, Daily: cfg.DailyLimit, Weekly: cfg.WeeklyLimit}
		if _, err := budget.NewGuard(t).CheckAndReserve(ctx, limits, p.Amount, budget.PeriodAt(e.clock.Timestamp())); err != nil {
			return nil, err
		}
		if err := t.put(store.RecurringKey(id), p); err != nil {
			return nil, err
		}
		if err := e.treasury.Transfer(ctx, p.Token, p.Recipient, p.Amount); err != nil {
			return nil, fmt.Errorf("transfer: %w", err)
		}
		e.logger.InfoContext(ctx, "recurring payment executed", "payment_id", id, "count", due.Count)
		return []events.Event{events.New(events.RecurringExecuted, id, caller, map[string]any{
			"recipient":     due.Recipient,
			"amount":        due.Amount,
			"due_ledger":    due.Ledger,
			"payment_count": due.Count,
		})}, nil
	})
}

// StopRecurring deactivates payment id. Caller must be an Admin or the proposer.
func (e *Engine) StopRecurring(ctx context.Context, caller string, id uint64) error {
	return e.run(ctx, "stop_recurring", func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err != nil {
			return nil, err
		}
		p, err := e.loadRecurring(ctx, t, id)
		if err != nil {
			return nil, err
		}
		if !contracts.SameAddress(caller, p.Proposer) {
			if err := e.requireRole(ctx, t, caller, contracts.RoleAdmin); err != nil {
				return nil, err
			}
		}
		if !p.Active {
			return nil, fmt.Errorf("%w: recurring payment %d is already stopped", contracts.ErrInvalidState, id)
		}
		p.Active = false
		if err := t.put(store.RecurringKey(id), p); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.RecurringStopped, id, caller, nil)}, nil
	})
}

// ExecuteDueRecurring runs ExecuteRecurring once for every active payment
// that is due, returning the ids that paid. Failures are logged and skipped.
func (e *Engine) ExecuteDueRecurring(ctx context.Context, caller string) ([]uint64, error) {
	next := uint64(1)
	if _, err := store.GetJSON(ctx, e.store, store.NextRecurringIDKey(), &next); err != nil {
		return nil, err
	}
	var paid []uint64
	now := e.clock.Sequence()
	for id := uint64(1); id < next; id++ {
		p, err := e.Recurring(ctx, id)
		if err != nil || !p.Active || now < p.NextPaymentLedger {
			continue
		}
		if err := e.ExecuteRecurring(ctx, caller, id); err != nil {
			e.logger.WarnContext(ctx, "recurring payment skipped", "payment_id", id, "error", err)
			continue
		}
		paid = append(paid, id)
	}
	return paid, nil
}
