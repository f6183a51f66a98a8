package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/insurance"
	"github.com/Mindburn-Labs/vault/pkg/priority"
	"github.com/Mindburn-Labs/vault/pkg/recipients"
	"github.com/Mindburn-Labs/vault/pkg/reputation"
	"github.com/Mindburn-Labs/vault/pkg/store"
	"github.com/Mindburn-Labs/vault/pkg/threshold"
)

// ProposeRequest describes a new transfer proposal.
type ProposeRequest struct {
	Recipient      string                   `json:"recipient"`
	Token          string                   `json:"token"`
	Amount         int64                    `json:"amount"`
	Memo           string                   `json:"memo,omitempty"`
	Priority       contracts.Priority       `json:"priority"`
	Conditions     []contracts.Condition    `json:"conditions,omitempty"`
	ConditionLogic contracts.ConditionLogic `json:"condition_logic,omitempty"`
	Attachments    []string                 `json:"attachments,omitempty"`
	// InsuranceStake is what the proposer puts up; it must cover the required stake.
	InsuranceStake int64 `json:"insurance_stake,omitempty"`
}

// Propose creates a Pending proposal and returns its id.
func (e *Engine) Propose(ctx context.Context, caller string, req ProposeRequest) (uint64, error) {
	var id uint64
	err := e.run(ctx, "propose", func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := e.requireRole(ctx, t, caller, contracts.RoleTreasurer); err != nil {
			return nil, err
		}
		if req.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive, got %d", contracts.ErrInvalidAmount, req.Amount)
		}
		if !req.Priority.Valid() {
			return nil, fmt.Errorf("%w: unknown priority %d", contracts.ErrInvalidConfig, req.Priority)
		}
		logic := req.ConditionLogic
		switch logic {
		case "":
			logic = contracts.LogicAnd
		case contracts.LogicAnd, contracts.LogicOr:
		default:
			return nil, fmt.Errorf("%w: unknown condition logic %q", contracts.ErrInvalidConfig, logic)
		}
		if err := e.conditions.Validate(req.Conditions); err != nil {
			return nil, err
		}
		if err := recipients.NewPolicy(t).Check(ctx, req.Recipient); err != nil {
			return nil, err
		}

		ins, err := e.loadInsurance(ctx, t)
		if err != nil {
			return nil, err
		}
		var stake int64
		if required := insurance.RequiredStake(req.Amount, ins); required > 0 {
			if req.InsuranceStake < required {
				return nil, fmt.Errorf("%w: stake %d below required %d", contracts.ErrInsufficientInsurance, req.InsuranceStake, required)
			}
			stake = req.InsuranceStake
		}

		// Velocity is consumed at creation.
		if err := budget.NewGuard(t).AdmitVelocity(ctx, cfg.Velocity, caller, e.clock.Timestamp()); err != nil {
			return nil, err
		}

		id, err = t.nextID(ctx, store.NextProposalIDKey())
		if err != nil {
			return nil, err
		}
		now := e.clock.Sequence()
		ttl := cfg.ProposalTTL
		if ttl == 0 {
			ttl = contracts.DefaultProposalTTL
		}
		p := &contracts.Proposal{
			ID:             id,
			Proposer:       contracts.NormalizeAddress(caller),
			Recipient:      contracts.NormalizeAddress(req.Recipient),
			Token:          req.Token,
			Amount:         req.Amount,
			Memo:           req.Memo,
			Approvals:      []string{},
			Abstentions:    []string{},
			Attachments:    req.Attachments,
			Status:         contracts.StatusPending,
			Priority:       req.Priority,
			Conditions:     req.Conditions,
			ConditionLogic: logic,
			CreatedAt:      now,
			ExpiresAt:      now + ttl,
			InsuranceStake: stake,
		}
		if cfg.TimelockDelay > 0 && req.Amount >= cfg.TimelockThreshold {
			p.UnlockLedger = now + cfg.TimelockDelay
		}
		if err := t.put(store.ProposalKey(id), p); err != nil {
			return nil, err
		}
		if err := priority.NewIndex(t).Add(ctx, p.Priority, id); err != nil {
			return nil, err
		}
		if err := e.touchReputation(ctx, t, caller, reputation.OnCreated); err != nil {
			return nil, err
		}
		if stake > 0 {
			if err := e.updatePool(ctx, t, func(pool *insurance.Pool) { pool.Escrow(stake) }); err != nil {
				return nil, err
			}
			if err := e.treasury.Escrow(ctx, p.Token, caller, stake); err != nil {
				return nil, fmt.Errorf("escrow insurance stake: %w", err)
			}
		}

		e.logger.InfoContext(ctx, "proposal created", "proposal_id", id, "proposer", caller, "amount", p.Amount, "priority", p.Priority.String())
		return []events.Event{events.New(events.ProposalCreated, id, caller, map[string]any{
			"recipient":       p.Recipient,
			"token":           p.Token,
			"amount":          p.Amount,
			"priority":        p.Priority.String(),
			"unlock_ledger":   p.UnlockLedger,
			"insurance_stake": stake,
		})}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// liveApprovals counts approvers who are still signers.
func liveApprovals(cfg *contracts.Config, p *contracts.Proposal) int {
	n := 0
	for _, a := range p.Approvals {
		if cfg.IsSigner(a) {
			n++
		}
	}
	return n
}

// quorum reports the approvals counted against the requirement at ledger now.
func quorum(cfg *contracts.Config, p *contracts.Proposal, now uint64) (have int, need uint32) {
	var elapsed uint64
	if now > p.CreatedAt {
		elapsed = now - p.CreatedAt
	}
	return liveApprovals(cfg, p), threshold.ForConfig(cfg, p.Amount, elapsed)
}

// votable checks the status preconditions shared by Approve and Abstain.
// Pending is votable; Approved is votable only while the live requirement
// is unmet, e.g. after a signer was removed.
func votable(cfg *contracts.Config, p *contracts.Proposal, now uint64) error {
	switch p.Status {
	case contracts.StatusPending:
		return nil
	case contracts.StatusApproved:
		if have, need := quorum(cfg, p, now); have < int(need) {
			return nil
		}
	}
	return fmt.Errorf("%w: proposal %d is %s", contracts.ErrInvalidState, p.ID, p.Status)
}

// Approve records caller's approval and moves the proposal to Approved once
// the live requirement is met.
func (e *Engine) Approve(ctx context.Context, caller string, id uint64) error {
	return e.runTransition(ctx, "approve", id, func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := e.requireSigner(cfg, caller); err != nil {
			return nil, err
		}
		p, expired, err := e.openProposal(ctx, t, id)
		if err != nil {
			return expired, err
		}
		if p.HasVoted(caller) {
			return nil, fmt.Errorf("%w: %s on proposal %d", contracts.ErrAlreadyVoted, caller, id)
		}
		now := e.clock.Sequence()
		if err := votable(cfg, p, now); err != nil {
			return nil, err
		}

		p.Approvals = append(p.Approvals, contracts.NormalizeAddress(caller))
		have, need := quorum(cfg, p, now)
		ready := have >= int(need) && p.Status == contracts.StatusPending
		if have >= int(need) {
			p.Status = contracts.StatusApproved
		}
		if err := t.put(store.ProposalKey(id), p); err != nil {
			return nil, err
		}
		if err := e.touchReputation(ctx, t, caller, reputation.OnApproval); err != nil {
			return nil, err
		}

		evts := []events.Event{events.New(events.ProposalApproved, id, caller, map[string]any{
			"approvals": have,
			"required":  need,
		})}
		if ready {
			e.logger.InfoContext(ctx, "proposal ready", "proposal_id", id, "approvals", have, "required", need)
			evts = append(evts, events.New(events.ProposalReady, id, caller, map[string]any{
				"unlock_ledger": p.UnlockLedger,
			}))
		}
		return evts, nil
	})
}

// Abstain records that caller declines to vote. Abstentions never count
// toward the requirement.
func (e *Engine) Abstain(ctx context.Context, caller string, id uint64) error {
	return e.runTransition(ctx, "abstain", id, func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := e.requireSigner(cfg, caller); err != nil {
			return nil, err
		}
		p, expired, err := e.openProposal(ctx, t, id)
		if err != nil {
			return expired, err
		}
		if p.HasVoted(caller) {
			return nil, fmt.Errorf("%w: %s on proposal %d", contracts.ErrAlreadyVoted, caller, id)
		}
		if err := votable(cfg, p, e.clock.Sequence()); err != nil {
			return nil, err
		}
		p.Abstentions = append(p.Abstentions, contracts.NormalizeAddress(caller))
		if err := t.put(store.ProposalKey(id), p); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.ProposalAbstained, id, caller, nil)}, nil
	})
}

// Execute transfers the amount of an Approved proposal once the live
// approval requirement, timelock, conditions and spending limits all pass.
//
// A Pending proposal is never executable, even when a relaxed requirement
// would now be met; one more approval moves it to Approved. The requirement
// is recomputed against the current signer set, tiers and elapsed ledgers,
// and only approvers who are still signers count.
func (e *Engine) Execute(ctx context.Context, caller string, id uint64) error {
	return e.runTransition(ctx, "execute", id, func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		p, expired, err := e.openProposal(ctx, t, id)
		if err != nil {
			return expired, err
		}
		if p.Status != contracts.StatusApproved {
			return nil, fmt.Errorf("%w: proposal %d is %s, not approved", contracts.ErrInvalidState, id, p.Status)
		}
		now := e.clock.Sequence()
		if have, need := quorum(cfg, p, now); have < int(need) {
			return nil, fmt.Errorf("%w: proposal %d has %d of %d required approvals", contracts.ErrInvalidState, id, have, need)
		}
		if p.UnlockLedger > 0 && now < p.UnlockLedger {
			return nil, fmt.Errorf("%w: unlocks at ledger %d, now %d", contracts.ErrTimelockNotElapsed, p.UnlockLedger, now)
		}
		met, err := e.conditionsMet(ctx, p)
		if err != nil {
			return nil, err
		}
		if !met {
			return nil, fmt.Errorf("%w: proposal %d", contracts.ErrConditionsNotMet, id)
		}

		limits := budget.Limits{PerTransaction: cfg.SpendingLimit, Daily: cfg.DailyLimit, Weekly: cfg.WeeklyLimit}
		decision, err := budget.NewGuard(t).CheckAndReserve(ctx, limits, p.Amount, budget.PeriodAt(e.clock.Timestamp()))
		if err != nil {
			return nil, err
		}

		p.Status = contracts.StatusExecuted
		if err := t.put(store.ProposalKey(id), p); err != nil {
			return nil, err
		}
		if err := priority.NewIndex(t).Remove(ctx, p.Priority, id); err != nil {
			return nil, err
		}
		if err := e.touchReputation(ctx, t, p.Proposer, reputation.OnExecuted); err != nil {
			return nil, err
		}
		if p.InsuranceStake > 0 {
			if err := e.updatePool(ctx, t, func(pool *insurance.Pool) { pool.Refund(p.InsuranceStake) }); err != nil {
				return nil, err
			}
		}

		if err := e.treasury.Transfer(ctx, p.Token, p.Recipient, p.Amount); err != nil {
			return nil, fmt.Errorf("transfer: %w", err)
		}
		if p.InsuranceStake > 0 {
			if err := e.treasury.Transfer(ctx, p.Token, p.Proposer, p.InsuranceStake); err != nil {
				return nil, fmt.Errorf("refund insurance stake: %w", err)
			}
		}

		e.logger.InfoContext(ctx, "proposal executed", "proposal_id", id, "amount", p.Amount, "daily_spent", decision.DailySpent)
		return []events.Event{events.New(events.ProposalExecuted, id, caller, map[string]any{
			"recipient":    p.Recipient,
			"token":        p.Token,
			"amount":       p.Amount,
			"daily_spent":  decision.DailySpent,
			"weekly_spent": decision.WeeklySpent,
		})}, nil
	})
}

// Reject closes an open proposal. Only an Admin or the proposer may reject.
// The proposer's stake is slashed per the insurance config.
func (e *Engine) Reject(ctx context.Context, caller string, id uint64) error {
	return e.runTransition(ctx, "reject", id, func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err != nil {
			return nil, err
		}
		p, expired, err := e.openProposal(ctx, t, id)
		if err != nil {
			return expired, err
		}
		if !contracts.SameAddress(caller, p.Proposer) {
			if err := e.requireRole(ctx, t, caller, contracts.RoleAdmin); err != nil {
				return nil, err
			}
		}

		p.Status = contracts.StatusRejected
		if err := t.put(store.ProposalKey(id), p); err != nil {
			return nil, err
		}
		if err := priority.NewIndex(t).Remove(ctx, p.Priority, id); err != nil {
			return nil, err
		}
		if err := e.touchReputation(ctx, t, p.Proposer, reputation.OnRejected); err != nil {
			return nil, err
		}

		evts := []events.Event{events.New(events.ProposalRejected, id, caller, map[string]any{
			"proposer": p.Proposer,
		})}
		if p.InsuranceStake > 0 {
			ins, err := e.loadInsurance(ctx, t)
			if err != nil {
				return nil, err
			}
			var s insurance.Settlement
			if err := e.updatePool(ctx, t, func(pool *insurance.Pool) { s = pool.Forfeit(p.InsuranceStake, ins) }); err != nil {
				return nil, err
			}
			if s.Refunded > 0 {
				if err := e.treasury.Transfer(ctx, p.Token, p.Proposer, s.Refunded); err != nil {
					return nil, fmt.Errorf("refund insurance stake: %w", err)
				}
			}
			if s.Slashed > 0 {
				evts = append(evts, events.New(events.InsuranceSlashed, id, p.Proposer, map[string]any{
					"stake":    s.Stake,
					"slashed":  s.Slashed,
					"refunded": s.Refunded,
				}))
			}
		}

		e.logger.InfoContext(ctx, "proposal rejected", "proposal_id", id, "by", caller)
		return evts, nil
	})
}

// Expire closes an open proposal that is past its expiry ledger.
func (e *Engine) Expire(ctx context.Context, id uint64) error {
	return e.run(ctx, "expire", func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err != nil {
			return nil, err
		}
		p, err := e.loadProposal(ctx, t, id)
		if err != nil {
			return nil, err
		}
		if !p.Expired(e.clock.Sequence()) {
			return nil, fmt.Errorf("%w: proposal %d is %s and expires after ledger %d", contracts.ErrInvalidState, id, p.Status, p.ExpiresAt)
		}
		return e.stageExpiry(ctx, t, p)
	})
}

// SweepExpired expires every queued proposal past its expiry and returns
// their ids. A queued id whose record is gone is dropped from its queue.
func (e *Engine) SweepExpired(ctx context.Context) ([]uint64, error) {
	var expired []uint64
	err := e.run(ctx, "sweep_expired", func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err != nil {
			return nil, err
		}
		index := priority.NewIndex(t)
		now := e.clock.Sequence()
		var evts []events.Event
		for _, tier := range contracts.Priorities {
			ids, err := index.Queue(ctx, tier)
			if err != nil {
				return nil, err
			}
			for _, id := range ids {
				p, err := e.loadProposal(ctx, t, id)
				if errors.Is(err, contracts.ErrProposalNotFound) {
					e.logger.WarnContext(ctx, "dropping dangling queue entry", "proposal_id", id, "priority", tier.String())
					if err := index.Remove(ctx, tier, id); err != nil {
						return nil, err
					}
					continue
				}
				if err != nil {
					return nil, err
				}
				if !p.Expired(now) {
					continue
				}
				ev, err := e.stageExpiry(ctx, t, p)
				if err != nil {
					return nil, err
				}
				evts = append(evts, ev...)
				expired = append(expired, id)
			}
		}
		return evts, nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// stageExpiry moves p to Expired and refunds its whole stake. Expiry is not
// a fault, so reputation is untouched.
func (e *Engine) stageExpiry(ctx context.Context, t *txn, p *contracts.Proposal) ([]events.Event, error) {
	p.Status = contracts.StatusExpired
	if err := t.put(store.ProposalKey(p.ID), p); err != nil {
		return nil, err
	}
	if err := priority.NewIndex(t).Remove(ctx, p.Priority, p.ID); err != nil {
		return nil, err
	}
	if p.InsuranceStake > 0 {
		if err := e.updatePool(ctx, t, func(pool *insurance.Pool) { pool.Refund(p.InsuranceStake) }); err != nil {
			return nil, err
		}
		if err := e.treasury.Transfer(ctx, p.Token, p.Proposer, p.InsuranceStake); err != nil {
			return nil, fmt.Errorf("refund insurance stake: %w", err)
		}
	}
	e.logger.InfoContext(ctx, "proposal expired", "proposal_id", p.ID, "expires_at", p.ExpiresAt)
	return []events.Event{events.New(events.ProposalExpired, p.ID, "", map[string]any{
		"expires_at": p.ExpiresAt,
		"refunded":   p.InsuranceStake,
	})}, nil
}
