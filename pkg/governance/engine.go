// Package governance implements the vault's proposal lifecycle: creation,
// approval, abstention, execution, rejection and expiry, together with the
// admin operations, recurring payments and the cross-chain proposal model.
//
// Every operation runs under one engine-wide lock, validates before it
// mutates, stages its writes and commits them with a single Store.Apply.
// Events are emitted only after the commit succeeds.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/vault/pkg/clock"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/insurance"
	"github.com/Mindburn-Labs/vault/pkg/reputation"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// Treasury moves assets on behalf of the vault. The engine calls it after
// all checks pass and before committing; a Treasury error aborts the operation.
type Treasury interface {
	Balance(ctx context.Context, token string) (int64, error)
	Transfer(ctx context.Context, token, to string, amount int64) error
	// Escrow pulls amount of token from an external address into the vault.
	Escrow(ctx context.Context, token, from string, amount int64) error
}

// Observer wraps each engine operation, e.g. for tracing and RED metrics.
type Observer interface {
	StartOperation(ctx context.Context, op string) (context.Context, func(error))
}

type nopObserver struct{}

func (nopObserver) StartOperation(ctx context.Context, _ string) (context.Context, func(error)) {
	return ctx, func(error) {}
}

// Option configures an Engine.
type Option func(*Engine)

// WithTreasury sets the asset mover. Without one, transfers are bookkeeping only.
func WithTreasury(t Treasury) Option { return func(e *Engine) { e.treasury = t } }

// WithSink sets the event sink.
func WithSink(s events.Sink) Option { return func(e *Engine) { e.sink = s } }

// WithObserver sets the operation observer.
func WithObserver(o Observer) Option { return func(e *Engine) { e.observer = o } }

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "governance") }
}

// Engine is the vault state machine.
type Engine struct {
	mu         sync.Mutex
	store      store.Store
	clock      clock.Source
	treasury   Treasury
	sink       events.Sink
	observer   Observer
	conditions *ConditionEvaluator
	logger     *slog.Logger
}

// NewEngine creates an engine over st, reading time from clk.
func NewEngine(st store.Store, clk clock.Source, opts ...Option) (*Engine, error) {
	conds, err := NewConditionEvaluator()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		store:      st,
		clock:      clk,
		treasury:   nopTreasury{},
		sink:       events.NewMemorySink(),
		observer:   nopObserver{},
		conditions: conds,
		logger:     slog.Default().With("component", "governance"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// run wraps one serialized operation: observer span, lock, staged txn,
// commit and post-commit emission.
func (e *Engine) run(ctx context.Context, op string, fn func(ctx context.Context, t *txn) ([]events.Event, error)) (err error) {
	ctx, finish := e.observer.StartOperation(ctx, op)
	defer func() { finish(err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	t := newTxn(e.store)
	evts, err := fn(ctx, t)
	if err != nil {
		e.logger.WarnContext(ctx, "operation denied", "op", op, "error", err)
		return err
	}
	if t.dirty() || len(t.touched) > 0 {
		if err := t.commit(ctx); err != nil {
			e.logger.ErrorContext(ctx, "commit failed", "op", op, "error", err)
			return err
		}
	}
	e.emit(ctx, evts)
	return nil
}

func (e *Engine) emit(ctx context.Context, evts []events.Event) {
	if len(evts) == 0 {
		return
	}
	seq, ts := e.clock.Sequence(), e.clock.Timestamp()
	for i := range evts {
		if err := evts[i].Seal(seq, ts); err != nil {
			e.logger.ErrorContext(ctx, "event seal failed", "event", evts[i].Name, "error", err)
		}
	}
	if err := e.sink.Emit(ctx, evts); err != nil {
		e.logger.ErrorContext(ctx, "event emission failed", "count", len(evts), "error", err)
	}
}

func (e *Engine) loadConfig(ctx context.Context, t *txn) (*contracts.Config, error) {
	var cfg contracts.Config
	ok, err := t.get(ctx, store.ConfigKey(), &cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.ErrNotInitialized
	}
	return &cfg, nil
}

func (e *Engine) roleOf(ctx context.Context, t *txn, addr string) (contracts.Role, error) {
	role := contracts.RoleMember
	if _, err := t.get(ctx, store.RoleKey(addr), &role); err != nil {
		return 0, err
	}
	return role, nil
}

func (e *Engine) requireRole(ctx context.Context, t *txn, addr string, min contracts.Role) error {
	role, err := e.roleOf(ctx, t, addr)
	if err != nil {
		return err
	}
	if !role.AtLeast(min) {
		return fmt.Errorf("%w: %s has role %s, needs %s", contracts.ErrUnauthorized, addr, role, min)
	}
	return nil
}

func (e *Engine) requireSigner(cfg *contracts.Config, addr string) error {
	if !cfg.IsSigner(addr) {
		return fmt.Errorf("%w: %s is not a signer", contracts.ErrUnauthorized, addr)
	}
	return nil
}

// loadReputation returns addr's record with decay applied at the current timestamp.
func (e *Engine) loadReputation(ctx context.Context, t *txn, addr string) (*contracts.Reputation, error) {
	rep := contracts.NewReputation()
	if _, err := t.get(ctx, store.ReputationKey(addr), &rep); err != nil {
		return nil, err
	}
	reputation.Decay(&rep, e.clock.Timestamp())
	return &rep, nil
}

// touchReputation loads, decays, mutates and stages addr's reputation.
func (e *Engine) touchReputation(ctx context.Context, t *txn, addr string, fn func(*contracts.Reputation)) error {
	rep, err := e.loadReputation(ctx, t, addr)
	if err != nil {
		return err
	}
	fn(rep)
	return t.put(store.ReputationKey(addr), rep)
}

func (e *Engine) loadInsurance(ctx context.Context, t *txn) (contracts.InsuranceConfig, error) {
	cfg := contracts.DefaultInsuranceConfig()
	_, err := t.get(ctx, store.InsuranceConfigKey(), &cfg)
	return cfg, err
}

// updatePool applies fn to the durable insurance totals.
func (e *Engine) updatePool(ctx context.Context, t *txn, fn func(*insurance.Pool)) error {
	var pool insurance.Pool
	if _, err := t.get(ctx, store.InsuranceTotalsKey(), &pool.Totals); err != nil {
		return err
	}
	fn(&pool)
	return t.put(store.InsuranceTotalsKey(), pool.Totals)
}

func (e *Engine) loadProposal(ctx context.Context, t *txn, id uint64) (*contracts.Proposal, error) {
	var p contracts.Proposal
	ok, err := t.get(ctx, store.ProposalKey(id), &p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %d", contracts.ErrProposalNotFound, id)
	}
	return &p, nil
}

// errExpiredCommitted signals that run must commit the expiry it staged and
// then report ErrProposalExpired to the caller.
var errExpiredCommitted = errors.New("expired")

// runTransition is run for proposal operations that may hit lazy expiry.
// When fn returns errExpiredCommitted the staged expiry is committed and the
// caller receives ErrProposalExpired.
func (e *Engine) runTransition(ctx context.Context, op string, id uint64, fn func(ctx context.Context, t *txn) ([]events.Event, error)) error {
	var expired bool
	err := e.run(ctx, op, func(ctx context.Context, t *txn) ([]events.Event, error) {
		evts, err := fn(ctx, t)
		if errors.Is(err, errExpiredCommitted) {
			expired = true
			return evts, nil
		}
		return evts, err
	})
	if err == nil && expired {
		return fmt.Errorf("%w: proposal %d", contracts.ErrProposalExpired, id)
	}
	return err
}

// openProposal loads id for a transition. A proposal past its expiry has
// its expiry staged and errExpiredCommitted is returned with the event.
func (e *Engine) openProposal(ctx context.Context, t *txn, id uint64) (*contracts.Proposal, []events.Event, error) {
	p, err := e.loadProposal(ctx, t, id)
	if err != nil {
		return nil, nil, err
	}
	if p.Expired(e.clock.Sequence()) {
		evts, err := e.stageExpiry(ctx, t, p)
		if err != nil {
			return nil, nil, err
		}
		return nil, evts, errExpiredCommitted
	}
	if p.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: proposal %d is %s", contracts.ErrInvalidState, id, p.Status)
	}
	return p, nil, nil
}

type nopTreasury struct{}

func (nopTreasury) Balance(context.Context, string) (int64, error) { return 0, nil }
func (nopTreasury) Transfer(context.Context, string, string, int64) error { return nil }
func (nopTreasury) Escrow(context.Context, string, string, int64) error { return nil }
