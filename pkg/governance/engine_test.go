package governance_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/clock"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/governance"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

const (
	token = "XLM"
	// 2023-11-15 00:00:00 UTC, the start of a day bucket.
	genesis = uint64(1_700_006_400)
	today   = genesis / budget.SecondsPerDay
)

type fixture struct {
	eng      *governance.Engine
	clk      *clock.Manual
	mem      *store.MemoryStore
	sink     *events.MemorySink
	treasury *governance.MemoryTreasury
}

func baseInit() governance.InitConfig {
	return governance.InitConfig{
		Config: contracts.Config{
			Signers:       []string{"A", "B", "C"},
			Threshold:     2,
			SpendingLimit: 1_000_000,
			DailyLimit:    1_000_000,
			WeeklyLimit:   1_000_000,
			Velocity:      contracts.VelocityConfig{Limit: 100, Window: 3600},
		},
		Roles: map[string]contracts.Role{"B": contracts.RoleTreasurer, "C": contracts.RoleTreasurer},
	}
}

func newFixture(t *testing.T, mutate ...func(*governance.InitConfig)) *fixture {
	t.Helper()
	clk := clock.NewManual(100, genesis)
	sink := events.NewMemorySink()
	tr := governance.NewMemoryTreasury()
	tr.Deposit(token, 1_000_000)

	// Store expiry follows the ledger clock.
	mem := store.NewMemoryStore().WithClock(func() time.Time { return time.Unix(int64(clk.Timestamp()), 0) })

	eng, err := governance.NewEngine(mem, clk,
		governance.WithTreasury(tr),
		governance.WithSink(sink),
	)
	require.NoError(t, err)

	ic := baseInit()
	for _, m := range mutate {
		m(&ic)
	}
	require.NoError(t, eng.Initialize(context.Background(), "A", ic))
	sink.Reset()
	return &fixture{eng: eng, clk: clk, mem: mem, sink: sink, treasury: tr}
}

func (f *fixture) propose(t *testing.T, caller string, amount int64) uint64 {
	t.Helper()
	id, err := f.eng.Propose(context.Background(), caller, governance.ProposeRequest{Recipient: "R", Token: token, Amount: amount})
	require.NoError(t, err)
	return id
}

func (f *fixture) approve(t *testing.T, id uint64, signers ...string) {
	t.Helper()
	for _, s := range signers {
		require.NoError(t, f.eng.Approve(context.Background(), s, id))
	}
}

func (f *fixture) status(t *testing.T, id uint64) contracts.ProposalStatus {
	t.Helper()
	p, err := f.eng.Proposal(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestEngine_HappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.propose(t, "A", 100)
	assert.Equal(t, uint64(1), id)

	f.approve(t, id, "A")
	assert.Equal(t, contracts.StatusPending, f.status(t, id))
	f.approve(t, id, "B")
	assert.Equal(t, contracts.StatusApproved, f.status(t, id))

	require.NoError(t, f.eng.Execute(ctx, "C", id))
	assert.Equal(t, contracts.StatusExecuted, f.status(t, id))

	daily, err := f.eng.DailySpent(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(100), daily)
	weekly, err := f.eng.WeeklySpent(ctx, genesis/budget.SecondsPerWeek)
	require.NoError(t, err)
	assert.Equal(t, int64(100), weekly)

	bal, _ := f.treasury.Balance(ctx, token)
	assert.Equal(t, int64(999_900), bal)

	assert.Equal(t, []string{
		events.ProposalCreated,
		events.ProposalApproved,
		events.ProposalApproved,
		events.ProposalReady,
		events.ProposalExecuted,
	}, f.sink.Names())
	for _, ev := range f.sink.Events() {
		assert.True(t, ev.Verify(), ev.Name)
		assert.Equal(t, id, ev.SubjectID)
	}

	rep, err := f.eng.Reputation(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, uint32(510), rep.Score)
	assert.Equal(t, uint32(1), rep.ProposalsExecuted)
}

func TestEngine_DailyLimitDeniesSecondExecution(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) { ic.Config.DailyLimit = 1000 })
	ctx := context.Background()

	first := f.propose(t, "A", 600)
	second := f.propose(t, "B", 600)
	f.approve(t, first, "A", "B")
	f.approve(t, second, "A", "B")

	require.NoError(t, f.eng.Execute(ctx, "A", first))
	err := f.eng.Execute(ctx, "A", second)
	require.ErrorIs(t, err, contracts.ErrLimitExceeded)

	daily, err := f.eng.DailySpent(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(600), daily)
	assert.Equal(t, contracts.StatusApproved, f.status(t, second))

	// The next day has a fresh bucket.
	f.clk.AdvanceTime(budget.SecondsPerDay)
	require.NoError(t, f.eng.Execute(ctx, "A", second))
}

func TestEngine_PerTransactionCap(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) { ic.Config.SpendingLimit = 500 })
	id := f.propose(t, "A", 501)
	f.approve(t, id, "A", "B")
	require.ErrorIs(t, f.eng.Execute(context.Background(), "A", id), contracts.ErrLimitExceeded)
}

func TestEngine_VelocityLimit(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Config.Velocity = contracts.VelocityConfig{Limit: 3, Window: 3600}
	})
	ctx := context.Background()
	req := governance.ProposeRequest{Recipient: "R", Token: token, Amount: 10}

	for i := 0; i < 3; i++ {
		_, err := f.eng.Propose(ctx, "A", req)
		require.NoError(t, err)
	}
	_, err := f.eng.Propose(ctx, "A", req)
	require.ErrorIs(t, err, contracts.ErrLimitExceeded)

	// Another proposer has their own window.
	_, err = f.eng.Propose(ctx, "B", req)
	require.NoError(t, err)

	f.clk.AdvanceTime(3600)
	id, err := f.eng.Propose(ctx, "A", req)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), id, "a denied proposal must not consume an id")
}

func TestEngine_TimeBasedThreshold(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Config.Signers = []string{"A", "B", "C", "D"}
		ic.Config.ThresholdStrategy = contracts.TimeBased(3, 2, 100)
	})
	ctx := context.Background()

	early := f.propose(t, "A", 100)
	f.approve(t, early, "A")
	f.clk.Advance(99)
	f.approve(t, early, "B")
	assert.Equal(t, contracts.StatusPending, f.status(t, early))

	late := f.propose(t, "A", 100)
	f.approve(t, late, "A")
	f.clk.Advance(100)
	f.approve(t, late, "B")
	assert.Equal(t, contracts.StatusApproved, f.status(t, late))
	require.NoError(t, f.eng.Execute(ctx, "A", late))

	// The relaxed requirement is met, but a Pending proposal needs one more
	// approval to become executable.
	require.ErrorIs(t, f.eng.Execute(ctx, "A", early), contracts.ErrInvalidState)
	assert.Equal(t, contracts.StatusPending, f.status(t, early))
	f.approve(t, early, "C")
	assert.Equal(t, contracts.StatusApproved, f.status(t, early))
	require.NoError(t, f.eng.Execute(ctx, "A", early))
}

func TestEngine_ExecuteRequiresApproved(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.propose(t, "A", 100)
	f.approve(t, id, "A")
	require.NoError(t, f.eng.UpdateThreshold(ctx, "A", 1))

	require.ErrorIs(t, f.eng.Execute(ctx, "A", id), contracts.ErrInvalidState)
	assert.Equal(t, contracts.StatusPending, f.status(t, id))
	daily, err := f.eng.DailySpent(ctx, today)
	require.NoError(t, err)
	assert.Zero(t, daily)

	f.approve(t, id, "B")
	require.NoError(t, f.eng.Execute(ctx, "A", id))
}

func TestEngine_AmountBasedThreshold(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Config.Threshold = 1
		ic.Config.ThresholdStrategy = contracts.AmountBased(
			contracts.AmountTier{Amount: 1000, Approvals: 2},
			contracts.AmountTier{Amount: 10_000, Approvals: 3},
		)
	})
	small := f.propose(t, "A", 999)
	large := f.propose(t, "A", 10_000)

	f.approve(t, small, "A")
	assert.Equal(t, contracts.StatusApproved, f.status(t, small))

	f.approve(t, large, "A", "B")
	assert.Equal(t, contracts.StatusPending, f.status(t, large))
	f.approve(t, large, "C")
	assert.Equal(t, contracts.StatusApproved, f.status(t, large))
}

func TestEngine_TerminalStatesAreFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.propose(t, "A", 100)
	f.approve(t, id, "A", "B")
	require.NoError(t, f.eng.Execute(ctx, "A", id))

	require.ErrorIs(t, f.eng.Execute(ctx, "A", id), contracts.ErrInvalidState)
	require.ErrorIs(t, f.eng.Approve(ctx, "C", id), contracts.ErrInvalidState)
	require.ErrorIs(t, f.eng.Abstain(ctx, "C", id), contracts.ErrInvalidState)
	require.ErrorIs(t, f.eng.Reject(ctx, "A", id), contracts.ErrInvalidState)

	daily, err := f.eng.DailySpent(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(100), daily)
}

func TestEngine_ExecuteRevalidatesAfterSignerRemoval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.propose(t, "A", 100)
	f.approve(t, id, "A", "B")
	require.NoError(t, f.eng.RemoveSigner(ctx, "A", "B"))

	// B's approval no longer counts.
	require.ErrorIs(t, f.eng.Execute(ctx, "A", id), contracts.ErrInvalidState)

	// The stale Approved proposal accepts a new approval to restore quorum.
	f.approve(t, id, "C")
	require.NoError(t, f.eng.Execute(ctx, "A", id))
}

func TestEngine_RemoveSignerBelowThreshold(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) { ic.Config.Threshold = 3 })
	require.ErrorIs(t, f.eng.RemoveSigner(context.Background(), "A", "C"), contracts.ErrInvalidConfig)
}

func TestEngine_LazyExpiryCommits(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) { ic.Config.ProposalTTL = 10 })
	ctx := context.Background()

	id := f.propose(t, "A", 100)
	f.approve(t, id, "A")

	f.clk.Advance(10)
	f.approve(t, id, "B") // expires_at is inclusive

	f.clk.Advance(1)
	err := f.eng.Execute(ctx, "A", id)
	require.ErrorIs(t, err, contracts.ErrProposalExpired)
	require.ErrorIs(t, err, contracts.ErrInvalidState)

	p, err := f.eng.Proposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExpired, p.Status)
	assert.Contains(t, f.sink.Names(), events.ProposalExpired)

	queue, err := f.eng.PendingByPriority(ctx)
	require.NoError(t, err)
	assert.Empty(t, queue)

	// Once expired, every further transition is refused.
	require.ErrorIs(t, f.eng.Approve(ctx, "C", id), contracts.ErrInvalidState)
	require.ErrorIs(t, f.eng.Expire(ctx, id), contracts.ErrInvalidState)
}

func TestEngine_ExpireAndSweep(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) { ic.Config.ProposalTTL = 10 })
	ctx := context.Background()

	first := f.propose(t, "A", 100)
	require.ErrorIs(t, f.eng.Expire(ctx, first), contracts.ErrInvalidState)

	second := f.propose(t, "B", 100)
	f.clk.Advance(11)
	third := f.propose(t, "C", 100)

	expired, err := f.eng.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{first, second}, expired)

	queue, err := f.eng.PendingByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{third}, queue)
}

func TestEngine_RejectSlashesStake(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Insurance = &contracts.InsuranceConfig{Enabled: true, MinAmount: 1000, MinInsuranceBps: 100, SlashPercentage: 50}
	})
	ctx := context.Background()

	_, err := f.eng.Propose(ctx, "B", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 5000, InsuranceStake: 49})
	require.ErrorIs(t, err, contracts.ErrInsufficientInsurance)

	id, err := f.eng.Propose(ctx, "B", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 5000, InsuranceStake: 50})
	require.NoError(t, err)
	totals, err := f.eng.InsuranceTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), totals.Escrowed)

	require.NoError(t, f.eng.Reject(ctx, "A", id))
	assert.Equal(t, contracts.StatusRejected, f.status(t, id))
	assert.Equal(t, []string{events.ProposalCreated, events.ProposalRejected, events.InsuranceSlashed}, f.sink.Names())

	totals, err = f.eng.InsuranceTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.InsuranceTotals{Escrowed: 0, Refunded: 25, Slashed: 25}, totals)

	transfers := f.treasury.Transfers()
	require.NotEmpty(t, transfers)
	assert.Equal(t, governance.Transfer{Token: token, From: "vault", To: "B", Amount: 25}, transfers[len(transfers)-1])

	rep, err := f.eng.Reputation(ctx, "B")
	require.NoError(t, err)
	assert.Equal(t, uint32(480), rep.Score)
	assert.Equal(t, uint32(1), rep.ProposalsRejected)
}

func TestEngine_SmallProposalNeedsNoStake(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Insurance = &contracts.InsuranceConfig{Enabled: true, MinAmount: 1000, MinInsuranceBps: 100, SlashPercentage: 50}
	})
	id, err := f.eng.Propose(context.Background(), "B", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 999, InsuranceStake: 10})
	require.NoError(t, err)
	p, err := f.eng.Proposal(context.Background(), id)
	require.NoError(t, err)
	assert.Zero(t, p.InsuranceStake)
}

func TestEngine_ExecuteRefundsStake(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Insurance = &contracts.InsuranceConfig{Enabled: true, MinAmount: 0, MinInsuranceBps: 100, SlashPercentage: 50}
	})
	ctx := context.Background()
	id, err := f.eng.Propose(ctx, "B", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 1000, InsuranceStake: 10})
	require.NoError(t, err)
	f.approve(t, id, "A", "C")
	require.NoError(t, f.eng.Execute(ctx, "A", id))

	totals, err := f.eng.InsuranceTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.InsuranceTotals{Refunded: 10}, totals)
}

func TestEngine_Timelock(t *testing.T) {
	f := newFixture(t, func(ic *governance.InitConfig) {
		ic.Config.TimelockThreshold = 1000
		ic.Config.TimelockDelay = 50
	})
	ctx := context.Background()

	small := f.propose(t, "A", 999)
	large := f.propose(t, "A", 1000)
	f.approve(t, small, "A", "B")
	f.approve(t, large, "A", "B")

	require.NoError(t, f.eng.Execute(ctx, "A", small))
	require.ErrorIs(t, f.eng.Execute(ctx, "A", large), contracts.ErrTimelockNotElapsed)

	f.clk.Advance(49)
	require.ErrorIs(t, f.eng.Execute(ctx, "A", large), contracts.ErrTimelockNotElapsed)
	f.clk.Advance(1)
	require.NoError(t, f.eng.Execute(ctx, "A", large))
}

func TestEngine_Conditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.eng.Propose(ctx, "A", governance.ProposeRequest{
		Recipient: "R", Token: token, Amount: 100,
		Conditions: []contracts.Condition{
			{Kind: contracts.ConditionBalanceAbove, Amount: 2_000_000},
			{Kind: contracts.ConditionExpression, Expr: "amount * 10 <= balance"},
		},
	})
	require.NoError(t, err)
	f.approve(t, id, "A", "B")

	require.ErrorIs(t, f.eng.Execute(ctx, "A", id), contracts.ErrConditionsNotMet)
	assert.Equal(t, contracts.StatusApproved, f.status(t, id))

	f.treasury.Deposit(token, 1_500_000)
	require.NoError(t, f.eng.Execute(ctx, "A", id))
}

func TestEngine_ConditionsOr(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, err := f.eng.Propose(ctx, "A", governance.ProposeRequest{
		Recipient: "R", Token: token, Amount: 100,
		ConditionLogic: contracts.LogicOr,
		Conditions: []contracts.Condition{
			{Kind: contracts.ConditionDateBefore, Ledger: 50},
			{Kind: contracts.ConditionDateAfter, Ledger: 120},
		},
	})
	require.NoError(t, err)
	f.approve(t, id, "A", "B")
	require.ErrorIs(t, f.eng.Execute(ctx, "A", id), contracts.ErrConditionsNotMet)

	f.clk.Advance(21)
	require.NoError(t, f.eng.Execute(ctx, "A", id))
}

func TestEngine_InvalidConditionsRejectedAtCreation(t *testing.T) {
	f := newFixture(t)
	for _, expr := range []string{"balance +", "balance + 1", "unknown > 1"} {
		_, err := f.eng.Propose(context.Background(), "A", governance.ProposeRequest{
			Recipient: "R", Token: token, Amount: 100,
			Conditions: []contracts.Condition{{Kind: contracts.ConditionExpression, Expr: expr}},
		})
		require.ErrorIs(t, err, contracts.ErrInvalidConfig, expr)
	}
}

func TestEngine_Authorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.Propose(ctx, "M", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 100})
	require.ErrorIs(t, err, contracts.ErrUnauthorized)

	id := f.propose(t, "B", 100)
	require.ErrorIs(t, f.eng.Approve(ctx, "M", id), contracts.ErrUnauthorized)
	require.ErrorIs(t, f.eng.Reject(ctx, "C", id), contracts.ErrUnauthorized)
	require.ErrorIs(t, f.eng.SetRole(ctx, "B", "M", contracts.RoleAdmin), contracts.ErrUnauthorized)

	// The proposer may withdraw their own proposal.
	require.NoError(t, f.eng.Reject(ctx, "B", id))
}

func TestEngine_Voting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.propose(t, "A", 100)
	f.approve(t, id, "A")
	require.ErrorIs(t, f.eng.Approve(ctx, "A", id), contracts.ErrAlreadyVoted)

	require.NoError(t, f.eng.Abstain(ctx, "B", id))
	require.ErrorIs(t, f.eng.Approve(ctx, "B", id), contracts.ErrAlreadyVoted)
	assert.Equal(t, contracts.StatusPending, f.status(t, id))

	_, err := f.eng.Proposal(ctx, 99)
	require.ErrorIs(t, err, contracts.ErrProposalNotFound)
}

func TestEngine_ProposeValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 0})
	require.ErrorIs(t, err, contracts.ErrInvalidAmount)
	_, err = f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 1, Priority: 7})
	require.ErrorIs(t, err, contracts.ErrInvalidConfig)
	_, err = f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 1, ConditionLogic: "XOR"})
	require.ErrorIs(t, err, contracts.ErrInvalidConfig)
}

func TestEngine_RecipientLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.eng.SetListMode(ctx, "A", contracts.ListBlacklist))
	require.NoError(t, f.eng.AddToBlacklist(ctx, "A", "R"))
	_, err := f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 1})
	require.ErrorIs(t, err, contracts.ErrRecipientBlocked)

	require.NoError(t, f.eng.SetListMode(ctx, "A", contracts.ListWhitelist))
	_, err = f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "S", Token: token, Amount: 1})
	require.ErrorIs(t, err, contracts.ErrRecipientBlocked)
	require.NoError(t, f.eng.AddToWhitelist(ctx, "A", "S"))
	_, err = f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "S", Token: token, Amount: 1})
	require.NoError(t, err)

	require.NoError(t, f.eng.RemoveFromWhitelist(ctx, "A", "S"))
	_, err = f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "S", Token: token, Amount: 1})
	require.ErrorIs(t, err, contracts.ErrRecipientBlocked)
}

func TestEngine_PriorityOrdering(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	propose := func(p contracts.Priority) uint64 {
		id, err := f.eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 1, Priority: p})
		require.NoError(t, err)
		return id
	}
	low := propose(contracts.PriorityLow)
	critical := propose(contracts.PriorityCritical)
	normal := propose(contracts.PriorityNormal)
	critical2 := propose(contracts.PriorityCritical)

	ids, err := f.eng.PendingByPriority(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{critical, critical2, normal, low}, ids)

	f.approve(t, critical, "A", "B")
	require.NoError(t, f.eng.Execute(ctx, "A", critical))
	tier, err := f.eng.PriorityQueue(ctx, contracts.PriorityCritical)
	require.NoError(t, err)
	assert.Equal(t, []uint64{critical2}, tier)
}

func TestEngine_LifecycleBeforeInitialize(t *testing.T) {
	eng, err := governance.NewEngine(store.NewMemoryStore(), clock.NewManual(1, genesis))
	require.NoError(t, err)
	ctx := context.Background()

	_, err = eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Amount: 1})
	require.ErrorIs(t, err, contracts.ErrNotInitialized)
	require.ErrorIs(t, eng.Approve(ctx, "A", 1), contracts.ErrNotInitialized)
	_, err = eng.Config(ctx)
	require.ErrorIs(t, err, contracts.ErrNotInitialized)

	require.ErrorIs(t, eng.Initialize(ctx, "A", governance.InitConfig{
		Config: contracts.Config{Signers: []string{"A"}, Threshold: 2},
	}), contracts.ErrInvalidConfig)

	require.NoError(t, eng.Initialize(ctx, "A", baseInit()))
	require.ErrorIs(t, eng.Initialize(ctx, "A", baseInit()), contracts.ErrAlreadyInitialized)

	cfg, err := eng.Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.DefaultProposalTTL, cfg.ProposalTTL)
	assert.Equal(t, contracts.StrategyFixed, cfg.ThresholdStrategy.Kind)

	role, err := eng.Role(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, contracts.RoleAdmin, role)
	role, err = eng.Role(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, contracts.RoleMember, role)
}

type mockTreasury struct{ mock.Mock }

func (m *mockTreasury) Balance(ctx context.Context, token string) (int64, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTreasury) Transfer(ctx context.Context, token, to string, amount int64) error {
	return m.Called(ctx, token, to, amount).Error(0)
}

func (m *mockTreasury) Escrow(ctx context.Context, token, from string, amount int64) error {
	return m.Called(ctx, token, from, amount).Error(0)
}

func TestEngine_TreasuryFailureLeavesStateUntouched(t *testing.T) {
	tr := new(mockTreasury)
	tr.On("Transfer", mock.Anything, token, "R", int64(100)).Return(errors.New("ledger unavailable")).Once()
	tr.On("Transfer", mock.Anything, token, "R", int64(100)).Return(nil).Once()

	clk := clock.NewManual(100, genesis)
	eng, err := governance.NewEngine(store.NewMemoryStore(), clk, governance.WithTreasury(tr))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, eng.Initialize(ctx, "A", baseInit()))

	id, err := eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 100})
	require.NoError(t, err)
	require.NoError(t, eng.Approve(ctx, "A", id))
	require.NoError(t, eng.Approve(ctx, "B", id))

	require.Error(t, eng.Execute(ctx, "A", id))
	p, err := eng.Proposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusApproved, p.Status)
	daily, err := eng.DailySpent(ctx, today)
	require.NoError(t, err)
	assert.Zero(t, daily)

	require.NoError(t, eng.Execute(ctx, "A", id))
	tr.AssertExpectations(t)
}

type failingSink struct{}

func (failingSink) Emit(context.Context, []events.Event) error { return errors.New("sink down") }

func TestEngine_SinkFailureDoesNotFailOperation(t *testing.T) {
	eng, err := governance.NewEngine(store.NewMemoryStore(), clock.NewManual(1, genesis), governance.WithSink(failingSink{}))
	require.NoError(t, err)
	require.NoError(t, eng.Initialize(context.Background(), "A", baseInit()))
}

type recordingObserver struct {
	mu   sync.Mutex
	ops  []string
	errs []error
}

func (r *recordingObserver) StartOperation(ctx context.Context, op string) (context.Context, func(error)) {
	return ctx, func(err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.ops = append(r.ops, op)
		r.errs = append(r.errs, err)
	}
}

func TestEngine_ObserverSeesEveryOperation(t *testing.T) {
	obs := &recordingObserver{}
	eng, err := governance.NewEngine(store.NewMemoryStore(), clock.NewManual(1, genesis), governance.WithObserver(obs))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, eng.Initialize(ctx, "A", baseInit()))
	_, err = eng.Propose(ctx, "M", governance.ProposeRequest{Recipient: "R", Amount: 1})
	require.Error(t, err)

	assert.Equal(t, []string{"initialize", "propose"}, obs.ops)
	assert.NoError(t, obs.errs[0])
	assert.ErrorIs(t, obs.errs[1], contracts.ErrUnauthorized)
}

func TestEngine_SQLiteBackedLifecycle(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.NewSQLStore(ctx, db, store.DialectSQLite)
	require.NoError(t, err)
	tr := governance.NewMemoryTreasury()
	tr.Deposit(token, 1000)

	eng, err := governance.NewEngine(st, clock.NewManual(100, genesis), governance.WithTreasury(tr))
	require.NoError(t, err)
	require.NoError(t, eng.Initialize(ctx, "A", baseInit()))

	id, err := eng.Propose(ctx, "A", governance.ProposeRequest{Recipient: "R", Token: token, Amount: 400})
	require.NoError(t, err)
	require.NoError(t, eng.Approve(ctx, "A", id))
	require.NoError(t, eng.Approve(ctx, "C", id))
	require.NoError(t, eng.Execute(ctx, "B", id))

	p, err := eng.Proposal(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusExecuted, p.Status)
	assert.Equal(t, []string{"A", "C"}, p.Approvals)

	// A second engine over the same store sees the committed state.
	eng2, err := governance.NewEngine(st, clock.NewManual(100, genesis))
	require.NoError(t, err)
	daily, err := eng2.DailySpent(ctx, today)
	require.NoError(t, err)
	assert.Equal(t, int64(400), daily)
	require.ErrorIs(t, eng2.Initialize(ctx, "A", baseInit()), contracts.ErrAlreadyInitialized)
}
