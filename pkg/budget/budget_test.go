package budget_test

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

type bucketKey struct {
	window budget.WindowType
	index  uint64
}

// memStorage is a map-backed budget.Storage.
type memStorage struct {
	mu        sync.Mutex
	buckets   map[bucketKey]int64
	histories map[string][]uint64
}

func newMemStorage() *memStorage {
	return &memStorage{buckets: make(map[bucketKey]int64), histories: make(map[string][]uint64)}
}

func (s *memStorage) Spent(_ context.Context, window budget.WindowType, index uint64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[bucketKey{window, index}], nil
}

func (s *memStorage) SetSpent(_ context.Context, window budget.WindowType, index uint64, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets[bucketKey{window, index}] = amount
	return nil
}

func (s *memStorage) History(_ context.Context, proposer string) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint64(nil), s.histories[proposer]...), nil
}

func (s *memStorage) SetHistory(_ context.Context, proposer string, history []uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[proposer] = append([]uint64(nil), history...)
	return nil
}

// failingStorage fails every read to exercise fail-closed behavior.
type failingStorage struct{ memStorage }

func (*failingStorage) Spent(context.Context, budget.WindowType, uint64) (int64, error) {
	return 0, assert.AnError
}

func TestGuard_DailyLimitExceeded(t *testing.T) {
	store := newMemStorage()
	guard := budget.NewGuard(store)
	ctx := context.Background()
	limits := budget.Limits{PerTransaction: 1000, Daily: 1000, Weekly: 5000}
	p := budget.PeriodAt(1_700_000_000)

	d, err := guard.CheckAndReserve(ctx, limits, 600, p)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(600), d.DailySpent)

	d, err = guard.CheckAndReserve(ctx, limits, 600, p)
	require.ErrorIs(t, err, contracts.ErrLimitExceeded)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily")

	// Denied reservation leaves both buckets untouched.
	daily, _ := store.Spent(ctx, budget.WindowDaily, p.Day)
	weekly, _ := store.Spent(ctx, budget.WindowWeekly, p.Week)
	assert.Equal(t, int64(600), daily)
	assert.Equal(t, int64(600), weekly)
}

func TestGuard_WeeklyLimitAcrossDays(t *testing.T) {
	store := newMemStorage()
	guard := budget.NewGuard(store)
	ctx := context.Background()
	limits := budget.Limits{PerTransaction: 1000, Daily: 1000, Weekly: 1500}

	monday := uint64(1_699_833_600) // both days fall in the same epoch week
	_, err := guard.CheckAndReserve(ctx, limits, 900, budget.PeriodAt(monday))
	require.NoError(t, err)
	_, err = guard.CheckAndReserve(ctx, limits, 700, budget.PeriodAt(monday+budget.SecondsPerDay))
	require.ErrorIs(t, err, contracts.ErrLimitExceeded)
	_, err = guard.CheckAndReserve(ctx, limits, 600, budget.PeriodAt(monday+budget.SecondsPerDay))
	require.NoError(t, err)
}

func TestGuard_PerTransactionCap(t *testing.T) {
	guard := budget.NewGuard(newMemStorage())
	limits := budget.Limits{PerTransaction: 100, Daily: 1000, Weekly: 1000}
	_, err := guard.CheckAndReserve(context.Background(), limits, 101, budget.PeriodAt(0))
	require.ErrorIs(t, err, contracts.ErrLimitExceeded)
	_, err = guard.CheckAndReserve(context.Background(), limits, 100, budget.PeriodAt(0))
	require.NoError(t, err)
}

func TestGuard_ZeroCapsDenyEverything(t *testing.T) {
	ctx := context.Background()
	cases := map[string]budget.Limits{
		"all zero":        {},
		"zero per-tx cap": {PerTransaction: 0, Daily: 1000, Weekly: 1000},
		"zero daily cap":  {PerTransaction: 1000, Daily: 0, Weekly: 1000},
		"zero weekly cap": {PerTransaction: 1000, Daily: 1000, Weekly: 0},
	}
	for name, limits := range cases {
		t.Run(name, func(t *testing.T) {
			s := newMemStorage()
			p := budget.PeriodAt(0)
			d, err := budget.NewGuard(s).CheckAndReserve(ctx, limits, 1, p)
			require.ErrorIs(t, err, contracts.ErrLimitExceeded)
			assert.False(t, d.Allowed)
			daily, _ := s.Spent(ctx, budget.WindowDaily, p.Day)
			assert.Zero(t, daily)
		})
	}
}

func TestGuard_ZeroVelocityLimitAdmitsNothing(t *testing.T) {
	s := newMemStorage()
	err := budget.NewGuard(s).AdmitVelocity(context.Background(), contracts.VelocityConfig{Limit: 0, Window: 3600}, "alice", 10_000)
	require.ErrorIs(t, err, contracts.ErrLimitExceeded)
	h, _ := s.History(context.Background(), "alice")
	assert.Empty(t, h)
}

func TestGuard_FailClosed(t *testing.T) {
	guard := budget.NewGuard(&failingStorage{})
	d, err := guard.CheckAndReserve(context.Background(), budget.Limits{}, 10, budget.PeriodAt(0))
	require.Error(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, "storage_error", d.Reason)
}

func TestCheck_Overflow(t *testing.T) {
	unlimited := budget.Limits{PerTransaction: math.MaxInt64, Daily: math.MaxInt64, Weekly: math.MaxInt64}
	err := budget.Check(unlimited, 1<<61, 0, 1<<61)
	require.NoError(t, err)
	err = budget.Check(unlimited, math.MaxInt64-5, 0, 10)
	require.ErrorIs(t, err, budget.ErrOverflow)
}

func TestGuard_Velocity(t *testing.T) {
	guard := budget.NewGuard(newMemStorage())
	ctx := context.Background()
	cfg := contracts.VelocityConfig{Limit: 3, Window: 3600}

	now := uint64(10_000)
	for i := 0; i < 3; i++ {
		require.NoError(t, guard.AdmitVelocity(ctx, cfg, "alice", now+uint64(i)))
	}
	require.ErrorIs(t, guard.AdmitVelocity(ctx, cfg, "alice", now+10), contracts.ErrLimitExceeded)

	// Other proposers have their own window.
	require.NoError(t, guard.AdmitVelocity(ctx, cfg, "bob", now+10))

	// Entries at exactly now-window are pruned.
	require.NoError(t, guard.AdmitVelocity(ctx, cfg, "alice", now+3600))
}

func TestPrune(t *testing.T) {
	assert.Equal(t, []uint64{150, 200}, budget.Prune([]uint64{50, 100, 150, 200}, 200, 100))
	assert.Equal(t, []uint64{5}, budget.Prune([]uint64{5}, 10, 100))
	assert.Empty(t, budget.Prune(nil, 10, 100))
}

func TestPeriodAt(t *testing.T) {
	p := budget.PeriodAt(604_800*2 + 86_400*3 + 5)
	assert.Equal(t, uint64(17), p.Day)
	assert.Equal(t, uint64(2), p.Week)
}

func TestSpendingProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted amounts within a day never exceed the daily cap", prop.ForAll(
		func(amounts []int64, daily int64, weekly int64) bool {
			guard := budget.NewGuard(newMemStorage())
			limits := budget.Limits{PerTransaction: 500, Daily: daily, Weekly: weekly}
			p := budget.PeriodAt(1_700_000_000)
			var accepted int64
			for _, a := range amounts {
				if _, err := guard.CheckAndReserve(context.Background(), limits, a, p); err == nil {
					accepted += a
				}
			}
			return accepted <= daily && accepted <= weekly
		},
		gen.SliceOf(gen.Int64Range(1, 500)),
		gen.Int64Range(0, 5000),
		gen.Int64Range(0, 20000),
	))

	properties.Property("velocity never admits more than limit inside a window", prop.ForAll(
		func(gaps []uint64, limit uint32, window uint64) bool {
			cfg := contracts.VelocityConfig{Limit: limit, Window: window}
			var history []uint64
			var admitted []uint64
			now := uint64(1_000_000)
			for _, g := range gaps {
				now += g
				next, err := budget.Admit(history, cfg, now)
				if err != nil {
					continue
				}
				history = next
				admitted = append(admitted, now)
				if uint32(len(history)) > limit {
					return false
				}
			}
			for i := range admitted {
				count := 0
				for j := i; j < len(admitted) && admitted[j] < admitted[i]+window; j++ {
					count++
				}
				if count > int(limit) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.UInt64Range(0, 400)),
		gen.UInt32Range(0, 6),
		gen.UInt64Range(1, 2000),
	))

	properties.TestingRun(t)
}
