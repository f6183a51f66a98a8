package events

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestEvent_SealAndVerify(t *testing.T) {
	e := New(ProposalCreated, 7, "alice", map[string]any{"amount": 100, "recipient": "bob"})
	require.NoError(t, e.Seal(12, 1_700_000_000))
	assert.NotEmpty(t, e.ID)
	assert.Regexp(t, `^sha256:[0-9a-f]{64}$`, e.ContentHash)
	assert.True(t, e.Verify())

	// Same content, different id: same hash.
	other := New(ProposalCreated, 7, "alice", map[string]any{"recipient": "bob", "amount": 100})
	require.NoError(t, other.Seal(12, 1_700_000_000))
	assert.NotEqual(t, e.ID, other.ID)
	assert.Equal(t, e.ContentHash, other.ContentHash)

	e.Actor = "mallory"
	assert.False(t, e.Verify())
}

func TestMemorySink(t *testing.T) {
	s := NewMemorySink()
	require.NoError(t, s.Emit(context.Background(), []Event{New(Initialized, 0, "admin", nil), New(RoleAssigned, 0, "admin", nil)}))
	assert.Equal(t, []string{Initialized, RoleAssigned}, s.Names())
	s.Reset()
	assert.Empty(t, s.Events())
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) Emit(ctx context.Context, evts []Event) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

func TestFanout_DeliversToAllAndJoinsErrors(t *testing.T) {
	ctx := context.Background()
	evts := []Event{New(ProposalExecuted, 1, "bob", nil)}

	failing := new(mockSink)
	failing.On("Emit", ctx, evts).Return(errors.New("broker down"))
	mem := NewMemorySink()

	err := Fanout{failing, mem}.Emit(ctx, evts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Equal(t, []string{ProposalExecuted}, mem.Names())
	failing.AssertExpectations(t)
}

func TestOutboxSink_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	s, err := NewOutboxSink(ctx, db, false)
	require.NoError(t, err)

	a := New(ProposalCreated, 1, "alice", map[string]any{"amount": 100})
	require.NoError(t, a.Seal(1, 100))
	b := New(ProposalApproved, 1, "bob", nil)
	require.NoError(t, b.Seal(2, 105))

	require.NoError(t, s.Emit(ctx, []Event{b, a}))
	require.NoError(t, s.Emit(ctx, []Event{a}), "re-emit is idempotent")

	pending, err := s.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.True(t, pending[0].Event.Verify())

	require.NoError(t, s.MarkDelivered(ctx, a.ID))
	pending, err = s.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}

func TestOutboxSink_Postgres(t *testing.T) {
	db, sm, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	sm.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS event_outbox")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewOutboxSink(ctx, db, true)
	require.NoError(t, err)

	e := New(ProposalRejected, 3, "admin", nil)
	require.NoError(t, e.Seal(9, 900))
	sm.ExpectExec(regexp.QuoteMeta("INSERT INTO event_outbox (id, name, sequence, event_json, status)")).
		WithArgs(e.ID, ProposalRejected, int64(9), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	require.NoError(t, s.Emit(ctx, []Event{e}))

	sm.ExpectExec(regexp.QuoteMeta("UPDATE event_outbox SET status = 'DONE' WHERE id = $1")).
		WithArgs(e.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.MarkDelivered(ctx, e.ID))

	assert.NoError(t, sm.ExpectationsWereMet())
}
