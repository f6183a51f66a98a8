package recurring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

func TestMaybeMature_CatchesUpOneIntervalPerCall(t *testing.T) {
	p, err := New(1, "alice", "bob", "USDC", 50, "rent", 100, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1100), p.NextPaymentLedger)

	_, ok := MaybeMature(p, 1099)
	assert.False(t, ok)

	// Three intervals overdue: each call matures exactly one.
	now := uint64(1350)
	var ledgers []uint64
	for {
		due, ok := MaybeMature(p, now)
		if !ok {
			break
		}
		ledgers = append(ledgers, due.Ledger)
	}
	assert.Equal(t, []uint64{1100, 1200, 1300}, ledgers)
	assert.Equal(t, uint32(3), p.PaymentCount)
	assert.Equal(t, uint64(1400), p.NextPaymentLedger)
}

func TestMaybeMature_Inactive(t *testing.T) {
	p := &contracts.RecurringPayment{ID: 2, Interval: 10, NextPaymentLedger: 5}
	_, ok := MaybeMature(p, 100)
	assert.False(t, ok)
	assert.Equal(t, uint64(5), p.NextPaymentLedger)
	assert.Zero(t, p.PaymentCount)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(1, "a", "b", "T", 0, "", 10, 0)
	assert.ErrorIs(t, err, contracts.ErrInvalidAmount)
	_, err = New(1, "a", "b", "T", 10, "", 0, 0)
	assert.ErrorIs(t, err, contracts.ErrInvalidConfig)
}
