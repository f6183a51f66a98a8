// Package recurring advances periodic payment schedules.
package recurring

import (
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Due is emitted when a payment matures.
type Due struct {
	PaymentID uint64 `json:"payment_id"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
	Amount    int64  `json:"amount"`
	// Ledger is the scheduled ledger that matured, not the ledger it was observed at.
	Ledger uint64 `json:"ledger"`
	Count  uint32 `json:"count"`
}

// MaybeMature advances p by one interval if it is active and due at now.
// A payment that missed several intervals matures once per call; the caller
// invokes it repeatedly to catch up.
func MaybeMature(p *contracts.RecurringPayment, now uint64) (Due, bool) {
	if !p.Active || now < p.NextPaymentLedger {
		return Due{}, false
	}
	scheduled := p.NextPaymentLedger
	p.NextPaymentLedger += p.Interval
	p.PaymentCount++
	return Due{
		PaymentID: p.ID,
		Recipient: p.Recipient,
		Token:     p.Token,
		Amount:    p.Amount,
		Ledger:    scheduled,
		Count:     p.PaymentCount,
	}, true
}

// New builds an active schedule whose first payment is due one interval after start.
func New(id uint64, proposer, recipient, token string, amount int64, memo string, interval, start uint64) (*contracts.RecurringPayment, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: recurring amount %d", contracts.ErrInvalidAmount, amount)
	}
	if interval < 1 {
		return nil, fmt.Errorf("%w: recurring interval must be at least 1", contracts.ErrInvalidConfig)
	}
	return &contracts.RecurringPayment{
		ID:                id,
		Proposer:          proposer,
		Recipient:         recipient,
		Token:             token,
		Amount:            amount,
		Memo:              memo,
		Interval:          interval,
		NextPaymentLedger: start + interval,
		Active:            true,
	}, nil
}
