// Package insurance sizes, escrows and settles the stake proposers put up
// behind large proposals. It only does bookkeeping; moving assets is the
// caller's job.
package insurance

import (
	"fmt"
	"math/big"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// RequiredStake returns the minimum stake for a proposal of amount:
// zero when insurance is disabled or amount is below MinAmount, otherwise
// ceil(amount * bps / 10000).
func RequiredStake(amount int64, cfg contracts.InsuranceConfig) int64 {
	if !cfg.Enabled || amount < cfg.MinAmount || amount <= 0 {
		return 0
	}
	n := new(big.Int).Mul(big.NewInt(amount), big.NewInt(int64(cfg.MinInsuranceBps)))
	n.Add(n, big.NewInt(9_999))
	n.Quo(n, big.NewInt(10_000))
	return n.Int64()
}

// Slash splits stake into the forfeited part, floor(stake * pct / 100), and
// the refunded remainder. slashed + refunded == stake for every pct in [0, 100].
func Slash(stake int64, cfg contracts.InsuranceConfig) (slashed, refunded int64) {
	if stake <= 0 {
		return 0, 0
	}
	pct := cfg.SlashPercentage
	if pct > 100 {
		pct = 100
	}
	n := new(big.Int).Mul(big.NewInt(stake), big.NewInt(int64(pct)))
	n.Quo(n, big.NewInt(100))
	slashed = n.Int64()
	return slashed, stake - slashed
}

// Validate checks an insurance configuration.
func Validate(cfg contracts.InsuranceConfig) error {
	if cfg.MinAmount < 0 {
		return fmt.Errorf("%w: negative insurance min amount", contracts.ErrInvalidConfig)
	}
	if cfg.SlashPercentage > 100 {
		return fmt.Errorf("%w: slash percentage %d > 100", contracts.ErrInvalidConfig, cfg.SlashPercentage)
	}
	if cfg.MinInsuranceBps > 10_000 {
		return fmt.Errorf("%w: insurance bps %d > 10000", contracts.ErrInvalidConfig, cfg.MinInsuranceBps)
	}
	return nil
}

// Settlement is what happens to a stake when its proposal leaves the open states.
type Settlement struct {
	Stake    int64 `json:"stake"`
	Slashed  int64 `json:"slashed"`
	Refunded int64 `json:"refunded"`
}

// Pool keeps the running totals of escrowed and settled stake.
type Pool struct {
	Totals contracts.InsuranceTotals
}

// Escrow records a stake taken at proposal creation.
func (p *Pool) Escrow(stake int64) {
	p.Totals.Escrowed += stake
}

// Refund settles a stake by returning all of it (execution, expiry).
func (p *Pool) Refund(stake int64) Settlement {
	p.Totals.Escrowed -= stake
	p.Totals.Refunded += stake
	return Settlement{Stake: stake, Refunded: stake}
}

// Forfeit settles a stake on rejection by slashing per cfg.
func (p *Pool) Forfeit(stake int64, cfg contracts.InsuranceConfig) Settlement {
	slashed, refunded := Slash(stake, cfg)
	p.Totals.Escrowed -= stake
	p.Totals.Refunded += refunded
	p.Totals.Slashed += slashed
	return Settlement{Stake: stake, Slashed: slashed, Refunded: refunded}
}
