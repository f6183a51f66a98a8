// Package threshold computes how many approvals a proposal needs.
//
// Evaluation is a pure function of the strategy, the signer count, the
// proposal amount and the ledgers elapsed since creation. The result is
// always clamped to [1, signers].
package threshold

import "github.com/Mindburn-Labs/vault/pkg/contracts"

// Input is everything a strategy may depend on.
type Input struct {
	Fixed   uint32 // Config.Threshold
	Signers int
	Amount  int64
	Elapsed uint64 // ledgers since the proposal was created
}

// Required returns the approval count for in under strategy s.
func Required(s contracts.ThresholdStrategy, in Input) uint32 {
	var raw uint64
	switch s.Kind {
	case contracts.StrategyPercentage:
		raw = percentage(s.Percentage, in.Signers)
	case contracts.StrategyAmountBased:
		raw = amountBased(s.Tiers, in)
	case contracts.StrategyTimeBased:
		raw = timeBased(s.TimeBased, in)
	default:
		raw = uint64(in.Fixed)
	}
	return clamp(raw, in.Signers)
}

// ForConfig evaluates the strategy stored in cfg against its current signer set.
func ForConfig(cfg *contracts.Config, amount int64, elapsed uint64) uint32 {
	return Required(cfg.ThresholdStrategy, Input{
		Fixed:   cfg.Threshold,
		Signers: len(cfg.Signers),
		Amount:  amount,
		Elapsed: elapsed,
	})
}

func percentage(pct uint32, signers int) uint64 {
	if signers <= 0 {
		return 0
	}
	n := uint64(signers) * uint64(pct)
	return (n + 99) / 100
}

// amountBased picks the tier with the greatest amount not above the proposal
// amount. Tier order in the config does not matter; equal amounts resolve to
// the stricter tier.
func amountBased(tiers []contracts.AmountTier, in Input) uint64 {
	found := false
	var best contracts.AmountTier
	for _, t := range tiers {
		if t.Amount > in.Amount {
			continue
		}
		if !found || t.Amount > best.Amount || (t.Amount == best.Amount && t.Approvals > best.Approvals) {
			best = t
			found = true
		}
	}
	if !found {
		return uint64(in.Fixed)
	}
	return uint64(best.Approvals)
}

func timeBased(t *contracts.TimeBasedThreshold, in Input) uint64 {
	if t == nil {
		return uint64(in.Fixed)
	}
	if in.Elapsed >= t.Delay {
		return uint64(t.Reduced)
	}
	return uint64(t.Initial)
}

func clamp(v uint64, signers int) uint32 {
	if signers < 1 {
		signers = 1
	}
	if v > uint64(signers) {
		v = uint64(signers)
	}
	if v < 1 {
		v = 1
	}
	return uint32(v)
}
