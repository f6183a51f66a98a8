package contracts

import "fmt"

// LedgersPerDay is the ledger count of one day at a 5 second close time.
const LedgersPerDay uint64 = 17_280

const (
	// DefaultProposalTTL is the proposal lifetime in ledgers (7 days).
	DefaultProposalTTL = LedgersPerDay * 7
	// MaxProposalTTL bounds Config.ProposalTTL (30 days). Stored proposal
	// records are retained for longer than this.
	MaxProposalTTL = LedgersPerDay * 30
	// MaxVelocityWindow bounds VelocityConfig.Window, in seconds (30 days).
	// Velocity histories are retained for longer than this.
	MaxVelocityWindow uint64 = 30 * 86_400
)

// StrategyKind tags a ThresholdStrategy variant.
type StrategyKind string

const (
	StrategyFixed       StrategyKind = "FIXED"
	StrategyPercentage  StrategyKind = "PERCENTAGE"
	StrategyAmountBased StrategyKind = "AMOUNT_BASED"
	StrategyTimeBased   StrategyKind = "TIME_BASED"
)

// AmountTier requires Approvals once a proposal amount reaches Amount.
type AmountTier struct {
	Amount    int64  `json:"amount" yaml:"amount"`
	Approvals uint32 `json:"approvals" yaml:"approvals"`
}

// TimeBasedThreshold lowers the requirement from Initial to Reduced after Delay ledgers.
type TimeBasedThreshold struct {
	Initial uint32 `json:"initial" yaml:"initial"`
	Reduced uint32 `json:"reduced" yaml:"reduced"`
	Delay   uint64 `json:"delay" yaml:"delay"`
}

// ThresholdStrategy selects how many approvals a proposal needs.
// Only the fields belonging to Kind are read.
type ThresholdStrategy struct {
	Kind       StrategyKind        `json:"kind" yaml:"kind"`
	Percentage uint32              `json:"percentage,omitempty" yaml:"percentage,omitempty"`
	Tiers      []AmountTier        `json:"tiers,omitempty" yaml:"tiers,omitempty"`
	TimeBased  *TimeBasedThreshold `json:"time_based,omitempty" yaml:"time_based,omitempty"`
}

// Fixed returns the strategy that always uses Config.Threshold.
func Fixed() ThresholdStrategy { return ThresholdStrategy{Kind: StrategyFixed} }

// Percentage returns ceil(signers * pct / 100).
func Percentage(pct uint32) ThresholdStrategy {
	return ThresholdStrategy{Kind: StrategyPercentage, Percentage: pct}
}

// AmountBased returns a tiered strategy.
func AmountBased(tiers ...AmountTier) ThresholdStrategy {
	return ThresholdStrategy{Kind: StrategyAmountBased, Tiers: tiers}
}

// TimeBased returns a strategy that relaxes after delay ledgers.
func TimeBased(initial, reduced uint32, delay uint64) ThresholdStrategy {
	return ThresholdStrategy{Kind: StrategyTimeBased, TimeBased: &TimeBasedThreshold{Initial: initial, Reduced: reduced, Delay: delay}}
}

// Validate checks the variant carries its parameters.
func (s ThresholdStrategy) Validate() error {
	switch s.Kind {
	case StrategyFixed, "":
		return nil
	case StrategyPercentage:
		if s.Percentage == 0 || s.Percentage > 100 {
			return fmt.Errorf("%w: percentage %d outside 1..100", ErrInvalidConfig, s.Percentage)
		}
	case StrategyAmountBased:
		for _, t := range s.Tiers {
			if t.Amount < 0 {
				return fmt.Errorf("%w: negative tier amount %d", ErrInvalidConfig, t.Amount)
			}
		}
	case StrategyTimeBased:
		if s.TimeBased == nil {
			return fmt.Errorf("%w: time-based strategy without parameters", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown threshold strategy %q", ErrInvalidConfig, s.Kind)
	}
	return nil
}

// VelocityConfig caps how many proposals one proposer may create per Window
// seconds. A zero Limit admits no proposals.
type VelocityConfig struct {
	Limit  uint32 `json:"limit" yaml:"limit"`
	Window uint64 `json:"window" yaml:"window"`
}

// Config is the vault-wide governance configuration. The spending caps are
// hard limits: a zero cap admits no spending.
type Config struct {
	Signers           []string          `json:"signers" yaml:"signers"`
	Threshold         uint32            `json:"threshold" yaml:"threshold"`
	SpendingLimit     int64             `json:"spending_limit" yaml:"spending_limit"`
	DailyLimit        int64             `json:"daily_limit" yaml:"daily_limit"`
	WeeklyLimit       int64             `json:"weekly_limit" yaml:"weekly_limit"`
	TimelockThreshold int64             `json:"timelock_threshold" yaml:"timelock_threshold"`
	TimelockDelay     uint64            `json:"timelock_delay" yaml:"timelock_delay"`
	Velocity          VelocityConfig    `json:"velocity" yaml:"velocity"`
	ThresholdStrategy ThresholdStrategy `json:"threshold_strategy" yaml:"threshold_strategy"`
	ProposalTTL       uint64            `json:"proposal_ttl" yaml:"proposal_ttl"`
}

// IsSigner reports whether addr is in the signer set.
func (c *Config) IsSigner(addr string) bool {
	return contains(c.Signers, addr)
}

// Validate enforces the configuration invariants.
func (c *Config) Validate() error {
	if len(c.Signers) == 0 {
		return fmt.Errorf("%w: signer set is empty", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Signers))
	for _, s := range c.Signers {
		if s == "" {
			return fmt.Errorf("%w: empty signer address", ErrInvalidConfig)
		}
		n := NormalizeAddress(s)
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: duplicate signer %s", ErrInvalidConfig, s)
		}
		seen[n] = struct{}{}
	}
	if c.Threshold == 0 || int(c.Threshold) > len(c.Signers) {
		return fmt.Errorf("%w: threshold %d outside 1..%d", ErrInvalidConfig, c.Threshold, len(c.Signers))
	}
	if c.SpendingLimit < 0 || c.DailyLimit < 0 || c.WeeklyLimit < 0 || c.TimelockThreshold < 0 {
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidConfig)
	}
	if c.ProposalTTL > MaxProposalTTL {
		return fmt.Errorf("%w: proposal ttl %d > %d ledgers", ErrInvalidConfig, c.ProposalTTL, MaxProposalTTL)
	}
	if c.Velocity.Window > MaxVelocityWindow {
		return fmt.Errorf("%w: velocity window %ds > %ds", ErrInvalidConfig, c.Velocity.Window, MaxVelocityWindow)
	}
	return c.ThresholdStrategy.Validate()
}
