package contracts

// Reputation score bounds.
const (
	ReputationMin     uint32 = 0
	ReputationMax     uint32 = 1000
	ReputationNeutral uint32 = 500
)

// Reputation tracks how an address behaves as proposer and approver.
type Reputation struct {
	Score             uint32 `json:"score"`
	ProposalsCreated  uint32 `json:"proposals_created"`
	ProposalsExecuted uint32 `json:"proposals_executed"`
	ProposalsRejected uint32 `json:"proposals_rejected"`
	ApprovalsGiven    uint32 `json:"approvals_given"`
	LastDecay         uint64 `json:"last_decay"`
}

// NewReputation returns the neutral record given to an address on first touch.
func NewReputation() Reputation {
	return Reputation{Score: ReputationNeutral}
}

// InsuranceConfig governs the stake a proposer escrows with large proposals.
type InsuranceConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	MinAmount       int64  `json:"min_amount" yaml:"min_amount"`
	MinInsuranceBps uint32 `json:"min_insurance_bps" yaml:"min_insurance_bps"`
	SlashPercentage uint32 `json:"slash_percentage" yaml:"slash_percentage"`
}

// DefaultInsuranceConfig is used until an admin stores one.
func DefaultInsuranceConfig() InsuranceConfig {
	return InsuranceConfig{
		Enabled:         false,
		MinAmount:       0,
		MinInsuranceBps: 100,
		SlashPercentage: 50,
	}
}

// InsuranceTotals is the pool's running bookkeeping.
type InsuranceTotals struct {
	Escrowed int64 `json:"escrowed"`
	Refunded int64 `json:"refunded"`
	Slashed  int64 `json:"slashed"`
}

// NotificationPrefs records which lifecycle events an address wants to hear
// about. Delivery is up to whoever consumes the event stream.
type NotificationPrefs struct {
	OnProposal  bool `json:"on_proposal"`
	OnApproval  bool `json:"on_approval"`
	OnExecution bool `json:"on_execution"`
	OnRejection bool `json:"on_rejection"`
	OnExpiry    bool `json:"on_expiry"`
}

// DefaultNotificationPrefs applies to addresses that never stored any.
func DefaultNotificationPrefs() NotificationPrefs {
	return NotificationPrefs{
		OnProposal:  true,
		OnApproval:  true,
		OnExecution: true,
		OnRejection: true,
	}
}
