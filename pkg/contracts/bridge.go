package contracts

// ChainID identifies an external chain reachable through the bridge.
type ChainID uint32

const (
	ChainEthereum ChainID = 1
	ChainBSC      ChainID = 56
	ChainPolygon  ChainID = 137
)

// Cross-chain asset status codes.
const (
	AssetPending   uint32 = 0
	AssetConfirmed uint32 = 1
)

// BridgeAddress maps a chain to the hash of its bridge contract address.
type BridgeAddress struct {
	ChainID     ChainID `json:"chain_id" yaml:"chain_id"`
	AddressHash string  `json:"address_hash" yaml:"address_hash"`
}

// ChainConfirmations is the confirmation depth required on a chain.
type ChainConfirmations struct {
	ChainID       ChainID `json:"chain_id" yaml:"chain_id"`
	Confirmations uint32  `json:"confirmations" yaml:"confirmations"`
}

// BridgeConfig enables cross-chain transfers.
type BridgeConfig struct {
	EnabledChains    []ChainID            `json:"enabled_chains" yaml:"enabled_chains"`
	BridgeAddresses  []BridgeAddress      `json:"bridge_addresses" yaml:"bridge_addresses"`
	MinConfirmations []ChainConfirmations `json:"min_confirmations" yaml:"min_confirmations"`
	FeeBps           uint32               `json:"fee_bps" yaml:"fee_bps"`
	MaxBridgeAmount  int64                `json:"max_bridge_amount" yaml:"max_bridge_amount"`
}

// Enabled reports whether transfers to chain are allowed.
func (b *BridgeConfig) Enabled(chain ChainID) bool {
	for _, c := range b.EnabledChains {
		if c == chain {
			return true
		}
	}
	return false
}

// RequiredConfirmations returns the configured depth for chain, or 1.
func (b *BridgeConfig) RequiredConfirmations(chain ChainID) uint32 {
	for _, c := range b.MinConfirmations {
		if c.ChainID == chain && c.Confirmations > 0 {
			return c.Confirmations
		}
	}
	return 1
}

// CrossChainProposal mirrors Proposal for an external-chain recipient.
type CrossChainProposal struct {
	ID            uint64         `json:"id"`
	Proposer      string         `json:"proposer"`
	TargetChain   ChainID        `json:"target_chain"`
	RecipientHash string         `json:"recipient_hash"`
	Token         string         `json:"token"`
	Amount        int64          `json:"amount"`
	Fee           int64          `json:"fee"`
	Memo          string         `json:"memo,omitempty"`
	Approvals     []string       `json:"approvals"`
	Status        ProposalStatus `json:"status"`
	Priority      Priority       `json:"priority"`
	CreatedAt     uint64         `json:"created_at"`
	ExpiresAt     uint64         `json:"expires_at"`
	UnlockLedger  uint64         `json:"unlock_ledger"`
	BridgeTxHash  string         `json:"bridge_tx_hash,omitempty"`
	AssetID       uint64         `json:"asset_id,omitempty"`
}

// CrossChainAsset tracks a bridged transfer until it is confirmed.
type CrossChainAsset struct {
	ID                    uint64  `json:"id"`
	ProposalID            uint64  `json:"proposal_id"`
	SourceChain           string  `json:"source_chain"`
	TargetChain           ChainID `json:"target_chain"`
	Token                 string  `json:"token"`
	Amount                int64   `json:"amount"`
	BridgeTxHash          string  `json:"bridge_tx_hash"`
	Confirmations         uint32  `json:"confirmations"`
	RequiredConfirmations uint32  `json:"required_confirmations"`
	Status                uint32  `json:"status"`
	Timestamp             uint64  `json:"timestamp"`
}
