package governance

import (
	"context"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// SourceChain names this vault's chain on cross-chain asset records.
const SourceChain = "vault"

// CrossChainRequest describes a transfer to an external chain.
type CrossChainRequest struct {
	TargetChain   contracts.ChainID  `json:"target_chain"`
	RecipientHash string             `json:"recipient_hash"`
	Token         string             `json:"token"`
	Amount        int64              `json:"amount"`
	Memo          string             `json:"memo,omitempty"`
	Priority      contracts.Priority `json:"priority"`
}

func validateBridge(b *contracts.BridgeConfig) error {
	if b.FeeBps > 10_000 {
		return fmt.Errorf("%w: bridge fee %d bps > 10000", contracts.ErrInvalidConfig, b.FeeBps)
	}
	if b.MaxBridgeAmount < 0 {
		return fmt.Errorf("%w: negative max bridge amount", contracts.ErrInvalidConfig)
	}
	return nil
}

// BridgeFee is floor(amount * bps / 10000) without intermediate overflow.
func BridgeFee(amount int64, bps uint32) int64 {
	if amount <= 0 || bps == 0 {
		return 0
	}
	b := int64(bps)
	return amount/10_000*b + amount%10_000*b/10_000
}

// SetBridgeConfig enables cross-chain transfers.
func (e *Engine) SetBridgeConfig(ctx context.Context, caller string, cfg contracts.BridgeConfig) error {
	return e.adminOp(ctx, "set_bridge_config", caller, func(ctx context.Context, t *txn, _ *contracts.Config) ([]events.Event, error) {
		if err := validateBridge(&cfg); err != nil {
			return nil, err
		}
		if err := t.put(store.BridgeConfigKey(), cfg); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.ConfigUpdated, 0, caller, map[string]any{
			"field":          "bridge",
			"enabled_chains": cfg.EnabledChains,
			"fee_bps":        cfg.FeeBps,
		})}, nil
	})
}

func (e *Engine) loadBridge(ctx context.Context, t *txn) (*contracts.BridgeConfig, error) {
	var b contracts.BridgeConfig
	ok, err := t.get(ctx, store.BridgeConfigKey(), &b)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.ErrBridgeNotConfigured
	}
	return &b, nil
}

// ProposeCrossChain creates a Pending cross-chain proposal.
func (e *Engine) ProposeCrossChain(ctx context.Context, caller string, req CrossChainRequest) (uint64, error) {
	var id uint64
	err := e.run(ctx, "propose_crosschain", func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		bridge, err := e.loadBridge(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := e.requireRole(ctx, t, caller, contracts.RoleTreasurer); err != nil {
			return nil, err
		}
		if !bridge.Enabled(req.TargetChain) {
			return nil, fmt.Errorf("%w: chain %d is not enabled", contracts.ErrBridgeNotConfigured, req.TargetChain)
		}
		if req.Amount <= 0 {
			return nil, fmt.Errorf("%w: amount must be positive, got %d", contracts.ErrInvalidAmount, req.Amount)
		}
		if bridge.MaxBridgeAmount > 0 && req.Amount > bridge.MaxBridgeAmount {
			return nil, fmt.Errorf("%w: amount %d > max bridge amount %d", contracts.ErrLimitExceeded, req.Amount, bridge.MaxBridgeAmount)
		}
		if !req.Priority.Valid() {
			return nil, fmt.Errorf("%w: unknown priority %d", contracts.ErrInvalidConfig, req.Priority)
		}
		if err := budget.NewGuard(t).AdmitVelocity(ctx, cfg.Velocity, caller, e.clock.Timestamp()); err != nil {
			return nil, err
		}

		id, err = t.nextID(ctx, store.NextCrossChainIDKey())
		if err != nil {
			return nil, err
		}
		now := e.clock.Sequence()
		ttl := cfg.ProposalTTL
		if ttl == 0 {
			ttl = contracts.DefaultProposalTTL
		}
		p := &contracts.CrossChainProposal{
			ID:            id,
			Proposer:      contracts.NormalizeAddress(caller),
			TargetChain:   req.TargetChain,
			RecipientHash: req.RecipientHash,
			Token:         req.Token,
			Amount:        req.Amount,
			Fee:           BridgeFee(req.Amount, bridge.FeeBps),
			Memo:          req.Memo,
			Approvals:     []string{},
			Status:        contracts.StatusPending,
			Priority:      req.Priority,
			CreatedAt:     now,
			ExpiresAt:     now + ttl,
		}
		if cfg.TimelockDelay > 0 && req.Amount >= cfg.TimelockThreshold {
			p.UnlockLedger = now + cfg.TimelockDelay
		}
		if err := t.put(store.CrossChainKey(id), p); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.CrossChainProposed, id, caller, map[string]any{
			"target_chain": uint32(p.TargetChain),
			"amount":       p.Amount,
			"fee":          p.Fee,
		})}, nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// openCrossChain mirrors openProposal for cross-chain proposals.
func (e *Engine) openCrossChain(ctx context.Context, t *txn, id uint64) (*contracts.CrossChainProposal, []events.Event, error) {
	var p contracts.CrossChainProposal
	ok, err := t.get(ctx, store.CrossChainKey(id), &p)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%w: cross-chain proposal %d", contracts.ErrProposalNotFound, id)
	}
	if p.Status.Open() && e.clock.Sequence() > p.ExpiresAt {
		p.Status = contracts.StatusExpired
		if err := t.put(store.CrossChainKey(id), &p); err != nil {
			return nil, nil, err
		}
		e.logger.InfoContext(ctx, "cross-chain proposal expired", "proposal_id", id, "expires_at", p.ExpiresAt)
		return nil, []events.Event{events.New(events.CrossChainExpired, id, "", map[string]any{
			"expires_at":   p.ExpiresAt,
			"target_chain": uint32(p.TargetChain),
		})}, errExpiredCommitted
	}
	if p.Status.Terminal() {
		return nil, nil, fmt.Errorf("%w: cross-chain proposal %d is %s", contracts.ErrInvalidState, id, p.Status)
	}
	return &p, nil, nil
}

func crossChainQuorum(cfg *contracts.Config, p *contracts.CrossChainProposal, now uint64) (int, uint32) {
	return quorum(cfg, &contracts.Proposal{Approvals: p.Approvals, Amount: p.Amount, CreatedAt: p.CreatedAt}, now)
}

// ApproveCrossChain records a signer's approval on a cross-chain proposal.
func (e *Engine) ApproveCrossChain(ctx context.Context, caller string, id uint64) error {
	return e.runTransition(ctx, "approve_crosschain", id, func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		if _, err := e.loadBridge(ctx, t); err != nil {
			return nil, err
		}
		if err := e.requireSigner(cfg, caller); err != nil {
			return nil, err
		}
		p, expired, err := e.openCrossChain(ctx, t, id)
		if err != nil {
			return expired, err
		}
		for _, a := range p.Approvals {
			if contracts.SameAddress(a, caller) {
				return nil, fmt.Errorf("%w: %s on cross-chain proposal %d", contracts.ErrAlreadyVoted, caller, id)
			}
		}
		now := e.clock.Sequence()
		if p.Status == contracts.StatusApproved {
			if have, need := crossChainQuorum(cfg, p, now); have >= int(need) {
				return nil, fmt.Errorf("%w: cross-chain proposal %d is %s", contracts.ErrInvalidState, id, p.Status)
			}
		}
		p.Approvals = append(p.Approvals, contracts.NormalizeAddress(caller))
		have, need := crossChainQuorum(cfg, p, now)
		ready := have >= int(need) && p.Status == contracts.StatusPending
		if have >= int(need) {
			p.Status = contracts.StatusApproved
		}
		if err := t.put(store.CrossChainKey(id), p); err != nil {
			return nil, err
		}

		evts := []events.Event{events.New(events.CrossChainApproved, id, caller, map[string]any{
			"approvals": have,
			"required":  need,
		})}
		if ready {
			e.logger.InfoContext(ctx, "cross-chain proposal ready", "proposal_id", id, "approvals", have, "required", need)
			evts = append(evts, events.New(events.CrossChainReady, id, caller, map[string]any{
				"target_chain":  uint32(p.TargetChain),
				"unlock_ledger": p.UnlockLedger,
			}))
		}
		return evts, nil
	})
}

// ExecuteCrossChain hands the transfer to the bridge, recording bridgeTxHash,
// and opens an asset record awaiting confirmations. It returns the asset id.
func (e *Engine) ExecuteCrossChain(ctx context.Context, caller string, id uint64, bridgeTxHash string) (uint64, error) {
	var assetID uint64
	err := e.runTransition(ctx, "execute_crosschain", id, func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		bridge, err := e.loadBridge(ctx, t)
		if err != nil {
			return nil, err
		}
		p, expired, err := e.openCrossChain(ctx, t, id)
		if err != nil {
			return expired, err
		}
		if p.Status != contracts.StatusApproved {
			return nil, fmt.Errorf("%w: cross-chain proposal %d is %s, not approved", contracts.ErrInvalidState, id, p.Status)
		}
		now := e.clock.Sequence()
		if have, need := crossChainQuorum(cfg, p, now); have < int(need) {
			return nil, fmt.Errorf("%w: cross-chain proposal %d has %d of %d required approvals", contracts.ErrInvalidState, id, have, need)
		}
		if p.UnlockLedger > 0 && now < p.UnlockLedger {
			return nil, fmt.Errorf("%w: unlocks at ledger %d, now %d", contracts.ErrTimelockNotElapsed, p.UnlockLedger, now)
		}
		if !bridge.Enabled(p.TargetChain) {
			return nil, fmt.Errorf("%w: chain %d is not enabled", contracts.ErrBridgeNotConfigured, p.TargetChain)
		}
		if bridgeTxHash == "" {
			return nil, fmt.Errorf("%w: bridge tx hash is required", contracts.ErrInvalidConfig)
		}
		total := p.Amount + p.Fee
		limits := budget.Limits{PerTransaction: cfg.SpendingLimit, Daily: cfg.DailyLimit, Weekly: cfg.WeeklyLimit}
		if _, err := budget.NewGuard(t).CheckAndReserve(ctx, limits, total, budget.PeriodAt(e.clock.Timestamp())); err != nil {
			return nil, err
		}

		assetID, err = t.nextID(ctx, store.NextAssetIDKey())
		if err != nil {
			return nil, err
		}
		asset := &contracts.CrossChainAsset{
			ID:                    assetID,
			ProposalID:            id,
			SourceChain:           SourceChain,
			TargetChain:           p.TargetChain,
			Token:                 p.Token,
			Amount:                p.Amount,
			BridgeTxHash:          bridgeTxHash,
			RequiredConfirmations: bridge.RequiredConfirmations(p.TargetChain),
			Status:                contracts.AssetPending,
			Timestamp:             e.clock.Timestamp(),
		}
		p.Status = contracts.StatusExecuted
		p.BridgeTxHash = bridgeTxHash
		p.AssetID = assetID
		if err := t.put(store.CrossChainKey(id), p); err != nil {
			return nil, err
		}
		if err := t.put(store.AssetKey(assetID), asset); err != nil {
			return nil, err
		}
		if err := e.treasury.Transfer(ctx, p.Token, bridgeRecipient(bridge, p.TargetChain), total); err != nil {
			return nil, fmt.Errorf("bridge transfer: %w", err)
		}
		e.logger.InfoContext(ctx, "cross-chain proposal executed", "proposal_id", id, "asset_id", assetID, "chain", uint32(p.TargetChain))
		return []events.Event{events.New(events.CrossChainExecuted, id, caller, map[string]any{
			"asset_id":       assetID,
			"bridge_tx_hash": bridgeTxHash,
			"amount":         p.Amount,
			"fee":            p.Fee,
		})}, nil
	})
	if err != nil {
		return 0, err
	}
	return assetID, nil
}

func bridgeRecipient(b *contracts.BridgeConfig, chain contracts.ChainID) string {
	for _, a := range b.BridgeAddresses {
		if a.ChainID == chain {
			return a.AddressHash
		}
	}
	return fmt.Sprintf("bridge:%d", chain)
}

// RecordConfirmations sets the observed confirmation depth of an asset,
// which never decreases. The asset is confirmed once the depth reaches
// the requirement. Caller must be a signer.
func (e *Engine) RecordConfirmations(ctx context.Context, caller string, assetID uint64, confirmations uint32) error {
	return e.run(ctx, "record_confirmations", func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		if _, err := e.loadBridge(ctx, t); err != nil {
			return nil, err
		}
		if err := e.requireSigner(cfg, caller); err != nil {
			return nil, err
		}
		var a contracts.CrossChainAsset
		ok, err := t.get(ctx, store.AssetKey(assetID), &a)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: cross-chain asset %d", contracts.ErrProposalNotFound, assetID)
		}
		if a.Status == contracts.AssetConfirmed {
			return nil, nil
		}
		if confirmations > a.Confirmations {
			a.Confirmations = confirmations
		}
		var evts []events.Event
		if a.Confirmations >= a.RequiredConfirmations {
			a.Status = contracts.AssetConfirmed
			evts = append(evts, events.New(events.CrossChainConfirmed, a.ProposalID, caller, map[string]any{
				"asset_id":      a.ID,
				"confirmations": a.Confirmations,
			}))
		}
		if err := t.put(store.AssetKey(assetID), &a); err != nil {
			return nil, err
		}
		return evts, nil
	})
}
