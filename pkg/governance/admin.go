package governance

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/insurance"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// InitConfig is everything needed to bring up a vault.
type InitConfig struct {
	Config    contracts.Config
	Roles     map[string]contracts.Role
	Insurance *contracts.InsuranceConfig
	ListMode  contracts.ListMode
	Whitelist []string
	Blacklist []string
	Bridge    *contracts.BridgeConfig
}

// Initialize stores the vault configuration and makes admin an Admin.
// It succeeds once.
func (e *Engine) Initialize(ctx context.Context, admin string, ic InitConfig) error {
	return e.run(ctx, "initialize", func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err == nil {
			return nil, contracts.ErrAlreadyInitialized
		} else if !errors.Is(err, contracts.ErrNotInitialized) {
			return nil, err
		}
		if admin == "" {
			return nil, fmt.Errorf("%w: admin address is empty", contracts.ErrInvalidConfig)
		}
		admin = contracts.NormalizeAddress(admin)
		cfg := ic.Config
		cfg.Signers = normalizeAll(cfg.Signers)
		if cfg.ProposalTTL == 0 {
			cfg.ProposalTTL = contracts.DefaultProposalTTL
		}
		if cfg.ThresholdStrategy.Kind == "" {
			cfg.ThresholdStrategy = contracts.Fixed()
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		ins := contracts.DefaultInsuranceConfig()
		if ic.Insurance != nil {
			ins = *ic.Insurance
		}
		if err := insurance.Validate(ins); err != nil {
			return nil, err
		}
		mode := ic.ListMode
		if mode == "" {
			mode = contracts.ListDisabled
		}
		if err := validListMode(mode); err != nil {
			return nil, err
		}
		if ic.Bridge != nil {
			if err := validateBridge(ic.Bridge); err != nil {
				return nil, err
			}
		}

		puts := []struct {
			key store.Key
			v   any
		}{
			{store.ConfigKey(), &cfg},
			{store.NextProposalIDKey(), uint64(1)},
			{store.NextRecurringIDKey(), uint64(1)},
			{store.NextCrossChainIDKey(), uint64(1)},
			{store.NextAssetIDKey(), uint64(1)},
			{store.InsuranceConfigKey(), ins},
			{store.InsuranceTotalsKey(), contracts.InsuranceTotals{}},
			{store.ListModeKey(), mode},
			{store.RoleKey(admin), contracts.RoleAdmin},
		}
		for _, p := range puts {
			if err := t.put(p.key, p.v); err != nil {
				return nil, err
			}
		}
		if ic.Bridge != nil {
			if err := t.put(store.BridgeConfigKey(), ic.Bridge); err != nil {
				return nil, err
			}
		}
		evts := []events.Event{
			events.New(events.Initialized, 0, admin, map[string]any{
				"signers":   cfg.Signers,
				"threshold": cfg.Threshold,
			}),
			events.New(events.RoleAssigned, 0, admin, map[string]any{"address": admin, "role": contracts.RoleAdmin.String()}),
		}
		for addr, role := range ic.Roles {
			if contracts.SameAddress(addr, admin) {
				continue
			}
			if err := t.put(store.RoleKey(addr), role); err != nil {
				return nil, err
			}
			evts = append(evts, events.New(events.RoleAssigned, 0, admin, map[string]any{"address": addr, "role": role.String()}))
		}
		for _, addr := range ic.Whitelist {
			if err := t.put(store.WhitelistKey(addr), true); err != nil {
				return nil, err
			}
		}
		for _, addr := range ic.Blacklist {
			if err := t.put(store.BlacklistKey(addr), true); err != nil {
				return nil, err
			}
		}

		e.logger.InfoContext(ctx, "vault initialized", "admin", admin, "signers", len(cfg.Signers), "threshold", cfg.Threshold)
		return evts, nil
	})
}

// adminOp runs fn after checking the vault is initialized and caller is an Admin.
func (e *Engine) adminOp(ctx context.Context, op, caller string, fn func(ctx context.Context, t *txn, cfg *contracts.Config) ([]events.Event, error)) error {
	return e.run(ctx, op, func(ctx context.Context, t *txn) ([]events.Event, error) {
		cfg, err := e.loadConfig(ctx, t)
		if err != nil {
			return nil, err
		}
		if err := e.requireRole(ctx, t, caller, contracts.RoleAdmin); err != nil {
			return nil, err
		}
		return fn(ctx, t, cfg)
	})
}

// updateConfig applies mutate to the config, validates and stages it.
func (e *Engine) updateConfig(ctx context.Context, op, caller, name string, mutate func(cfg *contracts.Config) error, data map[string]any) error {
	return e.adminOp(ctx, op, caller, func(ctx context.Context, t *txn, cfg *contracts.Config) ([]events.Event, error) {
		if err := mutate(cfg); err != nil {
			return nil, err
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if err := t.put(store.ConfigKey(), cfg); err != nil {
			return nil, err
		}
		e.logger.InfoContext(ctx, "config updated", "op", op, "by", caller)
		return []events.Event{events.New(name, 0, caller, data)}, nil
	})
}

// SetRole assigns role to addr.
func (e *Engine) SetRole(ctx context.Context, caller, addr string, role contracts.Role) error {
	return e.adminOp(ctx, "set_role", caller, func(ctx context.Context, t *txn, _ *contracts.Config) ([]events.Event, error) {
		if role < contracts.RoleMember || role > contracts.RoleAdmin {
			return nil, fmt.Errorf("%w: unknown role %d", contracts.ErrInvalidConfig, role)
		}
		if err := t.put(store.RoleKey(addr), role); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.RoleAssigned, 0, caller, map[string]any{"address": addr, "role": role.String()})}, nil
	})
}

// AddSigner appends addr to the signer set.
func (e *Engine) AddSigner(ctx context.Context, caller, addr string) error {
	return e.updateConfig(ctx, "add_signer", caller, events.SignerAdded, func(cfg *contracts.Config) error {
		if cfg.IsSigner(addr) {
			return fmt.Errorf("%w: %s is already a signer", contracts.ErrInvalidConfig, addr)
		}
		cfg.Signers = append(cfg.Signers, contracts.NormalizeAddress(addr))
		return nil
	}, map[string]any{"signer": addr})
}

// RemoveSigner drops addr from the signer set. The set may not shrink below
// the fixed threshold. Approvals addr already gave stop counting.
func (e *Engine) RemoveSigner(ctx context.Context, caller, addr string) error {
	return e.updateConfig(ctx, "remove_signer", caller, events.SignerRemoved, func(cfg *contracts.Config) error {
		if !cfg.IsSigner(addr) {
			return fmt.Errorf("%w: %s is not a signer", contracts.ErrInvalidConfig, addr)
		}
		if len(cfg.Signers)-1 < int(cfg.Threshold) {
			return fmt.Errorf("%w: removing %s leaves fewer signers than threshold %d", contracts.ErrInvalidConfig, addr, cfg.Threshold)
		}
		kept := make([]string, 0, len(cfg.Signers)-1)
		for _, s := range cfg.Signers {
			if !contracts.SameAddress(s, addr) {
				kept = append(kept, s)
			}
		}
		cfg.Signers = kept
		return nil
	}, map[string]any{"signer": addr})
}

// UpdateThreshold sets the fixed threshold.
func (e *Engine) UpdateThreshold(ctx context.Context, caller string, threshold uint32) error {
	return e.updateConfig(ctx, "update_threshold", caller, events.ThresholdChanged, func(cfg *contracts.Config) error {
		cfg.Threshold = threshold
		return nil
	}, map[string]any{"threshold": threshold})
}

// UpdateLimits sets the per-transaction, daily and weekly caps. A zero cap
// blocks every transfer it governs.
func (e *Engine) UpdateLimits(ctx context.Context, caller string, perTx, daily, weekly int64) error {
	return e.updateConfig(ctx, "update_limits", caller, events.ConfigUpdated, func(cfg *contracts.Config) error {
		cfg.SpendingLimit, cfg.DailyLimit, cfg.WeeklyLimit = perTx, daily, weekly
		return nil
	}, map[string]any{"field": "limits", "spending_limit": perTx, "daily_limit": daily, "weekly_limit": weekly})
}

// UpdateVelocity sets the per-proposer creation rate limit.
func (e *Engine) UpdateVelocity(ctx context.Context, caller string, v contracts.VelocityConfig) error {
	return e.updateConfig(ctx, "update_velocity", caller, events.ConfigUpdated, func(cfg *contracts.Config) error {
		cfg.Velocity = v
		return nil
	}, map[string]any{"field": "velocity", "limit": v.Limit, "window": v.Window})
}

// SetThresholdStrategy replaces the approval strategy. Open proposals are
// evaluated against the new strategy from now on.
func (e *Engine) SetThresholdStrategy(ctx context.Context, caller string, s contracts.ThresholdStrategy) error {
	return e.updateConfig(ctx, "set_threshold_strategy", caller, events.ThresholdChanged, func(cfg *contracts.Config) error {
		cfg.ThresholdStrategy = s
		return nil
	}, map[string]any{"strategy": string(s.Kind)})
}

// SetTimelock sets the amount at which proposals are timelocked and the delay in ledgers.
func (e *Engine) SetTimelock(ctx context.Context, caller string, amount int64, delay uint64) error {
	return e.updateConfig(ctx, "set_timelock", caller, events.ConfigUpdated, func(cfg *contracts.Config) error {
		cfg.TimelockThreshold, cfg.TimelockDelay = amount, delay
		return nil
	}, map[string]any{"field": "timelock", "timelock_threshold": amount, "timelock_delay": delay})
}

func normalizeAll(addrs []string) []string {
	if addrs == nil {
		return nil
	}
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = contracts.NormalizeAddress(a)
	}
	return out
}

func validListMode(m contracts.ListMode) error {
	switch m {
	case contracts.ListDisabled, contracts.ListWhitelist, contracts.ListBlacklist:
		return nil
	}
	return fmt.Errorf("%w: unknown list mode %q", contracts.ErrInvalidConfig, m)
}

// SetListMode selects how recipient lists gate transfers.
func (e *Engine) SetListMode(ctx context.Context, caller string, mode contracts.ListMode) error {
	return e.adminOp(ctx, "set_list_mode", caller, func(ctx context.Context, t *txn, _ *contracts.Config) ([]events.Event, error) {
		if err := validListMode(mode); err != nil {
			return nil, err
		}
		if err := t.put(store.ListModeKey(), mode); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.ConfigUpdated, 0, caller, map[string]any{"field": "list_mode", "mode": string(mode)})}, nil
	})
}

func (e *Engine) setListed(ctx context.Context, op, caller string, key store.Key, addr string, listed bool) error {
	return e.adminOp(ctx, op, caller, func(ctx context.Context, t *txn, _ *contracts.Config) ([]events.Event, error) {
		if listed {
			if err := t.put(key, true); err != nil {
				return nil, err
			}
		} else {
			t.remove(key)
		}
		return []events.Event{events.New(events.ConfigUpdated, 0, caller, map[string]any{"field": op, "address": addr})}, nil
	})
}

func (e *Engine) AddToWhitelist(ctx context.Context, caller, addr string) error {
	return e.setListed(ctx, "add_to_whitelist", caller, store.WhitelistKey(addr), addr, true)
}

func (e *Engine) RemoveFromWhitelist(ctx context.Context, caller, addr string) error {
	return e.setListed(ctx, "remove_from_whitelist", caller, store.WhitelistKey(addr), addr, false)
}

func (e *Engine) AddToBlacklist(ctx context.Context, caller, addr string) error {
	return e.setListed(ctx, "add_to_blacklist", caller, store.BlacklistKey(addr), addr, true)
}

func (e *Engine) RemoveFromBlacklist(ctx context.Context, caller, addr string) error {
	return e.setListed(ctx, "remove_from_blacklist", caller, store.BlacklistKey(addr), addr, false)
}

// SetInsuranceConfig replaces the insurance parameters. Stakes already held
// settle under the config in force when they settle.
func (e *Engine) SetInsuranceConfig(ctx context.Context, caller string, cfg contracts.InsuranceConfig) error {
	return e.adminOp(ctx, "set_insurance_config", caller, func(ctx context.Context, t *txn, _ *contracts.Config) ([]events.Event, error) {
		if err := insurance.Validate(cfg); err != nil {
			return nil, err
		}
		if err := t.put(store.InsuranceConfigKey(), cfg); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.ConfigUpdated, 0, caller, map[string]any{
			"field":             "insurance",
			"enabled":           cfg.Enabled,
			"min_amount":        cfg.MinAmount,
			"min_insurance_bps": cfg.MinInsuranceBps,
			"slash_percentage":  cfg.SlashPercentage,
		})}, nil
	})
}
