package governance

import (
	"context"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/events"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

// SetNotificationPrefs stores caller's own notification preferences.
func (e *Engine) SetNotificationPrefs(ctx context.Context, caller string, prefs contracts.NotificationPrefs) error {
	return e.run(ctx, "set_notification_prefs", func(ctx context.Context, t *txn) ([]events.Event, error) {
		if _, err := e.loadConfig(ctx, t); err != nil {
			return nil, err
		}
		if err := t.put(store.NotificationPrefsKey(caller), prefs); err != nil {
			return nil, err
		}
		return []events.Event{events.New(events.NotificationPrefsUpdated, 0, caller, map[string]any{
			"on_proposal":  prefs.OnProposal,
			"on_approval":  prefs.OnApproval,
			"on_execution": prefs.OnExecution,
			"on_rejection": prefs.OnRejection,
			"on_expiry":    prefs.OnExpiry,
		})}, nil
	})
}

// NotificationPrefs returns addr's preferences, or the defaults when addr
// never stored any.
func (e *Engine) NotificationPrefs(ctx context.Context, addr string) (contracts.NotificationPrefs, error) {
	prefs := contracts.DefaultNotificationPrefs()
	err := e.read(ctx, func(ctx context.Context, t *txn) error {
		_, err := t.get(ctx, store.NotificationPrefsKey(addr), &prefs)
		return err
	})
	return prefs, err
}
