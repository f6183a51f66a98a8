package governance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Mindburn-Labs/vault/pkg/budget"
	"github.com/Mindburn-Labs/vault/pkg/contracts"
	"github.com/Mindburn-Labs/vault/pkg/store"
)

type staged struct {
	data    []byte
	removed bool
}

// txn stages writes over a store. Reads see staged values first. Nothing
// reaches the store until commit, which applies everything as one batch.
type txn struct {
	st      store.Store
	writes  map[store.Key]staged
	order   []store.Key
	touched []store.Key
}

func newTxn(st store.Store) *txn {
	return &txn{st: st, writes: make(map[store.Key]staged)}
}

func (t *txn) get(ctx context.Context, key store.Key, v any) (bool, error) {
	if w, ok := t.writes[key]; ok {
		if w.removed {
			return false, nil
		}
		return true, json.Unmarshal(w.data, v)
	}
	ok, err := store.GetJSON(ctx, t.st, key, v)
	if err != nil {
		return false, err
	}
	if ok && key.Tier() == store.Persistent {
		t.touched = append(t.touched, key)
	}
	return ok, nil
}

func (t *txn) put(key store.Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	t.stage(key, staged{data: data})
	return nil
}

func (t *txn) remove(key store.Key) {
	t.stage(key, staged{removed: true})
}

func (t *txn) stage(key store.Key, w staged) {
	if _, seen := t.writes[key]; !seen {
		t.order = append(t.order, key)
	}
	t.writes[key] = w
}

func (t *txn) dirty() bool {
	return len(t.order) > 0
}

func (t *txn) commit(ctx context.Context) error {
	var b store.Batch
	for _, k := range t.order {
		w := t.writes[k]
		if w.removed {
			b.Remove(k)
		} else {
			b.Set(k, w.data)
		}
	}
	for _, k := range t.touched {
		if _, written := t.writes[k]; !written {
			b.Touch(k)
		}
	}
	if err := t.st.Apply(ctx, &b); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// budget.Storage

func (t *txn) Spent(ctx context.Context, window budget.WindowType, index uint64) (int64, error) {
	var v int64
	_, err := t.get(ctx, spentKey(window, index), &v)
	return v, err
}

func (t *txn) SetSpent(_ context.Context, window budget.WindowType, index uint64, amount int64) error {
	return t.put(spentKey(window, index), amount)
}

func (t *txn) History(ctx context.Context, proposer string) ([]uint64, error) {
	var h []uint64
	_, err := t.get(ctx, store.VelocityKey(proposer), &h)
	return h, err
}

func (t *txn) SetHistory(_ context.Context, proposer string, history []uint64) error {
	return t.put(store.VelocityKey(proposer), history)
}

func spentKey(window budget.WindowType, index uint64) store.Key {
	if window == budget.WindowWeekly {
		return store.WeeklySpentKey(index)
	}
	return store.DailySpentKey(index)
}

// recipients.Lists

func (t *txn) Mode(ctx context.Context) (contracts.ListMode, error) {
	mode := contracts.ListDisabled
	_, err := t.get(ctx, store.ListModeKey(), &mode)
	return mode, err
}

func (t *txn) Whitelisted(ctx context.Context, addr string) (bool, error) {
	var v bool
	_, err := t.get(ctx, store.WhitelistKey(addr), &v)
	return v, err
}

func (t *txn) Blacklisted(ctx context.Context, addr string) (bool, error) {
	var v bool
	_, err := t.get(ctx, store.BlacklistKey(addr), &v)
	return v, err
}

// priority.Queues

func (t *txn) Queue(ctx context.Context, tier contracts.Priority) ([]uint64, error) {
	var q []uint64
	_, err := t.get(ctx, store.PriorityQueueKey(tier), &q)
	return q, err
}

func (t *txn) SetQueue(_ context.Context, tier contracts.Priority, ids []uint64) error {
	return t.put(store.PriorityQueueKey(tier), ids)
}

// nextID returns the counter at key and stages its increment. Counters start at 1.
func (t *txn) nextID(ctx context.Context, key store.Key) (uint64, error) {
	id := uint64(1)
	if _, err := t.get(ctx, key, &id); err != nil {
		return 0, err
	}
	if err := t.put(key, id+1); err != nil {
		return 0, err
	}
	return id, nil
}
