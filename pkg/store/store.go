// Package store persists vault state as typed key/value records with tiered
// retention. Backends: in-memory, SQL (sqlite and postgres) and Redis.
//
// All engine writes go through Apply so that a lifecycle transition and its
// bookkeeping land together or not at all.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is the persistence contract consumed by the engine.
type Store interface {
	// Get returns the raw value, or ok=false if absent or lapsed.
	Get(ctx context.Context, key Key) (value []byte, ok bool, err error)
	Set(ctx context.Context, key Key, value []byte) error
	Remove(ctx context.Context, key Key) error
	// Touch renews the key's TTL. Durable keys and absent keys are left alone.
	Touch(ctx context.Context, key Key) error
	// Apply commits every op in b atomically, in order.
	Apply(ctx context.Context, b *Batch) error
}

// OpKind is the kind of a batched write.
type OpKind int

const (
	OpSet OpKind = iota
	OpRemove
	OpTouch
)

// Op is one staged write.
type Op struct {
	Kind  OpKind
	Key   Key
	Value []byte
}

// Batch collects writes for Apply. The zero value is ready to use.
type Batch struct {
	ops []Op
}

func (b *Batch) Set(key Key, value []byte) {
	b.ops = append(b.ops, Op{Kind: OpSet, Key: key, Value: value})
}

func (b *Batch) Remove(key Key) {
	b.ops = append(b.ops, Op{Kind: OpRemove, Key: key})
}

func (b *Batch) Touch(key Key) {
	b.ops = append(b.ops, Op{Kind: OpTouch, Key: key})
}

// PutJSON stages a JSON-encoded value.
func (b *Batch) PutJSON(key Key, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	b.Set(key, data)
	return nil
}

// Ops returns the staged writes in order.
func (b *Batch) Ops() []Op { return b.ops }

// Len is the number of staged writes.
func (b *Batch) Len() int { return len(b.ops) }

// GetJSON decodes the value at key into v. ok is false when the key is absent.
func GetJSON(ctx context.Context, s Store, key Key, v any) (bool, error) {
	data, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("corrupt record %s: %w", key, err)
	}
	return true, nil
}
