// Package priority keeps the pending-proposal queues, one FIFO per tier.
package priority

import (
	"context"

	"github.com/Mindburn-Labs/vault/pkg/contracts"
)

// Queues loads and stores the id sequence of one tier.
type Queues interface {
	Queue(ctx context.Context, tier contracts.Priority) ([]uint64, error)
	SetQueue(ctx context.Context, tier contracts.Priority, ids []uint64) error
}

// Index orders pending proposals by urgency tier.
type Index struct {
	queues Queues
}

// NewIndex creates an index over q.
func NewIndex(q Queues) *Index {
	return &Index{queues: q}
}

// Add appends id to the end of its tier.
func (x *Index) Add(ctx context.Context, tier contracts.Priority, id uint64) error {
	q, err := x.queues.Queue(ctx, tier)
	if err != nil {
		return err
	}
	return x.queues.SetQueue(ctx, tier, append(q, id))
}

// Remove drops id from its tier, keeping the order of the rest.
func (x *Index) Remove(ctx context.Context, tier contracts.Priority, id uint64) error {
	q, err := x.queues.Queue(ctx, tier)
	if err != nil {
		return err
	}
	kept := q[:0:0]
	for _, v := range q {
		if v != id {
			kept = append(kept, v)
		}
	}
	if len(kept) == len(q) {
		return nil
	}
	return x.queues.SetQueue(ctx, tier, kept)
}

// Queue returns the ids of one tier in insertion order.
func (x *Index) Queue(ctx context.Context, tier contracts.Priority) ([]uint64, error) {
	return x.queues.Queue(ctx, tier)
}

// Merged returns every queued id, Critical first, FIFO within a tier.
func (x *Index) Merged(ctx context.Context) ([]uint64, error) {
	var out []uint64
	for _, tier := range contracts.Priorities {
		q, err := x.queues.Queue(ctx, tier)
		if err != nil {
			return nil, err
		}
		out = append(out, q...)
	}
	return out, nil
}
