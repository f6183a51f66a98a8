// Package budget enforces the vault's spending controls: a per-transaction
// cap, rolling daily and weekly aggregates, and a sliding-window velocity
// limit per proposer. Every check fails closed: a storage error denies.
package budget

import (
	"context"
	"errors"
)

// Seconds per bucket period.
const (
	SecondsPerDay  uint64 = 86_400
	SecondsPerWeek uint64 = 604_800
)

// WindowType names an aggregate bucket.
type WindowType string

const (
	WindowDaily  WindowType = "DAILY"
	WindowWeekly WindowType = "WEEKLY"
)

// ErrOverflow is returned when an aggregate would not fit in int64.
var ErrOverflow = errors.New("budget: aggregate overflow")

// Limits are the caps in force for one check. Every cap is inclusive and
// enforced; a zero cap admits nothing.
type Limits struct {
	PerTransaction int64 `json:"per_transaction"`
	Daily          int64 `json:"daily"`
	Weekly         int64 `json:"weekly"`
}

// Period identifies the day and week buckets a timestamp falls in.
type Period struct {
	Day  uint64 `json:"day"`
	Week uint64 `json:"week"`
}

// PeriodAt returns the buckets for unix timestamp ts.
func PeriodAt(ts uint64) Period {
	return Period{Day: ts / SecondsPerDay, Week: ts / SecondsPerWeek}
}

// Decision is the result of a spending check.
type Decision struct {
	Allowed     bool   `json:"allowed"`
	Reason      string `json:"reason"`
	Amount      int64  `json:"amount"`
	DailySpent  int64  `json:"daily_spent"`
	WeeklySpent int64  `json:"weekly_spent"`
	Period      Period `json:"period"`
}

// Storage persists spending buckets and velocity histories.
// Missing buckets read as zero; missing histories read as empty.
type Storage interface {
	Spent(ctx context.Context, window WindowType, index uint64) (int64, error)
	SetSpent(ctx context.Context, window WindowType, index uint64, amount int64) error
	History(ctx context.Context, proposer string) ([]uint64, error)
	SetHistory(ctx context.Context, proposer string, history []uint64) error
}
