// Package clock supplies the ledger sequence and timestamp the engine
// evaluates expiry, timelocks and spending windows against.
package clock

import (
	"sync"
	"time"
)

// LedgerClose is the nominal time between two ledger sequences.
const LedgerClose = 5 * time.Second

// Source is the consumed time interface.
type Source interface {
	// Sequence is monotonic and drives expiry, timelocks and recurring payments.
	Sequence() uint64
	// Timestamp is unix seconds and drives day/week buckets, velocity and decay.
	Timestamp() uint64
}

// System derives a sequence from wall time, one ledger per LedgerClose since Genesis.
type System struct {
	genesis time.Time
	now     func() time.Time
}

// NewSystem creates a wall-clock source anchored at genesis.
func NewSystem(genesis time.Time) *System {
	return &System{genesis: genesis, now: time.Now}
}

// WithClock overrides the wall clock (for testing).
func (s *System) WithClock(now func() time.Time) *System {
	s.now = now
	return s
}

func (s *System) Sequence() uint64 {
	d := s.now().Sub(s.genesis)
	if d < 0 {
		return 0
	}
	return uint64(d / LedgerClose)
}

func (s *System) Timestamp() uint64 {
	ts := s.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// Manual is a settable source for tests and replay.
type Manual struct {
	mu  sync.Mutex
	seq uint64
	ts  uint64
}

// NewManual starts a manual clock at the given sequence and timestamp.
func NewManual(seq, ts uint64) *Manual {
	return &Manual{seq: seq, ts: ts}
}

func (m *Manual) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seq
}

func (m *Manual) Timestamp() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ts
}

// Set moves the clock to an absolute position.
func (m *Manual) Set(seq, ts uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq, m.ts = seq, ts
}

// Advance moves forward by n ledgers, and the timestamp by n ledger closes.
func (m *Manual) Advance(n uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq += n
	m.ts += n * uint64(LedgerClose/time.Second)
}

// AdvanceTime moves only the timestamp, for day/week and decay scenarios.
func (m *Manual) AdvanceTime(seconds uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ts += seconds
}
