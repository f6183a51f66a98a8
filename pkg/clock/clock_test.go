package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystem(t *testing.T) {
	genesis := time.Unix(1_700_000_000, 0)
	now := genesis.Add(time.Minute)
	s := NewSystem(genesis).WithClock(func() time.Time { return now })

	assert.Equal(t, uint64(12), s.Sequence())
	assert.Equal(t, uint64(1_700_000_060), s.Timestamp())

	now = genesis.Add(-time.Hour)
	assert.Equal(t, uint64(0), s.Sequence(), "before genesis")
}

func TestManual(t *testing.T) {
	m := NewManual(10, 1000)
	m.Advance(3)
	assert.Equal(t, uint64(13), m.Sequence())
	assert.Equal(t, uint64(1015), m.Timestamp())

	m.AdvanceTime(86_400)
	assert.Equal(t, uint64(13), m.Sequence())
	assert.Equal(t, uint64(87_415), m.Timestamp())

	m.Set(0, 0)
	assert.Zero(t, m.Sequence())
}
