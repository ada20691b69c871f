package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_Frozen(t *testing.T) {
	start := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	assert.Equal(t, start, clock.Now())
	assert.Equal(t, start, clock.Now(), "clock must not move on its own")
}

func TestManualClock_Advance(t *testing.T) {
	start := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	moved := clock.Advance(90 * time.Second)
	assert.Equal(t, start.Add(90*time.Second), moved)
	assert.Equal(t, moved, clock.Now())
}

func TestManualClock_SetNormalizesToUTC(t *testing.T) {
	start := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	clock := NewManualClock(start)

	loc := time.FixedZone("plus2", 2*60*60)
	clock.Set(time.Date(2026, 2, 3, 14, 0, 0, 0, loc))

	assert.Equal(t, time.UTC, clock.Now().Location())
	assert.True(t, clock.Now().Equal(start))
}
