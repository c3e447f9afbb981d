package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable time source for TTL tests.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New[string](time.Minute)
	_, ok := c.Get("absent")
	assert.False(t, ok)
}

func TestSetGetWithinTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[int](10 * time.Minute)
	c.SetClock(clock.now)

	c.Set("k", 42)
	clock.advance(9 * time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestExpiredEntryIsNeverServed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[int](10 * time.Minute)
	c.SetClock(clock.now)

	c.Set("k", 42)
	clock.advance(10*time.Minute + time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
	// Lazy eviction on read should have dropped the entry.
	assert.Equal(t, 0, c.Len())
}

func TestPermanentEntriesNeverExpire(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[string](0)
	c.SetClock(clock.now)

	c.Set("meta", "USDC/6")
	clock.advance(24 * 365 * time.Hour)

	got, ok := c.Get("meta")
	require.True(t, ok)
	assert.Equal(t, "USDC/6", got)
}

func TestSetWithTTLOverridesDefault(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[int](time.Minute)
	c.SetClock(clock.now)

	c.SetWithTTL("long", 1, time.Hour)
	clock.advance(30 * time.Minute)

	_, ok := c.Get("long")
	assert.True(t, ok)
}

func TestSweepEvictsOnlyExpired(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New[int](10 * time.Minute)
	c.SetClock(clock.now)

	c.Set("old", 1)
	clock.advance(11 * time.Minute)
	c.Set("fresh", 2)

	dropped := c.Sweep()
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, c.Len())

	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestClearAndDelete(t *testing.T) {
	c := New[int](0)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Delete("a")
	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestSweeperStopIsIdempotent(t *testing.T) {
	c := New[int](time.Millisecond)
	s := NewSweeper(time.Millisecond, c)
	s.Start()

	c.Set("k", 1)
	time.Sleep(5 * time.Millisecond)

	s.Stop()
	s.Stop()
}
