package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestGovernorRejectsAfterLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := NewGovernor(3, WithClock(clock.Now))

	for i := range 3 {
		d := g.Admit()
		require.True(t, d.Allowed, "admission %d", i)
		clock.Advance(10 * time.Second)
	}

	d := g.Admit()
	require.False(t, d.Allowed)
	assert.Equal(t, 3, d.InWindow)
	// oldest stamp was 30s ago
	assert.Equal(t, 30*time.Second, d.RetryAfter)

	clock.Advance(30 * time.Second)
	d = g.Admit()
	assert.True(t, d.Allowed)
	assert.Equal(t, 3, d.InWindow)
}

func TestGovernorWindowFullyElapsed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	g := NewGovernor(2, WithClock(clock.Now), WithWindow(time.Second))

	assert.True(t, g.Admit().Allowed)
	assert.True(t, g.Admit().Allowed)
	d := g.Admit()
	assert.False(t, d.Allowed)
	assert.Positive(t, d.RetryAfter)

	clock.Advance(time.Second)
	assert.Equal(t, 0, g.InWindow())
	assert.True(t, g.Admit().Allowed)
}

func TestGovernorRejectionIsNotRecorded(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	g := NewGovernor(1, WithClock(clock.Now))

	require.True(t, g.Admit().Allowed)
	for range 5 {
		require.False(t, g.Admit().Allowed)
	}
	assert.Equal(t, 1, g.InWindow())
}

func TestGovernorDisabled(t *testing.T) {
	g := NewGovernor(0)
	for range 100 {
		require.True(t, g.Admit().Allowed)
	}
}

func TestGovernorConcurrentAdmissions(t *testing.T) {
	g := NewGovernor(50)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Admit().Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
	assert.Equal(t, 50, g.InWindow())
}
