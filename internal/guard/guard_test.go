package guard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLockSet(t *testing.T) {
	ls := NewLockSet()

	assert.True(t, ls.TryAcquire("newCycle"))
	assert.False(t, ls.TryAcquire("newCycle"))
	assert.True(t, ls.TryAcquire("resolve"), "locks are independent")
	assert.True(t, ls.Held("newCycle"))

	ls.Release("newCycle")
	assert.False(t, ls.Held("newCycle"))
	assert.True(t, ls.TryAcquire("newCycle"))

	// Releasing an unheld lock must not panic.
	ls.Release("never-held")
}

func TestRateLimiterWindow(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	clock := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Check("0xabc").Allowed, "attempt %d", i)
	}
	res := rl.Check("0xabc")
	assert.False(t, res.Allowed)
	assert.Equal(t, "rate_limiter", res.Guard)

	// Other players are unaffected.
	assert.True(t, rl.Check("0xdef").Allowed)

	// Window slides.
	clock = clock.Add(61 * time.Second)
	assert.True(t, rl.Check("0xabc").Allowed)
}
