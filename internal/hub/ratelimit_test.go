package hub

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllowsWithinWindow(t *testing.T) {
	l := NewRateLimiter(3, time.Minute)
	userID := uuid.New()

	for i := 0; i < 3; i++ {
		allowed, _ := l.Check(userID)
		require.True(t, allowed, "request %d", i)
	}

	allowed, retryAfter := l.Check(userID)
	assert.False(t, allowed)
	assert.Greater(t, retryAfter, time.Duration(0))
	assert.LessOrEqual(t, retryAfter, time.Minute)
}

func TestRateLimiterSlidesWindow(t *testing.T) {
	l := NewRateLimiter(2, time.Minute)
	userID := uuid.New()

	base := time.Now()
	l.now = func() time.Time { return base }

	allowed, _ := l.Check(userID)
	require.True(t, allowed)
	allowed, _ = l.Check(userID)
	require.True(t, allowed)

	allowed, _ = l.Check(userID)
	require.False(t, allowed)

	// 61 seconds later both timestamps have left the window.
	l.now = func() time.Time { return base.Add(61 * time.Second) }
	allowed, _ = l.Check(userID)
	assert.True(t, allowed)
}

func TestRateLimiterIsolatesUsers(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	u1, u2 := uuid.New(), uuid.New()

	allowed, _ := l.Check(u1)
	require.True(t, allowed)
	allowed, _ = l.Check(u1)
	require.False(t, allowed)

	allowed, _ = l.Check(u2)
	assert.True(t, allowed, "another user has an independent window")
}

func TestRateLimiterForget(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	userID := uuid.New()

	allowed, _ := l.Check(userID)
	require.True(t, allowed)
	allowed, _ = l.Check(userID)
	require.False(t, allowed)

	l.Forget(userID)
	allowed, _ = l.Check(userID)
	assert.True(t, allowed)
}
