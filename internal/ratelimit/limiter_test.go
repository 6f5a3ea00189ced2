package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixedWindowNeverExceedsLimit(t *testing.T) {
	l := New(0)
	defer l.Close()
	key := Key{UserID: "u1", Tool: "search", Source: "tool"}

	allowedCount := 0
	for i := 0; i < 10; i++ {
		if l.Check(key, 3, time.Minute).Allowed {
			allowedCount++
		}
	}
	assert.Equal(t, 3, allowedCount)
}

func TestWindowResetsAfterExpiry(t *testing.T) {
	l := New(0)
	defer l.Close()
	key := Key{UserID: "u1", Tool: "search", Source: "tool"}

	r1 := l.Check(key, 1, 10*time.Millisecond)
	assert.True(t, r1.Allowed)
	r2 := l.Check(key, 1, 10*time.Millisecond)
	assert.False(t, r2.Allowed)

	time.Sleep(15 * time.Millisecond)
	r3 := l.Check(key, 1, 10*time.Millisecond)
	assert.True(t, r3.Allowed)
	assert.EqualValues(t, 1, r3.CurrentCount)
}

func TestClearResetsCounters(t *testing.T) {
	l := New(0)
	defer l.Close()
	key := Key{UserID: "u1", Tool: "search", Source: "tool"}
	l.Check(key, 1, time.Minute)
	assert.False(t, l.Check(key, 1, time.Minute).Allowed)

	l.Clear("u1")
	assert.True(t, l.Check(key, 1, time.Minute).Allowed)
}

func TestIndependentSourcesHaveIndependentCounters(t *testing.T) {
	l := New(0)
	defer l.Close()
	roleKey := Key{UserID: "u1", Tool: "search", Source: "role"}
	toolKey := Key{UserID: "u1", Tool: "search", Source: "tool"}

	assert.True(t, l.Check(roleKey, 1, time.Minute).Allowed)
	assert.True(t, l.Check(toolKey, 1, time.Minute).Allowed)
}
