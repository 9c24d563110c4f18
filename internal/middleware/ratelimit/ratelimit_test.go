package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_RefillsOverTime(t *testing.T) {
	rl := New(Config{MaxRequestsPerMinute: 2})
	defer rl.Stop()

	now := time.Unix(1700000000, 0)
	ok, _ := rl.allow("client", now)
	assert.True(t, ok)
	ok, _ = rl.allow("client", now)
	assert.True(t, ok)

	ok, wait := rl.allow("client", now.Add(10*time.Second))
	assert.False(t, ok)
	assert.Equal(t, 20*time.Second, wait)

	ok, _ = rl.allow("other", now)
	assert.True(t, ok)

	ok, _ = rl.allow("client", now.Add(30*time.Second))
	assert.True(t, ok)
}

func TestStop_Idempotent(t *testing.T) {
	rl := New(Config{})
	rl.Stop()
	assert.NotPanics(t, rl.Stop)
}
