package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	r := NewRateLimiter(3)
	assert.True(t, r.Allow())
	assert.True(t, r.Allow())
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())
}

func TestRateLimiter_ResetsAfterWindow(t *testing.T) {
	r := NewRateLimiter(1)
	assert.True(t, r.Allow())
	assert.False(t, r.Allow())

	r.windowStart = r.windowStart.Add(-2 * time.Minute)
	assert.True(t, r.Allow())
}
