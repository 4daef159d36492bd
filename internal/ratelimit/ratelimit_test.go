package ratelimit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPushLimiter_BurstThenDeny(t *testing.T) {
	l := NewPushLimiter(1, 3)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("cam1"), "burst token %d", i)
	}
	assert.False(t, l.Allow("cam1"), "burst exhausted")
}

func TestPushLimiter_PerCameraIsolation(t *testing.T) {
	l := NewPushLimiter(1, 1)

	assert.True(t, l.Allow("cam1"))
	assert.False(t, l.Allow("cam1"))
	assert.True(t, l.Allow("cam2"), "cam2 has its own bucket")
}

func TestPushLimiter_Disabled(t *testing.T) {
	l := NewPushLimiter(0, 1)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("cam1"))
	}
}

func TestPushLimiter_Forget(t *testing.T) {
	l := NewPushLimiter(1, 1)
	assert.True(t, l.Allow("cam1"))
	assert.False(t, l.Allow("cam1"))

	l.Forget("cam1")
	assert.True(t, l.Allow("cam1"), "fresh bucket after forget")
}
