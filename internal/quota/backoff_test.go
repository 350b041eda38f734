package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDelayGrowth(t *testing.T) {
	c := DefaultBackoff()

	assert.Equal(t, 1*time.Second, c.Delay(0))
	assert.Equal(t, 2*time.Second, c.Delay(1))
	assert.Equal(t, 4*time.Second, c.Delay(2))
	assert.Equal(t, 64*time.Second, c.Delay(6))
}

func TestBackoffDelayCap(t *testing.T) {
	c := DefaultBackoff()

	// 2^9 = 512s exceeds the 300s cap
	assert.Equal(t, 5*time.Minute, c.Delay(9))
	// exponent clamps at 10, so huge attempt counts stay at the cap
	assert.Equal(t, 5*time.Minute, c.Delay(1000))
	assert.Equal(t, 1*time.Second, c.Delay(-3))
}

func TestJitterBounds(t *testing.T) {
	c := DefaultBackoff()
	base := 10 * time.Second

	for i := 0; i < 100; i++ {
		d := c.Jitter(base)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, 13*time.Second)
	}
}

func TestJitterDisabled(t *testing.T) {
	c := BackoffConfig{BaseDelay: time.Second, MaxDelay: time.Minute, Factor: 2}
	assert.Equal(t, 10*time.Second, c.Jitter(10*time.Second))
}
