package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayStaysWithinBounds(t *testing.T) {
	p := Policy{Min: time.Second, Max: 30 * time.Second, Multiplier: 2.0}

	for attempt := 1; attempt <= 20; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, p.Min, "attempt %d", attempt)
		assert.LessOrEqual(t, d, p.Max, "attempt %d", attempt)
	}
}

func TestDelayGrowsWithAttempts(t *testing.T) {
	p := Policy{Min: time.Second, Max: time.Hour, Multiplier: 2.0}

	// With ±20% jitter, attempt 5 (base 16s) can never undercut
	// attempt 1 (base 1s).
	assert.Greater(t, p.Delay(5), p.Delay(1))
}

func TestDelayClampsBadAttempt(t *testing.T) {
	p := Default()
	assert.GreaterOrEqual(t, p.Delay(0), p.Min)
	assert.GreaterOrEqual(t, p.Delay(-3), p.Min)
}
