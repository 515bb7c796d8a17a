package backoff

import (
	"math/rand/v2"
	"time"
)

// Policy computes jittered exponential delays. It is stateless: the
// attempt number lives on the sync task, which keeps retries resumable
// across process restarts.
type Policy struct {
	Min        time.Duration
	Max        time.Duration
	Multiplier float64
}

// Default matches the platform-call retry profile: 1s, 2s, 4s, ... up to 1m.
func Default() Policy {
	return Policy{Min: time.Second, Max: time.Minute, Multiplier: 2.0}
}

// Delay returns the wait before the given retry attempt (first retry is
// attempt 1). Jitter is ±20% so retrying workers don't thunder in step.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Min)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.Max) {
			d = float64(p.Max)
			break
		}
	}

	jitterFactor := rand.Float64()*0.4 - 0.2
	wait := time.Duration(d + jitterFactor*d)
	if wait < p.Min {
		wait = p.Min
	}
	if wait > p.Max {
		wait = p.Max
	}
	return wait
}
