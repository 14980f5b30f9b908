package executor

import (
	"math/rand/v2"
	"time"

	"github.com/droverhq/drover/internal/config"
)

// RetryDelay computes the backoff before the given attempt:
// min(RetryMaxDelay, RetryBaseDelay * 2^retries) with ±RetryJitter
// applied after the clamp. The executor never sleeps on it; the delay
// becomes the task's earliest_run_at hint and the scheduler honours it.
func RetryDelay(retries int) time.Duration {
	if retries < 0 {
		retries = 0
	}
	delay := config.RetryBaseDelay << uint(retries)
	if delay <= 0 || delay > config.RetryMaxDelay {
		delay = config.RetryMaxDelay
	}

	jitter := (rand.Float64()*2 - 1) * config.RetryJitter
	d := time.Duration(float64(delay) * (1 + jitter))
	if d < 0 {
		d = 0
	}
	return d
}
