package lifecycle

import (
	"math"
	"time"
)

// RetryDelay returns min(maxDelay, base * 2^attempt). Negative attempts are
// treated as zero and a non-positive maxDelay means no cap. The result never
// decreases as attempt grows.
func RetryDelay(attempt int, base, maxDelay time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	limit := time.Duration(math.MaxInt64)
	if maxDelay > 0 {
		limit = maxDelay
	}

	d := base
	for i := 0; i < attempt; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
