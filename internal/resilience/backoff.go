package resilience

import (
	"math/rand/v2"
	"time"
)

const (
	defaultBackoffBase = 100 * time.Millisecond
	maxBackoff         = 10 * time.Second
)

// Backoff returns the exponential delay before retry attempt n (1-based),
// capped at ten seconds. jitterPct spreads it by ±pct, e.g. 0.2 for 20%.
func Backoff(base time.Duration, attempt int, jitterPct float64) time.Duration {
	if base <= 0 {
		base = defaultBackoffBase
	}
	attempt = max(attempt, 1)
	d := base
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	d = min(d, maxBackoff)
	if jitterPct <= 0 {
		return d
	}
	spread := float64(d) * jitterPct
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
