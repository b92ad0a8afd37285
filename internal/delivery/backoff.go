package delivery

import "time"

// Backoff returns the delay before retry number attempt (1-based). Delays
// double from base and never exceed cap, so consecutive delays are
// monotonically non-decreasing.
func Backoff(base, cap time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Minute
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if cap > 0 && d >= cap {
			return cap
		}
	}
	if cap > 0 && d > cap {
		return cap
	}
	return d
}
