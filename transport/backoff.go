package transport

import "time"

// Backoff returns the delay before reconnect attempt n (starting at 1):
// 2^n seconds, capped at max.
func Backoff(attempt int, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt >= 31 {
		return max
	}
	d := time.Duration(1<<uint(attempt)) * time.Second
	if max > 0 && d > max {
		return max
	}
	return d
}
