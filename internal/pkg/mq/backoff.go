package mq

import "time"

// Backoff returns the wait before retry number attempt: min(base*attempt, max).
func Backoff(base, max time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base * time.Duration(attempt)
	if d > max {
		return max
	}
	return d
}
