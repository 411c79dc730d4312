package feed

import "time"

const (
	baseReconnectDelay = time.Second
	maxReconnectDelay  = 30 * time.Second
)

// BackoffDelay returns min(1s * 2^attempt, 30s).
func BackoffDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 15 {
		return maxReconnectDelay
	}
	delay := baseReconnectDelay << attempt
	if delay > maxReconnectDelay {
		return maxReconnectDelay
	}
	return delay
}
