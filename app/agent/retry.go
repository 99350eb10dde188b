package agent

import (
	"log/slog"
	"time"
)

// Retry runs fn up to attempts times. After a failed attempt n it sleeps
// n*delay before trying again, and returns the last error once the budget
// is spent.
func Retry(attempts int, delay time.Duration, sleep func(time.Duration), fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		slog.Warn("attempt failed", "attempt", attempt, "error", lastErr)
		if attempt < attempts {
			sleep(time.Duration(attempt) * delay)
		}
	}
	return lastErr
}
