package ticket

import (
	"context"
	"errors"
	"strings"
	"time"
)

const sqliteBusyCode = 5 // SQLITE_BUSY

// RetryPolicy bounds retries of operations that hit SQLite write
// contention. Backoff grows linearly: Backoff × attempt number.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// DefaultRetryPolicy retries three times at 100ms, 200ms, 300ms.
var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// Run executes op, retrying on busy errors until the policy is exhausted.
// Non-busy errors and the final busy error propagate to the caller.
func (p RetryPolicy) Run(ctx context.Context, op func() error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !IsBusy(lastErr) || attempt == attempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * p.Backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
