// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package assuan

import (
	"context"
	"time"
)

// RetryPolicy configures how long a command waits for a backend that is
// still starting up.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is multiplied by the retry number (linear backoff).
	BaseDelay time.Duration
}

// DefaultRetryPolicy waits 250, 500, 750, 1000 and 1250 ms. That is one
// attempt plus five retries, six transactions in total.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  250 * time.Millisecond,
	}
}

// Delay returns the wait before the given retry (1-based).
func (r RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	return r.BaseDelay * time.Duration(retry)
}

// Total returns the sum of all delays, the worst-case wait per command.
func (r RetryPolicy) Total() time.Duration {
	var total time.Duration
	for i := 1; i <= r.MaxRetries; i++ {
		total += r.Delay(i)
	}
	return total
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
