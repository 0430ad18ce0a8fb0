// Copyright (c) 2021-2026 Rustam Gilyazov and Contributors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

// Package network implements the retry and rate limiting policy shared by
// all remote sources.
//
// Throttling signals (HTTP 429 and friends) are retried indefinitely after
// the server-provided delay and do not consume the retry budget.  Transient
// failures (5xx, 408, dropped connections) are retried with a growing delay
// up to the given number of attempts.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/trace"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defNumAttempts is the default number of retry attempts.
const defNumAttempts = 3

var (
	// maxAllowedWaitTime is the maximum time to wait for a transient error.
	// The wait time for a transient error depends on the current retry
	// attempt number and is calculated as: (attempt+2)^3 seconds, capped at
	// maxAllowedWaitTime.
	maxAllowedWaitTime = 5 * time.Minute
	// waitFn returns the amount of time to wait before retrying depending on
	// the current attempt.  This variable exists to reduce the test time.
	waitFn    = cubicWait
	netWaitFn = expWait

	mu sync.RWMutex
)

var (
	// ErrRetryFailed is returned if number of retry attempts exceeded the
	// retry attempts limit and function wasn't able to complete without
	// errors.
	ErrRetryFailed = errors.New("callback was unable to complete without errors within the allowed number of retries")
	// ErrRetryPlease may be returned by the callback to request a retry
	// for a failure that the network package can't classify.
	ErrRetryPlease = errors.New("retry please")
)

// ThrottleError is returned by the callback when the server asked to slow
// down.
type ThrottleError struct {
	RetryAfter time.Duration
	Source     string
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Source, e.RetryAfter)
}

// StatusError is an HTTP status returned by a remote.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// WithRetry will run the callback function fn. If the function returns a
// ThrottleError, it will delay, and then call it again without counting the
// attempt.  Transient errors are retried up to maxAttempts times, any other
// error is returned immediately.
func WithRetry(ctx context.Context, lim *rate.Limiter, maxAttempts int, fn func(context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = defNumAttempts
	}
	var lastErr error
	for attempt := 0; attempt < maxAttempts; {
		var err error
		trace.WithRegion(ctx, "WithRetry.wait", func() {
			err = lim.Wait(ctx)
		})
		if err != nil {
			return err
		}

		cbErr := fn(ctx)
		if cbErr == nil {
			return nil
		}
		tracelogf(ctx, "error", "WithRetry: %[1]s (%[1]T) after %[2]d attempts", cbErr, attempt+1)

		var delay time.Duration
		var (
			te *ThrottleError
			se *StatusError
			ne *net.OpError
		)
		switch {
		case errors.As(cbErr, &te):
			tracelogf(ctx, "info", "got rate limited, sleeping %s", te.RetryAfter)
			if err := sleep(ctx, te.RetryAfter); err != nil {
				return err
			}
			continue
		case errors.As(cbErr, &se) && isRecoverable(se.Code):
			delay = waitFn(attempt)
			tracelogf(ctx, "info", "got server error %d, sleeping %s", se.Code, delay)
		case errors.As(cbErr, &ne) && (ne.Op == "read" || ne.Op == "write" || ne.Op == "dial"):
			delay = netWaitFn(attempt)
			tracelogf(ctx, "info", "got network error %s, sleeping %s", ne.Op, delay)
		case errors.Is(cbErr, io.ErrUnexpectedEOF), errors.Is(cbErr, ErrRetryPlease):
			delay = netWaitFn(attempt)
			tracelogf(ctx, "info", "got %s, sleeping %s", cbErr, delay)
		default:
			return fmt.Errorf("callback error: %w", cbErr)
		}
		lastErr = cbErr
		attempt++
		if attempt < maxAttempts {
			if err := sleep(ctx, delay); err != nil {
				return err
			}
		}
	}
	return fmt.Errorf("%w: %w", ErrRetryFailed, lastErr)
}

// IsTransient reports whether the error would have been retried by
// WithRetry.
func IsTransient(err error) bool {
	var (
		te *ThrottleError
		se *StatusError
		ne *net.OpError
	)
	return errors.Is(err, ErrRetryFailed) ||
		errors.As(err, &te) ||
		(errors.As(err, &se) && isRecoverable(se.Code)) ||
		errors.As(err, &ne)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-t.C:
		return nil
	}
}

// isRecoverable returns true if the status code is a recoverable error.
func isRecoverable(statusCode int) bool {
	return (statusCode >= http.StatusInternalServerError && statusCode <= 599 && statusCode != 501) || statusCode == 408
}

// cubicWait is the wait time function.  Time is calculated as (x+2)^3 seconds,
// where x is the current attempt number. The maximum wait time is capped at 5
// minutes.
func cubicWait(attempt int) time.Duration {
	x := attempt + 2 // this is to ensure that we sleep at least 8 seconds.
	delay := time.Duration(x*x*x) * time.Second
	mu.RLock()
	defer mu.RUnlock()
	if delay > maxAllowedWaitTime {
		return maxAllowedWaitTime
	}
	return delay
}

func expWait(attempt int) time.Duration {
	delay := time.Duration(2<<uint(attempt)) * time.Second
	mu.RLock()
	defer mu.RUnlock()
	if delay > maxAllowedWaitTime {
		return maxAllowedWaitTime
	}
	return delay
}

func tracelogf(ctx context.Context, category string, format string, a ...any) {
	trace.Logf(ctx, category, format, a...)
	slog.DebugContext(ctx, fmt.Sprintf(format, a...), "category", category)
}

// SetMaxAllowedWaitTime sets the maximum time to wait for a transient error.
func SetMaxAllowedWaitTime(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()

	maxAllowedWaitTime = d
}
