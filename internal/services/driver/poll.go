// Package driver holds the polling primitives shared by the page drivers.
package driver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/cohortprobe/internal/interfaces"
)

// Defaults used when a caller passes zero durations
const (
	DefaultWaitTimeout  = 30 * time.Second
	DefaultPollInterval = 200 * time.Millisecond
)

// ErrWaitTimeout is returned when a polled condition never became true
var ErrWaitTimeout = errors.New("timeout waiting for condition")

// Predicate is one evaluation of a polled condition. Errors count as "not yet".
type Predicate func(ctx context.Context) (bool, error)

// WaitFor evaluates predicate immediately and then every interval until it
// returns true, the timeout elapses (ErrWaitTimeout) or ctx is cancelled.
func WaitFor(ctx context.Context, predicate Predicate, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// The first evaluation spends the only token; later ones wait an interval
	ticker := rate.NewLimiter(rate.Every(interval), 1)
	ticker.Allow()

	var lastErr error
	for {
		ok, err := predicate(waitCtx)
		if err == nil && ok {
			return nil
		}
		lastErr = err

		if waitCtx.Err() != nil {
			break
		}
		if err := Delay(waitCtx, ticker.Reserve().Delay()); err != nil {
			break
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}
	if lastErr != nil {
		return fmt.Errorf("%w after %s: last error: %v", ErrWaitTimeout, timeout, lastErr)
	}
	return fmt.Errorf("%w after %s", ErrWaitTimeout, timeout)
}

// Delay sleeps for d or until ctx is done
func Delay(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// WaitForText polls the value of selector until it matches pattern
func WaitForText(ctx context.Context, d interfaces.PageDriver, selector string, pattern *regexp.Regexp, timeout, interval time.Duration) error {
	err := WaitFor(ctx, func(ctx context.Context) (bool, error) {
		text, err := d.ReadField(ctx, selector)
		if err != nil {
			return false, err
		}
		return pattern.MatchString(text), nil
	}, timeout, interval)
	if err != nil {
		return fmt.Errorf("wait for %s to match %q: %w", selector, pattern.String(), err)
	}
	return nil
}
