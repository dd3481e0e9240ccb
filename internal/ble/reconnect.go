package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RetryOptions bounds how often a dropped or failed session is restarted.
type RetryOptions struct {
	Attempts     int // extra attempts after the first; 0 disables retries
	ReconnectMax int // max backoff in seconds
}

// backoffDelay returns the reconnection delay for attempt n, capped at maxSeconds.
func backoffDelay(attempt int, maxSeconds int) time.Duration {
	if attempt > 30 {
		attempt = 30
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	max := time.Duration(maxSeconds) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// Retryable reports whether err ended a session in a way a fresh scan and
// connect might fix. Init failures, rejected payloads and interrupts are final.
func Retryable(err error) bool {
	switch {
	case errors.Is(err, ErrInterrupted):
		return false
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrConnectFailed),
		errors.Is(err, ErrDiscoverFailed),
		errors.Is(err, ErrSubscribeFailed),
		errors.Is(err, ErrLinkLost):
		return true
	default:
		return false
	}
}

// Supervise calls attempt until it returns nil or a non-retryable error, or
// the retry budget runs out. Each attempt should build a fresh Manager, since
// a torn-down Manager cannot be reopened.
func Supervise(ctx context.Context, opts RetryOptions, attempt func(ctx context.Context) error) error {
	for n := 0; ; n++ {
		err := attempt(ctx)
		if err == nil || !Retryable(err) || n >= opts.Attempts {
			return err
		}
		delay := backoffDelay(n, opts.ReconnectMax)
		slog.Warn("[BLE] session ended, reconnecting", "error", err, "attempt", n+2, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrInterrupted, ctx.Err())
		case <-timer.C:
		}
	}
}
