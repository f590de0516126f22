// Copyright (c) 2025 BVK Chaitanya

package ctxutil

import (
	"context"
	"time"
)

// Sleep blocks the caller for given timeout duration. Returns early if the
// input context is canceled.
func Sleep(ctx context.Context, d time.Duration) {
	sctx, scancel := context.WithTimeout(ctx, d)
	<-sctx.Done()
	scancel()
}

// Retry runs the input function till it succeeds or till the input context is
// canceled. Returns nil if the input function is successful or last non-nil
// error from the function after the context has expired.
func Retry(ctx context.Context, interval time.Duration, f func() error) (err error) {
	for err = f(); err != nil && context.Cause(ctx) == nil; err = f() {
		Sleep(ctx, interval)
	}
	return
}

// RetryTimeout runs the input function till it succeeds, the input context is
// canceled or the input timeout expires.
func RetryTimeout(ctx context.Context, interval, timeout time.Duration, f func() error) error {
	sctx, scancel := context.WithTimeout(ctx, timeout)
	defer scancel()
	return Retry(sctx, interval, f)
}

// RetryBackoff is like Retry, but doubles the sleep interval after every
// failed attempt, up to the given maximum interval.
func RetryBackoff(ctx context.Context, interval, maxInterval time.Duration, f func() error) (err error) {
	d := interval
	for err = f(); err != nil && context.Cause(ctx) == nil; err = f() {
		Sleep(ctx, d)
		if d *= 2; d > maxInterval {
			d = maxInterval
		}
	}
	return
}
