// Package retry runs store operations with bounded exponential backoff.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"wordcraft/docstore"
)

type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable decides which errors are retried. Defaults to docstore.IsTransient.
	Retryable func(error) bool
}

func DefaultPolicy() Policy {
	return Policy{Attempts: 4, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}
}

// Do calls fn until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = docstore.IsTransient
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !retryable(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		t := time.NewTimer(p.backoff(i))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
	}
	return err
}

// backoff is full jitter over base*2^attempt, capped at MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << attempt
	if p.MaxDelay > 0 && (d > p.MaxDelay || d <= 0) {
		d = p.MaxDelay
	}
	if d <= 0 {
		d = p.BaseDelay
	}
	return time.Duration(rand.Int64N(int64(d)) + 1)
}
