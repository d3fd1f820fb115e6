package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// errClass buckets an error for the retry decision.
type errClass int

const (
	classTransient errClass = iota
	classFatal
)

// RetryPolicy retries transient chain failures with exponential backoff.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Cap         time.Duration
}

// DefaultRetryPolicy matches the configured RPC retry cap.
func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts, BaseBackoff: 500 * time.Millisecond, Cap: 15 * time.Second}
}

// Do runs fn until it succeeds, fails fatally, or attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := p.BaseBackoff
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if classify(lastErr) == classFatal {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		logger.Warn("transient chain failure, retrying",
			"op", op, "attempt", attempt, "backoff", backoff, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > p.Cap {
			backoff = p.Cap
		}
	}
	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// classify decides whether an error is worth retrying. Reverts and encoding
// errors surface immediately; network flaps, timeouts, and nonce races are
// transient.
func classify(err error) errClass {
	if err == nil {
		return classTransient
	}
	if errors.Is(err, context.Canceled) {
		return classFatal
	}
	msg := strings.ToLower(err.Error())
	for _, fatal := range []string{
		"execution reverted",
		"invalid argument",
		"insufficient funds",
		"abi: ",
		"gas required exceeds allowance",
	} {
		if strings.Contains(msg, fatal) {
			return classFatal
		}
	}
	return classTransient
}

// IsTransient reports whether an error would be retried by the policy.
func IsTransient(err error) bool {
	return err != nil && classify(err) == classTransient
}
