package modelprovider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

// withRetry runs op with exponential backoff and jitter, retrying only
// transient provider/network failures (SPEC_FULL.md §4.A: "never for
// content-policy or invalid-request errors"). maxAttempts bounds the total
// number of calls to op, including the first.
func withRetry(ctx context.Context, maxAttempts int, op func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.RandomizationFactor = 0.3

	attempts := 0
	wrapped := func() error {
		attempts++
		err := op()
		if err == nil {
			return nil
		}
		if attempts >= maxAttempts || !runerr.Retryable(runerr.KindOf(err)) {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}
