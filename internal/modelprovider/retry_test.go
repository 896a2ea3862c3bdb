package modelprovider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

func TestWithRetry_RetriesProviderErrorUntilSuccess(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 3, func() error {
		attempts++
		if attempts < 3 {
			return runerr.ProviderError("transient", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetry_DoesNotRetryInvalidInput(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 5, func() error {
		attempts++
		return runerr.InvalidInput("bad request", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetry_StopsAtMaxAttempts(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), 2, func() error {
		attempts++
		return runerr.Timeout("slow", nil)
	})
	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	var rerr *runerr.Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, runerr.KindTimeout, rerr.Kind)
}
