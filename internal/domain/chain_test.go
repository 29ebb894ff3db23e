package domain_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainError_IsMatchesKind(t *testing.T) {
	cases := []struct {
		kind      domain.ChainErrorKind
		sentinel  error
		transient bool
	}{
		{domain.ChainNotFound, domain.ErrNotFound, false},
		{domain.ChainTimeout, domain.ErrTimeout, true},
		{domain.ChainRateLimited, domain.ErrRateLimited, true},
		{domain.ChainDecode, domain.ErrDecode, false},
		{domain.ChainRPC, domain.ErrRPC, true},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			err := fmt.Errorf("fetcher: base vault of p1: %w", domain.NewChainError(tc.kind, "addr", nil))
			assert.ErrorIs(t, err, tc.sentinel)
			assert.Equal(t, tc.transient, domain.IsTransient(err))
		})
	}
}

func TestChainError_UnwrapsCause(t *testing.T) {
	err := domain.NewChainError(domain.ChainTimeout, "addr", context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, "chain timeout (addr): context deadline exceeded", err.Error())
	assert.Equal(t, "chain not_found (x)", domain.NewChainError(domain.ChainNotFound, "x", nil).Error())

	var ce *domain.ChainError
	require.ErrorAs(t, fmt.Errorf("wrapped: %w", err), &ce)
	assert.Equal(t, "addr", ce.Address)
	assert.Equal(t, domain.ChainTimeout, ce.Kind)
}
