package solana_test

import (
	"context"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/adapters/solana"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestSimulated_HiddenThenVisible(t *testing.T) {
	sim := solana.NewSimulated(solana.SimConfig{Seed: 1, HiddenReads: 2})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := sim.GetAccountBalance(ctx, "quote-vault")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	bal, err := sim.GetAccountBalance(ctx, "quote-vault")
	require.NoError(t, err)
	assert.Equal(t, uint8(9), bal.Decimals)
	assert.Positive(t, bal.RawAmount)

	base, err := sim.GetAccountBalance(ctx, "base-vault")
	assert.ErrorIs(t, err, domain.ErrNotFound, "each address has its own hidden reads")
	assert.Zero(t, base.RawAmount)
}

func TestSimulated_DeterministicWithSeed(t *testing.T) {
	ctx := context.Background()
	read := func() []uint64 {
		sim := solana.NewSimulated(solana.SimConfig{Seed: 42})
		var out []uint64
		for i := 0; i < 5; i++ {
			b, err := sim.GetAccountBalance(ctx, "bv-1")
			require.NoError(t, err)
			out = append(out, b.RawAmount)
		}
		return out
	}
	assert.Equal(t, read(), read())
}

func TestSimulated_ReservesFeedMetrics(t *testing.T) {
	sim := solana.NewSimulated(solana.SimConfig{Seed: 7})
	ctx := context.Background()

	base, err := sim.GetAccountBalance(ctx, "bv-1")
	require.NoError(t, err)
	quote, err := sim.GetAccountBalance(ctx, "qv-1")
	require.NoError(t, err)

	snap, err := domain.ComputeMetrics("p", domain.Reserves{
		BaseRaw: base.RawAmount, QuoteRaw: quote.RawAmount,
		BaseDecimals: base.Decimals, QuoteDecimals: quote.Decimals,
	}, nil, testTime)
	require.NoError(t, err)
	assert.Positive(t, snap.Price)
	assert.GreaterOrEqual(t, snap.TVL, 5.0)
	assert.LessOrEqual(t, snap.TVL, 150.0)
}
