package discovery_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/adapters/discovery"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthetic_EmitsValidUniquePools(t *testing.T) {
	src := discovery.NewSynthetic(time.Millisecond, 5, 1)
	out := make(chan domain.DiscoveryEvent, 5)

	require.NoError(t, src.Run(context.Background(), out))
	close(out)

	seen := make(map[string]bool)
	for ev := range out {
		require.NoError(t, ev.Validate())
		assert.False(t, seen[ev.PoolID], "duplicate pool id")
		seen[ev.PoolID] = true
		assert.True(t, strings.HasPrefix(ev.QuoteVaultAddr, "quote-"))
		assert.True(t, strings.HasPrefix(ev.BaseVaultAddr, "base-"))
		assert.Equal(t, uint8(9), ev.QuoteDecimals)
	}
	assert.Len(t, seen, 5)
}

func TestSynthetic_UnboundedStopsOnCancel(t *testing.T) {
	src := discovery.NewSynthetic(time.Millisecond, 0, 1)
	out := make(chan domain.DiscoveryEvent, 100)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := src.Run(ctx, out)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotEmpty(t, out)
}
