package discovery

import (
	"context"
	"math/rand"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/mr-tron/base58"
)

const wrappedSOL = "So11111111111111111111111111111111111111112"

// Synthetic genera pools ficticios para dry-run. Sus vaults se llaman
// "base-<id>" y "quote-<id>", que es lo que entiende solana.Simulated.
type Synthetic struct {
	every time.Duration
	count int
	rng   *rand.Rand
	now   func() time.Time
}

// NewSynthetic emite count pools, uno cada every. count <= 0 no tiene límite.
func NewSynthetic(every time.Duration, count int, seed int64) *Synthetic {
	if every <= 0 {
		every = 10 * time.Second
	}
	return &Synthetic{
		every: every,
		count: count,
		rng:   rand.New(rand.NewSource(seed)),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Run implementa ports.DiscoverySource.
func (s *Synthetic) Run(ctx context.Context, out chan<- domain.DiscoveryEvent) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for sent := 0; s.count <= 0 || sent < s.count; sent++ {
		if sent > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		select {
		case out <- s.next():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (s *Synthetic) next() domain.DiscoveryEvent {
	id := s.address()
	return domain.DiscoveryEvent{
		PoolID:         id,
		BaseMint:       s.address(),
		QuoteMint:      wrappedSOL,
		BaseVaultAddr:  "base-" + id,
		QuoteVaultAddr: "quote-" + id,
		BaseDecimals:   6,
		QuoteDecimals:  9,
		DiscoveredAt:   s.now(),
	}
}

// address devuelve 32 bytes aleatorios en base58, como una pubkey de Solana.
func (s *Synthetic) address() string {
	var b [32]byte
	s.rng.Read(b[:])
	return base58.Encode(b[:])
}
