package ports

import (
	"context"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// DiscoverySource entrega pools recién creados.
type DiscoverySource interface {
	// Run emite eventos en out hasta agotar la fuente o hasta que ctx se cancele.
	// No cierra out.
	Run(ctx context.Context, out chan<- domain.DiscoveryEvent) error
}
