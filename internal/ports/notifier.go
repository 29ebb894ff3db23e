package ports

import (
	"context"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// Notifier recibe los eventos de ciclo de vida y de trading.
type Notifier interface {
	// Publish entrega un evento. No debe bloquear al scheduler: las
	// implementaciones con buffer descartan y cuentan cuando están llenas.
	Publish(ctx context.Context, ev domain.Event) error
}
