// Package fetcher lee las reservas de un pool a través del request governor.
// Es el único camino desde la aplicación hacia el ChainDataProvider.
package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/governor"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/alejandrodnm/poolwatch/internal/ports"
)

// Reader combina el governor con el proveedor de datos de la cadena.
type Reader struct {
	gov     *governor.Governor
	chain   ports.ChainDataProvider
	timeout time.Duration
}

// New crea un Reader. timeout acota cada tarea (ambos vaults); 0 = sin límite propio.
func New(gov *governor.Governor, chain ports.ChainDataProvider, timeout time.Duration) *Reader {
	return &Reader{gov: gov, chain: chain, timeout: timeout}
}

// Fetch bloquea hasta obtener las reservas del pool o un error.
func (r *Reader) Fetch(ctx context.Context, pool domain.PoolRecord) (domain.Reserves, error) {
	return governor.Call(ctx, r.gov, func(ctx context.Context) (domain.Reserves, error) {
		return r.read(ctx, pool)
	})
}

// FetchAsync encola la lectura y devuelve enseguida. done recibe el resultado
// exactamente una vez desde otra goroutine.
func (r *Reader) FetchAsync(ctx context.Context, pool domain.PoolRecord, done func(domain.Reserves, error)) error {
	var res domain.Reserves
	return r.gov.Go(ctx, func(ctx context.Context) error {
		var err error
		res, err = r.read(ctx, pool)
		return err
	}, func(err error) {
		done(res, err)
	})
}

// read consulta ambos vaults. Los decimales del token account mandan sobre
// los del evento de discovery.
func (r *Reader) read(ctx context.Context, pool domain.PoolRecord) (domain.Reserves, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	base, err := r.chain.GetAccountBalance(ctx, pool.BaseVaultAddr)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("fetcher: base vault of %s: %w", pool.PoolID, err)
	}
	quote, err := r.chain.GetAccountBalance(ctx, pool.QuoteVaultAddr)
	if err != nil {
		return domain.Reserves{}, fmt.Errorf("fetcher: quote vault of %s: %w", pool.PoolID, err)
	}

	return domain.Reserves{
		BaseRaw:       base.RawAmount,
		QuoteRaw:      quote.RawAmount,
		BaseDecimals:  base.Decimals,
		QuoteDecimals: quote.Decimals,
	}, nil
}
