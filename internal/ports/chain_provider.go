package ports

import (
	"context"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// ChainDataProvider reads raw token account balances from the chain.
// Implementations must be safe for concurrent use and return *domain.ChainError
// so callers can classify failures with errors.Is.
type ChainDataProvider interface {
	GetAccountBalance(ctx context.Context, address string) (domain.AccountBalance, error)
}
