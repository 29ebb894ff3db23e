package domain

import (
	"errors"
	"fmt"
)

// AccountBalance is the raw token balance of one SPL token account.
type AccountBalance struct {
	Address   string
	RawAmount uint64
	Decimals  uint8
}

// ChainErrorKind classifies chain data failures.
type ChainErrorKind string

const (
	ChainNotFound    ChainErrorKind = "not_found"
	ChainTimeout     ChainErrorKind = "timeout"
	ChainRateLimited ChainErrorKind = "rate_limited"
	ChainDecode      ChainErrorKind = "decode"
	ChainRPC         ChainErrorKind = "rpc"
)

var (
	ErrNotFound    = errors.New("account not found")
	ErrTimeout     = errors.New("chain request timeout")
	ErrRateLimited = errors.New("chain request rate limited")
	ErrDecode      = errors.New("chain response decode error")
	ErrRPC         = errors.New("chain rpc error")
)

// ChainError is the typed error returned by every ChainDataProvider.
type ChainError struct {
	Kind    ChainErrorKind
	Address string
	Err     error
}

func (e *ChainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("chain %s (%s)", e.Kind, e.Address)
	}
	return fmt.Sprintf("chain %s (%s): %v", e.Kind, e.Address, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// Is matches the kind sentinel so callers can use errors.Is(err, domain.ErrTimeout).
func (e *ChainError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k ChainErrorKind) sentinel() error {
	switch k {
	case ChainNotFound:
		return ErrNotFound
	case ChainTimeout:
		return ErrTimeout
	case ChainRateLimited:
		return ErrRateLimited
	case ChainDecode:
		return ErrDecode
	}
	return ErrRPC
}

// NewChainError builds a typed chain error.
func NewChainError(kind ChainErrorKind, address string, err error) *ChainError {
	return &ChainError{Kind: kind, Address: address, Err: err}
}

// IsTransient reports whether the failure is worth retrying soon.
// Decode and not-found errors are retried too, but only on the normal backoff path.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrRPC)
}
