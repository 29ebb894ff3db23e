package solana

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// SimConfig controla el proveedor simulado usado en dry-run.
type SimConfig struct {
	Seed           int64
	Volatility     float64       // desvío por lectura, fracción (0.03 = 3%)
	Drift          float64       // sesgo por lectura
	RugProbability float64       // prob. por lectura de que el vault quote pierda 60%
	FailureRate    float64       // prob. de timeout simulado
	HiddenReads    int           // lecturas "not found" antes de que el vault sea visible
	Latency        time.Duration // latencia simulada por llamada
}

type simAccount struct {
	amount   float64
	decimals uint8
	reads    int
}

// Simulated es un ChainDataProvider en memoria con reservas en random walk.
// Las direcciones que empiezan con "q" o contienen "quote" se tratan como
// vaults de SOL (9 decimales); el resto como el token base (6 decimales).
type Simulated struct {
	cfg SimConfig

	mu       sync.Mutex
	rng      *rand.Rand
	accounts map[string]*simAccount
}

// NewSimulated crea el proveedor simulado.
func NewSimulated(cfg SimConfig) *Simulated {
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.03
	}
	return &Simulated{
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		accounts: make(map[string]*simAccount),
	}
}

// GetAccountBalance devuelve el balance simulado de la dirección.
func (s *Simulated) GetAccountBalance(ctx context.Context, address string) (domain.AccountBalance, error) {
	if s.cfg.Latency > 0 {
		t := time.NewTimer(s.cfg.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return domain.AccountBalance{}, domain.NewChainError(domain.ChainTimeout, address, ctx.Err())
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[address]
	if !ok {
		acc = s.newAccount(address)
		s.accounts[address] = acc
	}
	acc.reads++
	if acc.reads <= s.cfg.HiddenReads {
		return domain.AccountBalance{}, domain.NewChainError(domain.ChainNotFound, address, nil)
	}
	if s.cfg.FailureRate > 0 && s.rng.Float64() < s.cfg.FailureRate {
		return domain.AccountBalance{}, domain.NewChainError(domain.ChainTimeout, address, errors.New("simulated timeout"))
	}

	if acc.reads > s.cfg.HiddenReads+1 {
		acc.amount *= math.Max(0.01, 1+s.cfg.Drift+s.rng.NormFloat64()*s.cfg.Volatility)
		if acc.decimals == 9 && s.cfg.RugProbability > 0 && s.rng.Float64() < s.cfg.RugProbability {
			acc.amount *= 0.4
		}
	}

	raw := acc.amount * math.Pow10(int(acc.decimals))
	return domain.AccountBalance{Address: address, RawAmount: uint64(raw), Decimals: acc.decimals}, nil
}

func (s *Simulated) newAccount(address string) *simAccount {
	lower := strings.ToLower(address)
	if strings.HasPrefix(lower, "q") || strings.Contains(lower, "quote") {
		// 5–150 SOL de liquidez inicial.
		return &simAccount{amount: 5 + s.rng.Float64()*145, decimals: 9}
	}
	// 10M–1B tokens.
	return &simAccount{amount: 1e7 + s.rng.Float64()*1e9, decimals: 6}
}
