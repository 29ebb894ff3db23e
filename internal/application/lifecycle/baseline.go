package lifecycle

// baseline.go: captura el primer snapshot válido de cada pool.
//
// Un pool recién creado suele tener los vaults vacíos o todavía no visibles
// en el nodo RPC. Se reintenta con una política que depende de la edad del
// pool, acotada por un techo de tiempo total.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// ReasonBaselineTimeout es el motivo de fallo cuando vence el techo de tiempo.
const (
	ReasonBaselineTimeout   = "baseline timeout"
	ReasonBaselineExhausted = "baseline retries exhausted"
)

// ReserveFetcher obtiene las reservas actuales de ambos vaults.
type ReserveFetcher interface {
	Fetch(ctx context.Context, pool domain.PoolRecord) (domain.Reserves, error)
}

// BaselineListener recibe los hitos del baseline. Las llamadas ocurren
// fuera de cualquier lock del registry.
type BaselineListener interface {
	OnReady(rec domain.PoolRecord)
	OnMonitoring(rec domain.PoolRecord, baseline domain.MetricsSnapshot)
	OnFailed(rec domain.PoolRecord)
}

// RetryPolicy define reintentos según la edad del pool.
type RetryPolicy struct {
	YoungAge      time.Duration
	YoungAttempts int
	YoungSpacing  time.Duration
	OldAttempts   int
	OldSpacing    time.Duration
	Ceiling       time.Duration
}

// For devuelve intentos y espaciado para un pool con esa edad.
func (p RetryPolicy) For(age time.Duration) (attempts int, spacing time.Duration) {
	if age < p.YoungAge {
		return p.YoungAttempts, p.YoungSpacing
	}
	return p.OldAttempts, p.OldSpacing
}

// BaselineEstablisher lleva un pool de pending a monitoring.
type BaselineEstablisher struct {
	registry *Registry
	fetcher  ReserveFetcher
	listener BaselineListener
	policy   RetryPolicy
	tiers    TierPolicy
	now      func() time.Time

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewBaselineEstablisher crea el establecedor. listener puede ser nil.
func NewBaselineEstablisher(reg *Registry, f ReserveFetcher, l BaselineListener, policy RetryPolicy, tiers TierPolicy) *BaselineEstablisher {
	return &BaselineEstablisher{
		registry: reg,
		fetcher:  f,
		listener: l,
		policy:   policy,
		tiers:    tiers,
		now:      func() time.Time { return time.Now().UTC() },
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Start lanza la secuencia de baseline en background. Devuelve
// ErrBaselineInProgress si ya hay una secuencia para ese pool.
func (b *BaselineEstablisher) Start(ctx context.Context, poolID string) error {
	if err := b.registry.TryBeginBaseline(poolID); err != nil {
		return fmt.Errorf("lifecycle.Start %s: %w", poolID, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.policy.Ceiling)
	b.mu.Lock()
	b.cancels[poolID] = cancel
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer b.finish(poolID)
		defer func() {
			if r := recover(); r != nil {
				slog.Error("baseline panicked", "pool", poolID, "panic", r)
			}
		}()
		b.run(ctx, poolID)
	}()
	return nil
}

// Cancel aborta la secuencia de un pool sin marcarlo como failed.
func (b *BaselineEstablisher) Cancel(poolID string) {
	b.mu.Lock()
	cancel, ok := b.cancels[poolID]
	b.mu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAll aborta todas las secuencias en curso y espera a que terminen.
func (b *BaselineEstablisher) CancelAll() int {
	b.mu.Lock()
	n := len(b.cancels)
	for _, cancel := range b.cancels {
		cancel()
	}
	b.mu.Unlock()
	b.wg.Wait()
	return n
}

// InProgress devuelve cuántas secuencias siguen corriendo.
func (b *BaselineEstablisher) InProgress() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cancels)
}

func (b *BaselineEstablisher) finish(poolID string) {
	b.mu.Lock()
	if cancel, ok := b.cancels[poolID]; ok {
		cancel()
		delete(b.cancels, poolID)
	}
	b.mu.Unlock()
	b.registry.EndBaseline(poolID)
}

func (b *BaselineEstablisher) run(ctx context.Context, poolID string) {
	rec, ok := b.registry.Get(poolID)
	if !ok {
		return
	}
	attempts, spacing := b.policy.For(rec.Age(b.now()))
	log := slog.With("pool", poolID)
	log.Debug("baseline started", "attempts", attempts, "spacing", spacing)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		snap, err := b.attempt(ctx, poolID)
		if err == nil {
			b.promote(poolID, snap)
			return
		}
		if errors.Is(err, errPoolGone) {
			return
		}
		lastErr = err
		log.Debug("baseline attempt failed", "attempt", attempt, "err", err)

		if attempt == attempts {
			break
		}
		timer := time.NewTimer(spacing)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
		if ctx.Err() != nil {
			break
		}
	}

	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		b.fail(poolID, ReasonBaselineTimeout, lastErr)
	case ctx.Err() != nil:
		log.Debug("baseline cancelled")
	default:
		b.fail(poolID, ReasonBaselineExhausted, lastErr)
	}
}

var errPoolGone = errors.New("pool left the registry")

// attempt hace una lectura y, si ambos vaults existen, confirma pending → exists.
func (b *BaselineEstablisher) attempt(ctx context.Context, poolID string) (domain.MetricsSnapshot, error) {
	rec, ok := b.registry.Get(poolID)
	if !ok || rec.State.IsTerminal() {
		return domain.MetricsSnapshot{}, errPoolGone
	}

	reserves, err := b.fetcher.Fetch(ctx, rec)
	if err != nil {
		return domain.MetricsSnapshot{}, err
	}

	if rec.State == domain.PoolPending {
		if _, err := b.registry.Transition(poolID, domain.PoolExists, nil); err != nil {
			return domain.MetricsSnapshot{}, errPoolGone
		}
	}

	return domain.ComputeMetrics(poolID, reserves, nil, b.now())
}

// promote escribe el baseline y lleva el pool exists → ready → monitoring.
func (b *BaselineEstablisher) promote(poolID string, snap domain.MetricsSnapshot) {
	ready, err := b.registry.Transition(poolID, domain.PoolReady, nil)
	if err != nil {
		slog.Debug("baseline: pool closed before ready", "pool", poolID, "err", err)
		return
	}
	if b.listener != nil {
		b.listener.OnReady(ready)
	}

	tier := b.tiers.Classify(snap.TVL)
	price, tvl := snap.Price, snap.TVL
	rec, err := b.registry.Transition(poolID, domain.PoolMonitoring, func(p *domain.PoolRecord) {
		p.BaselinePrice = &price
		p.BaselineTVL = &tvl
		p.LastPrice = price
		p.LastTVL = tvl
		p.LastPolledAt = snap.Timestamp
		p.PriorityTier = tier
		p.PollInterval = b.tiers.Interval(tier)
		p.ConsecutiveErrors = 0
	})
	if err != nil {
		slog.Debug("baseline: pool closed before monitoring", "pool", poolID, "err", err)
		return
	}

	slog.Info("baseline captured",
		"pool", poolID,
		"price", price,
		"tvl", tvl,
		"tier", tier,
		"interval", rec.PollInterval,
	)
	if b.listener != nil {
		b.listener.OnMonitoring(rec, snap)
	}
}

func (b *BaselineEstablisher) fail(poolID, reason string, lastErr error) {
	rec, err := b.registry.Transition(poolID, domain.PoolFailed, func(p *domain.PoolRecord) {
		p.FailureReason = reason
	})
	if err != nil {
		return
	}
	slog.Warn("baseline failed", "pool", poolID, "reason", reason, "err", lastErr)
	if b.listener != nil {
		b.listener.OnFailed(rec)
	}
}
