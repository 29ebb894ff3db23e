package scheduler

// scheduler.go: polling adaptativo de los pools en monitoring.
//
// Un único loop es dueño de la cola de vencimientos: recibe altas y bajas,
// despacha lotes en cada tick y aplica los resultados en el orden en que
// llegan. Cada pool tiene como máximo una lectura en vuelo.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/lifecycle"
	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// AsyncFetcher encola una lectura de reservas y entrega el resultado por callback.
type AsyncFetcher interface {
	FetchAsync(ctx context.Context, pool domain.PoolRecord, done func(domain.Reserves, error)) error
}

// TickHandler recibe cada snapshot válido. Se invoca desde el loop del
// scheduler: debe ser síncrono y no bloquear.
type TickHandler interface {
	OnSnapshot(rec domain.PoolRecord, snap domain.MetricsSnapshot)
	OnFetchError(rec domain.PoolRecord, err error)
}

// Config agrupa los parámetros del scheduler.
type Config struct {
	Tick      time.Duration
	BatchSize int
	Interval  IntervalPolicy
}

type command struct {
	add    bool
	poolID string
}

type result struct {
	poolID   string
	reserves domain.Reserves
	err      error
}

// Stats es una foto del scheduler.
type Stats struct {
	Scheduled int   `json:"scheduled"`
	InFlight  int   `json:"in_flight"`
	Polls     int64 `json:"polls"`
	Errors    int64 `json:"errors"`
	Dropped   int64 `json:"dropped"`
}

// Scheduler decide cuándo leer cada pool y aplica los resultados.
type Scheduler struct {
	cfg      Config
	registry *lifecycle.Registry
	tiers    lifecycle.TierPolicy
	fetcher  AsyncFetcher
	handler  TickHandler
	now      func() time.Time

	cmds    chan command
	results chan result
	done    chan struct{}

	// Sólo el loop escribe en queue e items.
	queue dueQueue
	items map[string]*item

	scheduled atomic.Int64
	inFlight  atomic.Int64
	polls     atomic.Int64
	errs      atomic.Int64
	dropped   atomic.Int64
}

// New crea el scheduler. Llamar Run para arrancar el loop.
func New(cfg Config, reg *lifecycle.Registry, tiers lifecycle.TierPolicy, f AsyncFetcher, h TickHandler) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 250 * time.Millisecond
	}
	return &Scheduler{
		cfg:      cfg,
		registry: reg,
		tiers:    tiers,
		fetcher:  f,
		handler:  h,
		now:      func() time.Time { return time.Now().UTC() },
		cmds:     make(chan command, 256),
		results:  make(chan result, 256),
		done:     make(chan struct{}),
		items:    make(map[string]*item),
	}
}

// Add programa un pool en monitoring. Su primera lectura vence tras su PollInterval.
func (s *Scheduler) Add(poolID string) { s.send(command{add: true, poolID: poolID}) }

// Remove deja de programar el pool. Una lectura en vuelo se descarta al llegar.
func (s *Scheduler) Remove(poolID string) { s.send(command{poolID: poolID}) }

func (s *Scheduler) send(c command) {
	select {
	case s.cmds <- c:
	case <-s.done:
	}
}

// Stats devuelve contadores del scheduler.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Scheduled: int(s.scheduled.Load()),
		InFlight:  int(s.inFlight.Load()),
		Polls:     s.polls.Load(),
		Errors:    s.errs.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// Run ejecuta el loop hasta que ctx se cancela.
func (s *Scheduler) Run(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	slog.Info("scheduler started", "tick", s.cfg.Tick, "batch", s.cfg.BatchSize)
	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped", "scheduled", len(s.items))
			return ctx.Err()
		case c := <-s.cmds:
			s.apply(c)
		case r := <-s.results:
			s.handle(r)
		case <-ticker.C:
			s.dispatchDue(ctx)
		}
	}
}

func (s *Scheduler) apply(c command) {
	if !c.add {
		if it, ok := s.items[c.poolID]; ok {
			s.queue.remove(it)
			s.forget(it)
		}
		return
	}
	if _, ok := s.items[c.poolID]; ok {
		return
	}
	rec, ok := s.registry.Get(c.poolID)
	if !ok || rec.State != domain.PoolMonitoring {
		return
	}
	it := &item{poolID: c.poolID, index: -1}
	s.items[c.poolID] = it
	s.queue.schedule(it, s.now().Add(rec.PollInterval))
	s.scheduled.Store(int64(len(s.items)))
}

func (s *Scheduler) forget(it *item) {
	delete(s.items, it.poolID)
	if it.inFlight {
		it.inFlight = false
		s.inFlight.Add(-1)
	}
	s.scheduled.Store(int64(len(s.items)))
}

// dispatchDue envía como máximo BatchSize lecturas vencidas.
func (s *Scheduler) dispatchDue(ctx context.Context) {
	now := s.now()
	for _, it := range s.queue.popDue(now, s.cfg.BatchSize) {
		rec, ok := s.registry.Get(it.poolID)
		if !ok || rec.State != domain.PoolMonitoring {
			s.forget(it)
			continue
		}

		it.inFlight = true
		s.inFlight.Add(1)
		poolID := it.poolID
		err := s.fetcher.FetchAsync(ctx, rec, func(res domain.Reserves, err error) {
			select {
			case s.results <- result{poolID: poolID, reserves: res, err: err}:
			case <-s.done:
			}
		})
		if err != nil {
			// Cola del governor llena o cerrada: cuenta como fallo transitorio.
			s.handle(result{poolID: poolID, err: fmt.Errorf("scheduler: submit: %w", err)})
		}
	}
}

// handle aplica un resultado. Los resultados de pools dados de baja se descartan.
func (s *Scheduler) handle(r result) {
	it, ok := s.items[r.poolID]
	if !ok || !it.inFlight {
		s.dropped.Add(1)
		return
	}
	it.inFlight = false
	s.inFlight.Add(-1)

	rec, ok := s.registry.Get(r.poolID)
	if !ok || rec.State != domain.PoolMonitoring {
		s.dropped.Add(1)
		s.forget(it)
		return
	}

	defer func() {
		if p := recover(); p != nil {
			slog.Error("scheduler: tick handler panicked", "pool", r.poolID, "panic", p)
			s.reschedule(it, s.tiers.Interval(rec.PriorityTier))
		}
	}()

	now := s.now()
	base := s.tiers.Interval(rec.PriorityTier)

	var snap domain.MetricsSnapshot
	err := r.err
	if err == nil {
		ref := domain.ReferenceSnapshot(rec.PoolID, deref(rec.BaselinePrice), deref(rec.BaselineTVL))
		snap, err = domain.ComputeMetrics(rec.PoolID, r.reserves, ref, now)
	}
	if err != nil {
		s.onFailure(it, rec, base, err)
		return
	}
	s.onSuccess(it, rec, base, snap, now)
}

func (s *Scheduler) onSuccess(it *item, rec domain.PoolRecord, base time.Duration, snap domain.MetricsSnapshot, now time.Time) {
	s.polls.Add(1)
	priceDelta := domain.PercentChange(rec.LastPrice, snap.Price)
	tvlDelta := domain.PercentChange(rec.LastTVL, snap.TVL)
	next := s.cfg.Interval.OnSuccess(rec.PollInterval, base, rec.ConsecutiveErrors > 0, priceDelta, tvlDelta)

	updated, err := s.registry.Update(rec.PoolID, func(p *domain.PoolRecord) {
		p.LastPrice = snap.Price
		p.LastTVL = snap.TVL
		p.LastPolledAt = now
		p.ConsecutiveErrors = 0
		p.PollInterval = next
	})
	if err != nil {
		// Terminado entre la lectura y la actualización.
		s.dropped.Add(1)
		s.forget(it)
		return
	}
	s.reschedule(it, next)

	if next != rec.PollInterval {
		slog.Debug("poll interval adjusted",
			"pool", rec.PoolID,
			"from", rec.PollInterval,
			"to", next,
			"price_delta", priceDelta,
			"tvl_delta", tvlDelta,
		)
	}
	if s.handler != nil {
		s.handler.OnSnapshot(updated, snap)
	}
}

func (s *Scheduler) onFailure(it *item, rec domain.PoolRecord, base time.Duration, err error) {
	s.errs.Add(1)
	errCount := rec.ConsecutiveErrors + 1
	next := s.cfg.Interval.OnFailure(base, errCount)

	updated, uerr := s.registry.Update(rec.PoolID, func(p *domain.PoolRecord) {
		p.ConsecutiveErrors = errCount
		p.PollInterval = next
	})
	if uerr != nil {
		s.dropped.Add(1)
		s.forget(it)
		return
	}
	s.reschedule(it, next)

	level := slog.LevelDebug
	if !errors.Is(err, context.Canceled) && errCount >= 3 {
		level = slog.LevelWarn
	}
	slog.Log(context.Background(), level, "pool fetch failed",
		"pool", rec.PoolID,
		"errors", errCount,
		"next", next,
		"err", err,
	)
	if s.handler != nil {
		s.handler.OnFetchError(updated, err)
	}
}

func (s *Scheduler) reschedule(it *item, after time.Duration) {
	if _, ok := s.items[it.poolID]; !ok {
		return
	}
	s.queue.schedule(it, s.now().Add(after))
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
