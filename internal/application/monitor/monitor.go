package monitor

// monitor.go: orquestador del ciclo de vida de cada pool.
//
// discovery → registry (pending) → baseline → scheduler → paper engine.
// También es dueño de las ventanas de monitoreo y del emergency stop.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/engine/paper"
	"github.com/alejandrodnm/poolwatch/internal/application/governor"
	"github.com/alejandrodnm/poolwatch/internal/application/lifecycle"
	"github.com/alejandrodnm/poolwatch/internal/application/scheduler"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/alejandrodnm/poolwatch/internal/ports"
)

// ErrStopped rechaza discoveries después de un emergency stop.
var ErrStopped = errors.New("monitor stopped")

// Close reasons persisted in PoolRecord.FailureReason.
const (
	ReasonWindowElapsed = "monitoring window elapsed"
	ReasonCollapse      = "liquidity collapse"
	ReasonManual        = "manual stop"
	ReasonEmergency     = "emergency stop"
)

// Fetcher lee reservas a través del governor, síncrona o asíncronamente.
type Fetcher interface {
	lifecycle.ReserveFetcher
	scheduler.AsyncFetcher
}

// Observer recibe señales para métricas. Todas las llamadas deben ser baratas.
type Observer interface {
	PoolChanged(rec domain.PoolRecord)
	SnapshotTaken(snap domain.MetricsSnapshot)
	FetchFailed(err error)
	PositionEntered(pos domain.Position)
	PositionExited(rec domain.PositionExitRecord)
	RugDetected()
}

// Config holds the monitoring-window and heartbeat settings.
type Config struct {
	Window         time.Duration
	Extension      time.Duration
	HealthInterval time.Duration
	Tiers          lifecycle.TierPolicy
	Retry          lifecycle.RetryPolicy
	Scheduler      scheduler.Config
}

// Monitor conecta todos los componentes del core.
type Monitor struct {
	cfg       Config
	registry  *lifecycle.Registry
	baseline  *lifecycle.BaselineEstablisher
	scheduler *scheduler.Scheduler
	deadlines *lifecycle.Deadlines
	gov       *governor.Governor
	engine    *paper.Engine
	notifier  ports.Notifier
	recorder  ports.Recorder
	observer  Observer
	now       func() time.Time

	// ctx vive lo que vive el monitor; las secuencias de baseline cuelgan de él.
	ctx    context.Context
	cancel context.CancelFunc

	started    time.Time
	discovered atomic.Int64
	stopped    atomic.Bool

	mu       sync.Mutex
	extended map[string]bool
}

// Option configures the monitor.
type Option func(*Monitor)

// WithObserver registra un observer de métricas.
func WithObserver(o Observer) Option { return func(m *Monitor) { m.observer = o } }

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(m *Monitor) { m.now = now } }

// New crea el monitor con sus dependencias. notifier y recorder pueden ser nil.
// El engine debe haberse creado con el mismo notifier y recorder.
func New(
	cfg Config,
	gov *governor.Governor,
	fetcher Fetcher,
	engine *paper.Engine,
	notifier ports.Notifier,
	recorder ports.Recorder,
	opts ...Option,
) *Monitor {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		cfg:       cfg,
		deadlines: lifecycle.NewDeadlines(),
		gov:       gov,
		engine:    engine,
		notifier:  notifier,
		recorder:  recorder,
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       ctx,
		cancel:    cancel,
		extended:  make(map[string]bool),
	}
	for _, o := range opts {
		o(m)
	}
	m.started = m.now()
	m.registry = lifecycle.NewRegistry(m.poolChanged)
	m.baseline = lifecycle.NewBaselineEstablisher(m.registry, fetcher, m, cfg.Retry, cfg.Tiers)
	m.scheduler = scheduler.New(cfg.Scheduler, m.registry, cfg.Tiers, fetcher, m)
	return m
}

// Registry expone el registry para lecturas (API HTTP, reportes).
func (m *Monitor) Registry() *lifecycle.Registry { return m.registry }

// Engine expone el paper engine para lecturas.
func (m *Monitor) Engine() *paper.Engine { return m.engine }

// Pools devuelve los pools activos.
func (m *Monitor) Pools() []domain.PoolRecord { return m.registry.List() }

// Pool busca un pool, activo o retirado.
func (m *Monitor) Pool(poolID string) (domain.PoolRecord, bool) { return m.registry.Get(poolID) }

// Positions devuelve las posiciones abiertas.
func (m *Monitor) Positions() []domain.Position { return m.engine.Positions() }

// Run arranca el scheduler y el heartbeat y bloquea hasta que ctx se cancele.
// Al salir cancela timers y secuencias de baseline; las posiciones quedan abiertas.
func (m *Monitor) Run(ctx context.Context) error {
	slog.Info("monitor starting",
		"window", m.cfg.Window,
		"extension", m.cfg.Extension,
		"health_interval", m.cfg.HealthInterval,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = m.scheduler.Run(ctx)
	}()

	var tick <-chan time.Time
	if m.cfg.HealthInterval > 0 {
		ticker := time.NewTicker(m.cfg.HealthInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			m.deadlines.CancelAll()
			m.cancel()
			m.baseline.CancelAll()
			wg.Wait()
			slog.Info("monitor stopped", "pools", m.registry.Len())
			return nil
		case <-tick:
			m.logHealth()
		}
	}
}

// Consume lee una fuente de discovery hasta que se agote o ctx se cancele.
func (m *Monitor) Consume(ctx context.Context, src ports.DiscoverySource) error {
	events := make(chan domain.DiscoveryEvent, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- src.Run(ctx, events)
		close(events)
	}()

	for ev := range events {
		if _, _, err := m.Discover(ctx, ev); err != nil {
			slog.Warn("discovery rejected", "pool", ev.PoolID, "err", err)
		}
	}
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("monitor.Consume: %w", err)
	}
	return nil
}

// Discover registra un pool y arranca su baseline. Un pool ya conocido es
// un no-op (added=false).
func (m *Monitor) Discover(_ context.Context, ev domain.DiscoveryEvent) (domain.PoolRecord, bool, error) {
	if m.stopped.Load() {
		return domain.PoolRecord{}, false, ErrStopped
	}
	rec, added, err := m.registry.Add(ev)
	if err != nil || !added {
		return rec, added, err
	}
	m.discovered.Add(1)

	slog.Info("pool discovered",
		"pool", rec.PoolID,
		"base", rec.BaseMint,
		"quote", rec.QuoteMint,
		"age", rec.Age(m.now()).Round(time.Second),
	)

	// La ventana cuenta desde el discovery, no desde el baseline.
	if m.cfg.Window > 0 {
		remaining := m.cfg.Window - rec.Age(m.now())
		if remaining < 0 {
			remaining = 0
		}
		id := rec.PoolID
		m.deadlines.Schedule(id, remaining, func() { m.windowElapsed(id) })
	}

	if err := m.baseline.Start(m.ctx, rec.PoolID); err != nil {
		return rec, true, fmt.Errorf("monitor.Discover: %w", err)
	}
	return rec, true, nil
}

// StopPool termina un pool manualmente y cierra su posición (si hay).
func (m *Monitor) StopPool(poolID string) error {
	rec, ok := m.registry.Get(poolID)
	if !ok {
		return fmt.Errorf("monitor.StopPool %s: %w", poolID, lifecycle.ErrUnknownPool)
	}
	if rec.State.IsTerminal() {
		return nil
	}
	m.baseline.Cancel(poolID)
	m.terminate(poolID, ReasonManual, domain.ExitManual)
	m.scheduler.Remove(poolID)
	return nil
}

// StopReport resume un emergency stop.
type StopReport struct {
	Pools     int `json:"pools"`
	Positions int `json:"positions"`
	Timers    int `json:"timers"`
	Baselines int `json:"baselines"`
	Drained   int `json:"drained"`
}

// EmergencyStop cancela timers y baselines, vacía la cola del governor,
// cierra todas las posiciones con motivo manual y termina todos los pools.
// Es idempotente; después de él no se aceptan más discoveries.
func (m *Monitor) EmergencyStop() StopReport {
	if !m.stopped.CompareAndSwap(false, true) {
		return StopReport{}
	}
	slog.Warn("emergency stop requested")

	var r StopReport
	r.Timers = m.deadlines.CancelAll()
	// Drain antes de esperar a los baselines: sus lecturas encoladas fallan
	// ya con ErrDrained en vez de esperar turno detrás del resto de la cola.
	if m.gov != nil {
		r.Drained = m.gov.Drain()
	}
	r.Baselines = m.baseline.CancelAll()
	if m.gov != nil {
		r.Drained += m.gov.Drain()
	}
	r.Positions = len(m.engine.Positions())

	for _, rec := range m.registry.List() {
		if m.terminate(rec.PoolID, ReasonEmergency, domain.ExitManual) {
			r.Pools++
		}
		m.scheduler.Remove(rec.PoolID)
	}

	slog.Warn("emergency stop complete",
		"pools", r.Pools,
		"positions", r.Positions,
		"timers", r.Timers,
		"baselines", r.Baselines,
		"drained", r.Drained,
	)
	return r
}

// Stopped reports whether EmergencyStop ran.
func (m *Monitor) Stopped() bool { return m.stopped.Load() }

// --- lifecycle.BaselineListener ---

func (m *Monitor) OnReady(rec domain.PoolRecord) {
	ready := m.now()
	if rec.ReadySince != nil {
		ready = *rec.ReadySince
	}
	m.publish(domain.PoolReadyEvent{
		PoolID:     rec.PoolID,
		BaseToken:  rec.BaseMint,
		QuoteToken: rec.QuoteMint,
		ReadySince: ready,
	})
}

func (m *Monitor) OnMonitoring(rec domain.PoolRecord, baseline domain.MetricsSnapshot) {
	if m.recorder != nil {
		m.recorder.AppendSnapshot(baseline)
	}
	if m.observer != nil {
		m.observer.SnapshotTaken(baseline)
	}
	m.scheduler.Add(rec.PoolID)
}

func (m *Monitor) OnFailed(rec domain.PoolRecord) {
	m.deadlines.Cancel(rec.PoolID)
	m.forget(rec.PoolID)
	m.publishClosed(rec)
}

// --- scheduler.TickHandler ---

// OnSnapshot corre en el loop del scheduler: no debe llamar al scheduler.
// Un pool terminado aquí se descarta solo en el próximo despacho.
func (m *Monitor) OnSnapshot(rec domain.PoolRecord, snap domain.MetricsSnapshot) {
	if m.recorder != nil {
		m.recorder.AppendSnapshot(snap)
	}
	if m.observer != nil {
		m.observer.SnapshotTaken(snap)
	}
	m.publish(domain.MetricsUpdateFrom(snap))

	d := m.engine.OnTick(m.ctx, rec, snap)
	if m.observer != nil {
		if d.Entered != nil {
			m.observer.PositionEntered(*d.Entered)
		}
		if d.Exited != nil {
			m.observer.PositionExited(*d.Exited)
		}
	}
	if !d.Collapse {
		return
	}

	// El engine ya emitió rug_detected si la salida fue por colapso.
	if d.Exited == nil || d.Exited.Reason != domain.ExitRug {
		m.publish(domain.RugDetected{
			PoolID:        rec.PoolID,
			BaselineTVL:   derefOr(rec.BaselineTVL),
			LastTVL:       snap.TVL,
			BaselinePrice: derefOr(rec.BaselinePrice),
			LastPrice:     snap.Price,
			Timestamp:     snap.Timestamp,
		})
	}
	if m.observer != nil {
		m.observer.RugDetected()
	}
	slog.Warn("liquidity collapse",
		"pool", rec.PoolID,
		"tvl_change", snap.TVLChangePct,
		"tvl", snap.TVL,
	)
	m.deadlines.Cancel(rec.PoolID)
	m.terminate(rec.PoolID, ReasonCollapse, domain.ExitRug)
}

func (m *Monitor) OnFetchError(_ domain.PoolRecord, err error) {
	if m.observer != nil {
		m.observer.FetchFailed(err)
	}
}

// --- internals ---

// windowElapsed corre en el goroutine del timer.
func (m *Monitor) windowElapsed(poolID string) {
	rec, ok := m.registry.Get(poolID)
	if !ok || rec.State.IsTerminal() {
		return
	}

	if m.engine.HasOpen(poolID) && m.cfg.Extension > 0 {
		m.mu.Lock()
		already := m.extended[poolID]
		m.extended[poolID] = true
		m.mu.Unlock()
		if !already {
			slog.Info("monitoring window extended", "pool", poolID, "extension", m.cfg.Extension)
			m.deadlines.Schedule(poolID, m.cfg.Extension, func() { m.windowElapsed(poolID) })
			return
		}
	}

	m.baseline.Cancel(poolID)
	m.terminate(poolID, ReasonWindowElapsed, domain.ExitTimeout)
	m.scheduler.Remove(poolID)
}

// terminate cierra la posición abierta del pool (si hay) y lo saca del
// conjunto activo. Devuelve false si el pool ya estaba cerrado.
func (m *Monitor) terminate(poolID, reason string, exitReason domain.ExitReason) bool {
	rec, ok := m.registry.Get(poolID)
	if !ok || rec.State.IsTerminal() {
		return false
	}

	// Retire antes de Remove: un tick en vuelo para este pool ya no puede entrar.
	if exit, closed := m.engine.Retire(m.ctx, poolID, rec.LastPrice, exitReason); closed && m.observer != nil {
		m.observer.PositionExited(*exit)
	}

	end := m.registry.Stop
	if exitReason == domain.ExitRug {
		end = m.registry.Remove
	}
	if !end(poolID, reason) {
		return false
	}
	m.forget(poolID)

	closedRec, _ := m.registry.Get(poolID)
	slog.Info("pool terminated", "pool", poolID, "reason", reason, "state_before", rec.State)
	m.publishClosed(closedRec)
	return true
}

func (m *Monitor) forget(poolID string) {
	m.mu.Lock()
	delete(m.extended, poolID)
	m.mu.Unlock()
}

// poolChanged se invoca dentro del lock del pool: sólo trabajo no bloqueante.
func (m *Monitor) poolChanged(rec domain.PoolRecord) {
	if m.recorder != nil {
		m.recorder.RecordPool(rec)
	}
	if m.observer != nil {
		m.observer.PoolChanged(rec)
	}
}

func (m *Monitor) publishClosed(rec domain.PoolRecord) {
	at := m.now()
	if rec.TerminatedAt != nil {
		at = *rec.TerminatedAt
	}
	m.publish(domain.PoolClosed{
		PoolID:    rec.PoolID,
		State:     rec.State,
		Reason:    rec.FailureReason,
		Timestamp: at,
	})
}

func (m *Monitor) publish(ev domain.Event) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(m.ctx, ev); err != nil {
		slog.Warn("publish failed", "event", ev.Type(), "pool", ev.Pool(), "err", err)
	}
}

func derefOr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
