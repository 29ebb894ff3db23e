package governor

// governor.go: único punto de acceso al ChainDataProvider.
//
// Un dispatcher saca trabajos de una cola FIFO y los admite sólo cuando hay
// un slot de concurrencia libre y el limiter entrega un token. El limiter
// tiene burst 1 y repone un token cada 1/N s: dos admisiones quedan separadas
// por al menos 1/N s, así que ningún segundo (semiabierto) contiene más de N.
// Cada trabajo admitido corre en su propia goroutine.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	// ErrClosed is returned for work submitted to, or still queued in, a closed governor.
	ErrClosed = errors.New("governor closed")
	// ErrDrained is returned for queued work discarded by Drain.
	ErrDrained = errors.New("governor drained")
	// ErrQueueFull is returned when the FIFO queue has no room left.
	ErrQueueFull = errors.New("governor queue full")
)

// Task is one unit of work that may call the chain data provider.
type Task func(ctx context.Context) error

// Observer recibe métricas del governor. Opcional.
type Observer interface {
	SetQueueDepth(n int)
	SetInFlight(n int)
	IncAdmitted()
	IncTaskError()
	SetOverloaded(overloaded bool)
}

// Config controla los dos límites y la detección de saturación.
type Config struct {
	MaxRequestsPerSecond  int
	MaxConcurrentRequests int
	QueueCapacity         int
	// OverloadQueueDepth marca la cola como saturada a partir de esta profundidad.
	OverloadQueueDepth int
	// OverloadAfter es cuánto tiempo debe durar la saturación antes de avisar.
	OverloadAfter time.Duration
	// OverloadWarnEvery limita la frecuencia del warning en logs.
	OverloadWarnEvery time.Duration
}

func (c *Config) setDefaults() {
	if c.MaxRequestsPerSecond <= 0 {
		c.MaxRequestsPerSecond = 10
	}
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 3
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 1024
	}
	if c.OverloadQueueDepth <= 0 {
		c.OverloadQueueDepth = c.QueueCapacity / 2
	}
	if c.OverloadAfter <= 0 {
		c.OverloadAfter = 5 * time.Second
	}
	if c.OverloadWarnEvery <= 0 {
		c.OverloadWarnEvery = 30 * time.Second
	}
}

type job struct {
	ctx  context.Context
	task Task
	done func(error)
	gen  uint64
}

// Stats es una foto del estado del governor.
type Stats struct {
	Queued     int   `json:"queued"`
	InFlight   int   `json:"in_flight"`
	RateLimit  int   `json:"rate_limit"`
	Admitted   int64 `json:"admitted"`
	Failed     int64 `json:"failed"`
	Rejected   int64 `json:"rejected"`
	Saturated  bool  `json:"saturated"`
	Overloaded bool  `json:"overloaded"`
}

// Governor bounds in-flight concurrency and admissions per rolling second.
type Governor struct {
	cfg      Config
	observer Observer
	now      func() time.Time

	queue chan *job
	sem   chan struct{}

	mu     sync.RWMutex // protege closed frente a los envíos a queue
	closed bool
	done   chan struct{}
	once   sync.Once

	limiter *rate.Limiter
	gen     atomic.Uint64

	inFlight atomic.Int64
	admitted atomic.Int64
	failed   atomic.Int64
	rejected atomic.Int64

	overloaded     atomic.Bool
	saturatedSince time.Time
	lastWarn       time.Time

	wg       sync.WaitGroup // tareas en ejecución
	loopDone chan struct{}
}

// Option configures optional collaborators.
type Option func(*Governor)

// WithObserver exports governor metrics.
func WithObserver(o Observer) Option {
	return func(g *Governor) { g.observer = o }
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

// New crea y arranca el governor. Llamar Close para liberarlo.
func New(cfg Config, opts ...Option) *Governor {
	cfg.setDefaults()
	g := &Governor{
		cfg:      cfg,
		now:      time.Now,
		queue:    make(chan *job, cfg.QueueCapacity),
		sem:      make(chan struct{}, cfg.MaxConcurrentRequests),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, o := range opts {
		o(g)
	}
	g.limiter = newLimiter(cfg.MaxRequestsPerSecond)

	go g.dispatch()
	go g.watchOverload()
	return g
}

// Go encola task sin bloquear. done se invoca exactamente una vez con el
// error de la tarea (o el motivo por el que nunca se ejecutó). done no debe bloquear.
func (g *Governor) Go(ctx context.Context, task Task, done func(error)) error {
	if done == nil {
		done = func(error) {}
	}
	j := &job{ctx: ctx, task: task, done: done, gen: g.gen.Load()}

	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrClosed
	}
	select {
	case g.queue <- j:
		g.observeQueue()
		return nil
	default:
		g.rejected.Add(1)
		return ErrQueueFull
	}
}

// Do encola task y espera su resultado o a que ctx termine. Si ctx termina
// antes, el trabajo sigue en cola y el dispatcher lo descarta al llegarle.
func (g *Governor) Do(ctx context.Context, task Task) error {
	res := make(chan error, 1)
	if err := g.Go(ctx, task, func(err error) { res <- err }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call runs fn through g and returns its value.
func Call[T any](ctx context.Context, g *Governor, fn func(ctx context.Context) (T, error)) (T, error) {
	vals := make(chan T, 1)
	err := g.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		vals <- v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return <-vals, nil
}

// Batch encola todas las tareas y espera a que terminen.
// El error i corresponde a la tarea i.
func (g *Governor) Batch(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		err := g.Go(ctx, t, func(err error) {
			errs[i] = err
			wg.Done()
		})
		if err != nil {
			errs[i] = err
			wg.Done()
		}
	}
	wg.Wait()
	return errs
}

// Drain descarta todo lo encolado (incluido el trabajo que el dispatcher
// tiene en espera de admisión) con ErrDrained. Lo ya admitido sigue corriendo.
// Devuelve cuántos trabajos se descartaron de la cola.
func (g *Governor) Drain() int {
	g.gen.Add(1)
	n := 0
	for {
		select {
		case j := <-g.queue:
			j.done(ErrDrained)
			n++
		default:
			g.observeQueue()
			if n > 0 {
				slog.Warn("governor drained", "discarded", n)
			}
			return n
		}
	}
}

// Close deja de aceptar trabajo, falla lo encolado con ErrClosed y espera
// a que terminen las tareas en ejecución o a que ctx expire.
func (g *Governor) Close(ctx context.Context) error {
	g.once.Do(func() {
		g.mu.Lock()
		g.closed = true
		close(g.done)
		g.mu.Unlock()
	})
	<-g.loopDone

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("governor.Close: waiting for in-flight tasks: %w", ctx.Err())
	}
}

// Stats devuelve una foto consistente de los contadores.
func (g *Governor) Stats() Stats {
	queued := len(g.queue)
	inFlight := int(g.inFlight.Load())
	return Stats{
		Queued:     queued,
		InFlight:   inFlight,
		RateLimit:  g.cfg.MaxRequestsPerSecond,
		Admitted:   g.admitted.Load(),
		Failed:     g.failed.Load(),
		Rejected:   g.rejected.Load(),
		Saturated:  g.saturated(queued, inFlight),
		Overloaded: g.overloaded.Load(),
	}
}

func (g *Governor) saturated(queued, inFlight int) bool {
	return queued >= g.cfg.OverloadQueueDepth ||
		(inFlight >= g.cfg.MaxConcurrentRequests && queued > 0)
}

// dispatch es el único consumidor regular de la cola. Mantiene el orden FIFO
// porque admite un trabajo a la vez.
func (g *Governor) dispatch() {
	defer close(g.loopDone)
	for {
		select {
		case <-g.done:
			g.failQueued(ErrClosed)
			return
		case j := <-g.queue:
			g.observeQueue()
			if !g.admit(j) {
				continue
			}
			g.wg.Add(1)
			go g.run(j)
		}
	}
}

// admit bloquea hasta que j cabe en ambos límites. Devuelve false si j se
// resolvió sin ejecutarse (drain, cierre o contexto cancelado).
func (g *Governor) admit(j *job) bool {
	if j.gen != g.gen.Load() {
		j.done(ErrDrained)
		return false
	}
	if err := j.ctx.Err(); err != nil {
		j.done(err)
		return false
	}

	select {
	case g.sem <- struct{}{}:
	case <-g.done:
		j.done(ErrClosed)
		return false
	case <-j.ctx.Done():
		j.done(j.ctx.Err())
		return false
	}

	now := g.now()
	res := g.limiter.ReserveN(now, 1)
	if wait := res.DelayFrom(now); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-g.done:
			timer.Stop()
			res.CancelAt(g.now())
			<-g.sem
			j.done(ErrClosed)
			return false
		case <-j.ctx.Done():
			timer.Stop()
			res.CancelAt(g.now())
			<-g.sem
			j.done(j.ctx.Err())
			return false
		}
	}

	// Un drain mientras esperábamos admisión también descarta este trabajo.
	if j.gen != g.gen.Load() {
		<-g.sem
		j.done(ErrDrained)
		return false
	}

	g.admitted.Add(1)
	if g.observer != nil {
		g.observer.IncAdmitted()
	}
	return true
}

func (g *Governor) run(j *job) {
	g.setInFlight(g.inFlight.Add(1))
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("governor: task panic: %v", r)
			slog.Error("governor task panicked", "panic", r)
		}
		<-g.sem
		g.setInFlight(g.inFlight.Add(-1))
		if err != nil {
			g.failed.Add(1)
			if g.observer != nil {
				g.observer.IncTaskError()
			}
		}
		j.done(err)
		g.wg.Done()
	}()
	err = j.task(j.ctx)
}

func (g *Governor) failQueued(reason error) {
	for {
		select {
		case j := <-g.queue:
			j.done(reason)
		default:
			g.observeQueue()
			return
		}
	}
}

func (g *Governor) setInFlight(n int64) {
	if g.observer != nil {
		g.observer.SetInFlight(int(n))
	}
}

func (g *Governor) observeQueue() {
	if g.observer != nil {
		g.observer.SetQueueDepth(len(g.queue))
	}
}

// watchOverload muestrea la saturación una vez por segundo. Avisa cuando
// dura más de OverloadAfter, como máximo una vez cada OverloadWarnEvery.
func (g *Governor) watchOverload() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-g.done:
			return
		case <-ticker.C:
			g.checkOverload(g.now())
		}
	}
}

func (g *Governor) checkOverload(now time.Time) {
	queued := len(g.queue)
	inFlight := int(g.inFlight.Load())
	if !g.saturated(queued, inFlight) {
		g.saturatedSince = time.Time{}
		if g.overloaded.Swap(false) && g.observer != nil {
			g.observer.SetOverloaded(false)
		}
		return
	}
	if g.saturatedSince.IsZero() {
		g.saturatedSince = now
	}
	if now.Sub(g.saturatedSince) < g.cfg.OverloadAfter {
		return
	}
	if !g.overloaded.Swap(true) && g.observer != nil {
		g.observer.SetOverloaded(true)
	}
	if now.Sub(g.lastWarn) >= g.cfg.OverloadWarnEvery {
		g.lastWarn = now
		slog.Warn("request governor saturated",
			"queued", queued,
			"in_flight", inFlight,
			"for", now.Sub(g.saturatedSince).Round(time.Second),
		)
	}
}

// newLimiter admite como máximo rps trabajos por segundo, sin ráfagas.
func newLimiter(rps int) *rate.Limiter {
	return rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), 1)
}
