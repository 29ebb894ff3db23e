package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/alejandrodnm/poolwatch/internal/ports"
)

const writeTimeout = 5 * time.Second

type write func(ctx context.Context, s ports.Storage) error

// AsyncRecorder implementa ports.Recorder: encola escrituras y un único
// worker las aplica en orden. Si el buffer está lleno la escritura se
// descarta y se loguea; nunca bloquea al caller.
type AsyncRecorder struct {
	store   ports.Storage
	queue   chan write
	done    chan struct{}
	once    sync.Once
	mu      sync.RWMutex // protege el envío frente a Close
	closed  bool
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncRecorder arranca el worker. size es la capacidad del buffer.
func NewAsyncRecorder(store ports.Storage, size int) *AsyncRecorder {
	if size <= 0 {
		size = 512
	}
	r := &AsyncRecorder{
		store: store,
		queue: make(chan write, size),
		done:  make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *AsyncRecorder) RecordPool(p domain.PoolRecord) {
	r.enqueue("pool", func(ctx context.Context, s ports.Storage) error { return s.UpsertPool(ctx, p) })
}

func (r *AsyncRecorder) AppendSnapshot(snap domain.MetricsSnapshot) {
	r.enqueue("snapshot", func(ctx context.Context, s ports.Storage) error { return s.AppendSnapshot(ctx, snap) })
}

func (r *AsyncRecorder) AppendTrade(t domain.PositionExitRecord) {
	r.enqueue("trade", func(ctx context.Context, s ports.Storage) error { return s.AppendTrade(ctx, t) })
}

// Dropped devuelve cuántas escrituras se descartaron por buffer lleno.
func (r *AsyncRecorder) Dropped() int64 { return r.dropped.Load() }

// Failed devuelve cuántas escrituras fallaron en la base.
func (r *AsyncRecorder) Failed() int64 { return r.failed.Load() }

// Close deja de aceptar escrituras y espera a vaciar el buffer o a que ctx expire.
func (r *AsyncRecorder) Close(ctx context.Context) error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		close(r.queue)
		r.mu.Unlock()
	})
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *AsyncRecorder) enqueue(kind string, w write) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- w:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("recorder buffer full, dropping write", "kind", kind, "dropped", n)
		}
	}
}

func (r *AsyncRecorder) loop() {
	defer close(r.done)
	for w := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := w(ctx, r.store); err != nil {
			r.failed.Add(1)
			slog.Warn("recorder write failed", "err", err)
		}
		cancel()
	}
}
