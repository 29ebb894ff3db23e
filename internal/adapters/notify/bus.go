package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// Sink consume eventos en el orden en que se publicaron.
type Sink interface {
	Name() string
	Handle(ctx context.Context, ev domain.Event) error
}

const deliverTimeout = 5 * time.Second

// Bus implementa ports.Notifier repartiendo cada evento a todos los sinks.
// Cada sink tiene su propia cola acotada y su goroutine: un sink lento no
// frena a los demás ni al scheduler. Con la cola llena el evento se
// descarta para ese sink y se cuenta.
type Bus struct {
	lanes []*lane

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	sink    Sink
	queue   chan domain.Event
	dropped atomic.Int64
	failed  atomic.Int64
}

// NewBus arranca una goroutine por sink. size es la capacidad de cada cola.
func NewBus(size int, sinks ...Sink) *Bus {
	if size <= 0 {
		size = 256
	}
	b := &Bus{}
	for _, s := range sinks {
		l := &lane{sink: s, queue: make(chan domain.Event, size)}
		b.lanes = append(b.lanes, l)
		b.wg.Add(1)
		go b.deliver(l)
	}
	return b
}

// Publish encola ev en cada sink sin bloquear.
func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("notify.Publish %s: bus closed", ev.Type())
	}
	for _, l := range b.lanes {
		select {
		case l.queue <- ev:
		default:
			if n := l.dropped.Add(1); n == 1 || n%100 == 0 {
				slog.Warn("notification sink saturated, dropping event",
					"sink", l.sink.Name(), "event", ev.Type(), "pool", ev.Pool(), "dropped", n)
			}
		}
	}
	return nil
}

// Dropped devuelve los eventos descartados por sink.
func (b *Bus) Dropped() map[string]int64 {
	out := make(map[string]int64, len(b.lanes))
	for _, l := range b.lanes {
		out[l.sink.Name()] = l.dropped.Load()
	}
	return out
}

// Close deja de aceptar eventos y espera a que los sinks vacíen sus colas.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		for _, l := range b.lanes {
			close(l.queue)
		}
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notify.Close: %w", ctx.Err())
	}
}

func (b *Bus) deliver(l *lane) {
	defer b.wg.Done()
	for ev := range l.queue {
		b.handle(l, ev)
	}
}

func (b *Bus) handle(l *lane, ev domain.Event) {
	defer func() {
		if r := recover(); r != nil {
			l.failed.Add(1)
			slog.Error("notification sink panicked", "sink", l.sink.Name(), "event", ev.Type(), "panic", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := l.sink.Handle(ctx, ev); err != nil {
		l.failed.Add(1)
		slog.Warn("notification sink failed", "sink", l.sink.Name(), "event", ev.Type(), "pool", ev.Pool(), "err", err)
	}
}
