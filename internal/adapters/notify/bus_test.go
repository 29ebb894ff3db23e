package notify_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/adapters/notify"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink guarda los pools en orden de llegada.
type recordingSink struct {
	name  string
	mu    sync.Mutex
	got   []string
	gate  chan struct{} // si no es nil, Handle espera a que se cierre
	fail  bool
	panic bool
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Handle(_ context.Context, ev domain.Event) error {
	if s.gate != nil {
		<-s.gate
	}
	if s.panic {
		panic("boom")
	}
	s.mu.Lock()
	s.got = append(s.got, ev.Pool())
	s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	return nil
}

func (s *recordingSink) pools() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func ready(id string) domain.Event {
	return domain.PoolReadyEvent{PoolID: id, ReadySince: now}
}

func TestBus_DeliversInOrderToEverySink(t *testing.T) {
	a := &recordingSink{name: "a"}
	b := &recordingSink{name: "b"}
	bus := notify.NewBus(100, a, b)

	var want []string
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("p%02d", i)
		want = append(want, id)
		require.NoError(t, bus.Publish(context.Background(), ready(id)))
	}
	require.NoError(t, bus.Close(context.Background()))

	assert.Equal(t, want, a.pools())
	assert.Equal(t, want, b.pools())
}

func TestBus_SlowSinkDropsWithoutBlockingOthers(t *testing.T) {
	slow := &recordingSink{name: "slow", gate: make(chan struct{})}
	fast := &recordingSink{name: "fast"}
	bus := notify.NewBus(4, slow, fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			_ = bus.Publish(context.Background(), ready(fmt.Sprintf("p%d", i)))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a slow sink")
	}

	dropped := bus.Dropped()
	assert.Positive(t, dropped["slow"])

	close(slow.gate)
	require.NoError(t, bus.Close(context.Background()))
	assert.Len(t, slow.pools(), 20-int(dropped["slow"]))
	assert.Equal(t, "p0", slow.pools()[0], "surviving events keep their order")
}

func TestBus_SinkErrorsAndPanicsAreIsolated(t *testing.T) {
	failing := &recordingSink{name: "failing", fail: true}
	panicky := &recordingSink{name: "panicky", panic: true}
	ok := &recordingSink{name: "ok"}
	bus := notify.NewBus(10, failing, panicky, ok)

	require.NoError(t, bus.Publish(context.Background(), ready("p1")))
	require.NoError(t, bus.Publish(context.Background(), ready("p2")))
	require.NoError(t, bus.Close(context.Background()))

	assert.Equal(t, []string{"p1", "p2"}, ok.pools())
	assert.Equal(t, []string{"p1", "p2"}, failing.pools())
}

func TestBus_PublishAfterClose(t *testing.T) {
	bus := notify.NewBus(1, &recordingSink{name: "a"})
	require.NoError(t, bus.Close(context.Background()))
	assert.Error(t, bus.Publish(context.Background(), ready("p1")))
	// Close es idempotente.
	assert.NoError(t, bus.Close(context.Background()))
}

func TestBus_CloseHonoursContext(t *testing.T) {
	stuck := &recordingSink{name: "stuck", gate: make(chan struct{})}
	defer close(stuck.gate)
	bus := notify.NewBus(1, stuck)
	require.NoError(t, bus.Publish(context.Background(), ready("p1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Close(ctx), context.DeadlineExceeded)
}
