package paper_test

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/engine/paper"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type captureNotifier struct {
	mu     sync.Mutex
	events []domain.Event
}

func (n *captureNotifier) Publish(_ context.Context, ev domain.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *captureNotifier) ofType(t domain.EventType) []domain.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []domain.Event
	for _, ev := range n.events {
		if ev.Type() == t {
			out = append(out, ev)
		}
	}
	return out
}

type captureRecorder struct {
	mu     sync.Mutex
	trades []domain.PositionExitRecord
}

func (r *captureRecorder) RecordPool(domain.PoolRecord)          {}
func (r *captureRecorder) AppendSnapshot(domain.MetricsSnapshot) {}
func (r *captureRecorder) AppendTrade(rec domain.PositionExitRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trades = append(r.trades, rec)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// --- helpers ---

const basePrice = 0.00005

func baseConfig() paper.Config {
	return paper.Config{
		Enabled:             true,
		MinPriceIncreasePct: 0,
		MinTVLIncreasePct:   0,
		MinBaselineTVL:      10,
		Entry:               paper.Params{Amount: 0.05, TakeProfitPct: 25, StopLossPct: 8, MaxHold: 30 * time.Minute},
		ReEntry:             paper.Params{Amount: 0.025, TakeProfitPct: 20, StopLossPct: 6, MaxHold: 15 * time.Minute},
		Trailing:            paper.Trailing{Enabled: true, ActivationPct: 15, DistancePct: 10, BreakevenLockPct: 20},
		CollapsePct:         -30,
		MaxReEntries:        1,
		InitialBalance:      10,
	}
}

func pool(baselineTVL float64) domain.PoolRecord {
	price := basePrice
	return domain.PoolRecord{
		PoolID:        "pool1",
		State:         domain.PoolMonitoring,
		BaselinePrice: &price,
		BaselineTVL:   &baselineTVL,
	}
}

func snapshot(rec domain.PoolRecord, price, tvl float64) domain.MetricsSnapshot {
	return domain.MetricsSnapshot{
		PoolID:         rec.PoolID,
		Price:          price,
		TVL:            tvl,
		PriceChangePct: domain.PercentChange(*rec.BaselinePrice, price),
		TVLChangePct:   domain.PercentChange(*rec.BaselineTVL, tvl),
		HasReference:   true,
	}
}

func newEngine(cfg paper.Config, clock *fakeClock) (*paper.Engine, *captureNotifier, *captureRecorder) {
	n := &captureNotifier{}
	r := &captureRecorder{}
	return paper.New(cfg, n, r, paper.WithClock(clock.now)), n, r
}

// --- scenarios ---

func TestEngine_TakeProfitBeforeOtherChecks(t *testing.T) {
	ctx := context.Background()
	e, n, r := newEngine(baseConfig(), newClock())
	rec := pool(100)

	d := e.OnTick(ctx, rec, snapshot(rec, basePrice, 100))
	require.NotNil(t, d.Entered)
	assert.InDelta(t, basePrice, d.Entered.EntryPrice, 1e-15)

	d = e.OnTick(ctx, rec, snapshot(rec, 0.000063, 100))
	require.NotNil(t, d.Exited)
	assert.Equal(t, domain.ExitTakeProfit, d.Exited.Reason)
	assert.InDelta(t, 26.0, d.Exited.PnLPct, 1e-6)
	assert.False(t, e.HasOpen("pool1"))

	require.Len(t, n.ofType(domain.EventPositionExited), 1)
	require.Len(t, r.trades, 1)

	tr, ok := e.Tracker("pool1")
	require.True(t, ok)
	assert.Equal(t, 1, tr.SuccessfulExits)
}

func TestEngine_CollapseExitEmitsRug(t *testing.T) {
	ctx := context.Background()
	e, n, _ := newEngine(baseConfig(), newClock())
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)

	// TVL 100 → 65 con el precio estable.
	d := e.OnTick(ctx, rec, snapshot(rec, basePrice, 65))
	require.NotNil(t, d.Exited)
	assert.Equal(t, domain.ExitRug, d.Exited.Reason)
	assert.True(t, d.Collapse)

	rugs := n.ofType(domain.EventRugDetected)
	require.Len(t, rugs, 1)
	rug := rugs[0].(domain.RugDetected)
	assert.Equal(t, 100.0, rug.BaselineTVL)
	assert.Equal(t, 65.0, rug.LastTVL)
	assert.Equal(t, basePrice, rug.BaselinePrice)
	require.Len(t, n.ofType(domain.EventPositionExited), 1)

	_, ok := e.Tracker("pool1")
	assert.False(t, ok, "collapse is never a profitable exit")
	// Sin tracker no hay más entradas en este pool.
	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
}

func TestEngine_BoundedReEntry(t *testing.T) {
	ctx := context.Background()
	e, n, _ := newEngine(baseConfig(), newClock())
	rec := pool(100)

	first := e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered
	require.NotNil(t, first)
	assert.False(t, first.IsReEntry)
	require.Equal(t, domain.ExitTakeProfit, e.OnTick(ctx, rec, snapshot(rec, 0.000063, 100)).Exited.Reason)

	re := e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered
	require.NotNil(t, re)
	assert.True(t, re.IsReEntry)
	assert.Equal(t, 1, re.ReEntryCount)
	assert.Equal(t, 0.025, re.InvestedAmount)
	assert.Equal(t, 20.0, re.TakeProfitPct)
	assert.Equal(t, 6.0, re.StopLossPct)
	assert.Equal(t, 15*time.Minute, re.MaxHold)

	// Tighter take-profit: +21% ya cierra la re-entrada.
	d := e.OnTick(ctx, rec, snapshot(rec, basePrice*1.21, 100))
	require.NotNil(t, d.Exited)
	assert.Equal(t, domain.ExitTakeProfit, d.Exited.Reason)
	assert.True(t, d.Exited.IsReEntry)

	// Tercera condición de entrada: rechazada.
	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)

	tr, _ := e.Tracker("pool1")
	assert.Equal(t, 1, tr.ReEntryCount)
	assert.LessOrEqual(t, tr.ReEntryCount, tr.MaxReEntries)
	assert.Equal(t, 2, tr.SuccessfulExits)
	assert.Len(t, n.ofType(domain.EventPositionEntered), 2)
}

func TestEngine_StopLossAfterLosingExitBlocksEntry(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(baseConfig(), newClock())
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
	d := e.OnTick(ctx, rec, snapshot(rec, basePrice*0.9, 100))
	require.NotNil(t, d.Exited)
	assert.Equal(t, domain.ExitStopLoss, d.Exited.Reason)

	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
}

func TestEngine_TimeoutExit(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	e, _, _ := newEngine(baseConfig(), clock)
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
	clock.advance(29 * time.Minute)
	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice*1.01, 100)).Exited)

	clock.advance(time.Minute)
	d := e.OnTick(ctx, rec, snapshot(rec, basePrice*1.01, 100))
	require.NotNil(t, d.Exited)
	assert.Equal(t, domain.ExitTimeout, d.Exited.Reason)
	assert.Equal(t, 30*time.Minute, d.Exited.HoldDuration())
}

func TestEngine_EntryRules(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.MinPriceIncreasePct = 10
	cfg.MinTVLIncreasePct = 5
	e, _, _ := newEngine(cfg, newClock())
	rec := pool(100)

	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice*1.09, 110)).Entered, "price below threshold")
	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice*1.2, 104)).Entered, "tvl below threshold")

	small := pool(5)
	assert.Nil(t, e.OnTick(ctx, small, snapshot(small, basePrice*1.2, 6)).Entered, "baseline tvl too small")

	assert.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice*1.12, 106)).Entered)
}

func TestEngine_DisabledNeverEnters(t *testing.T) {
	cfg := baseConfig()
	cfg.Enabled = false
	e, _, _ := newEngine(cfg, newClock())
	rec := pool(100)
	assert.Nil(t, e.OnTick(context.Background(), rec, snapshot(rec, basePrice, 100)).Entered)
}

func TestEngine_MaxOpenAndHourlyCap(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	cfg := baseConfig()
	cfg.MaxOpenPositions = 2
	cfg.MaxTradesPerHour = 3
	e, _, _ := newEngine(cfg, clock)

	recs := make([]domain.PoolRecord, 5)
	for i := range recs {
		recs[i] = pool(100)
		recs[i].PoolID = string(rune('a' + i))
	}

	assert.NotNil(t, e.OnTick(ctx, recs[0], snapshot(recs[0], basePrice, 100)).Entered)
	assert.NotNil(t, e.OnTick(ctx, recs[1], snapshot(recs[1], basePrice, 100)).Entered)
	assert.Nil(t, e.OnTick(ctx, recs[2], snapshot(recs[2], basePrice, 100)).Entered, "max open")

	_, ok := e.Close(ctx, "a", basePrice, domain.ExitManual)
	require.True(t, ok)
	assert.NotNil(t, e.OnTick(ctx, recs[2], snapshot(recs[2], basePrice, 100)).Entered)

	_, _ = e.Close(ctx, "b", basePrice, domain.ExitManual)
	assert.Nil(t, e.OnTick(ctx, recs[3], snapshot(recs[3], basePrice, 100)).Entered, "hourly cap")

	clock.advance(61 * time.Minute)
	assert.NotNil(t, e.OnTick(ctx, recs[3], snapshot(recs[3], basePrice, 100)).Entered)
}

func TestEngine_InsufficientBalance(t *testing.T) {
	cfg := baseConfig()
	cfg.InitialBalance = 0.01
	e, _, _ := newEngine(cfg, newClock())
	rec := pool(100)
	assert.Nil(t, e.OnTick(context.Background(), rec, snapshot(rec, basePrice, 100)).Entered)
	assert.Zero(t, e.Summary().OpenPositions)
}

func TestEngine_WalletSettlesPnL(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newEngine(baseConfig(), newClock())
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
	assert.InDelta(t, 9.95, e.Summary().Balance, 1e-9)

	d := e.OnTick(ctx, rec, snapshot(rec, basePrice*1.3, 100))
	require.NotNil(t, d.Exited)
	assert.InDelta(t, 0.065, d.Exited.ReturnedAmount, 1e-9)

	s := e.Summary()
	assert.InDelta(t, 10.015, s.Balance, 1e-9)
	assert.InDelta(t, 0.015, s.RealizedPnL, 1e-9)
	assert.Equal(t, 1, s.Wins)
}

// --- trailing stop ---

func TestEngine_TrailingStopActivatesRatchetsAndExits(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Entry.TakeProfitPct = 1000 // sólo el trailing cierra
	e, _, _ := newEngine(cfg, newClock())
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)

	// +16%: activa el trailing a 0.9 × precio.
	e.OnTick(ctx, rec, snapshot(rec, basePrice*1.16, 100))
	pos := e.Positions()[0]
	require.True(t, pos.TrailingStopActive)
	assert.InDelta(t, basePrice*1.16*0.9, pos.TrailingStopPrice, 1e-15)

	// +18%: nuevo máximo, el stop sube.
	e.OnTick(ctx, rec, snapshot(rec, basePrice*1.18, 100))
	pos = e.Positions()[0]
	assert.InDelta(t, basePrice*1.18*0.9, pos.TrailingStopPrice, 1e-15)

	// +30%: breakeven lock ya se cumple de sobra; stop = 0.9 × 1.3 = 1.17 × entrada.
	e.OnTick(ctx, rec, snapshot(rec, basePrice*1.3, 100))
	pos = e.Positions()[0]
	assert.GreaterOrEqual(t, pos.TrailingStopPrice, pos.EntryPrice)

	// Cae por debajo del stop: sale por trailing, no por stop-loss.
	d := e.OnTick(ctx, rec, snapshot(rec, basePrice*1.1, 100))
	require.NotNil(t, d.Exited)
	assert.Equal(t, domain.ExitTrailingStop, d.Exited.Reason)
	assert.Greater(t, d.Exited.PnLPct, 0.0)
}

func TestEngine_BreakevenLockClampsToEntry(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Entry.TakeProfitPct = 1000
	cfg.Trailing = paper.Trailing{Enabled: true, ActivationPct: 5, DistancePct: 30, BreakevenLockPct: 10}
	e, _, _ := newEngine(cfg, newClock())
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
	e.OnTick(ctx, rec, snapshot(rec, basePrice*1.06, 100))
	pos := e.Positions()[0]
	assert.Less(t, pos.TrailingStopPrice, pos.EntryPrice, "30% distance sits below entry")

	e.OnTick(ctx, rec, snapshot(rec, basePrice*1.12, 100))
	pos = e.Positions()[0]
	assert.Equal(t, pos.EntryPrice, pos.TrailingStopPrice)
}

func TestEngine_StopLossSkippedWhileTrailing(t *testing.T) {
	ctx := context.Background()
	cfg := baseConfig()
	cfg.Entry.TakeProfitPct = 1000
	cfg.Entry.StopLossPct = 1
	cfg.Trailing = paper.Trailing{Enabled: true, ActivationPct: 5, DistancePct: 50, BreakevenLockPct: 1000}
	e, _, _ := newEngine(cfg, newClock())
	rec := pool(100)

	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
	e.OnTick(ctx, rec, snapshot(rec, basePrice*1.1, 100)) // activa, stop = 0.55 × entrada

	// -2% vs entrada: el stop-loss de 1% no aplica con trailing activo.
	d := e.OnTick(ctx, rec, snapshot(rec, basePrice*0.98, 100))
	assert.Nil(t, d.Exited)
}

func TestEngine_TrailingStopNeverDecreases(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for run := 0; run < 50; run++ {
		cfg := baseConfig()
		cfg.Entry.TakeProfitPct = 1e9
		cfg.Entry.StopLossPct = 1e9
		cfg.Entry.MaxHold = 0
		cfg.CollapsePct = -1e9
		e, _, _ := newEngine(cfg, newClock())
		rec := pool(100)
		require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)

		price := basePrice
		last := 0.0
		for tick := 0; tick < 200; tick++ {
			price *= 1 + (rng.Float64()-0.45)*0.1
			d := e.OnTick(ctx, rec, snapshot(rec, price, 100))
			if d.Exited != nil {
				break
			}
			pos := e.Positions()[0]
			if pos.TrailingStopActive {
				require.GreaterOrEqual(t, pos.TrailingStopPrice, last, "run %d tick %d", run, tick)
				last = pos.TrailingStopPrice
			}
		}
	}
}

func TestEngine_CloseManual(t *testing.T) {
	ctx := context.Background()
	e, n, r := newEngine(baseConfig(), newClock())
	rec := pool(100)
	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)

	exit, ok := e.Close(ctx, "pool1", basePrice*0.95, domain.ExitManual)
	require.True(t, ok)
	assert.Equal(t, domain.ExitManual, exit.Reason)
	assert.InDelta(t, -5.0, exit.PnLPct, 1e-9)

	_, ok = e.Close(ctx, "pool1", basePrice, domain.ExitManual)
	assert.False(t, ok)
	assert.Len(t, n.ofType(domain.EventPositionExited), 1)
	assert.Len(t, r.trades, 1)
}

func TestEngine_RetireBlocksLaterTicks(t *testing.T) {
	ctx := context.Background()
	e, n, r := newEngine(baseConfig(), newClock())
	rec := pool(100)

	// Sin posición abierta: Retire no cierra nada pero bloquea la entrada.
	_, ok := e.Retire(ctx, "pool1", basePrice, domain.ExitManual)
	assert.False(t, ok)

	d := e.OnTick(ctx, rec, snapshot(rec, basePrice, 100))
	assert.Nil(t, d.Entered)
	assert.False(t, e.HasOpen("pool1"))
	assert.Empty(t, n.ofType(domain.EventPositionEntered))

	// Un colapso tardío tampoco produce decisión.
	d = e.OnTick(ctx, rec, snapshot(rec, basePrice, 50))
	assert.Equal(t, paper.Decision{}, d)
	assert.Empty(t, r.trades)
}

func TestEngine_RetireClosesOpenPosition(t *testing.T) {
	ctx := context.Background()
	e, n, _ := newEngine(baseConfig(), newClock())
	rec := pool(100)
	require.NotNil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)

	exit, ok := e.Retire(ctx, "pool1", basePrice, domain.ExitTimeout)
	require.True(t, ok)
	assert.Equal(t, domain.ExitTimeout, exit.Reason)
	assert.Empty(t, e.Positions())

	assert.Nil(t, e.OnTick(ctx, rec, snapshot(rec, basePrice, 100)).Entered)
	assert.Len(t, n.ofType(domain.EventPositionEntered), 1)
	assert.Len(t, n.ofType(domain.EventPositionExited), 1)
}
