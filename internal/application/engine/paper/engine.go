package paper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/alejandrodnm/poolwatch/internal/ports"
)

// Params son los parámetros de un tipo de entrada (primera o re-entrada).
type Params struct {
	Amount        float64 // SOL
	TakeProfitPct float64
	StopLossPct   float64
	MaxHold       time.Duration
}

// Trailing controla el trailing stop.
type Trailing struct {
	Enabled          bool
	ActivationPct    float64
	DistancePct      float64
	BreakevenLockPct float64
}

// Config holds the entry/exit rules of the simulated trader.
type Config struct {
	Enabled             bool
	MinPriceIncreasePct float64
	MinTVLIncreasePct   float64
	MinBaselineTVL      float64

	Entry   Params
	ReEntry Params

	Trailing Trailing

	CollapsePct    float64 // negativo
	CollapseMinTVL float64 // 0 = desactivado

	MaxReEntries     int
	InitialBalance   float64
	MaxTradesPerHour int
	MaxOpenPositions int
}

// Entry rejection reasons, exposed for logs and tests.
var (
	ErrTradingDisabled  = errors.New("trading disabled")
	ErrPositionOpen     = errors.New("position already open")
	ErrNoAllowance      = errors.New("no re-entry allowance")
	ErrConditionsNotMet = errors.New("entry conditions not met")
	ErrHourlyCap        = errors.New("hourly entry cap reached")
	ErrMaxOpen          = errors.New("max open positions reached")
)

// Decision es lo que produjo un tick para un pool.
type Decision struct {
	Entered  *domain.Position
	Exited   *domain.PositionExitRecord
	Collapse bool
}

// Engine is the position state machine: none → entered → exited.
// A pool holds at most one open position.
type Engine struct {
	cfg      Config
	notifier ports.Notifier
	recorder ports.Recorder
	wallet   *Wallet
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	open     map[string]*domain.Position
	trackers map[string]*domain.ReEntryTracker
	closed   map[string]bool // pools con al menos una salida
	retired  map[string]bool // pools terminados: no admiten más ticks
	entries  []time.Time     // entradas de la última hora
	trades   int
	wins     int
}

// Option configures the engine.
type Option func(*Engine)

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates the engine. notifier and recorder may be nil.
func New(cfg Config, notifier ports.Notifier, recorder ports.Recorder, opts ...Option) *Engine {
	if cfg.MaxReEntries < 0 {
		cfg.MaxReEntries = 0
	}
	e := &Engine{
		cfg:      cfg,
		notifier: notifier,
		recorder: recorder,
		wallet:   NewWallet(cfg.InitialBalance),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		open:     make(map[string]*domain.Position),
		trackers: make(map[string]*domain.ReEntryTracker),
		closed:   make(map[string]bool),
		retired:  make(map[string]bool),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Collapsed reports whether the snapshot shows a liquidity collapse
// relative to the pool's baseline TVL.
func (e *Engine) Collapsed(snap domain.MetricsSnapshot) bool {
	if snap.HasReference && snap.TVLChangePct <= e.cfg.CollapsePct {
		return true
	}
	return e.cfg.CollapseMinTVL > 0 && snap.TVL < e.cfg.CollapseMinTVL
}

// OnTick evalúa un snapshot: salida si hay posición abierta, entrada si no.
// Es síncrono y nunca bloquea en red.
func (e *Engine) OnTick(ctx context.Context, rec domain.PoolRecord, snap domain.MetricsSnapshot) Decision {
	e.mu.Lock()
	if e.retired[rec.PoolID] {
		e.mu.Unlock()
		return Decision{}
	}
	pos, ok := e.open[rec.PoolID]
	var d Decision
	var events []domain.Event
	if ok {
		d, events = e.evaluateExit(rec, pos, snap)
	} else {
		d, events = e.tryEnter(rec, snap)
	}
	e.mu.Unlock()

	e.publish(ctx, events...)
	if d.Exited != nil && e.recorder != nil {
		e.recorder.AppendTrade(*d.Exited)
	}
	return d
}

// Close cierra la posición abierta del pool (si hay) al precio dado.
func (e *Engine) Close(ctx context.Context, poolID string, price float64, reason domain.ExitReason) (*domain.PositionExitRecord, bool) {
	return e.closePosition(ctx, poolID, price, reason, false)
}

// Retire cierra la posición abierta del pool (si hay) y bloquea cualquier
// tick posterior, todo bajo el mismo lock que OnTick: un tick que llegue
// tarde ya no puede abrir una posición en un pool terminado.
func (e *Engine) Retire(ctx context.Context, poolID string, price float64, reason domain.ExitReason) (*domain.PositionExitRecord, bool) {
	return e.closePosition(ctx, poolID, price, reason, true)
}

func (e *Engine) closePosition(ctx context.Context, poolID string, price float64, reason domain.ExitReason, retire bool) (*domain.PositionExitRecord, bool) {
	e.mu.Lock()
	if retire {
		e.retired[poolID] = true
	}
	pos, ok := e.open[poolID]
	if !ok {
		e.mu.Unlock()
		return nil, false
	}
	if price <= 0 {
		price = pos.EntryPrice
	}
	exit, events := e.exit(pos, price, reason, e.now())
	e.mu.Unlock()

	e.publish(ctx, events...)
	if e.recorder != nil {
		e.recorder.AppendTrade(*exit)
	}
	return exit, true
}

// HasOpen reports whether the pool has an open position.
func (e *Engine) HasOpen(poolID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.open[poolID]
	return ok
}

// Positions devuelve copias de las posiciones abiertas ordenadas por entrada.
func (e *Engine) Positions() []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Position, 0, len(e.open))
	for _, p := range e.open {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryTime.Before(out[j].EntryTime) })
	return out
}

// Tracker devuelve una copia del ReEntryTracker del pool.
func (e *Engine) Tracker(poolID string) (domain.ReEntryTracker, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trackers[poolID]
	if !ok {
		return domain.ReEntryTracker{}, false
	}
	return *t, true
}

// Summary son los contadores agregados del trader.
type Summary struct {
	OpenPositions int     `json:"open_positions"`
	Trades        int     `json:"trades"`
	Wins          int     `json:"wins"`
	Balance       float64 `json:"balance"`
	Invested      float64 `json:"invested"`
	RealizedPnL   float64 `json:"realized_pnl"`
}

func (e *Engine) Summary() Summary {
	e.mu.Lock()
	s := Summary{OpenPositions: len(e.open), Trades: e.trades, Wins: e.wins}
	e.mu.Unlock()
	s.Balance = e.wallet.Balance()
	s.Invested = e.wallet.Invested()
	s.RealizedPnL = e.wallet.PnL()
	return s
}

// --- entry ---

// allowance decide si el pool admite una entrada y si sería re-entrada.
// Se llama con e.mu tomado.
func (e *Engine) allowance(poolID string) (reEntry bool, err error) {
	if !e.closed[poolID] {
		return false, nil
	}
	t, ok := e.trackers[poolID]
	if !ok || !t.CanReEnter() {
		return false, ErrNoAllowance
	}
	return true, nil
}

func (e *Engine) tryEnter(rec domain.PoolRecord, snap domain.MetricsSnapshot) (Decision, []domain.Event) {
	if err := e.canEnter(rec, snap); err != nil {
		if !errors.Is(err, ErrConditionsNotMet) {
			slog.Debug("paper: entry rejected", "pool", rec.PoolID, "reason", err)
		}
		return Decision{Collapse: e.Collapsed(snap)}, nil
	}

	reEntry, _ := e.allowance(rec.PoolID)
	params := e.cfg.Entry
	if reEntry {
		params = e.cfg.ReEntry
	}
	if err := e.wallet.Debit(params.Amount); err != nil {
		slog.Warn("paper: entry rejected", "pool", rec.PoolID, "err", err)
		return Decision{Collapse: e.Collapsed(snap)}, nil
	}

	now := e.now()
	pos := &domain.Position{
		ID:               e.newID(),
		PoolID:           rec.PoolID,
		EntryPrice:       snap.Price,
		EntryTime:        now,
		InvestedAmount:   params.Amount,
		Status:           domain.PositionEntered,
		HighestPriceSeen: snap.Price,
		IsReEntry:        reEntry,
		TakeProfitPct:    params.TakeProfitPct,
		StopLossPct:      params.StopLossPct,
		MaxHold:          params.MaxHold,
	}
	if reEntry {
		t := e.trackers[rec.PoolID]
		t.ReEntryCount++
		pos.ReEntryCount = t.ReEntryCount
	}
	e.open[rec.PoolID] = pos
	e.entries = append(e.entries, now)

	slog.Info("paper: position entered",
		"pool", rec.PoolID,
		"position", pos.ID,
		"price", pos.EntryPrice,
		"amount", pos.InvestedAmount,
		"re_entry", reEntry,
		"price_change", snap.PriceChangePct,
		"tvl_change", snap.TVLChangePct,
	)

	cp := *pos
	return Decision{Entered: &cp}, []domain.Event{domain.PositionEnteredEvent{
		PositionID: pos.ID,
		PoolID:     pos.PoolID,
		EntryPrice: pos.EntryPrice,
		Amount:     pos.InvestedAmount,
		IsReEntry:  reEntry,
		Timestamp:  now,
	}}
}

// canEnter aplica las reglas de entrada en orden. Se llama con e.mu tomado.
func (e *Engine) canEnter(rec domain.PoolRecord, snap domain.MetricsSnapshot) error {
	if !e.cfg.Enabled {
		return ErrTradingDisabled
	}
	if _, ok := e.open[rec.PoolID]; ok {
		return ErrPositionOpen
	}
	if _, err := e.allowance(rec.PoolID); err != nil {
		return err
	}
	if !rec.HasBaseline() || !snap.HasReference ||
		snap.PriceChangePct < e.cfg.MinPriceIncreasePct ||
		snap.TVLChangePct < e.cfg.MinTVLIncreasePct ||
		*rec.BaselineTVL < e.cfg.MinBaselineTVL ||
		e.Collapsed(snap) {
		return ErrConditionsNotMet
	}
	if e.cfg.MaxOpenPositions > 0 && len(e.open) >= e.cfg.MaxOpenPositions {
		return ErrMaxOpen
	}
	if e.cfg.MaxTradesPerHour > 0 && e.entriesLastHour() >= e.cfg.MaxTradesPerHour {
		return ErrHourlyCap
	}
	return nil
}

func (e *Engine) entriesLastHour() int {
	cutoff := e.now().Add(-time.Hour)
	i := 0
	for i < len(e.entries) && !e.entries[i].After(cutoff) {
		i++
	}
	e.entries = e.entries[i:]
	return len(e.entries)
}

// --- exit ---

// evaluateExit aplica las reglas de salida en orden; la primera que matchea gana.
// Se llama con e.mu tomado.
func (e *Engine) evaluateExit(rec domain.PoolRecord, pos *domain.Position, snap domain.MetricsSnapshot) (Decision, []domain.Event) {
	price := snap.Price
	change := pos.ChangePct(price)
	now := e.now()

	reason, hit := e.checkExit(pos, snap, change, now)
	if !hit {
		return Decision{}, nil
	}

	exit, events := e.exit(pos, price, reason, now)
	// Otra regla puede ganar en un tick que además es colapso.
	d := Decision{Exited: exit, Collapse: e.Collapsed(snap)}
	if reason == domain.ExitRug {
		events = append(events, domain.RugDetected{
			PoolID:        rec.PoolID,
			BaselineTVL:   derefOr(rec.BaselineTVL, 0),
			LastTVL:       snap.TVL,
			BaselinePrice: derefOr(rec.BaselinePrice, 0),
			LastPrice:     snap.Price,
			Timestamp:     now,
		})
	}
	return d, events
}

func (e *Engine) checkExit(pos *domain.Position, snap domain.MetricsSnapshot, change float64, now time.Time) (domain.ExitReason, bool) {
	if e.cfg.Trailing.Enabled {
		updateTrailing(pos, snap.Price, change, e.cfg.Trailing)
		if pos.TrailingStopActive && snap.Price <= pos.TrailingStopPrice {
			return domain.ExitTrailingStop, true
		}
	} else if snap.Price > pos.HighestPriceSeen {
		pos.HighestPriceSeen = snap.Price
	}

	switch {
	case change >= pos.TakeProfitPct:
		return domain.ExitTakeProfit, true
	case !pos.TrailingStopActive && change <= -pos.StopLossPct:
		return domain.ExitStopLoss, true
	case pos.MaxHold > 0 && pos.HoldTime(now) >= pos.MaxHold:
		return domain.ExitTimeout, true
	case e.Collapsed(snap):
		return domain.ExitRug, true
	}
	return "", false
}

// updateTrailing activa y mueve el trailing stop. El stop nunca baja.
func updateTrailing(pos *domain.Position, price, change float64, cfg Trailing) {
	dist := cfg.DistancePct / 100

	switch {
	case !pos.TrailingStopActive && change >= cfg.ActivationPct:
		pos.TrailingStopActive = true
		pos.TrailingStopPrice = price * (1 - dist)
	case pos.TrailingStopActive && price > pos.HighestPriceSeen:
		if candidate := price * (1 - dist); candidate > pos.TrailingStopPrice {
			pos.TrailingStopPrice = candidate
		}
	}
	if price > pos.HighestPriceSeen {
		pos.HighestPriceSeen = price
	}
	if pos.TrailingStopActive && change >= cfg.BreakevenLockPct && pos.TrailingStopPrice < pos.EntryPrice {
		pos.TrailingStopPrice = pos.EntryPrice
	}
}

// exit cierra la posición y actualiza wallet y tracker. Se llama con e.mu tomado.
func (e *Engine) exit(pos *domain.Position, price float64, reason domain.ExitReason, now time.Time) (*domain.PositionExitRecord, []domain.Event) {
	delete(e.open, pos.PoolID)
	pos.Status = domain.PositionExited
	pos.ExitReason = reason

	returned := e.wallet.Settle(pos.InvestedAmount, pos.EntryPrice, price)
	rec := &domain.PositionExitRecord{
		PositionID:     pos.ID,
		PoolID:         pos.PoolID,
		EntryPrice:     pos.EntryPrice,
		ExitPrice:      price,
		EntryTime:      pos.EntryTime,
		ExitTime:       now,
		InvestedAmount: pos.InvestedAmount,
		ReturnedAmount: returned,
		PnLPct:         pos.ChangePct(price),
		Reason:         reason,
		IsReEntry:      pos.IsReEntry,
	}

	e.closed[pos.PoolID] = true
	e.trades++
	if rec.Profitable() {
		e.wins++
		t, ok := e.trackers[pos.PoolID]
		if !ok {
			t = &domain.ReEntryTracker{PoolID: pos.PoolID, MaxReEntries: e.cfg.MaxReEntries}
			e.trackers[pos.PoolID] = t
		}
		t.SuccessfulExits++
	}

	slog.Info("paper: position exited",
		"pool", pos.PoolID,
		"position", pos.ID,
		"reason", reason,
		"entry", pos.EntryPrice,
		"exit", price,
		"pnl_pct", fmt.Sprintf("%.2f", rec.PnLPct),
		"held", now.Sub(pos.EntryTime).Round(time.Second),
	)

	return rec, []domain.Event{domain.PositionExitedEvent{
		PositionID: pos.ID,
		PoolID:     pos.PoolID,
		ExitPrice:  price,
		PnLPct:     rec.PnLPct,
		Reason:     reason,
		Timestamp:  now,
	}}
}

func (e *Engine) publish(ctx context.Context, events ...domain.Event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		if err := e.notifier.Publish(ctx, ev); err != nil {
			slog.Warn("paper: publish failed", "event", ev.Type(), "pool", ev.Pool(), "err", err)
		}
	}
}

func derefOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
