package domain

import "time"

// EventType names a lifecycle or trading notification.
type EventType string

const (
	EventPoolReady         EventType = "pool_ready"
	EventPoolMetricsUpdate EventType = "pool_metrics_update"
	EventRugDetected       EventType = "rug_detected"
	EventPositionEntered   EventType = "position_entered"
	EventPositionExited    EventType = "position_exited"
	EventPoolTerminated    EventType = "pool_terminated"
	EventPoolFailed        EventType = "pool_failed"
)

// Event is anything published to the notification sinks.
type Event interface {
	Type() EventType
	Pool() string
	At() time.Time
}

// PoolReadyEvent is published once both vaults hold liquidity and the pool
// is about to take its baseline.
type PoolReadyEvent struct {
	PoolID     string    `json:"pool_id"`
	BaseToken  string    `json:"base_token"`
	QuoteToken string    `json:"quote_token"`
	ReadySince time.Time `json:"ready_since"`
}

func (e PoolReadyEvent) Type() EventType { return EventPoolReady }
func (e PoolReadyEvent) Pool() string    { return e.PoolID }
func (e PoolReadyEvent) At() time.Time   { return e.ReadySince }

// PoolMetricsUpdate carries one successful poll of a monitored pool.
type PoolMetricsUpdate struct {
	PoolID         string    `json:"pool_id"`
	Price          float64   `json:"price"`
	TVL            float64   `json:"tvl"`
	PriceChangePct float64   `json:"price_change_pct"`
	TVLChangePct   float64   `json:"tvl_change_pct"`
	Timestamp      time.Time `json:"timestamp"`
}

func (e PoolMetricsUpdate) Type() EventType { return EventPoolMetricsUpdate }
func (e PoolMetricsUpdate) Pool() string    { return e.PoolID }
func (e PoolMetricsUpdate) At() time.Time   { return e.Timestamp }

// MetricsUpdateFrom projects a snapshot into its notification.
func MetricsUpdateFrom(s MetricsSnapshot) PoolMetricsUpdate {
	return PoolMetricsUpdate{
		PoolID:         s.PoolID,
		Price:          s.Price,
		TVL:            s.TVL,
		PriceChangePct: s.PriceChangePct,
		TVLChangePct:   s.TVLChangePct,
		Timestamp:      s.Timestamp,
	}
}

// RugDetected is published alongside the exit when TVL collapses against the baseline.
type RugDetected struct {
	PoolID        string    `json:"pool_id"`
	BaselineTVL   float64   `json:"baseline_tvl"`
	LastTVL       float64   `json:"last_tvl"`
	BaselinePrice float64   `json:"baseline_price"`
	LastPrice     float64   `json:"last_price"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e RugDetected) Type() EventType { return EventRugDetected }
func (e RugDetected) Pool() string    { return e.PoolID }
func (e RugDetected) At() time.Time   { return e.Timestamp }

// PositionEnteredEvent reports a simulated entry, first or re-entry.
type PositionEnteredEvent struct {
	PositionID string    `json:"position_id"`
	PoolID     string    `json:"pool_id"`
	EntryPrice float64   `json:"entry_price"`
	Amount     float64   `json:"amount"`
	IsReEntry  bool      `json:"is_re_entry"`
	Timestamp  time.Time `json:"timestamp"`
}

func (e PositionEnteredEvent) Type() EventType { return EventPositionEntered }
func (e PositionEnteredEvent) Pool() string    { return e.PoolID }
func (e PositionEnteredEvent) At() time.Time   { return e.Timestamp }

// PositionExitedEvent reports a closed simulated position and why it closed.
type PositionExitedEvent struct {
	PositionID string     `json:"position_id"`
	PoolID     string     `json:"pool_id"`
	ExitPrice  float64    `json:"exit_price"`
	PnLPct     float64    `json:"pnl_pct"`
	Reason     ExitReason `json:"reason"`
	Timestamp  time.Time  `json:"timestamp"`
}

func (e PositionExitedEvent) Type() EventType { return EventPositionExited }
func (e PositionExitedEvent) Pool() string    { return e.PoolID }
func (e PositionExitedEvent) At() time.Time   { return e.Timestamp }

// PoolClosed is published when a pool leaves the active set (failed or terminated).
type PoolClosed struct {
	PoolID    string    `json:"pool_id"`
	State     PoolState `json:"state"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

func (e PoolClosed) Type() EventType {
	if e.State == PoolFailed {
		return EventPoolFailed
	}
	return EventPoolTerminated
}
func (e PoolClosed) Pool() string  { return e.PoolID }
func (e PoolClosed) At() time.Time { return e.Timestamp }
