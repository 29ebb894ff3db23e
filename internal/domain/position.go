package domain

import "time"

// PositionStatus represents the lifecycle of a simulated position.
type PositionStatus string

const (
	PositionEntered PositionStatus = "entered"
	PositionExited  PositionStatus = "exited"
)

// ExitReason explains why a position was closed.
type ExitReason string

const (
	ExitTakeProfit   ExitReason = "take_profit"
	ExitStopLoss     ExitReason = "stop_loss"
	ExitTrailingStop ExitReason = "trailing_stop"
	ExitTimeout      ExitReason = "timeout"
	ExitRug          ExitReason = "rug"
	ExitManual       ExitReason = "manual"
)

// Position is a simulated position held in one pool.
type Position struct {
	ID                 string
	PoolID             string
	EntryPrice         float64
	EntryTime          time.Time
	InvestedAmount     float64 // quote units (SOL)
	Status             PositionStatus
	TrailingStopActive bool
	TrailingStopPrice  float64
	HighestPriceSeen   float64
	ExitReason         ExitReason
	IsReEntry          bool
	ReEntryCount       int

	// Exit parameters frozen at entry: re-entries use a tighter set.
	TakeProfitPct float64
	StopLossPct   float64
	MaxHold       time.Duration
}

// ChangePct returns the percent change of price relative to the entry price.
func (p Position) ChangePct(price float64) float64 {
	return PercentChange(p.EntryPrice, price)
}

// HoldTime returns how long the position has been open at now.
func (p Position) HoldTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// ReEntryTracker bounds how many times a pool may be re-entered after a
// profitable exit. Created on the first profitable exit.
type ReEntryTracker struct {
	PoolID          string
	SuccessfulExits int
	ReEntryCount    int
	MaxReEntries    int
}

// CanReEnter reports whether another re-entry is allowed.
func (t ReEntryTracker) CanReEnter() bool {
	return t.SuccessfulExits > 0 && t.ReEntryCount < t.MaxReEntries
}

// PositionExitRecord is the persisted projection of a closed position.
type PositionExitRecord struct {
	PositionID     string
	PoolID         string
	EntryPrice     float64
	ExitPrice      float64
	EntryTime      time.Time
	ExitTime       time.Time
	InvestedAmount float64
	ReturnedAmount float64
	PnLPct         float64
	Reason         ExitReason
	IsReEntry      bool
}

// Profitable reports whether the exit closed above entry. Collapse exits never count.
func (r PositionExitRecord) Profitable() bool {
	return r.Reason != ExitRug && r.PnLPct > 0
}

// HoldDuration returns how long the position was open.
func (r PositionExitRecord) HoldDuration() time.Duration {
	return r.ExitTime.Sub(r.EntryTime)
}

// TradeStats is the aggregate over all persisted exits.
type TradeStats struct {
	Trades    int
	Wins      int
	AvgPnLPct float64
	BestPct   float64
	WorstPct  float64
	ByReason  map[ExitReason]int
}

// WinRate returns the percentage of profitable trades.
func (s TradeStats) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}
