package httpapi

import (
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

type poolView struct {
	PoolID            string              `json:"pool_id"`
	BaseMint          string              `json:"base_mint"`
	QuoteMint         string              `json:"quote_mint"`
	BaseVault         string              `json:"base_vault"`
	QuoteVault        string              `json:"quote_vault"`
	State             domain.PoolState    `json:"state"`
	Reason            string              `json:"reason,omitempty"`
	Tier              domain.PriorityTier `json:"priority_tier"`
	AgeSeconds        float64             `json:"age_seconds"`
	DiscoveredAt      time.Time           `json:"discovered_at"`
	ReadySince        *time.Time          `json:"ready_since,omitempty"`
	TerminatedAt      *time.Time          `json:"terminated_at,omitempty"`
	BaselinePrice     *float64            `json:"baseline_price,omitempty"`
	BaselineTVL       *float64            `json:"baseline_tvl,omitempty"`
	LastPrice         float64             `json:"last_price"`
	LastTVL           float64             `json:"last_tvl"`
	LastPolledAt      *time.Time          `json:"last_polled_at,omitempty"`
	PollIntervalMs    int64               `json:"poll_interval_ms"`
	ConsecutiveErrors int                 `json:"consecutive_errors"`
}

func newPoolView(p domain.PoolRecord, now time.Time) poolView {
	v := poolView{
		PoolID:            p.PoolID,
		BaseMint:          p.BaseMint,
		QuoteMint:         p.QuoteMint,
		BaseVault:         p.BaseVaultAddr,
		QuoteVault:        p.QuoteVaultAddr,
		State:             p.State,
		Reason:            p.FailureReason,
		Tier:              p.PriorityTier,
		AgeSeconds:        p.Age(now).Seconds(),
		DiscoveredAt:      p.DiscoveredAt,
		ReadySince:        p.ReadySince,
		TerminatedAt:      p.TerminatedAt,
		BaselinePrice:     p.BaselinePrice,
		BaselineTVL:       p.BaselineTVL,
		LastPrice:         p.LastPrice,
		LastTVL:           p.LastTVL,
		PollIntervalMs:    p.PollInterval.Milliseconds(),
		ConsecutiveErrors: p.ConsecutiveErrors,
	}
	if !p.LastPolledAt.IsZero() {
		t := p.LastPolledAt
		v.LastPolledAt = &t
	}
	return v
}

type positionView struct {
	PositionID     string    `json:"position_id"`
	PoolID         string    `json:"pool_id"`
	EntryPrice     float64   `json:"entry_price"`
	EntryTime      time.Time `json:"entry_time"`
	Invested       float64   `json:"invested"`
	IsReEntry      bool      `json:"is_re_entry"`
	TakeProfitPct  float64   `json:"take_profit_pct"`
	StopLossPct    float64   `json:"stop_loss_pct"`
	MaxHoldSeconds float64   `json:"max_hold_seconds"`
	TrailingActive bool      `json:"trailing_active"`
	TrailingStop   float64   `json:"trailing_stop,omitempty"`
	HighestPrice   float64   `json:"highest_price"`
	LastPrice      float64   `json:"last_price,omitempty"`
	UnrealizedPct  *float64  `json:"unrealized_pct,omitempty"`
}

func newPositionView(p domain.Position) positionView {
	return positionView{
		PositionID:     p.ID,
		PoolID:         p.PoolID,
		EntryPrice:     p.EntryPrice,
		EntryTime:      p.EntryTime,
		Invested:       p.InvestedAmount,
		IsReEntry:      p.IsReEntry,
		TakeProfitPct:  p.TakeProfitPct,
		StopLossPct:    p.StopLossPct,
		MaxHoldSeconds: p.MaxHold.Seconds(),
		TrailingActive: p.TrailingStopActive,
		TrailingStop:   p.TrailingStopPrice,
		HighestPrice:   p.HighestPriceSeen,
	}
}

type tradeView struct {
	PositionID  string            `json:"position_id"`
	PoolID      string            `json:"pool_id"`
	EntryPrice  float64           `json:"entry_price"`
	ExitPrice   float64           `json:"exit_price"`
	EntryTime   time.Time         `json:"entry_time"`
	ExitTime    time.Time         `json:"exit_time"`
	HoldSeconds float64           `json:"hold_seconds"`
	Invested    float64           `json:"invested"`
	Returned    float64           `json:"returned"`
	PnLPct      float64           `json:"pnl_pct"`
	Reason      domain.ExitReason `json:"reason"`
	IsReEntry   bool              `json:"is_re_entry"`
}

func newTradeView(t domain.PositionExitRecord) tradeView {
	return tradeView{
		PositionID:  t.PositionID,
		PoolID:      t.PoolID,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		EntryTime:   t.EntryTime,
		ExitTime:    t.ExitTime,
		HoldSeconds: t.HoldDuration().Seconds(),
		Invested:    t.InvestedAmount,
		Returned:    t.ReturnedAmount,
		PnLPct:      t.PnLPct,
		Reason:      t.Reason,
		IsReEntry:   t.IsReEntry,
	}
}

type statsView struct {
	Trades    int                       `json:"trades"`
	Wins      int                       `json:"wins"`
	WinRate   float64                   `json:"win_rate_pct"`
	AvgPnLPct float64                   `json:"avg_pnl_pct"`
	BestPct   float64                   `json:"best_pct"`
	WorstPct  float64                   `json:"worst_pct"`
	ByReason  map[domain.ExitReason]int `json:"by_reason"`
}

func newStatsView(s domain.TradeStats) statsView {
	return statsView{
		Trades:    s.Trades,
		Wins:      s.Wins,
		WinRate:   s.WinRate(),
		AvgPnLPct: s.AvgPnLPct,
		BestPct:   s.BestPct,
		WorstPct:  s.WorstPct,
		ByReason:  s.ByReason,
	}
}

type snapshotView struct {
	Timestamp      time.Time `json:"timestamp"`
	BaseReserve    float64   `json:"base_reserve"`
	QuoteReserve   float64   `json:"quote_reserve"`
	Price          float64   `json:"price"`
	TVL            float64   `json:"tvl"`
	PriceChangePct float64   `json:"price_change_pct"`
	TVLChangePct   float64   `json:"tvl_change_pct"`
}

func newSnapshotView(s domain.MetricsSnapshot) snapshotView {
	return snapshotView{
		Timestamp:      s.Timestamp,
		BaseReserve:    s.BaseReserve,
		QuoteReserve:   s.QuoteReserve,
		Price:          s.Price,
		TVL:            s.TVL,
		PriceChangePct: s.PriceChangePct,
		TVLChangePct:   s.TVLChangePct,
	}
}
