package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrZeroReserve is returned when one side of the pool holds nothing.
	ErrZeroReserve = errors.New("zero reserve")
	// ErrNonFinitePrice is returned when the derived price is NaN, Inf or not positive.
	ErrNonFinitePrice = errors.New("non-finite price")
)

// Reserves is the raw vault state of a pool at one point in time.
type Reserves struct {
	BaseRaw       uint64
	QuoteRaw      uint64
	BaseDecimals  uint8
	QuoteDecimals uint8
}

// MetricsSnapshot is produced once per successful poll. Immutable.
type MetricsSnapshot struct {
	PoolID          string
	Timestamp       time.Time
	BaseReserve     float64
	QuoteReserve    float64
	BaseReserveRaw  uint64
	QuoteReserveRaw uint64
	Price           float64
	TVL             float64
	PriceChangePct  float64
	TVLChangePct    float64
	HasReference    bool // false → change fields are zero because there was nothing to compare against
}

// ScaleAmount converts a raw token amount into UI units (raw / 10^decimals).
func ScaleAmount(raw uint64, decimals uint8) float64 {
	return float64(raw) / math.Pow10(int(decimals))
}

// PercentChange returns (current-previous)/previous × 100, or 0 when previous is 0.
func PercentChange(previous, current float64) float64 {
	if previous == 0 {
		return 0
	}
	return (current - previous) / previous * 100
}

// ComputeMetrics derives price, TVL and the change against prev (if any).
// price = quote/base, TVL = quote reserve. Pure: it never mutates prev.
func ComputeMetrics(poolID string, r Reserves, prev *MetricsSnapshot, at time.Time) (MetricsSnapshot, error) {
	if r.BaseRaw == 0 || r.QuoteRaw == 0 {
		return MetricsSnapshot{}, fmt.Errorf("domain.ComputeMetrics %s: %w (base=%d quote=%d)",
			poolID, ErrZeroReserve, r.BaseRaw, r.QuoteRaw)
	}

	base := ScaleAmount(r.BaseRaw, r.BaseDecimals)
	quote := ScaleAmount(r.QuoteRaw, r.QuoteDecimals)
	price := quote / base
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return MetricsSnapshot{}, fmt.Errorf("domain.ComputeMetrics %s: %w (%v)", poolID, ErrNonFinitePrice, price)
	}

	snap := MetricsSnapshot{
		PoolID:          poolID,
		Timestamp:       at,
		BaseReserve:     base,
		QuoteReserve:    quote,
		BaseReserveRaw:  r.BaseRaw,
		QuoteReserveRaw: r.QuoteRaw,
		Price:           price,
		TVL:             quote,
	}
	if prev != nil {
		snap.PriceChangePct = PercentChange(prev.Price, price)
		snap.TVLChangePct = PercentChange(prev.TVL, quote)
		snap.HasReference = true
	}
	return snap, nil
}

// ReferenceSnapshot builds a comparison point from a stored price/TVL pair.
func ReferenceSnapshot(poolID string, price, tvl float64) *MetricsSnapshot {
	return &MetricsSnapshot{PoolID: poolID, Price: price, TVL: tvl}
}
