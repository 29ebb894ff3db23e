package scheduler

import (
	"math"
	"time"
)

// IntervalPolicy decide el próximo intervalo de polling de un pool.
type IntervalPolicy struct {
	Min        time.Duration // piso al acelerar
	Max        time.Duration // techo al desacelerar
	MaxBackoff time.Duration
	Multiplier float64

	VolatilePricePct float64 // |Δprice| > esto → acelerar
	VolatileTVLPct   float64 // |ΔTVL| > esto → acelerar
	CalmPricePct     float64 // |Δprice| < esto y |ΔTVL| < CalmTVLPct → desacelerar
	CalmTVLPct       float64
}

// OnSuccess calcula el intervalo tras una lectura correcta. priceDelta y
// tvlDelta son cambios porcentuales respecto de la lectura anterior.
// Si el pool venía de errores se parte del intervalo base del tier.
func (p IntervalPolicy) OnSuccess(current, base time.Duration, recovering bool, priceDelta, tvlDelta float64) time.Duration {
	if recovering || current <= 0 {
		current = base
	}
	absP, absT := math.Abs(priceDelta), math.Abs(tvlDelta)

	switch {
	case absP > p.VolatilePricePct || absT > p.VolatileTVLPct:
		next := current / 2
		if next < p.Min {
			next = p.Min
		}
		return next
	case absP < p.CalmPricePct && absT < p.CalmTVLPct:
		next := current * 2
		if next > p.Max {
			next = p.Max
		}
		return next
	}
	return base
}

// OnFailure devuelve min(MaxBackoff, base × Multiplier^errors).
func (p IntervalPolicy) OnFailure(base time.Duration, consecutiveErrors int) time.Duration {
	backoff := float64(base) * math.Pow(p.Multiplier, float64(consecutiveErrors))
	if backoff >= float64(p.MaxBackoff) || math.IsInf(backoff, 0) {
		return p.MaxBackoff
	}
	return time.Duration(backoff)
}
