package lifecycle

import (
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// TierPolicy asigna el tier de prioridad según el TVL del baseline y define
// el intervalo base de polling de cada tier.
type TierPolicy struct {
	HighTVL   float64
	MediumTVL float64

	HighInterval   time.Duration
	MediumInterval time.Duration
	LowInterval    time.Duration
}

// Classify: TVL > HighTVL → high, TVL > MediumTVL → medium, resto → low.
func (p TierPolicy) Classify(tvl float64) domain.PriorityTier {
	switch {
	case tvl > p.HighTVL:
		return domain.TierHigh
	case tvl > p.MediumTVL:
		return domain.TierMedium
	}
	return domain.TierLow
}

// Interval devuelve el intervalo base del tier.
func (p TierPolicy) Interval(tier domain.PriorityTier) time.Duration {
	switch tier {
	case domain.TierHigh:
		return p.HighInterval
	case domain.TierMedium:
		return p.MediumInterval
	}
	return p.LowInterval
}
