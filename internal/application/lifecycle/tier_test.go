package lifecycle_test

import (
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/lifecycle"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestTierPolicy_ClassifyBoundaries(t *testing.T) {
	p := lifecycle.TierPolicy{HighTVL: 100, MediumTVL: 20}

	assert.Equal(t, domain.TierHigh, p.Classify(100.01))
	assert.Equal(t, domain.TierMedium, p.Classify(100), "threshold itself is not high")
	assert.Equal(t, domain.TierMedium, p.Classify(20.5))
	assert.Equal(t, domain.TierLow, p.Classify(20))
	assert.Equal(t, domain.TierLow, p.Classify(0))
}

func TestTierPolicy_Interval(t *testing.T) {
	p := lifecycle.TierPolicy{HighInterval: time.Second, MediumInterval: 3 * time.Second, LowInterval: 10 * time.Second}

	assert.Equal(t, time.Second, p.Interval(domain.TierHigh))
	assert.Equal(t, 3*time.Second, p.Interval(domain.TierMedium))
	assert.Equal(t, 10*time.Second, p.Interval(domain.TierLow))
	assert.Equal(t, 10*time.Second, p.Interval(""))
}
