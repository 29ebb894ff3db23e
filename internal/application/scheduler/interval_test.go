package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func policy() IntervalPolicy {
	return IntervalPolicy{
		Min: 500 * time.Millisecond, Max: 10 * time.Second,
		MaxBackoff: 30 * time.Second, Multiplier: 1.5,
		VolatilePricePct: 5, VolatileTVLPct: 10, CalmPricePct: 1, CalmTVLPct: 2,
	}
}

func TestOnFailure_BackoffUncapped(t *testing.T) {
	// 1000ms × 1.5^6 = 11390.625ms
	got := policy().OnFailure(time.Second, 6)
	assert.Equal(t, 11390625*time.Microsecond, got)
}

func TestOnFailure_Capped(t *testing.T) {
	assert.Equal(t, 30*time.Second, policy().OnFailure(time.Second, 20))
	assert.Equal(t, 30*time.Second, policy().OnFailure(time.Second, 10_000))
}

func TestOnSuccess_VolatileHalvesWithFloor(t *testing.T) {
	p := policy()
	assert.Equal(t, time.Second, p.OnSuccess(2*time.Second, 2*time.Second, false, 6, 0))
	assert.Equal(t, time.Second, p.OnSuccess(2*time.Second, 2*time.Second, false, 0, -11))
	assert.Equal(t, 500*time.Millisecond, p.OnSuccess(600*time.Millisecond, 2*time.Second, false, 20, 0))
}

func TestOnSuccess_CalmDoublesWithCeiling(t *testing.T) {
	p := policy()
	assert.Equal(t, 4*time.Second, p.OnSuccess(2*time.Second, 2*time.Second, false, 0.5, 1))
	assert.Equal(t, 10*time.Second, p.OnSuccess(8*time.Second, 2*time.Second, false, 0, 0))
}

func TestOnSuccess_OtherwiseResetsToBase(t *testing.T) {
	assert.Equal(t, 2*time.Second, policy().OnSuccess(8*time.Second, 2*time.Second, false, 3, 0))
}

func TestOnSuccess_RecoveringStartsFromBase(t *testing.T) {
	// Venía de un backoff de 11s: se parte del base, no del backoff.
	got := policy().OnSuccess(11*time.Second, 2*time.Second, true, 0, 0)
	assert.Equal(t, 4*time.Second, got)
}

func TestDueQueue_PopDueRespectsBatchAndTime(t *testing.T) {
	var q dueQueue
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		q.schedule(&item{poolID: id, index: -1}, t0.Add(time.Duration(i)*time.Second))
	}

	got := q.popDue(t0.Add(10*time.Second), 3)
	assert.Len(t, got, 3)
	assert.Equal(t, "a", got[0].poolID)
	assert.Equal(t, "c", got[2].poolID)

	assert.Empty(t, q.popDue(t0, 3), "d and e not due yet")
	assert.Len(t, q.popDue(t0.Add(4*time.Second), 3), 2)
}

func TestDueQueue_RescheduleAndRemove(t *testing.T) {
	var q dueQueue
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &item{poolID: "a", index: -1}
	b := &item{poolID: "b", index: -1}
	q.schedule(a, t0)
	q.schedule(b, t0.Add(time.Second))

	q.schedule(a, t0.Add(2*time.Second))
	got := q.popDue(t0.Add(time.Second), 5)
	assert.Len(t, got, 1)
	assert.Equal(t, "b", got[0].poolID)

	q.remove(a)
	assert.Zero(t, q.Len())
}
