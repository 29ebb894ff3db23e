package lifecycle_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/lifecycle"
	"github.com/stretchr/testify/assert"
)

func TestDeadlines_Fires(t *testing.T) {
	d := lifecycle.NewDeadlines()
	var fired atomic.Int64
	d.Schedule("p1", 10*time.Millisecond, func() { fired.Add(1) })

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, d.Pending())
}

func TestDeadlines_CancelPreventsFire(t *testing.T) {
	d := lifecycle.NewDeadlines()
	var fired atomic.Int64
	d.Schedule("p1", 30*time.Millisecond, func() { fired.Add(1) })

	assert.True(t, d.Cancel("p1"))
	assert.False(t, d.Cancel("p1"))
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}

func TestDeadlines_RescheduleReplaces(t *testing.T) {
	d := lifecycle.NewDeadlines()
	var first, second atomic.Int64
	d.Schedule("p1", 20*time.Millisecond, func() { first.Add(1) })
	d.Schedule("p1", 40*time.Millisecond, func() { second.Add(1) })
	assert.Equal(t, 1, d.Pending())

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestDeadlines_CancelAll(t *testing.T) {
	d := lifecycle.NewDeadlines()
	var fired atomic.Int64
	for _, id := range []string{"a", "b", "c"} {
		d.Schedule(id, 30*time.Millisecond, func() { fired.Add(1) })
	}
	assert.Equal(t, 3, d.CancelAll())
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
}
