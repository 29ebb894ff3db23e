package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alejandrodnm/poolwatch/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWiring_FromDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("{}"))
	require.NoError(t, err)

	pc := paperConfig(cfg)
	assert.True(t, pc.Enabled)
	assert.Equal(t, 30*time.Minute, pc.Entry.MaxHold)
	assert.Equal(t, 15*time.Minute, pc.ReEntry.MaxHold)
	assert.Equal(t, -30.0, pc.CollapsePct)
	assert.True(t, pc.Trailing.Enabled)

	mc := monitorConfig(cfg)
	assert.Equal(t, 30*time.Minute, mc.Window)
	assert.Equal(t, 10*time.Minute, mc.Extension)
	assert.Equal(t, time.Second, mc.Tiers.HighInterval)
	assert.Equal(t, 5*time.Second, mc.Tiers.LowInterval)
	assert.Equal(t, 20*time.Second, mc.Retry.YoungSpacing)
	assert.Equal(t, 3, mc.Scheduler.BatchSize)

	gc := governorConfig(cfg)
	assert.Equal(t, 8, gc.MaxRequestsPerSecond)
	assert.Equal(t, 3, gc.MaxConcurrentRequests)
}

func TestWatchStopFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), stopFile)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan struct{})
	go watchStopFile(ctx, path, 5*time.Millisecond, func() { close(fired) })

	require.NoError(t, os.WriteFile(path, nil, 0o644))
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("stop callback not called")
	}
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "STOP file is removed")
}

func TestDiscoverySource(t *testing.T) {
	assert.Nil(t, discoverySource(options{}))
	assert.NotNil(t, discoverySource(options{dryRun: true}))
	assert.NotNil(t, discoverySource(options{discoveries: "pools.jsonl"}))
}
