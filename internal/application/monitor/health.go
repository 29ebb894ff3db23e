package monitor

import (
	"log/slog"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/engine/paper"
	"github.com/alejandrodnm/poolwatch/internal/application/governor"
	"github.com/alejandrodnm/poolwatch/internal/application/scheduler"
	"github.com/alejandrodnm/poolwatch/internal/domain"
)

// Health es el heartbeat del proceso.
type Health struct {
	Status          string                   `json:"status"`
	Uptime          string                   `json:"uptime"`
	PoolsDiscovered int64                    `json:"pools_discovered"`
	ActivePools     int                      `json:"active_pools"`
	PoolsByState    map[domain.PoolState]int `json:"pools_by_state"`
	Baselines       int                      `json:"baselines_in_progress"`
	Deadlines       int                      `json:"deadlines"`
	Governor        *governor.Stats          `json:"governor,omitempty"`
	Scheduler       scheduler.Stats          `json:"scheduler"`
	Trading         paper.Summary            `json:"trading"`
}

// Health devuelve una foto del estado del monitor.
func (m *Monitor) Health() Health {
	h := Health{
		Status:          "ok",
		Uptime:          m.now().Sub(m.started).Round(time.Second).String(),
		PoolsDiscovered: m.discovered.Load(),
		ActivePools:     m.registry.Len(),
		PoolsByState:    m.registry.CountByState(),
		Baselines:       m.baseline.InProgress(),
		Deadlines:       m.deadlines.Pending(),
		Scheduler:       m.scheduler.Stats(),
		Trading:         m.engine.Summary(),
	}
	if m.gov != nil {
		gs := m.gov.Stats()
		h.Governor = &gs
		if gs.Overloaded {
			h.Status = "overloaded"
		}
	}
	if m.stopped.Load() {
		h.Status = "stopped"
	}
	return h
}

// stateGauge lo implementan los observers que exportan el conteo por estado.
type stateGauge interface {
	SetPoolsByState(counts map[domain.PoolState]int)
}

func (m *Monitor) logHealth() {
	h := m.Health()
	if g, ok := m.observer.(stateGauge); ok {
		g.SetPoolsByState(h.PoolsByState)
	}
	args := []any{
		"status", h.Status,
		"uptime", h.Uptime,
		"discovered", h.PoolsDiscovered,
		"active", h.ActivePools,
		"monitoring", h.PoolsByState[domain.PoolMonitoring],
		"baselines", h.Baselines,
		"open_positions", h.Trading.OpenPositions,
		"trades", h.Trading.Trades,
		"balance", h.Trading.Balance,
	}
	if h.Governor != nil {
		args = append(args, "queued", h.Governor.Queued, "in_flight", h.Governor.InFlight)
	}
	slog.Info("health", args...)
}
