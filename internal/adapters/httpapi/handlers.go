package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/adapters/discovery"
	"github.com/alejandrodnm/poolwatch/internal/application/lifecycle"
	"github.com/alejandrodnm/poolwatch/internal/application/monitor"
	"github.com/go-chi/chi/v5"
)

const maxBody = 64 * 1024

// GET /health
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.mon.Health())
}

// GET /pools
func (s *Server) listPools(w http.ResponseWriter, _ *http.Request) {
	pools := s.mon.Pools()
	sort.Slice(pools, func(i, j int) bool { return pools[i].DiscoveredAt.Before(pools[j].DiscoveredAt) })

	now := s.now()
	out := make([]poolView, 0, len(pools))
	for _, p := range pools {
		out = append(out, newPoolView(p, now))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /pools/{poolID}
func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	p, ok := s.mon.Pool(chi.URLParam(r, "poolID"))
	if !ok {
		writeError(w, "pool not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, newPoolView(p, s.now()))
}

// GET /pools/{poolID}/snapshots?from=RFC3339&to=RFC3339 (default: última hora)
func (s *Server) getSnapshots(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "storage disabled", http.StatusServiceUnavailable)
		return
	}
	to := s.now()
	from := to.Add(-time.Hour)
	var err error
	if v := r.URL.Query().Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, "invalid from: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			writeError(w, "invalid to: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if to.Before(from) {
		writeError(w, "to must not be before from", http.StatusBadRequest)
		return
	}

	snaps, err := s.store.GetSnapshots(r.Context(), chi.URLParam(r, "poolID"), from, to)
	if err != nil {
		slog.Warn("http: get snapshots failed", "err", err)
		writeError(w, "storage error", http.StatusInternalServerError)
		return
	}
	out := make([]snapshotView, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, newSnapshotView(snap))
	}
	writeJSON(w, http.StatusOK, out)
}

// DELETE /pools/{poolID}
func (s *Server) stopPool(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "poolID")
	if err := s.mon.StopPool(id); err != nil {
		if errors.Is(err, lifecycle.ErrUnknownPool) {
			writeError(w, "pool not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	p, _ := s.mon.Pool(id)
	writeJSON(w, http.StatusOK, newPoolView(p, s.now()))
}

// GET /positions
func (s *Server) listPositions(w http.ResponseWriter, _ *http.Request) {
	positions := s.mon.Positions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].EntryTime.Before(positions[j].EntryTime) })

	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		view := newPositionView(p)
		if pool, ok := s.mon.Pool(p.PoolID); ok && pool.LastPrice > 0 {
			change := p.ChangePct(pool.LastPrice)
			view.LastPrice = pool.LastPrice
			view.UnrealizedPct = &change
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /trades
func (s *Server) listTrades(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "storage disabled", http.StatusServiceUnavailable)
		return
	}
	trades, err := s.store.GetTrades(r.Context())
	if err != nil {
		slog.Warn("http: get trades failed", "err", err)
		writeError(w, "storage error", http.StatusInternalServerError)
		return
	}
	out := make([]tradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, newTradeView(t))
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /trades/stats
func (s *Server) tradeStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, "storage disabled", http.StatusServiceUnavailable)
		return
	}
	stats, err := s.store.GetTradeStats(r.Context())
	if err != nil {
		slog.Warn("http: get trade stats failed", "err", err)
		writeError(w, "storage error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newStatsView(stats))
}

// POST /discoveries
func (s *Server) discover(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	ev, err := discovery.ParseEvent(body)
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	rec, added, err := s.mon.Discover(r.Context(), ev)
	switch {
	case errors.Is(err, monitor.ErrStopped):
		writeError(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil && !added:
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		// Registrado pero el baseline no arrancó: el pool existe igual.
		slog.Warn("http: discovery accepted with error", "pool", ev.PoolID, "err", err)
	}

	status := http.StatusCreated
	if !added {
		status = http.StatusOK
	}
	writeJSON(w, status, newPoolView(rec, s.now()))
}

// POST /stop
func (s *Server) emergencyStop(w http.ResponseWriter, _ *http.Request) {
	report := s.mon.EmergencyStop()
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("http: write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
