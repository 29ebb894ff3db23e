package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/application/monitor"
	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/alejandrodnm/poolwatch/internal/ports"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Monitor es lo que la API necesita del orquestador.
type Monitor interface {
	Health() monitor.Health
	Pools() []domain.PoolRecord
	Pool(poolID string) (domain.PoolRecord, bool)
	Positions() []domain.Position
	Discover(ctx context.Context, ev domain.DiscoveryEvent) (domain.PoolRecord, bool, error)
	StopPool(poolID string) error
	EmergencyStop() monitor.StopReport
}

// Config agrupa las dependencias opcionales de la API.
type Config struct {
	Storage    ports.Storage // nil → /trades y /snapshots devuelven 503
	Metrics    http.Handler  // nil → sin /metrics
	WebSocket  http.Handler  // nil → sin /ws
	Middleware []func(http.Handler) http.Handler
}

// Server expone el monitor por HTTP.
type Server struct {
	mon   Monitor
	store ports.Storage
	now   func() time.Time
}

// NewRouter arma el router chi con todas las rutas.
func NewRouter(mon Monitor, cfg Config) http.Handler {
	s := &Server{mon: mon, store: cfg.Storage, now: func() time.Time { return time.Now().UTC() }}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		r.Use(mw)
	}

	r.Get("/health", s.health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}
	if cfg.WebSocket != nil {
		r.Handle("/ws", cfg.WebSocket)
	}

	r.Route("/pools", func(r chi.Router) {
		r.Get("/", s.listPools)
		r.Get("/{poolID}", s.getPool)
		r.Get("/{poolID}/snapshots", s.getSnapshots)
		r.Delete("/{poolID}", s.stopPool)
	})
	r.Get("/positions", s.listPositions)
	r.Get("/trades", s.listTrades)
	r.Get("/trades/stats", s.tradeStats)
	r.Post("/discoveries", s.discover)
	r.Post("/stop", s.emergencyStop)

	return r
}

// RoutePattern devuelve el patrón chi de la request ("/pools/{poolID}").
// Se usa como label de métricas.
func RoutePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
