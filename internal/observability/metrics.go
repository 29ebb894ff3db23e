// Package observability exports Prometheus metrics for the pool watcher.
package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "poolwatch"

// Metrics holds every collector. It implements governor.Observer and
// monitor.Observer so both can report without importing Prometheus.
type Metrics struct {
	reg prometheus.Registerer
	gat prometheus.Gatherer

	// Governor
	QueueDepth    prometheus.Gauge
	InFlight      prometheus.Gauge
	Admitted      prometheus.Counter
	TaskErrors    prometheus.Counter
	Overloaded    prometheus.Gauge
	PoolsByState  *prometheus.GaugeVec
	PoolChanges   *prometheus.CounterVec
	Snapshots     prometheus.Counter
	FetchFailures *prometheus.CounterVec
	TVL           prometheus.Histogram

	// Trading
	PositionsOpened *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	PnLPct          prometheus.Histogram
	RugsDetected    prometheus.Counter

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors in reg. A nil reg uses a fresh registry,
// which keeps tests independent from the global default.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		gat: reg,

		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "governor", Name: "queue_depth",
			Help: "Requests waiting for admission",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "governor", Name: "in_flight",
			Help: "Requests currently executing",
		}),
		Admitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "admitted_total",
			Help: "Requests admitted by the governor",
		}),
		TaskErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "governor", Name: "task_errors_total",
			Help: "Admitted requests that returned an error",
		}),
		Overloaded: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "governor", Name: "overloaded",
			Help: "1 while the governor has been saturated past the overload threshold",
		}),
		PoolsByState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pools", Name: "by_state",
			Help: "Tracked pools per lifecycle state",
		}, []string{"state"}),
		PoolChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pools", Name: "transitions_total",
			Help: "Pool lifecycle transitions by target state",
		}, []string{"state"}),
		Snapshots: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pools", Name: "snapshots_total",
			Help: "Successful reserve polls",
		}),
		FetchFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pools", Name: "fetch_failures_total",
			Help: "Failed reserve polls by chain error kind",
		}, []string{"kind"}),
		TVL: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "pools", Name: "tvl_sol",
			Help:    "Observed pool TVL in quote units",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		PositionsOpened: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "positions_opened_total",
			Help: "Simulated positions opened",
		}, []string{"re_entry"}),
		PositionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "positions_closed_total",
			Help: "Simulated positions closed by exit reason",
		}, []string{"reason"}),
		PnLPct: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "trading", Name: "pnl_pct",
			Help:    "Realized PnL percent per closed position",
			Buckets: []float64{-50, -30, -10, -5, 0, 5, 10, 25, 50, 100},
		}),
		RugsDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trading", Name: "rugs_detected_total",
			Help: "Liquidity collapses detected",
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "route"}),
	}
}

// GaugeFunc registers a gauge sampled at scrape time (WS clients, recorder drops...).
func (m *Metrics) GaugeFunc(subsystem, name, help string, fn func() float64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
	}, fn)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gat, promhttp.HandlerOpts{})
}

// --- governor.Observer ---

func (m *Metrics) SetQueueDepth(n int) { m.QueueDepth.Set(float64(n)) }
func (m *Metrics) SetInFlight(n int)   { m.InFlight.Set(float64(n)) }
func (m *Metrics) IncAdmitted()        { m.Admitted.Inc() }
func (m *Metrics) IncTaskError()       { m.TaskErrors.Inc() }

func (m *Metrics) SetOverloaded(overloaded bool) {
	if overloaded {
		m.Overloaded.Set(1)
		return
	}
	m.Overloaded.Set(0)
}

// --- monitor.Observer ---

func (m *Metrics) PoolChanged(rec domain.PoolRecord) {
	m.PoolChanges.WithLabelValues(string(rec.State)).Inc()
}

// SetPoolsByState publica el conteo actual; se llama desde el heartbeat.
func (m *Metrics) SetPoolsByState(counts map[domain.PoolState]int) {
	for _, s := range []domain.PoolState{
		domain.PoolPending, domain.PoolExists, domain.PoolReady, domain.PoolMonitoring,
	} {
		m.PoolsByState.WithLabelValues(string(s)).Set(float64(counts[s]))
	}
}

func (m *Metrics) SnapshotTaken(snap domain.MetricsSnapshot) {
	m.Snapshots.Inc()
	m.TVL.Observe(snap.TVL)
}

func (m *Metrics) FetchFailed(err error) {
	kind := "other"
	var ce *domain.ChainError
	switch {
	case errors.As(err, &ce):
		kind = string(ce.Kind)
	case errors.Is(err, domain.ErrZeroReserve), errors.Is(err, domain.ErrNonFinitePrice):
		kind = "invalid_reserves"
	}
	m.FetchFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) PositionEntered(pos domain.Position) {
	m.PositionsOpened.WithLabelValues(strconv.FormatBool(pos.IsReEntry)).Inc()
}

func (m *Metrics) PositionExited(rec domain.PositionExitRecord) {
	m.PositionsClosed.WithLabelValues(string(rec.Reason)).Inc()
	m.PnLPct.Observe(rec.PnLPct)
}

func (m *Metrics) RugDetected() { m.RugsDetected.Inc() }

// --- HTTP ---

// Middleware records request count and latency. route resolves the route
// pattern so ids in the path don't blow up cardinality.
func (m *Metrics) Middleware(route func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			path := route(r)
			m.HTTPRequests.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
			m.HTTPDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps websocket upgrades working behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer does not support hijacking")
	}
	return h.Hijack()
}
