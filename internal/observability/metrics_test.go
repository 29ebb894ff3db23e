package observability_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/alejandrodnm/poolwatch/internal/observability"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_GovernorObserver(t *testing.T) {
	m := observability.New(nil)

	m.SetQueueDepth(7)
	m.SetInFlight(3)
	m.IncAdmitted()
	m.IncAdmitted()
	m.IncTaskError()
	m.SetOverloaded(true)

	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InFlight))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Admitted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Overloaded))

	m.SetOverloaded(false)
	assert.Zero(t, testutil.ToFloat64(m.Overloaded))
}

func TestMetrics_FetchFailuresByKind(t *testing.T) {
	m := observability.New(nil)

	m.FetchFailed(domain.NewChainError(domain.ChainTimeout, "addr", fmt.Errorf("slow")))
	m.FetchFailed(fmt.Errorf("fetcher: %w", domain.NewChainError(domain.ChainTimeout, "addr", nil)))
	m.FetchFailed(fmt.Errorf("metrics: %w", domain.ErrZeroReserve))
	m.FetchFailed(fmt.Errorf("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues(string(domain.ChainTimeout))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("invalid_reserves")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchFailures.WithLabelValues("other")))
}

func TestMetrics_TradingAndPools(t *testing.T) {
	m := observability.New(nil)

	m.PoolChanged(domain.PoolRecord{State: domain.PoolMonitoring})
	m.SnapshotTaken(domain.MetricsSnapshot{TVL: 42})
	m.PositionEntered(domain.Position{IsReEntry: true})
	m.PositionExited(domain.PositionExitRecord{Reason: domain.ExitRug, PnLPct: -40})
	m.RugDetected()
	m.SetPoolsByState(map[domain.PoolState]int{domain.PoolMonitoring: 4})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.PoolChanges.WithLabelValues("monitoring")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Snapshots))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsOpened.WithLabelValues("true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PositionsClosed.WithLabelValues("rug")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RugsDetected))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.PoolsByState.WithLabelValues("monitoring")))
	assert.Zero(t, testutil.ToFloat64(m.PoolsByState.WithLabelValues("pending")))
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	m := observability.New(nil)
	m.GaugeFunc("ws", "clients", "connected clients", func() float64 { return 5 })

	h := m.Middleware(func(*http.Request) string { return "/pools/{id}" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/pools/abc", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/pools/{id}", "404")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "poolwatch_ws_clients 5")
	assert.Contains(t, string(body), `poolwatch_http_requests_total{method="GET",route="/pools/{id}",status="404"} 1`)
}
