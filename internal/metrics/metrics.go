// Package metrics provides Prometheus instrumentation for the round engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts accepted stakes, partitioned by kind (UP, DOWN, PRECISION).
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_bets_total",
		Help: "Total number of accepted bets and predictions",
	}, []string{"kind"})

	// StakeVolume tracks cumulative staked stroops by kind.
	StakeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_stake_volume_stroops_total",
		Help: "Cumulative staked amount in stroops",
	}, []string{"kind"})

	// RoundsCreated counts rounds opened, by mode.
	RoundsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_rounds_created_total",
		Help: "Total rounds created",
	}, []string{"mode"})

	// RoundsResolved counts resolutions by outcome.
	RoundsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_rounds_resolved_total",
		Help: "Total rounds resolved",
	}, []string{"outcome"})

	// PayoutVolume tracks stroops accrued into pending winnings, by kind (win, refund).
	PayoutVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_payout_volume_stroops_total",
		Help: "Cumulative amount accrued into pending winnings",
	}, []string{"kind"})

	// SettlementDust tracks stroops left undistributed by floor division.
	SettlementDust = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xelma_settlement_dust_stroops_total",
		Help: "Cumulative losing-pool remainder not paid out",
	})

	// ClaimsTotal counts claims that moved a non-zero amount.
	ClaimsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xelma_claims_total",
		Help: "Total non-empty winnings claims",
	})

	// ContractErrors counts rejected operations by error code.
	ContractErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_contract_errors_total",
		Help: "Contract operations rejected, by error code",
	}, []string{"code"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xelma_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// ArchiveFailures counts settlement receipts that failed to upload.
	ArchiveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xelma_archive_failures_total",
		Help: "Settlement receipts that could not be archived",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xelma_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xelma_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern labels by chi route pattern, so per-user paths share a series.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// RegisterActiveRound exports xelma_active_round, evaluating fn on every
// scrape so the value follows the shared store rather than this process.
func RegisterActiveRound(fn func() float64) error {
	return prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "xelma_active_round",
		Help: "1 when a round is active, 0 otherwise",
	}, fn))
}
