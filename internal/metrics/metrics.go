// Package metrics provides Prometheus instrumentation for the exchange.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders admitted, partitioned by side and token type.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robet_orders_total",
		Help: "Total number of orders admitted",
	}, []string{"side", "token_type"})

	// TradesTotal counts total trades executed, partitioned by token type.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robet_trades_total",
		Help: "Total number of trades executed",
	}, []string{"token_type"})

	// MatchLatency is a histogram of MatchTaker wall-clock duration.
	MatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robet_match_latency_seconds",
		Help:    "Matching engine taker-loop latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"token_type"})

	// ActiveMarkets tracks the number of currently unsettled markets.
	ActiveMarkets = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "robet_active_markets",
		Help: "Number of currently unsettled markets",
	})

	// SettlementsTotal counts markets settled, partitioned by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robet_settlements_total",
		Help: "Total number of markets settled",
	}, []string{"outcome"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "robet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// MarketVolume tracks cumulative trade volume (quantity) per market.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robet_market_volume_total",
		Help: "Cumulative trade volume in shares",
	}, []string{"market_id", "token_type"})

	// RiskLimitRejections counts orders rejected by the risk limiter.
	RiskLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "robet_risk_limit_rejections_total",
		Help: "Orders rejected by the risk limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "robet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "robet_http_request_duration_seconds",
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

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
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
