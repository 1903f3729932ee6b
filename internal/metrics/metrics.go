// Package metrics provides Prometheus instrumentation for the game engine.
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
	// CommandsTotal counts handled commands by name and result
	// (ok, rejected, cooldown, error).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_commands_total",
		Help: "Total chat commands handled",
	}, []string{"command", "result"})

	// CommandLatency tracks command handling time.
	CommandLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_command_latency_seconds",
		Help:    "Command handling latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	// TradesTotal counts completed trades, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_trades_total",
		Help: "Total number of trades executed",
	}, []string{"side"})

	// TradeVolume tracks cumulative traded value in USD.
	TradeVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_trade_volume_usd_total",
		Help: "Cumulative trade value in USD",
	}, []string{"symbol", "side"})

	// WagersTotal counts settled mini-game wagers by game and outcome.
	WagersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_wagers_total",
		Help: "Total wagers settled",
	}, []string{"game", "outcome"})

	// PredictionsSettled counts predictions reaching a terminal state.
	PredictionsSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_predictions_settled_total",
		Help: "Predictions settled, by terminal status",
	}, []string{"status"})

	// OpenPredictions tracks predictions awaiting resolution.
	OpenPredictions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_open_predictions",
		Help: "Number of predictions awaiting resolution",
	})

	// PriceRefreshes counts provider refresh attempts by result.
	PriceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_price_refreshes_total",
		Help: "Price provider refresh attempts",
	}, []string{"result"})

	PriceRefreshLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "game_price_refresh_latency_seconds",
		Help:    "Price provider request latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	// CachedSymbols tracks how many symbols have a cached price.
	CachedSymbols = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_cached_symbols",
		Help: "Number of symbols with a cached price",
	})

	// CooldownRejections counts commands refused by the cooldown guard.
	CooldownRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_cooldown_rejections_total",
		Help: "Commands rejected by cooldown",
	}, []string{"action"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "game_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "game_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "game_http_request_duration_seconds",
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

		// Route pattern keeps label cardinality bounded.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
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

// Hijack lets websocket upgrades pass through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
