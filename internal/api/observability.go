package api

import (
	"log"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"quiver/internal/game"
	"quiver/internal/resolver"
)

// Metrics with bounded cardinality (no per-wielder labels to prevent DoS)
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "quiver_tick_duration_seconds",
		Help:    "Time spent in one engine tick",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
	})

	shotsFired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_shots_fired_total",
		Help: "Arrows fired",
	})

	shotsDeclined = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_shots_declined_total",
		Help: "Releases that fired nothing",
	}, []string{"reason"}) // Bounded: "pool_exhausted", "disposed"

	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_hits_total",
		Help: "Arrows that struck something",
	}, []string{"kind"}) // Bounded: "character", "static"

	kills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_kills_total",
		Help: "Characters killed by arrows",
	})

	reclaims = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_reclaims_total",
		Help: "Arrows returned to their pool, by resolution path",
	}, []string{"path"})

	arrowLifetime = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_arrow_lifetime_seconds",
		Help:    "Virtual time from fire to reclaim",
		Buckets: []float64{0.1, 0.5, 1, 2, 4, 8, 10, 12},
	}, []string{"path"})

	poolOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "quiver_pool_slots",
		Help: "Pool slots across all wielders, by state",
	}, []string{"state"})

	wielderCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_wielder_count",
		Help: "Current number of wielders",
	})

	// DoS detection metrics - use ONLY bounded label values
	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"}) // Bounded: "rate_limit", "wielder_rate_limit", "origin", "ws_total_limit", "ws_ip_limit"

	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quiver_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"}) // endpoint is the route pattern, not the URL

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quiver_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quiver_websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quiver_websocket_messages_total",
		Help: "Total WebSocket broadcasts sent",
	})
)

// EngineCallbacks returns engine observers that feed the metrics above.
func EngineCallbacks() game.Callbacks {
	return game.Callbacks{
		OnFire: func(string) { shotsFired.Inc() },
		OnDeclined: func(_ string, reason string) {
			shotsDeclined.WithLabelValues(declineLabel(reason)).Inc()
		},
		OnHit: func(_ string, _ string, character bool) {
			kind := "static"
			if character {
				kind = "character"
			}
			hitsTotal.WithLabelValues(kind).Inc()
		},
		OnReclaim: func(_ string, path resolver.Path, lifetime time.Duration) {
			reclaims.WithLabelValues(string(path)).Inc()
			arrowLifetime.WithLabelValues(string(path)).Observe(lifetime.Seconds())
		},
		OnDeath: func(string, string) { kills.Inc() },
		OnTick:  RecordTick,
	}
}

func declineLabel(reason string) string {
	if reason == game.DeclineReasonPoolExhausted {
		return reason
	}
	return "other"
}

// RecordTick records tick timing for metrics
func RecordTick(duration time.Duration) {
	tickDuration.Observe(duration.Seconds())
}

// UpdateSnapshotGauges refreshes gauges derived from a published snapshot.
func UpdateSnapshotGauges(snap *game.GameSnapshot) {
	var total game.PoolStats
	for _, w := range snap.Wielders {
		total.Pooled += w.Pool.Pooled
		total.InFlight += w.Pool.InFlight
		total.Attached += w.Pool.Attached
		total.Destroyed += w.Pool.Destroyed
	}
	poolOccupancy.WithLabelValues("pooled").Set(float64(total.Pooled))
	poolOccupancy.WithLabelValues("in_flight").Set(float64(total.InFlight))
	poolOccupancy.WithLabelValues("attached").Set(float64(total.Attached))
	poolOccupancy.WithLabelValues("destroyed").Set(float64(total.Destroyed))
	wielderCount.Set(float64(snap.WielderCount))
}

// RecordConnectionRejected increments the rejection counter
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware labels requests with the matched chi route pattern so
// the endpoint label stays bounded.
func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				endpoint = p
			}
		}
		RecordRequest(r.Method, endpoint, rec.status, time.Since(start))
	})
}

// ObservabilityConfig configures the debug server
type ObservabilityConfig struct {
	Enabled       bool
	ListenAddr    string // Keep on loopback; pprof must not be reachable externally
	BasicAuthUser string // Optional basic auth
	BasicAuthPass string
}

// DefaultObservabilityConfig returns safe defaults
func DefaultObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		Enabled:    true,
		ListenAddr: "127.0.0.1:6060",
	}
}

// NewDebugHandler serves pprof, Prometheus metrics and a health check.
func NewDebugHandler(cfg ObservabilityConfig) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	if cfg.BasicAuthUser != "" {
		return basicAuthMiddleware(cfg.BasicAuthUser, cfg.BasicAuthPass, mux)
	}
	return mux
}

// NewDebugServer builds the observability server. It returns nil when the
// debug server is disabled. The caller owns ListenAndServe and Shutdown.
func NewDebugServer(cfg ObservabilityConfig) *http.Server {
	if !cfg.Enabled {
		log.Println("📊 Debug server disabled")
		return nil
	}
	log.Printf("📊 Debug server on %s (pprof at /debug/pprof/, metrics at /metrics)", cfg.ListenAddr)
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewDebugHandler(cfg),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// basicAuthMiddleware adds basic authentication to the handler
func basicAuthMiddleware(user, pass string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			w.Header().Set("WWW-Authenticate", `Basic realm="debug"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
