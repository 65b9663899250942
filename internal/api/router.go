package api

import (
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/game"
	"quiver/internal/render"
)

// EngineInterface defines the engine methods used by the API.
// *game.Engine satisfies it; tests may substitute their own.
type EngineInterface interface {
	// Snapshot returns the latest published state without locking.
	Snapshot() *game.GameSnapshot
	// Pools returns pool occupancy per wielder.
	Pools() map[string]game.PoolStats

	AddWielder(name string, pos mgl64.Vec3) (game.WielderSnapshot, error)
	AddTarget(name string, pos mgl64.Vec3, health float64) (game.TargetSnapshot, error)
	Wielder(name string) (game.WielderSnapshot, error)

	Draw(name string) error
	Release(name string, origin *mgl64.Vec3, direction mgl64.Vec3) (game.ReleaseResult, error)
	Abort(name string) (bool, error)
	Respawn(name string) error

	GetEventLogStats() map[string]interface{}
	RecentEvents(n int) []game.Event
}

// RouterConfig contains all dependencies needed to construct the HTTP router.
//
// Example usage in tests:
//
//	router := api.NewRouter(api.RouterConfig{
//	    Engine: game.NewEngine(game.DefaultEngineConfig()),
//	    RateLimitConfig: &api.RateLimitConfig{
//	        RequestsPerSecond: 1000,
//	        Burst:             1000,
//	    },
//	})
//	ts := httptest.NewServer(router)
type RouterConfig struct {
	// Engine is the game engine (required)
	Engine EngineInterface

	// RateLimitConfig sizes the per-IP and per-wielder limiters.
	// DefaultRateLimitConfig applies when nil.
	RateLimitConfig *RateLimitConfig

	// CORSOrigins replaces the loopback origin policy of IsAllowedOrigin.
	CORSOrigins []string

	// DisableLogging disables the request logger middleware (useful for benchmarks).
	DisableLogging bool
}

type routerHandlers struct {
	engine EngineInterface

	renderMu sync.Mutex
	renderer *render.Renderer
}

// NewRouter constructs the HTTP router with all middleware and routes.
//
// NewRouter has no side effects: no listeners are opened, no goroutines are
// started and the engine is not started, so it is safe to use with
// httptest.NewServer.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware - Order matters!
	r.Use(middleware.RealIP)
	if !cfg.DisableLogging {
		r.Use(middleware.Logger)
	}
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	limits := DefaultRateLimitConfig
	if cfg.RateLimitConfig != nil {
		limits = *cfg.RateLimitConfig
	}
	// Rate limiting (BEFORE CORS to reject early and save CPU)
	r.Use(NewKeyedLimiter(limits.RequestsPerSecond, limits.Burst, limits.IdleTTL).ByClientIP)
	actions := NewKeyedLimiter(limits.ActionsPerSecond, limits.ActionBurst, limits.IdleTTL)

	corsOpts := cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	}
	if cfg.CORSOrigins == nil {
		corsOpts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
			return IsAllowedOrigin(origin)
		}
	}
	r.Use(cors.Handler(corsOpts))

	h := &routerHandlers{
		engine:   cfg.Engine,
		renderer: render.New(render.DefaultConfig()),
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", h.handleGetState)
		r.Get("/pool", h.handleGetPool)
		r.Get("/range.png", h.handleGetRangeImage)
		r.Get("/events", h.handleGetEventStats)
		r.Get("/events/recent", h.handleGetRecentEvents)

		r.Post("/wielders", h.handleWielderJoin)
		r.Route("/wielders/{name}", func(r chi.Router) {
			r.Get("/", h.handleGetWielder)
			r.Post("/respawn", h.handleRespawn)
			r.Group(func(r chi.Router) {
				r.Use(actions.ByWielder)
				r.Post("/draw", h.handleDraw)
				r.Post("/release", h.handleRelease)
				r.Post("/abort", h.handleAbort)
			})
		})

		r.Post("/targets", h.handleTargetSpawn)
		r.Post("/targets/{name}/respawn", h.handleRespawn)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
