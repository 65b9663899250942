package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"quiver/internal/game"
)

// Server is the HTTP API server with WebSocket support.
// It combines the HTTP router with WebSocket hub for real-time updates.
type Server struct {
	engine        *game.Engine
	router        *chi.Mux
	wsHub         *WebSocketHub
	broadcastRate int
}

// ServerOptions tunes the API server.
type ServerOptions struct {
	RateLimit     RateLimitConfig
	BroadcastRate int // snapshots per second pushed to viewers
}

// NewServer creates a new API server.
//
// Background workers do NOT start until Run is called, so the server can be
// constructed in tests and exercised through Router().
func NewServer(engine *game.Engine, opts ServerOptions) *Server {
	if opts.BroadcastRate <= 0 {
		opts.BroadcastRate = 10
	}
	s := &Server{
		engine:        engine,
		wsHub:         NewWebSocketHub(),
		broadcastRate: opts.BroadcastRate,
	}

	s.router = NewRouter(RouterConfig{
		Engine:          engine,
		RateLimitConfig: &opts.RateLimit,
	})
	s.router.Get("/ws", s.wsHub.HandleWebSocket)

	return s
}

// Router returns the HTTP handler for use with httptest.
func (s *Server) Router() http.Handler {
	return s.router
}

// Run serves HTTP on addr and runs the WebSocket hub until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	hubCtx, cancelHub := context.WithCancel(ctx)
	defer cancelHub()

	go s.wsHub.Run(hubCtx)
	go s.wsHub.BroadcastLoop(hubCtx, s.engine, time.Second/time.Duration(s.broadcastRate))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("🌐 API server starting on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	log.Println("🌐 API server stopped")
	return err
}
