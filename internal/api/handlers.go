package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-gl/mathgl/mgl64"

	"quiver/internal/caster"
	"quiver/internal/game"
	"quiver/internal/pool"
	"quiver/internal/weapon"
)

// maxBodyBytes caps request bodies; every payload here is a few vectors.
const maxBodyBytes = 4 << 10

type joinRequest struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
}

type targetRequest struct {
	Name     string     `json:"name"`
	Position [3]float64 `json:"position"`
	Health   float64    `json:"health"`
}

type releaseRequest struct {
	Direction [3]float64  `json:"direction"`
	Origin    *[3]float64 `json:"origin,omitempty"`
}

func (h *routerHandlers) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Snapshot())
}

func (h *routerHandlers) handleGetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.Pools())
}

// handleGetRangeImage renders the latest snapshot as a top-down PNG.
func (h *routerHandlers) handleGetRangeImage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer

	h.renderMu.Lock()
	err := h.renderer.WritePNG(&buf, h.engine.Snapshot())
	h.renderMu.Unlock()

	if err != nil {
		log.Printf("❌ Range render failed: %v", err)
		writeError(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (h *routerHandlers) handleGetEventStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.engine.GetEventLogStats())
}

func (h *routerHandlers) handleGetRecentEvents(w http.ResponseWriter, r *http.Request) {
	n := 100
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, "n must be a positive integer", http.StatusBadRequest)
			return
		}
		n = parsed
	}
	writeJSON(w, h.engine.RecentEvents(n))
}

func (h *routerHandlers) handleWielderJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decode(w, r, &req) {
		return
	}

	wielder, err := h.engine.AddWielder(req.Name, mgl64.Vec3(req.Position))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	w.Header().Set("Location", "/api/wielders/"+wielder.Name)
	writeJSONStatus(w, wielder, http.StatusCreated)
}

func (h *routerHandlers) handleGetWielder(w http.ResponseWriter, r *http.Request) {
	wielder, err := h.engine.Wielder(chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, wielder)
}

func (h *routerHandlers) handleTargetSpawn(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Health <= 0 {
		req.Health = 100
	}

	target, err := h.engine.AddTarget(req.Name, mgl64.Vec3(req.Position), req.Health)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSONStatus(w, target, http.StatusCreated)
}

func (h *routerHandlers) handleDraw(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Draw(chi.URLParam(r, "name")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

func (h *routerHandlers) handleRelease(w http.ResponseWriter, r *http.Request) {
	var req releaseRequest
	if !decode(w, r, &req) {
		return
	}

	var origin *mgl64.Vec3
	if req.Origin != nil {
		o := mgl64.Vec3(*req.Origin)
		origin = &o
	}

	result, err := h.engine.Release(chi.URLParam(r, "name"), origin, mgl64.Vec3(req.Direction))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, result)
}

func (h *routerHandlers) handleAbort(w http.ResponseWriter, r *http.Request) {
	aborted, err := h.engine.Abort(chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"aborted": aborted})
}

func (h *routerHandlers) handleRespawn(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Respawn(chi.URLParam(r, "name")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, map[string]bool{"success": true})
}

// Helper functions (package-level for reuse)

func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrUnknownWielder), errors.Is(err, game.ErrUnknownCharacter):
		return http.StatusNotFound
	case errors.Is(err, weapon.ErrInvalidStateTransition),
		errors.Is(err, game.ErrWielderExists),
		errors.Is(err, game.ErrWielderDead),
		errors.Is(err, pool.ErrDisposed):
		return http.StatusConflict
	case errors.Is(err, game.ErrInvalidName), errors.Is(err, caster.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, game.ErrTooManyWielders), errors.Is(err, game.ErrTooManyTargets):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		log.Printf("❌ Engine error: %v", err)
	}
	writeError(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, data, http.StatusOK)
}

func writeJSONStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	writeJSONStatus(w, map[string]string{"error": message}, code)
}
