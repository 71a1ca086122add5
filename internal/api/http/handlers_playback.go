package apihttp

import (
	"net/http"

	"bookstream/internal/domain"
	"bookstream/internal/player"
)

type loadRequest struct {
	ItemID string `json:"itemId"`
}

type seekRequest struct {
	Position float64 `json:"position"`
}

type keepAliveRequest struct {
	Enabled bool `json:"enabled"`
}

// deviceEventRequest is one signal from the remote playback surface.
// Generation defaults to the current one when the surface does not track
// it; surfaces that survive item switches must echo it back.
type deviceEventRequest struct {
	Generation int     `json:"generation"`
	Type       string  `json:"type"`
	Position   float64 `json:"position"`
	Duration   float64 `json:"duration"`
	Code       string  `json:"code"`
}

func (s *Server) requireController(w http.ResponseWriter) bool {
	if s.controller == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "playback is not configured")
		return false
	}
	return true
}

func (s *Server) handlePlaybackLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}

	var req loadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.ItemID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "itemId is required")
		return
	}

	// A failed open still yields a visible state; the snapshot carries
	// the outcome either way.
	snap, err := s.controller.Load(r.Context(), domain.ItemID(req.ItemID))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, snap)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePlaybackPlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Play())
}

func (s *Server) handlePlaybackPause(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Pause())
}

func (s *Server) handlePlaybackSeek(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}

	var req seekRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Position < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "position must be >= 0")
		return
	}

	snap, err := s.controller.Seek(req.Position)
	if err != nil {
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleSleepTimerCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.CycleSleepTimer())
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}

	var req keepAliveRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	snap, err := s.controller.SetKeepAlive(req.Enabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "keepalive_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handlePlaybackEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireController(w) {
		return
	}

	var req deviceEventRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	evType, ok := player.ParseEventType(req.Type)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "unknown event type")
		return
	}
	gen := req.Generation
	if gen == 0 {
		gen = s.controller.Generation()
	}

	if s.device != nil && (evType == player.EventTimeUpdate || evType == player.EventEnded) {
		s.device.Observe(req.Position)
	}
	s.controller.HandleEvent(gen, player.Event{
		Type:     evType,
		Position: req.Position,
		Duration: req.Duration,
		Code:     req.Code,
	})
	w.WriteHeader(http.StatusNoContent)
}
