package apihttp

import (
	"net/http"
	"strings"

	"bookstream/internal/domain"
)

type progressUpdateRequest struct {
	Position float64 `json:"position"`
	Duration float64 `json:"duration"`
	Title    string  `json:"title"`
}

func (s *Server) requireProgress(w http.ResponseWriter) bool {
	if s.progress == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "progress store is not configured")
		return false
	}
	return true
}

func (s *Server) handleProgressList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireProgress(w) {
		return
	}

	limit, err := parseOptionalIntQuery(r.URL.Query().Get("limit"), 0)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
		return
	}

	records, err := s.progress.ListRecent(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if records == nil {
		records = []domain.ProgressRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleProgressByID(w http.ResponseWriter, r *http.Request) {
	if !s.requireProgress(w) {
		return
	}

	itemID := domain.ItemID(strings.TrimPrefix(r.URL.Path, "/progress/"))
	if itemID == "" || strings.Contains(string(itemID), "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid item id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.progress.Get(r.Context(), itemID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut:
		var req progressUpdateRequest
		if !decodeJSONBody(w, r, &req) {
			return
		}
		if req.Position < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "position must be >= 0")
			return
		}
		err := s.progress.Set(r.Context(), domain.ProgressRecord{
			ItemID:   itemID,
			Position: req.Position,
			Duration: req.Duration,
			Title:    req.Title,
		})
		if err != nil {
			writeStoreError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
