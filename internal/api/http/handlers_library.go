package apihttp

import (
	"errors"
	"net/http"
	"strings"

	"bookstream/internal/domain"
	"bookstream/internal/gateway"
)

func (s *Server) requireLibrary(w http.ResponseWriter) bool {
	if s.library == nil {
		writeError(w, http.StatusServiceUnavailable, "not_configured", "library browsing is not configured")
		return false
	}
	return true
}

func (s *Server) handleLibraryItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireLibrary(w) {
		return
	}

	items, err := s.library.Items(r.Context())
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	if items == nil {
		items = []domain.MediaItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleLibraryItemByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	if !s.requireLibrary(w) {
		return
	}

	itemID := domain.ItemID(strings.TrimPrefix(r.URL.Path, "/library/items/"))
	if itemID == "" || strings.Contains(string(itemID), "/") {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid item id")
		return
	}

	item, err := s.library.Item(r.Context(), itemID)
	if err != nil {
		writeLibraryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func writeLibraryError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	if errors.Is(err, gateway.ErrUpstreamUnreachable) {
		writeError(w, http.StatusBadGateway, "upstream_unreachable", "upstream did not respond")
		return
	}
	writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
}
