package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tgcesports/notifier/internal/sandbox"
)

// SandboxListResponse is the data of GET /api/v1/sandbox
type SandboxListResponse struct {
	Stats    *sandbox.Stats     `json:"stats"`
	Messages []*sandbox.Message `json:"messages"`
}

func (s *Server) sandboxEnabled(w http.ResponseWriter) bool {
	if s.deps.Sandbox == nil {
		s.sendError(w, http.StatusNotFound, "Sandbox mode is not enabled")
		return false
	}
	return true
}

// handleSandboxList handles GET /api/v1/sandbox
func (s *Server) handleSandboxList(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w) {
		return
	}

	q := r.URL.Query()
	filter := sandbox.ListFilter{
		Recipient: q.Get("recipient"),
		Kind:      q.Get("kind"),
		Limit:     100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	messages, err := s.deps.Sandbox.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list sandbox messages", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list messages")
		return
	}
	if messages == nil {
		messages = []*sandbox.Message{}
	}

	stats, err := s.deps.Sandbox.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to get sandbox stats", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}

	s.sendOK(w, "Captured messages", SandboxListResponse{Stats: stats, Messages: messages})
}

// handleSandboxGet handles GET /api/v1/sandbox/{id}
func (s *Server) handleSandboxGet(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w) {
		return
	}

	msg, err := s.deps.Sandbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error("failed to get sandbox message", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get message")
		return
	}
	if msg == nil {
		s.sendError(w, http.StatusNotFound, "Message not found")
		return
	}

	s.sendOK(w, "Captured message", msg)
}

// handleSandboxClear handles DELETE /api/v1/sandbox?older_than=24h
func (s *Server) handleSandboxClear(w http.ResponseWriter, r *http.Request) {
	if !s.sandboxEnabled(w) {
		return
	}

	var olderThan time.Duration
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.sendError(w, http.StatusBadRequest, "older_than must be a duration such as 24h")
			return
		}
		olderThan = d
	}

	n, err := s.deps.Sandbox.Clear(r.Context(), olderThan)
	if err != nil {
		s.logger.Error("failed to clear sandbox", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to clear messages")
		return
	}

	s.logger.Info("sandbox cleared via API", "deleted", n, "older_than", olderThan)
	s.sendOK(w, "Sandbox cleared", map[string]int{"deleted": n})
}
