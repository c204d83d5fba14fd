package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tgcesports/notifier/internal/ledger"
	"github.com/tgcesports/notifier/internal/metrics"
)

// JobRequest is the body of the scheduler start, stop and run endpoints
type JobRequest struct {
	Name           string `json:"name"`
	RunImmediately *bool  `json:"runImmediately,omitempty"`
}

// LedgerCheckResponse is the data of GET /api/v1/ledger/check/{tournamentId}/{kind}
type LedgerCheckResponse struct {
	TournamentID string      `json:"tournamentId"`
	Kind         ledger.Kind `json:"kind"`
	Day          string      `json:"day"`
	Notified     bool        `json:"notified"`
}

// CleanupRequest is the body of POST /api/v1/ledger/cleanup
type CleanupRequest struct {
	Days *int `json:"days,omitempty"`
}

// AllowListRequest is the body of POST /api/v1/allowlist
type AllowListRequest struct {
	Domain string `json:"domain"`
}

func (s *Server) decodeJobRequest(w http.ResponseWriter, r *http.Request) (JobRequest, bool) {
	var req JobRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return req, false
	}
	if req.Name == "" {
		s.sendError(w, http.StatusBadRequest, "name is required")
		return req, false
	}
	return req, true
}

// handleSchedulerStatus handles GET /api/v1/scheduler/status
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	s.sendOK(w, "Scheduler status", s.deps.Jobs.Status())
}

// handleSchedulerStart handles POST /api/v1/scheduler/start
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeJobRequest(w, r)
	if !ok {
		return
	}
	metrics.SetRequestJob(r.Context(), req.Name)

	runImmediately := true
	if req.RunImmediately != nil {
		runImmediately = *req.RunImmediately
	}

	if err := s.deps.Jobs.Start(req.Name, runImmediately); err != nil {
		s.sendFailure(w, "Failed to start job", err)
		return
	}

	s.logger.Info("job started via API", "job", req.Name, "run_immediately", runImmediately)
	s.sendOK(w, "Job "+req.Name+" scheduled", nil)
}

// handleSchedulerStop handles POST /api/v1/scheduler/stop
func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeJobRequest(w, r)
	if !ok {
		return
	}
	metrics.SetRequestJob(r.Context(), req.Name)

	if err := s.deps.Jobs.Stop(req.Name); err != nil {
		s.sendFailure(w, "Failed to stop job", err)
		return
	}

	s.logger.Info("job stopped via API", "job", req.Name)
	s.sendOK(w, "Job "+req.Name+" stopped", nil)
}

// handleSchedulerRun handles POST /api/v1/scheduler/run
func (s *Server) handleSchedulerRun(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeJobRequest(w, r)
	if !ok {
		return
	}
	s.runJob(w, r, req.Name)
}

// handleLedgerList handles GET /api/v1/ledger
func (s *Server) handleLedgerList(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Ledger.ListAll(r.Context())
	if err != nil {
		s.logger.Error("failed to list ledger", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list ledger")
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	s.sendOK(w, "Ledger entries", entries)
}

// handleLedgerSummary handles GET /api/v1/ledger/summary
func (s *Server) handleLedgerSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.deps.Ledger.Summary(r.Context())
	if err != nil {
		s.logger.Error("failed to summarize ledger", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to summarize ledger")
		return
	}
	s.sendOK(w, "Ledger summary", summary)
}

// handleLedgerCheck handles GET /api/v1/ledger/check/{tournamentId}/{kind}
func (s *Server) handleLedgerCheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tournamentId")
	kind, err := ledger.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	notified, err := s.deps.Ledger.HasBeenNotified(r.Context(), id, kind)
	if err != nil {
		s.logger.Error("failed to check ledger", "tournament_id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to check ledger")
		return
	}

	message := "Not notified today"
	if notified {
		message = "Already notified today"
	}
	s.sendOK(w, message, LedgerCheckResponse{
		TournamentID: id,
		Kind:         kind,
		Day:          s.deps.Ledger.Today(),
		Notified:     notified,
	})
}

// handleLedgerCleanup handles POST /api/v1/ledger/cleanup
func (s *Server) handleLedgerCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	days := s.deps.RetentionDays
	if req.Days != nil {
		days = *req.Days
	}
	if days < 0 {
		s.sendError(w, http.StatusBadRequest, "days must not be negative")
		return
	}

	n, err := s.deps.Ledger.PruneOlderThan(r.Context(), days)
	if err != nil {
		s.logger.Error("failed to clean ledger", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to clean ledger")
		return
	}

	s.logger.Info("ledger cleaned via API", "days", days, "deleted", n)
	s.sendOK(w, "Ledger cleaned", map[string]int{"deleted": n, "days": days})
}

// handleLedgerClear handles DELETE /api/v1/ledger?confirm=yes
func (s *Server) handleLedgerClear(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("confirm") != "yes" {
		s.sendError(w, http.StatusBadRequest, "Add ?confirm=yes to clear the whole ledger")
		return
	}

	n, err := s.deps.Ledger.ClearAll(r.Context())
	if err != nil {
		s.logger.Error("failed to clear ledger", "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to clear ledger")
		return
	}

	s.logger.Warn("ledger cleared via API", "deleted", n)
	s.sendOK(w, "Ledger cleared", map[string]int{"deleted": n})
}

// handleAllowListGet handles GET /api/v1/allowlist
func (s *Server) handleAllowListGet(w http.ResponseWriter, r *http.Request) {
	s.sendOK(w, "Allow-list entries", s.deps.AllowList.Entries())
}

// handleAllowListAdd handles POST /api/v1/allowlist
func (s *Server) handleAllowListAdd(w http.ResponseWriter, r *http.Request) {
	var req AllowListRequest
	if err := decodeJSON(r, &req); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	domain := strings.TrimSpace(req.Domain)
	if domain == "" {
		s.sendError(w, http.StatusBadRequest, "domain is required")
		return
	}

	if !s.deps.AllowList.Add(domain) {
		s.sendError(w, http.StatusConflict, "Domain "+domain+" is already allowed")
		return
	}

	s.logger.Info("allow-list entry added", "domain", domain)
	s.sendOK(w, "Domain "+domain+" added", s.deps.AllowList.Entries())
}

// handleAllowListRemove handles DELETE /api/v1/allowlist/{domain}
func (s *Server) handleAllowListRemove(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if !s.deps.AllowList.Remove(domain) {
		s.sendError(w, http.StatusNotFound, "Domain "+domain+" is not in the allow-list")
		return
	}

	s.logger.Info("allow-list entry removed", "domain", domain)
	s.sendOK(w, "Domain "+domain+" removed", s.deps.AllowList.Entries())
}
