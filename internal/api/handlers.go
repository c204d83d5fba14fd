package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tgcesports/notifier/internal/eligibility"
	"github.com/tgcesports/notifier/internal/metrics"
	"github.com/tgcesports/notifier/internal/scheduler"
	"github.com/tgcesports/notifier/internal/tournament"
)

// Response is the envelope of every API answer
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Uptime        string `json:"uptime"`
	LedgerEntries int    `json:"ledgerEntries"`
}

// TournamentsResponse is the data of GET /api/v1/tournaments
type TournamentsResponse struct {
	Total         int                   `json:"total"`
	Malformed     int                   `json:"malformed"`
	Upcoming      []eligibility.Verdict `json:"upcoming"`
	StartingToday []eligibility.Verdict `json:"startingToday"`
	Tournaments   []eligibility.Verdict `json:"tournaments"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: s.deps.Version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	}

	n, err := s.deps.Ledger.Count(r.Context())
	if err != nil {
		s.logger.Error("failed to count ledger entries", "error", err)
		resp.Status = "degraded"
	}
	resp.LedgerEntries = n

	s.sendJSON(w, http.StatusOK, resp)
}

// handleTournaments handles GET /api/v1/tournaments
func (s *Server) handleTournaments(w http.ResponseWriter, r *http.Request) {
	tournaments, err := s.deps.Tournaments.FetchTournaments(r.Context())
	if err != nil {
		s.sendFailure(w, "Failed to fetch tournaments", err)
		return
	}

	now := s.now()
	resp := TournamentsResponse{
		Total:         len(tournaments),
		Upcoming:      []eligibility.Verdict{},
		StartingToday: []eligibility.Verdict{},
		Tournaments:   make([]eligibility.Verdict, 0, len(tournaments)),
	}
	for _, t := range tournaments {
		v := eligibility.Evaluate(t, now, s.deps.StartingSoon, s.deps.Lookback)
		if v.Start == nil {
			resp.Malformed++
		}
		if v.Upcoming {
			resp.Upcoming = append(resp.Upcoming, v)
		}
		if v.StartingToday {
			resp.StartingToday = append(resp.StartingToday, v)
		}
		resp.Tournaments = append(resp.Tournaments, v)
	}

	s.sendOK(w, "Tournaments fetched", resp)
}

// handleParticipants handles GET /api/v1/tournaments/{id}/participants
func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	participants, err := s.deps.Tournaments.FetchParticipants(r.Context(), id)
	if err != nil {
		s.sendFailure(w, "Failed to fetch participants", err)
		return
	}
	if participants == nil {
		participants = []tournament.Participant{}
	}

	s.sendOK(w, "Participants fetched", participants)
}

// handleRunJob runs a notification job synchronously and returns its summary
func (s *Server) handleRunJob(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runJob(w, r, name)
	}
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request, name string) {
	metrics.SetRequestJob(r.Context(), name)
	result, err := s.deps.Jobs.RunNow(r.Context(), name)
	if err != nil {
		s.logger.Error("manual job run failed", "job", name, "error", err)
		s.sendFailure(w, "Job "+name+" failed", err)
		return
	}

	message := "Job " + name + " complete"
	if m, ok := result.(interface{ ResultMessage() string }); ok {
		message = m.ResultMessage()
	}
	s.sendOK(w, message, result)
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, tournament.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, scheduler.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrJobRunning):
		return http.StatusConflict
	case errors.Is(err, scheduler.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, tournament.ErrUpstreamUnavailable), errors.Is(err, tournament.ErrAuthentication):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// sendFailure reports err with the status derived from it
func (s *Server) sendFailure(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	s.sendJSON(w, status, Response{Success: false, Message: message + ": " + err.Error()})
}

func (s *Server) sendOK(w http.ResponseWriter, message string, data any) {
	s.sendJSON(w, http.StatusOK, Response{Success: true, Message: message, Data: data})
}

// decodeJSON reads an optional JSON body into v. An empty body is not an error.
func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, Response{Success: false, Message: message})
}
