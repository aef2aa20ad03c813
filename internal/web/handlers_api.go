package web

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/qualys/compliance-console/internal/dashboard"
	"github.com/qualys/compliance-console/internal/scheduler"
	"github.com/qualys/compliance-console/internal/session"
)

const jobExecutionLimit = 10

type stateResponse struct {
	SessionID   string           `json:"session_id"`
	User        string           `json:"user"`
	CurrentPage dashboard.PageID `json:"current_page"`
	View        dashboard.View   `json:"view"`
}

type jobResponse struct {
	scheduler.Job
	Executions []scheduler.JobExecution `json:"executions"`
}

func (s *Server) apiApp(w http.ResponseWriter, r *http.Request) (*dashboard.App, bool) {
	app, err := s.sessionApp(r)
	if err == nil {
		return app, true
	}
	if errors.Is(err, session.ErrNotFound) {
		respondError(w, http.StatusUnauthorized, "session_expired", "Session not found")
		return nil, false
	}
	s.logger.Error("loading session failed", "error", err)
	respondError(w, http.StatusInternalServerError, "session_error", "Session unavailable")
	return nil, false
}

// getState returns the session's view without consuming its notifications.
func (s *Server) getState(w http.ResponseWriter, r *http.Request) {
	app, ok := s.apiApp(w, r)
	if !ok {
		return
	}

	state := app.State()
	respondJSON(w, http.StatusOK, stateResponse{
		SessionID:   state.SessionID,
		User:        state.User,
		CurrentPage: state.CurrentPage,
		View:        app.Snapshot(),
	})
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := s.activity.ListRecent(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing activity failed", "error", err)
		respondError(w, http.StatusInternalServerError, "db_error", "Activity log unavailable")
		return
	}

	respondJSONWithMeta(w, http.StatusOK, entries, &apiMeta{Total: len(entries), Limit: limit})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := []jobResponse{}
	if s.scheduler != nil {
		for _, job := range s.scheduler.ListJobs() {
			jobs = append(jobs, jobResponse{
				Job:        job,
				Executions: s.scheduler.Executions(job.ID, jobExecutionLimit),
			})
		}
	}
	respondJSONWithMeta(w, http.StatusOK, jobs, &apiMeta{Total: len(jobs)})
}
