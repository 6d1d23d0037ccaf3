package api

import (
	"net/http"
	"time"

	"remindtab/internal/core"

	"github.com/go-chi/chi/v5"
)

type runResponse struct {
	ID     string  `json:"id"`
	TaskID string  `json:"task_id"`
	Status string  `json:"status"`
	RanAt  string  `json:"ran_at"`
	Error  *string `json:"error,omitempty"`
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := parseIntDefault(r.URL.Query().Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	runs, err := s.reminders.Runs(r.Context(), taskID, limit, offset)
	if err != nil {
		s.writeServiceError(w, err, "list runs", "task_id", taskID)
		return
	}
	resp := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		resp = append(resp, runToResponse(run))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.reminders.Run(r.Context(), runID)
	if err != nil {
		s.writeServiceError(w, err, "get run", "run_id", runID)
		return
	}
	writeJSON(w, http.StatusOK, runToResponse(run))
}

func runToResponse(run *core.Run) runResponse {
	return runResponse{
		ID:     run.ID,
		TaskID: run.TaskID,
		Status: string(run.Status),
		RanAt:  run.RanAt.UTC().Format(time.RFC3339),
		Error:  run.Error,
	}
}
