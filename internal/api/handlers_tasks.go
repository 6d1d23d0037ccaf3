package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"remindtab/internal/core"
	"remindtab/internal/service"

	"github.com/go-chi/chi/v5"
)

type taskResponse struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Status        string        `json:"status"`
	Recurring     bool          `json:"is_recurring"`
	NextTriggerAt *string       `json:"next_trigger_at,omitempty"`
	ArmedAt       *string       `json:"armed_at,omitempty"`
	LastRunAt     *string       `json:"last_run_at,omitempty"`
	LastError     *string       `json:"last_error,omitempty"`
	Info          core.TaskInfo `json:"task_info"`
	CreatedAt     string        `json:"created_at"`
	UpdatedAt     string        `json:"updated_at"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var info core.TaskInfo
	if err := json.NewDecoder(r.Body).Decode(&info); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, err := s.reminders.Create(r.Context(), info)
	if err != nil {
		s.writeServiceError(w, err, "create task")
		return
	}
	writeJSON(w, http.StatusCreated, s.taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	var statusFilter *core.TaskStatus
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		st, err := core.ParseTaskStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		statusFilter = &st
	}
	tasks, err := s.reminders.List(r.Context(), statusFilter)
	if err != nil {
		s.writeServiceError(w, err, "list tasks")
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, s.taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	task, err := s.reminders.Get(r.Context(), taskID)
	if err != nil {
		s.writeServiceError(w, err, "get task", "task_id", taskID)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	var patch core.TaskInfoPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, err := s.reminders.Update(r.Context(), taskID, patch)
	if err != nil {
		s.writeServiceError(w, err, "update task", "task_id", taskID)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	if err := s.reminders.Delete(r.Context(), taskID); err != nil {
		s.writeServiceError(w, err, "delete task", "task_id", taskID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskToResponse(task *core.Task) taskResponse {
	res := taskResponse{
		ID:            task.ID,
		Name:          task.Name,
		Status:        string(task.Status),
		Recurring:     task.Recurring,
		NextTriggerAt: formatTime(task.NextTriggerAt),
		LastRunAt:     formatTime(task.LastRunAt),
		LastError:     task.LastError,
		Info:          task.Info,
		CreatedAt:     task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     task.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if at, ok := s.reminders.Armed(task.ID); ok {
		res.ArmedAt = formatTime(&at)
	}
	return res
}

// writeServiceError maps domain errors onto the error envelope. Anything
// unexpected is logged and reported as an internal error.
func (s *Server) writeServiceError(w http.ResponseWriter, err error, op string, attrs ...any) {
	switch {
	case errors.Is(err, core.ErrConfiguration):
		writeError(w, http.StatusBadRequest, "invalid_config", err.Error())
	case errors.Is(err, core.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "not_found", "task not found")
	case errors.Is(err, core.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "not_found", "run not found")
	case errors.Is(err, service.ErrSyncDisabled):
		writeError(w, http.StatusServiceUnavailable, "sync_disabled", err.Error())
	default:
		s.logger.Error(op, append(attrs, "err", err)...)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
