package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"remindtab/internal/core"
	"remindtab/internal/service"
)

// cronPreviewRequest accepts either a bare expression (optionally with day
// filters) or a full schedule.
type cronPreviewRequest struct {
	Expr      string           `json:"expr"`
	LimitDays []core.DayFilter `json:"limit_days,omitempty"`
	Schedule  *core.Schedule   `json:"schedule,omitempty"`
	Now       string           `json:"now,omitempty"`
	Count     int              `json:"count,omitempty"`
}

type cronPreviewResponse struct {
	Valid     bool                  `json:"valid"`
	NextTimes []string              `json:"next_times,omitempty"`
	Items     []service.PreviewItem `json:"items,omitempty"`
	Message   string                `json:"message,omitempty"`
}

func (s *Server) handleCronPreview(w http.ResponseWriter, r *http.Request) {
	var req cronPreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, cronPreviewResponse{Valid: false, Message: "invalid JSON payload"})
		return
	}

	var schedule core.Schedule
	switch {
	case req.Schedule != nil:
		schedule = *req.Schedule
	case strings.TrimSpace(req.Expr) != "":
		schedule = core.Schedule{Recurring: true, Cron: &core.RecurrenceRule{
			Expression: strings.TrimSpace(req.Expr),
			LimitDays:  req.LimitDays,
		}}
	default:
		writeJSON(w, http.StatusBadRequest, cronPreviewResponse{Valid: false, Message: "cron expression or schedule is required"})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	base := time.Now().In(s.location)
	if req.Now != "" {
		if parsed, err := time.Parse(time.RFC3339, req.Now); err == nil {
			base = parsed.In(s.location)
		}
	}

	items, err := s.reminders.PreviewFrom(r.Context(), schedule, base, count)
	if err != nil {
		if errors.Is(err, core.ErrConfiguration) {
			writeJSON(w, http.StatusOK, cronPreviewResponse{Valid: false, Message: err.Error()})
			return
		}
		s.writeServiceError(w, err, "preview schedule")
		return
	}

	formatted := make([]string, 0, len(items))
	for _, it := range items {
		if it.Status == core.TaskStatusPending && it.At != nil {
			formatted = append(formatted, it.At.UTC().Format(time.RFC3339))
		}
	}
	writeJSON(w, http.StatusOK, cronPreviewResponse{Valid: true, NextTimes: formatted, Items: items})
}
