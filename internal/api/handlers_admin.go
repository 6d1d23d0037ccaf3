package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

type healthResponse struct {
	Status   string   `json:"status"`
	Armed    int      `json:"armed_timers"`
	Channels []string `json:"channels"`
	Uptime   string   `json:"uptime"`
	Location string   `json:"location"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	channels := s.channels
	if channels == nil {
		channels = []string{}
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Armed:    s.reminders.ArmedCount(),
		Channels: channels,
		Uptime:   time.Since(s.startedAt).Truncate(time.Second).String(),
		Location: s.location.String(),
	})
}

func (s *Server) handleSyncCalendar(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil || year < 1900 || year > 2100 {
		writeError(w, http.StatusBadRequest, "invalid_input", "year must be between 1900 and 2100")
		return
	}
	force := strings.EqualFold(r.URL.Query().Get("force"), "1") || strings.EqualFold(r.URL.Query().Get("force"), "true")

	report, err := s.reminders.SyncCalendar(r.Context(), year, force)
	if err != nil {
		s.writeServiceError(w, err, "sync calendar", "year", year)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "maintenance": report})
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	report, err := s.reminders.RunMaintenance(r.Context())
	if err != nil {
		s.writeServiceError(w, err, "run maintenance")
		return
	}
	writeJSON(w, http.StatusOK, report)
}
