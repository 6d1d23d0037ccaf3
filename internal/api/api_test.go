package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindtab/internal/core"
	"remindtab/internal/service"
	"remindtab/internal/store"
)

const testToken = "s3cret"

type nopExecutor struct{}

func (nopExecutor) Execute(context.Context, *core.Task) error { return nil }

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	calc := core.NewCalculator(st, logger, time.UTC, 0)
	sched := core.NewScheduler(st, calc, nopExecutor{}, logger, core.SchedulerOptions{})
	reminders := service.NewReminders(st, sched, nil, logger)

	srv := NewServer("127.0.0.1:0", reminders, logger, time.UTC, Options{
		AuthToken: testToken,
		Channels:  []string{"webhook"},
	})
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &payload))
	return payload.Error.Code
}

func TestAuth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, "health is public")

	resp, err = ts.Client().Get(ts.URL + "/v1/tasks")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = ts.Client().Get(ts.URL + "/v1/tasks?token=" + testToken)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTaskLifecycle(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/tasks", map[string]any{
		"task_name":        "tea",
		"reminder_content": "tea is ready",
		"schedule":         map[string]any{"is_recurring": false, "countdown": "10m"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))
	var created taskResponse
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "pending", created.Status)
	require.NotNil(t, created.NextTriggerAt)
	require.NotNil(t, created.ArmedAt)
	assert.Equal(t, *created.NextTriggerAt, *created.ArmedAt)

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/tasks?status=pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []taskResponse
	require.NoError(t, json.Unmarshal(data, &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)

	resp, data = doJSON(t, ts, http.MethodPatch, "/v1/tasks/"+created.ID, map[string]any{
		"reminder_content": "second cup",
		"schedule":         map[string]any{"kind": "recurring", "cron_config": map[string]any{"cron_expression": "0 8 * * *"}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var updated taskResponse
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.True(t, updated.Recurring)
	assert.Equal(t, "second cup", updated.Info.Content)
	require.NotNil(t, updated.NextTriggerAt)
	next, err := time.Parse(time.RFC3339, *updated.NextTriggerAt)
	require.NoError(t, err)
	assert.Equal(t, 8, next.Hour())

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/tasks/"+created.ID+"/runs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(data))

	resp, _ = doJSON(t, ts, http.MethodDelete, "/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestTaskValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/tasks", map[string]any{
		"task_name":        "bad",
		"reminder_content": "x",
		"schedule":         map[string]any{"is_recurring": true, "cron_config": map[string]any{"cron_expression": "not cron"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_config", errorCode(t, data))

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/tasks?status=paused", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_input", errorCode(t, data))

	resp, _ = doJSON(t, ts, http.MethodPatch, "/v1/tasks/missing", map[string]any{"task_name": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", errorCode(t, data))
}

func TestCronPreview(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/cron/preview", map[string]any{
		"expr":       "0 9 * * *",
		"limit_days": []string{"WEEKDAY_ONLY"},
		"now":        "2025-06-13T10:00:00Z",
		"count":      3,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var preview cronPreviewResponse
	require.NoError(t, json.Unmarshal(data, &preview))
	assert.True(t, preview.Valid)
	assert.Equal(t, []string{"2025-06-16T09:00:00Z", "2025-06-17T09:00:00Z", "2025-06-18T09:00:00Z"}, preview.NextTimes)

	resp, data = doJSON(t, ts, http.MethodPost, "/v1/cron/preview", map[string]any{"expr": "61 * * * *"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	preview = cronPreviewResponse{}
	require.NoError(t, json.Unmarshal(data, &preview))
	assert.False(t, preview.Valid)
	assert.NotEmpty(t, preview.Message)

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/cron/preview", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, data := doJSON(t, ts, http.MethodPost, "/v1/admin/calendar/2025", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "sync_disabled", errorCode(t, data))

	resp, _ = doJSON(t, ts, http.MethodPost, "/v1/admin/calendar/abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, data = doJSON(t, ts, http.MethodPost, "/v1/admin/maintenance", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var report core.MaintenanceReport
	require.NoError(t, json.Unmarshal(data, &report))
	assert.Zero(t, report.Checked)

	resp, data = doJSON(t, ts, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"webhook"}, health.Channels)
}
