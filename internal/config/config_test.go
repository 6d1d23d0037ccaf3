package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := parseArgs([]string{"-state-dir", dir})
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Server.Addr)
	assert.Equal(t, "http", cfg.Server.Mode)
	assert.Equal(t, defaultMaintenanceSpec, cfg.Scheduler.MaintenanceSpec)
	assert.Equal(t, time.Hour, cfg.Scheduler.RecurringGrace)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.OneShotGrace)
	assert.Equal(t, defaultRunRetention, cfg.RunRetention)
	assert.Equal(t, dir, cfg.StateDir)
	assert.False(t, cfg.Holiday.Enabled())
	assert.Equal(t, time.Local, cfg.Location())
}

func TestEnvAndFlagPriority(t *testing.T) {
	t.Setenv("REMINDTAB_ADDR", "127.0.0.1:9000")
	t.Setenv("REMINDTAB_MODE", "both")
	t.Setenv("REMINDTAB_USE_UTC", "yes")
	t.Setenv("REMINDTAB_MAX_SEARCH_ATTEMPTS", "100")
	t.Setenv("REMINDTAB_HOLIDAY_APP_ID", "id")
	t.Setenv("REMINDTAB_HOLIDAY_APP_SECRET", "secret")
	t.Setenv("REMINDTAB_RUN_RETENTION", "0")
	t.Setenv("REMINDTAB_WEBHOOK_URL", "https://hooks.example.com/send")
	t.Setenv("REMINDTAB_WEBHOOK_HEADERS", `{"X-Token":"abc"}`)
	t.Setenv("REMINDTAB_WEBHOOK_TEMPLATE", `{"to":"{{user_id}}","text":"{{content}}"}`)

	cfg, err := parseArgs([]string{"-addr", ":8080", "-state-dir", t.TempDir()})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr, "flag beats env")
	assert.Equal(t, "both", cfg.Server.Mode)
	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, 100, cfg.Scheduler.MaxSearchAttempts)
	assert.True(t, cfg.Holiday.Enabled())
	assert.Equal(t, defaultRunRetention, cfg.RunRetention)
	assert.Equal(t, "abc", cfg.Notification.DefaultWebhook.Headers["X-Token"])
	assert.Equal(t, "{{content}}", cfg.Notification.DefaultWebhook.Template["text"])
}

func TestInvalidConfig(t *testing.T) {
	_, err := parseArgs([]string{"-mode", "grpc", "-state-dir", t.TempDir()})
	assert.ErrorContains(t, err, "invalid mode")

	t.Setenv("REMINDTAB_WEBHOOK_HEADERS", `{not json`)
	_, err = parseArgs([]string{"-state-dir", t.TempDir()})
	assert.ErrorContains(t, err, "REMINDTAB_WEBHOOK_HEADERS")
}
