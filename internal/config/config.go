package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds server-related settings.
type ServerConfig struct {
	Addr      string
	AuthToken string
	// Mode is one of http, mcp or both.
	Mode string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string
}

// SchedulerConfig holds trigger computation and timer settings.
type SchedulerConfig struct {
	UseUTC            bool
	MaintenanceSpec   string
	MaxSearchAttempts int
	Workers           int
	RecurringGrace    time.Duration
	OneShotGrace      time.Duration
}

// HolidayConfig holds the calendar provider settings.
type HolidayConfig struct {
	URLTemplate string
	AppID       string
	AppSecret   string
	Timeout     time.Duration
}

// Enabled reports whether credentials for the provider are present.
func (h HolidayConfig) Enabled() bool {
	return h.AppID != "" && h.AppSecret != ""
}

// MailConfig holds SMTP settings.
type MailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// BarkConfig holds Bark notification settings.
type BarkConfig struct {
	URL string
}

// TwilioConfig holds SMS settings.
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	From         string
	WhatsAppFrom string
}

// WebhookConfig is the fallback webhook used by tasks without a channel.
type WebhookConfig struct {
	URL      string
	Method   string
	Headers  map[string]string
	Template map[string]any
}

// NotificationConfig holds all notification settings.
type NotificationConfig struct {
	Mail           MailConfig
	Bark           BarkConfig
	Twilio         TwilioConfig
	DefaultWebhook WebhookConfig
	RatePerSecond  float64
	Burst          int
	Timeout        time.Duration
}

// Config holds all runtime configuration options for the daemon.
type Config struct {
	Server       ServerConfig
	Log          LogConfig
	Scheduler    SchedulerConfig
	Holiday      HolidayConfig
	Notification NotificationConfig

	StateDir      string
	RunRetention  int
	ShutdownGrace time.Duration
}

// Location returns the zone recurrence rules are evaluated in.
func (c *Config) Location() *time.Location {
	if c.Scheduler.UseUTC {
		return time.UTC
	}
	return time.Local
}

const (
	envPrefix = "REMINDTAB_"

	defaultAddr            = "0.0.0.0:7070"
	defaultMode            = "http"
	defaultLogLevel        = "info"
	defaultMaintenanceSpec = "10 1 * * *"
	defaultRunRetention    = 50
	defaultShutdownGrace   = 5 * time.Second
	defaultHolidayURL      = "https://www.mxnzp.com/api/holiday/list/year/{year}"
)

func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "1" || lower == "yes"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(envPrefix + key); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvJSON decodes a JSON valued variable into dst. Unset leaves dst untouched.
func getEnvJSON(key string, dst any) error {
	val, ok := os.LookupEnv(envPrefix + key)
	if !ok || strings.TrimSpace(val) == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		return fmt.Errorf("%s%s: %w", envPrefix, key, err)
	}
	return nil
}

// Parse parses command line flags and environment variables into Config.
// Priority: CLI flags > Environment variables > .env file > defaults
func Parse() (*Config, error) {
	envFiles := []string{".env"}
	if configDir, err := os.UserConfigDir(); err == nil {
		envFiles = append(envFiles, filepath.Join(configDir, "remindtab", ".env"))
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(f)
	}
	return parseArgs(os.Args[1:])
}

func parseArgs(args []string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:      getEnvString("ADDR", defaultAddr),
			AuthToken: getEnvString("AUTH_TOKEN", ""),
			Mode:      getEnvString("MODE", defaultMode),
		},
		Log: LogConfig{
			Level: getEnvString("LOG_LEVEL", defaultLogLevel),
		},
		Scheduler: SchedulerConfig{
			UseUTC:            getEnvBool("USE_UTC", false),
			MaintenanceSpec:   getEnvString("MAINTENANCE_CRON", defaultMaintenanceSpec),
			MaxSearchAttempts: getEnvInt("MAX_SEARCH_ATTEMPTS", 0),
			Workers:           getEnvInt("WORKERS", 0),
			RecurringGrace:    getEnvDuration("RECURRING_GRACE", time.Hour),
			OneShotGrace:      getEnvDuration("ONESHOT_GRACE", 10*time.Minute),
		},
		Holiday: HolidayConfig{
			URLTemplate: getEnvString("HOLIDAY_URL", defaultHolidayURL),
			AppID:       getEnvString("HOLIDAY_APP_ID", ""),
			AppSecret:   getEnvString("HOLIDAY_APP_SECRET", ""),
			Timeout:     getEnvDuration("HOLIDAY_TIMEOUT", 15*time.Second),
		},
		Notification: NotificationConfig{
			Mail: MailConfig{
				Host:     getEnvString("SMTP_HOST", ""),
				Port:     getEnvInt("SMTP_PORT", 465),
				Username: getEnvString("SMTP_USERNAME", ""),
				Password: getEnvString("SMTP_PASSWORD", ""),
				From:     getEnvString("SMTP_FROM", ""),
			},
			Bark: BarkConfig{
				URL: getEnvString("BARK_URL", ""),
			},
			Twilio: TwilioConfig{
				AccountSID:   getEnvString("TWILIO_ACCOUNT_SID", ""),
				AuthToken:    getEnvString("TWILIO_AUTH_TOKEN", ""),
				From:         getEnvString("TWILIO_FROM", ""),
				WhatsAppFrom: getEnvString("TWILIO_WHATSAPP_FROM", ""),
			},
			DefaultWebhook: WebhookConfig{
				URL:    getEnvString("WEBHOOK_URL", ""),
				Method: getEnvString("WEBHOOK_METHOD", "POST"),
			},
			RatePerSecond: getEnvFloat("NOTIFY_RATE", 5),
			Burst:         getEnvInt("NOTIFY_BURST", 5),
			Timeout:       getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second),
		},
		StateDir:      getEnvString("STATE_DIR", ""),
		RunRetention:  getEnvInt("RUN_RETENTION", defaultRunRetention),
		ShutdownGrace: getEnvDuration("SHUTDOWN_GRACE", defaultShutdownGrace),
	}
	if err := getEnvJSON("WEBHOOK_HEADERS", &cfg.Notification.DefaultWebhook.Headers); err != nil {
		return nil, err
	}
	if err := getEnvJSON("WEBHOOK_TEMPLATE", &cfg.Notification.DefaultWebhook.Template); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("remindtabd", flag.ContinueOnError)
	addr := fs.String("addr", cfg.Server.Addr, "HTTP listen address")
	mode := fs.String("mode", cfg.Server.Mode, "Run mode: http, mcp or both")
	stateDir := fs.String("state-dir", cfg.StateDir, "Directory to store the database")
	logLevel := fs.String("log-level", cfg.Log.Level, "Log level (debug, info, warn, error)")
	useUTC := fs.Bool("use-utc", cfg.Scheduler.UseUTC, "Use UTC for cron evaluation instead of system local time")
	retention := fs.Int("run-retention", cfg.RunRetention, "Number of recent deliveries to retain per task")
	workers := fs.Int("workers", cfg.Scheduler.Workers, "Maximum concurrent deliveries")
	shutdownGrace := fs.Duration("shutdown-grace", cfg.ShutdownGrace, "Grace period when shutting down")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.Server.Addr = *addr
	cfg.Server.Mode = strings.ToLower(strings.TrimSpace(*mode))
	cfg.StateDir = *stateDir
	cfg.Log.Level = *logLevel
	cfg.Scheduler.UseUTC = *useUTC
	cfg.RunRetention = *retention
	cfg.Scheduler.Workers = *workers
	cfg.ShutdownGrace = *shutdownGrace

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.RunRetention < 1 {
		cfg.RunRetention = defaultRunRetention
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Server.Mode {
	case "http", "mcp", "both":
	default:
		return fmt.Errorf("invalid mode %q: want http, mcp or both", c.Server.Mode)
	}
	if c.Scheduler.RecurringGrace < 0 || c.Scheduler.OneShotGrace < 0 {
		return fmt.Errorf("misfire grace must not be negative")
	}
	if c.Notification.DefaultWebhook.URL == "" && c.Notification.DefaultWebhook.Template != nil {
		return fmt.Errorf("%sWEBHOOK_TEMPLATE is set without %sWEBHOOK_URL", envPrefix, envPrefix)
	}
	return nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(baseDir, "remindtab")
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}
