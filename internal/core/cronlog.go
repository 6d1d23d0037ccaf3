package core

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// cronLogger adapts slog.Logger to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

var _ cron.Logger = cronLogger{}

// Info is called on every scheduler wake-up, so it is demoted to debug.
func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "err", err)...)
}
