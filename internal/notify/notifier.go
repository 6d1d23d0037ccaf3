package notify

import (
	"context"
	"errors"
)

var (
	// ErrNoChannel is returned when a task has no channel and no default webhook is configured.
	ErrNoChannel = errors.New("no notification channel configured")
	// ErrChannelDisabled is returned when the task's channel lacks server side configuration.
	ErrChannelDisabled = errors.New("notification channel is not enabled")
)

// Notifier defines the interface for sending titled notifications.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}
