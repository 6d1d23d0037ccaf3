package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"remindtab/internal/core"
)

// DispatcherConfig wires the optional channels of a Dispatcher.
type DispatcherConfig struct {
	HTTPClient     *http.Client
	Mail           MailConfig
	Twilio         TwilioConfig
	BarkURL        string
	DefaultWebhook *core.WebhookChannel
	// RatePerSecond bounds outbound deliveries. Zero disables throttling.
	RatePerSecond float64
	Burst         int
}

// Dispatcher routes a task to its notification channel. It implements core.Executor.
type Dispatcher struct {
	webhook        *WebhookSender
	email          *EmailSender
	sms            *SMSSender
	httpClient     *http.Client
	barkURL        string
	defaultWebhook *core.WebhookChannel
	limiter        *rate.Limiter
	logger         *slog.Logger
}

var _ core.Executor = (*Dispatcher)(nil)

func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	d := &Dispatcher{
		webhook:        NewWebhookSender(cfg.HTTPClient),
		httpClient:     cfg.HTTPClient,
		barkURL:        cfg.BarkURL,
		defaultWebhook: cfg.DefaultWebhook,
		logger:         logger,
	}
	if cfg.Mail.Enabled() {
		if sender, err := NewEmailSender(cfg.Mail); err == nil {
			d.email = sender
		}
	}
	if cfg.Twilio.Enabled() {
		if sender, err := NewSMSSender(cfg.Twilio); err == nil {
			d.sms = sender
		}
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return d
}

// Channels lists the channels that can deliver right now.
func (d *Dispatcher) Channels() []string {
	channels := []string{"webhook"}
	if d.email != nil {
		channels = append(channels, "email")
	}
	if d.sms != nil {
		channels = append(channels, "sms")
	}
	channels = append(channels, "bark")
	return channels
}

// Execute delivers the task's reminder on its configured channel.
func (d *Dispatcher) Execute(ctx context.Context, task *core.Task) error {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for delivery slot: %w", err)
		}
	}
	msg := BuildMessage(task)
	info := task.Info

	switch {
	case info.Webhook != nil:
		return d.webhook.Send(ctx, *info.Webhook, msg)
	case info.Email != nil:
		if d.email == nil {
			return fmt.Errorf("%w: email", ErrChannelDisabled)
		}
		return d.email.Send(ctx, *info.Email, msg)
	case info.Bark != nil:
		barkURL := info.Bark.URL
		if barkURL == "" {
			barkURL = d.barkURL
		}
		if barkURL == "" {
			return fmt.Errorf("%w: bark", ErrChannelDisabled)
		}
		bark, err := NewBarkNotifier(barkURL, d.httpClient)
		if err != nil {
			return err
		}
		return bark.Send(ctx, msg.TaskName, msg.Content)
	case info.SMS != nil:
		if d.sms == nil {
			return fmt.Errorf("%w: sms", ErrChannelDisabled)
		}
		sid, err := d.sms.Send(ctx, info.SMS.To, msg.Content)
		if err != nil {
			return err
		}
		d.logger.Debug("sms sent", "task_id", task.ID, "sid", sid)
		return nil
	case d.defaultWebhook != nil:
		return d.webhook.Send(ctx, *d.defaultWebhook, msg)
	}
	return ErrNoChannel
}
