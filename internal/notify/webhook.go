package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"remindtab/internal/core"
)

// WebhookSender posts reminders to HTTP endpoints.
type WebhookSender struct {
	client *http.Client
}

func NewWebhookSender(client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &WebhookSender{client: client}
}

// Send renders the channel's payload template and delivers it. Without a
// template a plain {"content", "to"} body is sent.
func (w *WebhookSender) Send(ctx context.Context, ch core.WebhookChannel, msg Message) error {
	var payload any
	if len(ch.PayloadTemplate) > 0 {
		payload = ReplacePlaceholders(map[string]any(ch.PayloadTemplate), msg.Replacements())
	} else {
		body := map[string]any{"content": msg.Content, "to": msg.Recipient}
		if msg.MentionUser != "" {
			body["at"] = []string{msg.MentionUser}
		}
		payload = body
	}

	method := strings.ToUpper(strings.TrimSpace(ch.Method))
	if method == "" {
		method = http.MethodPost
	}
	var req *http.Request
	var err error
	switch method {
	case http.MethodPost, http.MethodPut:
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode webhook payload: %w", err)
		}
		req, err = http.NewRequestWithContext(ctx, method, ch.URL, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("create webhook request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
	case http.MethodGet:
		req, err = http.NewRequestWithContext(ctx, method, ch.URL, nil)
		if err != nil {
			return fmt.Errorf("create webhook request: %w", err)
		}
		req.URL.RawQuery = queryFromPayload(req.URL.Query(), payload).Encode()
	default:
		return fmt.Errorf("unsupported webhook method %q", ch.Method)
	}
	for k, v := range ch.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

func queryFromPayload(q url.Values, payload any) url.Values {
	m, ok := payload.(map[string]any)
	if !ok {
		return q
	}
	for k, v := range m {
		switch val := v.(type) {
		case string:
			q.Set(k, val)
		case nil:
		default:
			data, err := json.Marshal(val)
			if err == nil {
				q.Set(k, string(data))
			}
		}
	}
	return q
}
