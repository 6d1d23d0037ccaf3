package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioConfig holds the Twilio credentials and sender numbers.
type TwilioConfig struct {
	AccountSID   string
	AuthToken    string
	From         string
	WhatsAppFrom string
}

func (c TwilioConfig) Enabled() bool {
	return c.AccountSID != "" && c.AuthToken != "" && (c.From != "" || c.WhatsAppFrom != "")
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSSender delivers reminders as Twilio text messages. Recipients prefixed
// with "whatsapp:" are sent from the WhatsApp number.
type SMSSender struct {
	api          messageCreator
	from         string
	whatsAppFrom string
}

func NewSMSSender(cfg TwilioConfig) (*SMSSender, error) {
	if !cfg.Enabled() {
		return nil, errors.New("twilio account, token and a sender number are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{api: client.Api, from: cfg.From, whatsAppFrom: cfg.WhatsAppFrom}, nil
}

// Send returns the message SID on success.
func (s *SMSSender) Send(_ context.Context, to, body string) (string, error) {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetBody(body)
	if strings.HasPrefix(to, "whatsapp:") {
		if s.whatsAppFrom == "" {
			return "", fmt.Errorf("%w: whatsapp sender number", ErrChannelDisabled)
		}
		params.SetFrom("whatsapp:" + strings.TrimPrefix(s.whatsAppFrom, "whatsapp:"))
	} else {
		if s.from == "" {
			return "", fmt.Errorf("%w: sms sender number", ErrChannelDisabled)
		}
		params.SetFrom(s.from)
	}

	resp, err := s.api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("send sms to %s: %w", to, err)
	}
	if resp != nil && resp.Sid != nil {
		return *resp.Sid, nil
	}
	return "", nil
}
