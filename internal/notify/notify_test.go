package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"remindtab/internal/core"
)

func groupTask() *core.Task {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return &core.Task{
		ID:   "t1",
		Name: "standup",
		Info: core.TaskInfo{
			Name:            "standup",
			Description:     "team sync",
			Content:         "standup in 5 minutes",
			TriggeringUser:  "wxid_alice",
			TargetChat:      "1234@chatroom",
			MentionNickname: "Alice",
			Schedule:        core.Schedule{TriggerAt: &at},
		},
	}
}

type captured struct {
	mu      sync.Mutex
	method  string
	query   url.Values
	headers http.Header
	body    []byte
}

func (c *captured) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.method = r.Method
		c.query = r.URL.Query()
		c.headers = r.Header.Clone()
		c.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
	}
}

func TestBuildMessageMentionsInGroupChats(t *testing.T) {
	msg := BuildMessage(groupTask())
	assert.Equal(t, "@Alice standup in 5 minutes", msg.Content)
	assert.Equal(t, "standup in 5 minutes", msg.BaseContent)
	assert.Equal(t, "1234@chatroom", msg.Recipient)
	assert.Equal(t, "wxid_alice", msg.MentionUser)

	direct := groupTask()
	direct.Info.TargetChat = ""
	msg = BuildMessage(direct)
	assert.Equal(t, "standup in 5 minutes", msg.Content)
	assert.Equal(t, "wxid_alice", msg.Recipient)
	assert.Empty(t, msg.MentionUser)
}

func TestReplacePlaceholders(t *testing.T) {
	tmpl := map[string]any{
		"MsgItem": []any{map[string]any{
			"ToUserName":  "{{user_id}}",
			"TextContent": "{content}",
			"AtWxIDList":  []any{"{{at_user_id}}"},
			"MsgType":     float64(0),
		}},
		"title": "[{{task_name}}] {{unknown}}",
	}
	out := ReplacePlaceholders(tmpl, map[string]string{
		"user_id":    "1234@chatroom",
		"content":    "@Alice hi",
		"at_user_id": "wxid_alice",
		"task_name":  "standup",
	})

	m := out.(map[string]any)
	item := m["MsgItem"].([]any)[0].(map[string]any)
	assert.Equal(t, "1234@chatroom", item["ToUserName"])
	assert.Equal(t, "@Alice hi", item["TextContent"])
	assert.Equal(t, []any{"wxid_alice"}, item["AtWxIDList"])
	assert.Equal(t, float64(0), item["MsgType"])
	assert.Equal(t, "[standup] {{unknown}}", m["title"])

	original := tmpl["MsgItem"].([]any)[0].(map[string]any)
	assert.Equal(t, "{{user_id}}", original["ToUserName"], "template is not modified")
}

func TestWebhookPostTemplate(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	ch := core.WebhookChannel{
		URL:             srv.URL,
		Headers:         map[string]string{"Authorization": "Bearer abc"},
		PayloadTemplate: map[string]any{"text": "{{content}}", "chat": "{{target_chat_id}}"},
	}
	require.NoError(t, NewWebhookSender(srv.Client()).Send(context.Background(), ch, BuildMessage(groupTask())))

	assert.Equal(t, http.MethodPost, c.method)
	assert.Equal(t, "Bearer abc", c.headers.Get("Authorization"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(c.body, &body))
	assert.Equal(t, "@Alice standup in 5 minutes", body["text"])
	assert.Equal(t, "1234@chatroom", body["chat"])
}

func TestWebhookGetAndErrors(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()
	sender := NewWebhookSender(srv.Client())

	ch := core.WebhookChannel{URL: srv.URL, Method: "get", PayloadTemplate: map[string]any{"msg": "{{base_content}}", "n": float64(3)}}
	require.NoError(t, sender.Send(context.Background(), ch, BuildMessage(groupTask())))
	assert.Equal(t, http.MethodGet, c.method)
	assert.Equal(t, "standup in 5 minutes", c.query.Get("msg"))
	assert.Equal(t, "3", c.query.Get("n"))

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	defer failing.Close()
	err := sender.Send(context.Background(), core.WebhookChannel{URL: failing.URL}, BuildMessage(groupTask()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")

	err = sender.Send(context.Background(), core.WebhookChannel{URL: srv.URL, Method: "DELETE"}, BuildMessage(groupTask()))
	assert.Error(t, err)
}

func TestBarkNotifier(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	bark, err := NewBarkNotifier(srv.URL+"/devicekey/", srv.Client())
	require.NoError(t, err)
	require.NoError(t, bark.Send(context.Background(), "standup", "in 5 minutes"))

	form, err := url.ParseQuery(string(c.body))
	require.NoError(t, err)
	assert.Equal(t, "standup", form.Get("title"))
	assert.Equal(t, "in 5 minutes", form.Get("body"))
	assert.Equal(t, "remindtab", form.Get("group"))

	_, err = NewBarkNotifier(" ", nil)
	assert.Error(t, err)
}

type fakeMessages struct {
	params *twilioApi.CreateMessageParams
	err    error
}

func (f *fakeMessages) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestSMSSender(t *testing.T) {
	api := &fakeMessages{}
	s := &SMSSender{api: api, from: "+15550001", whatsAppFrom: "+15550002"}

	sid, err := s.Send(context.Background(), "+15550100", "hello")
	require.NoError(t, err)
	assert.Equal(t, "SM123", sid)
	assert.Equal(t, "+15550001", *api.params.From)
	assert.Equal(t, "+15550100", *api.params.To)
	assert.Equal(t, "hello", *api.params.Body)

	_, err = s.Send(context.Background(), "whatsapp:+15550100", "hello")
	require.NoError(t, err)
	assert.Equal(t, "whatsapp:+15550002", *api.params.From)

	api.err = errors.New("unverified number")
	_, err = s.Send(context.Background(), "+15550100", "hello")
	assert.ErrorContains(t, err, "unverified number")

	_, err = NewSMSSender(TwilioConfig{AccountSID: "AC1"})
	assert.Error(t, err)
}

func TestBuildMail(t *testing.T) {
	raw := buildMail("bot@example.com", "alice@example.com", "提醒", "line one\nline two")
	assert.Contains(t, raw, "To: alice@example.com\r\n")
	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.True(t, strings.HasSuffix(raw, "line one\r\nline two\r\n"))
}

func TestDispatcherRouting(t *testing.T) {
	c := &captured{}
	srv := httptest.NewServer(c.handler(http.StatusOK))
	defer srv.Close()

	task := groupTask()
	plain := NewDispatcher(DispatcherConfig{HTTPClient: srv.Client()}, nil)
	require.ErrorIs(t, plain.Execute(context.Background(), task), ErrNoChannel)

	withDefault := NewDispatcher(DispatcherConfig{
		HTTPClient:     srv.Client(),
		DefaultWebhook: &core.WebhookChannel{URL: srv.URL, PayloadTemplate: map[string]any{"text": "{{content}}"}},
		RatePerSecond:  100,
	}, nil)
	require.NoError(t, withDefault.Execute(context.Background(), task))
	assert.Contains(t, string(c.body), "@Alice standup")

	task.Info.Email = &core.EmailChannel{Recipient: "alice@example.com"}
	require.ErrorIs(t, withDefault.Execute(context.Background(), task), ErrChannelDisabled)

	task.Info.Email = nil
	task.Info.Bark = &core.BarkChannel{URL: srv.URL + "/key"}
	require.NoError(t, withDefault.Execute(context.Background(), task))
	assert.Equal(t, http.MethodPost, c.method)

	task.Info.Bark = nil
	task.Info.SMS = &core.SMSChannel{To: "+15550100"}
	require.ErrorIs(t, withDefault.Execute(context.Background(), task), ErrChannelDisabled)
	assert.Equal(t, []string{"webhook", "bark"}, withDefault.Channels())
}
