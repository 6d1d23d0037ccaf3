package core

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus describes the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending            TaskStatus = "pending"
	TaskStatusPendingCalculation TaskStatus = "pending_calculation"
	TaskStatusRunning            TaskStatus = "running"
	TaskStatusCompleted          TaskStatus = "completed"
	TaskStatusFailed             TaskStatus = "failed"
)

// ParseTaskStatus validates a textual status.
func ParseTaskStatus(s string) (TaskStatus, error) {
	st := TaskStatus(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case TaskStatusPending, TaskStatusPendingCalculation, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Task is a reminder task as persisted by the store.
type Task struct {
	ID            string
	Name          string
	Info          TaskInfo
	Status        TaskStatus
	Recurring     bool
	NextTriggerAt *time.Time
	LastRunAt     *time.Time
	LastError     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TaskInfo is the immutable, user supplied part of a task.
type TaskInfo struct {
	Name            string          `json:"task_name"`
	Description     string          `json:"description,omitempty"`
	Content         string          `json:"reminder_content"`
	TriggeringUser  string          `json:"triggering_user_id,omitempty"`
	TargetChat      string          `json:"target_chat_id,omitempty"`
	MentionNickname string          `json:"mention_user_nickname,omitempty"`
	Webhook         *WebhookChannel `json:"webhook_channel,omitempty"`
	Email           *EmailChannel   `json:"email_channel,omitempty"`
	Bark            *BarkChannel    `json:"bark_channel,omitempty"`
	SMS             *SMSChannel     `json:"sms_channel,omitempty"`
	Schedule        Schedule        `json:"schedule"`
}

// WebhookChannel delivers the reminder as an HTTP request.
type WebhookChannel struct {
	URL             string            `json:"url"`
	Method          string            `json:"method,omitempty"`
	Headers         map[string]string `json:"headers,omitempty"`
	PayloadTemplate map[string]any    `json:"payload_template,omitempty"`
}

// EmailChannel delivers the reminder by mail.
type EmailChannel struct {
	Subject   string `json:"subject"`
	Recipient string `json:"recipient_email"`
}

// BarkChannel delivers the reminder as a Bark push. An empty URL uses the configured default.
type BarkChannel struct {
	URL string `json:"url,omitempty"`
}

// SMSChannel delivers the reminder as a text message.
type SMSChannel struct {
	To string `json:"to"`
}

// Recipient returns the chat that receives the reminder.
func (i TaskInfo) Recipient() string {
	if i.TargetChat != "" {
		return i.TargetChat
	}
	return i.TriggeringUser
}

// IsGroupChat reports whether the reminder targets a group conversation.
func (i TaskInfo) IsGroupChat() bool {
	return strings.Contains(i.TargetChat, "@chatroom")
}

// Validate checks the fields that do not depend on the schedule.
func (i TaskInfo) Validate() error {
	if strings.TrimSpace(i.Name) == "" {
		return fmt.Errorf("%w: task_name is required", ErrConfiguration)
	}
	if strings.TrimSpace(i.Content) == "" {
		return fmt.Errorf("%w: reminder_content is required", ErrConfiguration)
	}
	channels := 0
	if i.Webhook != nil {
		channels++
		if strings.TrimSpace(i.Webhook.URL) == "" {
			return fmt.Errorf("%w: webhook_channel.url is required", ErrConfiguration)
		}
	}
	if i.Email != nil {
		channels++
		if !strings.Contains(i.Email.Recipient, "@") {
			return fmt.Errorf("%w: email_channel.recipient_email is invalid", ErrConfiguration)
		}
	}
	if i.Bark != nil {
		channels++
	}
	if i.SMS != nil {
		channels++
		if strings.TrimSpace(i.SMS.To) == "" {
			return fmt.Errorf("%w: sms_channel.to is required", ErrConfiguration)
		}
	}
	if channels > 1 {
		return fmt.Errorf("%w: at most one notification channel may be configured", ErrConfiguration)
	}
	return i.Schedule.Validate()
}

// DayType is the calendar provider's day classification.
type DayType int

const (
	DayTypeUnknown      DayType = -1
	DayTypeWorkday      DayType = 0
	DayTypeHoliday      DayType = 1
	DayTypeLegalHoliday DayType = 2
)

// CalendarDay is the classification of a single date.
type CalendarDay struct {
	Date      string // YYYY-MM-DD
	Year      int
	Month     int
	Day       int
	Weekday   int // 1 = Monday ... 7 = Sunday
	Type      DayType
	TypeDesc  string
	LunarText string
}

func (d CalendarDay) IsWorkday() bool { return d.Type == DayTypeWorkday }

func (d CalendarDay) IsHoliday() bool {
	return d.Type == DayTypeHoliday || d.Type == DayTypeLegalHoliday
}

func (d CalendarDay) IsLegalHoliday() bool { return d.Type == DayTypeLegalHoliday }

func (d CalendarDay) IsWeekend() bool {
	return d.Type == DayTypeHoliday && (d.Weekday == 6 || d.Weekday == 7)
}

// DateKey formats t as the calendar lookup key.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

// RunStatus is the outcome of a single delivery.
type RunStatus string

const (
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one recorded delivery of a task.
type Run struct {
	ID     string
	TaskID string
	Status RunStatus
	RanAt  time.Time
	Error  *string
}
