package notify

import (
	"strings"

	"remindtab/internal/core"
)

// Message is a reminder rendered for delivery.
type Message struct {
	TaskID          string
	TaskName        string
	Description     string
	BaseContent     string
	Content         string // BaseContent with the mention prefix in group chats
	Recipient       string
	TriggeringUser  string
	MentionNickname string
	// MentionUser is the user to @ in a group chat, empty otherwise.
	MentionUser string
}

// BuildMessage renders a task into a Message.
func BuildMessage(task *core.Task) Message {
	info := task.Info
	msg := Message{
		TaskID:          task.ID,
		TaskName:        info.Name,
		Description:     info.Description,
		BaseContent:     info.Content,
		Content:         info.Content,
		Recipient:       info.Recipient(),
		TriggeringUser:  info.TriggeringUser,
		MentionNickname: info.MentionNickname,
	}
	if info.IsGroupChat() && info.TriggeringUser != "" {
		msg.MentionUser = info.TriggeringUser
		name := info.MentionNickname
		if name == "" {
			name = info.TriggeringUser
		}
		msg.Content = "@" + name + " " + info.Content
	}
	return msg
}

// Replacements returns the placeholder values available to payload templates.
func (m Message) Replacements() map[string]string {
	return map[string]string{
		"content":            m.Content,
		"base_content":       m.BaseContent,
		"user_id":            m.Recipient,
		"target_chat_id":     m.Recipient,
		"triggering_user_id": m.TriggeringUser,
		"mention_nickname":   m.MentionNickname,
		"at_user_id":         m.MentionUser,
		"task_id":            m.TaskID,
		"task_name":          m.TaskName,
		"task_description":   m.Description,
	}
}

// ReplacePlaceholders walks maps, slices and strings, substituting {{key}}
// and {key} markers. The input is never modified.
func ReplacePlaceholders(v any, replacements map[string]string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = ReplacePlaceholders(item, replacements)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = ReplacePlaceholders(item, replacements)
		}
		return out
	case string:
		for key, value := range replacements {
			val = strings.ReplaceAll(val, "{{"+key+"}}", value)
			val = strings.ReplaceAll(val, "{"+key+"}", value)
		}
		return val
	default:
		return v
	}
}
