package core

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

// ScheduleKind tags the variant of a Schedule.
type ScheduleKind string

const (
	ScheduleRecurring ScheduleKind = "recurring"
	ScheduleTriggerAt ScheduleKind = "trigger_at"
	ScheduleCountdown ScheduleKind = "countdown"
)

// Kind returns the variant tag of s.
func (s Schedule) Kind() ScheduleKind {
	switch {
	case s.Recurring:
		return ScheduleRecurring
	case s.Countdown != nil:
		return ScheduleCountdown
	default:
		return ScheduleTriggerAt
	}
}

// TaskInfoPatch is a partial update of TaskInfo. Nil fields are left unchanged.
// Setting any channel replaces the configured channel.
type TaskInfoPatch struct {
	Name            *string         `json:"task_name,omitempty"`
	Description     *string         `json:"description,omitempty"`
	Content         *string         `json:"reminder_content,omitempty"`
	TriggeringUser  *string         `json:"triggering_user_id,omitempty"`
	TargetChat      *string         `json:"target_chat_id,omitempty"`
	MentionNickname *string         `json:"mention_user_nickname,omitempty"`
	Webhook         *WebhookChannel `json:"webhook_channel,omitempty"`
	Email           *EmailChannel   `json:"email_channel,omitempty"`
	Bark            *BarkChannel    `json:"bark_channel,omitempty"`
	SMS             *SMSChannel     `json:"sms_channel,omitempty"`
	Schedule        *SchedulePatch  `json:"schedule,omitempty"`
}

// SchedulePatch updates the schedule. When Kind differs from the current
// variant the schedule is rebuilt from the patch alone; otherwise the patch
// is applied on top of the current variant.
type SchedulePatch struct {
	Kind      ScheduleKind         `json:"kind,omitempty"`
	Cron      *RecurrenceRulePatch `json:"cron_config,omitempty"`
	TriggerAt *time.Time           `json:"trigger_at,omitempty"`
	Countdown *string              `json:"countdown,omitempty"`
}

// RecurrenceRulePatch is a partial update of a RecurrenceRule.
type RecurrenceRulePatch struct {
	Expression      *string      `json:"cron_expression,omitempty"`
	ValidFrom       *time.Time   `json:"start_time,omitempty"`
	ClearValidFrom  bool         `json:"clear_start_time,omitempty"`
	ValidUntil      *time.Time   `json:"end_time,omitempty"`
	ClearValidUntil bool         `json:"clear_end_time,omitempty"`
	LimitDays       *[]DayFilter `json:"limit_days,omitempty"`
	Lunar           *bool        `json:"is_lunar,omitempty"`
	LunarMonth      *int         `json:"lunar_month,omitempty"`
	LunarDay        *int         `json:"lunar_day,omitempty"`
}

// MergeTaskInfo returns a new TaskInfo with the patch applied and validated.
// base is never modified.
func MergeTaskInfo(base TaskInfo, patch TaskInfoPatch) (TaskInfo, error) {
	out := cloneTaskInfo(base)
	setString(&out.Name, patch.Name)
	setString(&out.Description, patch.Description)
	setString(&out.Content, patch.Content)
	setString(&out.TriggeringUser, patch.TriggeringUser)
	setString(&out.TargetChat, patch.TargetChat)
	setString(&out.MentionNickname, patch.MentionNickname)

	if patch.Webhook != nil || patch.Email != nil || patch.Bark != nil || patch.SMS != nil {
		out.Webhook, out.Email, out.Bark, out.SMS = nil, nil, nil, nil
		if patch.Webhook != nil {
			w := cloneWebhook(*patch.Webhook)
			out.Webhook = &w
		}
		if patch.Email != nil {
			e := *patch.Email
			out.Email = &e
		}
		if patch.Bark != nil {
			b := *patch.Bark
			out.Bark = &b
		}
		if patch.SMS != nil {
			s := *patch.SMS
			out.SMS = &s
		}
	}

	if patch.Schedule != nil {
		sched, err := mergeSchedule(out.Schedule, *patch.Schedule)
		if err != nil {
			return TaskInfo{}, err
		}
		out.Schedule = sched
	}

	if err := out.Validate(); err != nil {
		return TaskInfo{}, err
	}
	return out, nil
}

func mergeSchedule(base Schedule, patch SchedulePatch) (Schedule, error) {
	kind := patch.Kind
	if kind == "" {
		kind = base.Kind()
	}
	switch kind {
	case ScheduleRecurring:
		rule := RecurrenceRule{}
		if base.Kind() == ScheduleRecurring && base.Cron != nil {
			rule = cloneRule(*base.Cron)
		}
		if patch.Cron != nil {
			applyRulePatch(&rule, *patch.Cron)
		}
		if patch.TriggerAt != nil || patch.Countdown != nil {
			return Schedule{}, fmt.Errorf("%w: recurring schedule cannot set trigger_at or countdown", ErrConfiguration)
		}
		return Schedule{Recurring: true, Cron: &rule}, nil
	case ScheduleTriggerAt:
		if patch.Cron != nil || patch.Countdown != nil {
			return Schedule{}, fmt.Errorf("%w: trigger_at schedule accepts only trigger_at", ErrConfiguration)
		}
		at := base.TriggerAt
		if base.Kind() != ScheduleTriggerAt {
			at = nil
		}
		if patch.TriggerAt != nil {
			at = patch.TriggerAt
		}
		if at == nil {
			return Schedule{}, fmt.Errorf("%w: trigger_at is required", ErrConfiguration)
		}
		t := *at
		return Schedule{TriggerAt: &t}, nil
	case ScheduleCountdown:
		if patch.Cron != nil || patch.TriggerAt != nil {
			return Schedule{}, fmt.Errorf("%w: countdown schedule accepts only countdown", ErrConfiguration)
		}
		cd := base.Countdown
		if base.Kind() != ScheduleCountdown {
			cd = nil
		}
		if patch.Countdown != nil {
			cd = patch.Countdown
		}
		if cd == nil {
			return Schedule{}, fmt.Errorf("%w: countdown is required", ErrConfiguration)
		}
		v := *cd
		return Schedule{Countdown: &v}, nil
	}
	return Schedule{}, fmt.Errorf("%w: unknown schedule kind %q", ErrConfiguration, kind)
}

func applyRulePatch(rule *RecurrenceRule, p RecurrenceRulePatch) {
	if p.Expression != nil {
		rule.Expression = *p.Expression
	}
	if p.ClearValidFrom {
		rule.ValidFrom = nil
	}
	if p.ValidFrom != nil {
		t := *p.ValidFrom
		rule.ValidFrom = &t
	}
	if p.ClearValidUntil {
		rule.ValidUntil = nil
	}
	if p.ValidUntil != nil {
		t := *p.ValidUntil
		rule.ValidUntil = &t
	}
	if p.LimitDays != nil {
		rule.LimitDays = slices.Clone(*p.LimitDays)
	}
	if p.Lunar != nil {
		rule.Lunar = *p.Lunar
		if !rule.Lunar {
			rule.LunarMonth, rule.LunarDay = nil, nil
		}
	}
	if p.LunarMonth != nil {
		v := *p.LunarMonth
		rule.LunarMonth = &v
	}
	if p.LunarDay != nil {
		v := *p.LunarDay
		rule.LunarDay = &v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func cloneTaskInfo(in TaskInfo) TaskInfo {
	out := in
	if in.Webhook != nil {
		w := cloneWebhook(*in.Webhook)
		out.Webhook = &w
	}
	if in.Email != nil {
		e := *in.Email
		out.Email = &e
	}
	if in.Bark != nil {
		b := *in.Bark
		out.Bark = &b
	}
	if in.SMS != nil {
		s := *in.SMS
		out.SMS = &s
	}
	out.Schedule = cloneSchedule(in.Schedule)
	return out
}

func cloneSchedule(in Schedule) Schedule {
	out := Schedule{Recurring: in.Recurring}
	if in.Cron != nil {
		r := cloneRule(*in.Cron)
		out.Cron = &r
	}
	if in.TriggerAt != nil {
		t := *in.TriggerAt
		out.TriggerAt = &t
	}
	if in.Countdown != nil {
		c := *in.Countdown
		out.Countdown = &c
	}
	return out
}

func cloneRule(in RecurrenceRule) RecurrenceRule {
	out := in
	out.LimitDays = slices.Clone(in.LimitDays)
	if in.ValidFrom != nil {
		t := *in.ValidFrom
		out.ValidFrom = &t
	}
	if in.ValidUntil != nil {
		t := *in.ValidUntil
		out.ValidUntil = &t
	}
	if in.LunarMonth != nil {
		v := *in.LunarMonth
		out.LunarMonth = &v
	}
	if in.LunarDay != nil {
		v := *in.LunarDay
		out.LunarDay = &v
	}
	return out
}

func cloneWebhook(in WebhookChannel) WebhookChannel {
	out := in
	out.Headers = maps.Clone(in.Headers)
	out.PayloadTemplate = maps.Clone(in.PayloadTemplate)
	return out
}
