package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"remindtab/internal/core"
	"remindtab/internal/service"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes reminder management as MCP tools.
type MCPServer struct {
	reminders *service.Reminders
	server    *server.MCPServer
	logger    *slog.Logger
	location  *time.Location
}

// NewMCPServer creates a new MCP server instance with all tools registered.
func NewMCPServer(reminders *service.Reminders, logger *slog.Logger, location *time.Location, version string) *MCPServer {
	s := &MCPServer{
		reminders: reminders,
		logger:    logger,
		location:  location,
	}
	s.server = server.NewMCPServer(
		"remindtab",
		version,
		server.WithToolCapabilities(true),
	)
	s.registerTools()
	return s
}

// Run serves MCP over stdio until stdin closes.
func (s *MCPServer) Run() error {
	s.logger.Info("MCP server starting on stdio")
	return server.ServeStdio(s.server)
}

// HTTPHandler serves MCP over streamable HTTP.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools() {
	s.server.AddTool(mcp.NewTool("reminder_create",
		mcp.WithDescription("创建提醒任务。三选一：cron_expression（周期）、trigger_at（RFC3339 绝对时间）或 countdown（如 1h30m）"),
		mcp.WithString("task_name", mcp.Required(), mcp.Description("任务名称")),
		mcp.WithString("reminder_content", mcp.Required(), mcp.Description("提醒内容")),
		mcp.WithString("description", mcp.Description("任务描述（可选）")),
		mcp.WithString("cron_expression", mcp.Description("Cron 表达式，例如 '0 9 * * *' 表示每天 9 点")),
		mcp.WithString("limit_days", mcp.Description("逗号分隔的日期过滤：WORKDAY, HOLIDAY, WEEKEND, WEEKDAY_ONLY")),
		mcp.WithBoolean("is_lunar", mcp.Description("是否按农历日期触发")),
		mcp.WithNumber("lunar_month", mcp.Description("农历月（1-12）"), mcp.Min(1), mcp.Max(12)),
		mcp.WithNumber("lunar_day", mcp.Description("农历日（1-30）"), mcp.Min(1), mcp.Max(30)),
		mcp.WithString("start_time", mcp.Description("周期生效时间（RFC3339）")),
		mcp.WithString("end_time", mcp.Description("周期结束时间（RFC3339）")),
		mcp.WithString("trigger_at", mcp.Description("单次触发时间（RFC3339）")),
		mcp.WithString("countdown", mcp.Description("倒计时，例如 '30m'、'2h'、'1d2h'")),
		mcp.WithString("triggering_user_id", mcp.Description("发起人 ID")),
		mcp.WithString("target_chat_id", mcp.Description("目标会话 ID，群聊以 @chatroom 结尾")),
		mcp.WithString("mention_user_nickname", mcp.Description("群聊中 @ 的昵称")),
		mcp.WithString("webhook_url", mcp.Description("Webhook 地址（可选）")),
		mcp.WithString("email", mcp.Description("收件邮箱（可选）")),
		mcp.WithString("sms_to", mcp.Description("短信接收号码（可选）")),
		mcp.WithBoolean("bark", mcp.Description("通过 Bark 推送")),
	), s.handleCreate)

	s.server.AddTool(mcp.NewTool("reminder_list",
		mcp.WithDescription("列出提醒任务"),
		mcp.WithString("status",
			mcp.Description("按状态过滤"),
			mcp.Enum(string(core.TaskStatusPending), string(core.TaskStatusPendingCalculation),
				string(core.TaskStatusRunning), string(core.TaskStatusCompleted), string(core.TaskStatusFailed)),
		),
	), s.handleList)

	s.server.AddTool(mcp.NewTool("reminder_get",
		mcp.WithDescription("获取提醒任务详情"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("任务 ID")),
	), s.handleGet)

	s.server.AddTool(mcp.NewTool("reminder_update",
		mcp.WithDescription("更新提醒任务，未提供的字段保持不变；修改后从当前时间重新计算触发时间"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("任务 ID")),
		mcp.WithString("task_name", mcp.Description("新的任务名称")),
		mcp.WithString("reminder_content", mcp.Description("新的提醒内容")),
		mcp.WithString("cron_expression", mcp.Description("新的 Cron 表达式（改为周期任务）")),
		mcp.WithString("limit_days", mcp.Description("新的日期过滤，逗号分隔；传空字符串清除")),
		mcp.WithString("trigger_at", mcp.Description("新的单次触发时间（RFC3339）")),
		mcp.WithString("countdown", mcp.Description("新的倒计时")),
	), s.handleUpdate)

	s.server.AddTool(mcp.NewTool("reminder_delete",
		mcp.WithDescription("删除提醒任务"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("任务 ID")),
	), s.handleDelete)

	s.server.AddTool(mcp.NewTool("reminder_runs",
		mcp.WithDescription("查看任务的发送记录"),
		mcp.WithString("task_id", mcp.Required(), mcp.Description("任务 ID")),
		mcp.WithNumber("limit", mcp.Description("返回条数，默认 20"), mcp.Min(1), mcp.Max(100)),
	), s.handleRuns)

	s.server.AddTool(mcp.NewTool("reminder_preview",
		mcp.WithDescription("预览周期规则未来的触发时间"),
		mcp.WithString("cron_expression", mcp.Required(), mcp.Description("Cron 表达式")),
		mcp.WithString("limit_days", mcp.Description("逗号分隔的日期过滤")),
		mcp.WithNumber("count", mcp.Description("返回的触发次数，默认 5"), mcp.Min(1), mcp.Max(10)),
	), s.handlePreview)

	s.logger.Debug("MCP tools registered", "count", 7)
}

func (s *MCPServer) handleCreate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	info, err := s.taskInfoFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.reminders.Create(ctx, info)
	if err != nil {
		return s.toolError("创建任务失败", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("任务已创建\nID: %s\n状态: %s\n下次触发: %s",
		task.ID, task.Status, s.formatTime(task.NextTriggerAt))), nil
}

func (s *MCPServer) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var statusFilter *core.TaskStatus
	if raw := mcp.ParseString(request, "status", ""); raw != "" {
		st, err := core.ParseTaskStatus(raw)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		statusFilter = &st
	}

	tasks, err := s.reminders.List(ctx, statusFilter)
	if err != nil {
		return s.toolError("获取任务列表失败", err), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("没有找到任务"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 个任务:\n\n", len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&b, "%s %s\n", statusIcon(t.Status), t.ID)
		fmt.Fprintf(&b, "  名称: %s\n", t.Name)
		fmt.Fprintf(&b, "  计划: %s\n", describeSchedule(t.Info.Schedule))
		fmt.Fprintf(&b, "  内容: %s\n", truncateString(t.Info.Content, 60))
		if t.NextTriggerAt != nil {
			fmt.Fprintf(&b, "  下次触发: %s\n", s.formatTime(t.NextTriggerAt))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGet(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	task, err := s.reminders.Get(ctx, taskID)
	if err != nil {
		return s.toolError("获取任务失败", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "任务 ID: %s\n", task.ID)
	fmt.Fprintf(&b, "名称: %s\n", task.Name)
	fmt.Fprintf(&b, "状态: %s\n", task.Status)
	fmt.Fprintf(&b, "内容: %s\n", task.Info.Content)
	fmt.Fprintf(&b, "计划: %s\n", describeSchedule(task.Info.Schedule))
	if recipient := task.Info.Recipient(); recipient != "" {
		fmt.Fprintf(&b, "接收方: %s\n", recipient)
	}
	if task.NextTriggerAt != nil {
		fmt.Fprintf(&b, "下次触发: %s\n", s.formatTime(task.NextTriggerAt))
	}
	if task.LastRunAt != nil {
		fmt.Fprintf(&b, "上次发送: %s\n", s.formatTime(task.LastRunAt))
	}
	if task.LastError != nil {
		fmt.Fprintf(&b, "最近错误: %s\n", *task.LastError)
	}
	fmt.Fprintf(&b, "创建时间: %s\n", s.formatTime(&task.CreatedAt))
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	patch, err := patchFromRequest(request)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := s.reminders.Update(ctx, taskID, patch)
	if err != nil {
		return s.toolError("更新任务失败", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("任务已更新: %s\n状态: %s\n下次触发: %s",
		task.ID, task.Status, s.formatTime(task.NextTriggerAt))), nil
}

func (s *MCPServer) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	if err := s.reminders.Delete(ctx, taskID); err != nil {
		return s.toolError("删除任务失败", err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("任务已删除: %s", taskID)), nil
}

func (s *MCPServer) handleRuns(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := mcp.ParseString(request, "task_id", "")
	limit := int(mcp.ParseFloat64(request, "limit", 20))

	runs, err := s.reminders.Runs(ctx, taskID, limit, 0)
	if err != nil {
		return s.toolError("获取发送记录失败", err), nil
	}
	if len(runs) == 0 {
		return mcp.NewToolResultText("该任务暂无发送记录"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "找到 %d 条发送记录:\n\n", len(runs))
	for _, r := range runs {
		icon := "✅"
		if r.Status == core.RunStatusFailed {
			icon = "❌"
		}
		fmt.Fprintf(&b, "[%s] %s %s\n", icon, s.formatTime(&r.RanAt), r.ID)
		if r.Error != nil {
			fmt.Fprintf(&b, "    错误: %s\n", *r.Error)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handlePreview(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	expr := mcp.ParseString(request, "cron_expression", "")
	filters, err := parseLimitDays(mcp.ParseString(request, "limit_days", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	count := int(mcp.ParseFloat64(request, "count", 5))

	schedule := core.Schedule{Recurring: true, Cron: &core.RecurrenceRule{Expression: expr, LimitDays: filters}}
	items, err := s.reminders.Preview(ctx, schedule, count)
	if err != nil {
		return s.toolError("无效的规则", err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Cron 表达式: %s\n", expr)
	fmt.Fprintf(&b, "时区: %s\n\n", s.location)
	b.WriteString("未来触发时间:\n")
	for i, it := range items {
		line := s.formatTime(it.At)
		if it.Status != core.TaskStatusPending {
			line = fmt.Sprintf("%s (%s: %s)", line, it.Status, it.Reason)
		}
		fmt.Fprintf(&b, "  %d. %s\n", i+1, line)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) taskInfoFromRequest(request mcp.CallToolRequest) (core.TaskInfo, error) {
	info := core.TaskInfo{
		Name:            mcp.ParseString(request, "task_name", ""),
		Content:         mcp.ParseString(request, "reminder_content", ""),
		Description:     mcp.ParseString(request, "description", ""),
		TriggeringUser:  mcp.ParseString(request, "triggering_user_id", ""),
		TargetChat:      mcp.ParseString(request, "target_chat_id", ""),
		MentionNickname: mcp.ParseString(request, "mention_user_nickname", ""),
	}
	if u := mcp.ParseString(request, "webhook_url", ""); u != "" {
		info.Webhook = &core.WebhookChannel{URL: u}
	}
	if to := mcp.ParseString(request, "email", ""); to != "" {
		info.Email = &core.EmailChannel{Recipient: to, Subject: info.Name}
	}
	if to := mcp.ParseString(request, "sms_to", ""); to != "" {
		info.SMS = &core.SMSChannel{To: to}
	}
	if mcp.ParseBoolean(request, "bark", false) {
		info.Bark = &core.BarkChannel{}
	}

	expr := mcp.ParseString(request, "cron_expression", "")
	triggerAt := mcp.ParseString(request, "trigger_at", "")
	countdown := mcp.ParseString(request, "countdown", "")
	switch {
	case expr != "":
		rule := &core.RecurrenceRule{Expression: expr, Lunar: mcp.ParseBoolean(request, "is_lunar", false)}
		filters, err := parseLimitDays(mcp.ParseString(request, "limit_days", ""))
		if err != nil {
			return info, err
		}
		rule.LimitDays = filters
		if rule.Lunar {
			month := int(mcp.ParseFloat64(request, "lunar_month", 0))
			day := int(mcp.ParseFloat64(request, "lunar_day", 0))
			rule.LunarMonth, rule.LunarDay = &month, &day
		}
		if rule.ValidFrom, err = s.parseOptionalTime(mcp.ParseString(request, "start_time", "")); err != nil {
			return info, err
		}
		if rule.ValidUntil, err = s.parseOptionalTime(mcp.ParseString(request, "end_time", "")); err != nil {
			return info, err
		}
		info.Schedule = core.Schedule{Recurring: true, Cron: rule}
	case triggerAt != "":
		at, err := s.parseOptionalTime(triggerAt)
		if err != nil {
			return info, err
		}
		info.Schedule = core.Schedule{TriggerAt: at}
	case countdown != "":
		info.Schedule = core.Schedule{Countdown: &countdown}
	default:
		return info, errors.New("需要提供 cron_expression、trigger_at 或 countdown 之一")
	}
	return info, nil
}

func patchFromRequest(request mcp.CallToolRequest) (core.TaskInfoPatch, error) {
	var patch core.TaskInfoPatch
	args := request.GetArguments()
	if v, ok := args["task_name"].(string); ok {
		patch.Name = &v
	}
	if v, ok := args["reminder_content"].(string); ok {
		patch.Content = &v
	}

	var sched *core.SchedulePatch
	if v, ok := args["cron_expression"].(string); ok && v != "" {
		sched = &core.SchedulePatch{Kind: core.ScheduleRecurring, Cron: &core.RecurrenceRulePatch{Expression: &v}}
	}
	if v, ok := args["limit_days"].(string); ok {
		filters, err := parseLimitDays(v)
		if err != nil {
			return patch, err
		}
		if sched == nil {
			sched = &core.SchedulePatch{Cron: &core.RecurrenceRulePatch{}}
		}
		sched.Cron.LimitDays = &filters
	}
	if v, ok := args["trigger_at"].(string); ok && v != "" {
		at, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return patch, fmt.Errorf("trigger_at 格式错误: %w", err)
		}
		sched = &core.SchedulePatch{Kind: core.ScheduleTriggerAt, TriggerAt: &at}
	}
	if v, ok := args["countdown"].(string); ok && v != "" {
		sched = &core.SchedulePatch{Kind: core.ScheduleCountdown, Countdown: &v}
	}
	patch.Schedule = sched
	return patch, nil
}

func (s *MCPServer) parseOptionalTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if t, err = time.ParseInLocation("2006-01-02 15:04:05", raw, s.location); err != nil {
			return nil, fmt.Errorf("时间格式错误 %q: 需要 RFC3339", raw)
		}
	}
	return &t, nil
}

func parseLimitDays(raw string) ([]core.DayFilter, error) {
	var filters []core.DayFilter
	for _, part := range strings.Split(raw, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		f, err := core.ParseDayFilter(part)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

func (s *MCPServer) toolError(prefix string, err error) *mcp.CallToolResult {
	if errors.Is(err, core.ErrTaskNotFound) {
		return mcp.NewToolResultError("任务不存在")
	}
	if !errors.Is(err, core.ErrConfiguration) {
		s.logger.Error(prefix, "err", err)
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.location).Format("2006-01-02 15:04:05")
}

func describeSchedule(sched core.Schedule) string {
	switch sched.Kind() {
	case core.ScheduleRecurring:
		if sched.Cron == nil {
			return "周期"
		}
		desc := "周期 " + sched.Cron.Expression
		if len(sched.Cron.LimitDays) > 0 {
			parts := make([]string, len(sched.Cron.LimitDays))
			for i, f := range sched.Cron.LimitDays {
				parts[i] = string(f)
			}
			desc += " [" + strings.Join(parts, ",") + "]"
		}
		if sched.Cron.Lunar && sched.Cron.LunarMonth != nil && sched.Cron.LunarDay != nil {
			desc += fmt.Sprintf(" 农历%d月%d日", *sched.Cron.LunarMonth, *sched.Cron.LunarDay)
		}
		return desc
	case core.ScheduleCountdown:
		return "倒计时 " + *sched.Countdown
	default:
		if sched.TriggerAt == nil {
			return "单次"
		}
		return "单次 " + sched.TriggerAt.Format(time.RFC3339)
	}
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}

func statusIcon(status core.TaskStatus) string {
	switch status {
	case core.TaskStatusPending:
		return "⏰"
	case core.TaskStatusPendingCalculation:
		return "⏳"
	case core.TaskStatusRunning:
		return "▶️"
	case core.TaskStatusCompleted:
		return "✅"
	case core.TaskStatusFailed:
		return "❌"
	default:
		return "❓"
	}
}
