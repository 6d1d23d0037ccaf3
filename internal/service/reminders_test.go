package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindtab/internal/core"
	"remindtab/internal/store"
)

type stubExecutor struct{}

func (stubExecutor) Execute(context.Context, *core.Task) error { return nil }

// yearSyncer fills a whole year with weekday/weekend classifications.
type yearSyncer struct {
	repo *store.Store
}

func (y *yearSyncer) EnsureYear(ctx context.Context, year int, _ bool) error {
	var days []core.CalendarDay
	for d := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC); d.Year() == year; d = d.AddDate(0, 0, 1) {
		typ := core.DayTypeWorkday
		if wd := core.ISOWeekday(d); wd >= 6 {
			typ = core.DayTypeHoliday
		}
		days = append(days, core.CalendarDay{
			Date: core.DateKey(d), Year: year, Month: int(d.Month()), Day: d.Day(),
			Weekday: core.ISOWeekday(d), Type: typ,
		})
	}
	return y.repo.UpsertCalendarDays(ctx, days)
}

func newTestReminders(t *testing.T) (*Reminders, *store.Store, *yearSyncer) {
	t.Helper()
	st, err := store.Open(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	syncer := &yearSyncer{repo: st}
	calc := core.NewCalculator(st, nil, time.UTC, 0)
	sched := core.NewScheduler(st, calc, stubExecutor{}, nil, core.SchedulerOptions{})
	return NewReminders(st, sched, syncer, nil), st, syncer
}

func countdownInfo(cd string) core.TaskInfo {
	return core.TaskInfo{Name: "tea", Content: "tea is ready", Schedule: core.Schedule{Countdown: &cd}}
}

func workdayInfo() core.TaskInfo {
	return core.TaskInfo{
		Name:    "standup",
		Content: "daily standup",
		Schedule: core.Schedule{Recurring: true, Cron: &core.RecurrenceRule{
			Expression: "0 9 * * *",
			LimitDays:  []core.DayFilter{core.DayFilterWorkday},
		}},
	}
}

func TestCreateArmsPendingTask(t *testing.T) {
	r, _, _ := newTestReminders(t)
	task, err := r.Create(context.Background(), countdownInfo("1h"))
	require.NoError(t, err)

	assert.Equal(t, core.TaskStatusPending, task.Status)
	require.NotNil(t, task.NextTriggerAt)
	armed, ok := r.Armed(task.ID)
	require.True(t, ok)
	assert.True(t, armed.Equal(*task.NextTriggerAt))

	stored, err := r.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, "tea is ready", stored.Info.Content)
}

func TestCreateWithoutCalendarIsDeferred(t *testing.T) {
	r, _, _ := newTestReminders(t)
	task, err := r.Create(context.Background(), workdayInfo())
	require.NoError(t, err)

	assert.Equal(t, core.TaskStatusPendingCalculation, task.Status)
	assert.NotNil(t, task.NextTriggerAt)
	require.NotNil(t, task.LastError)
	_, ok := r.Armed(task.ID)
	assert.False(t, ok)
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	r, _, _ := newTestReminders(t)
	_, err := r.Create(context.Background(), countdownInfo("soon"))
	require.ErrorIs(t, err, core.ErrConfiguration)

	tasks, err := r.List(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestCreateExpiredRuleFails(t *testing.T) {
	r, _, _ := newTestReminders(t)
	info := workdayInfo()
	info.Schedule.Cron.LimitDays = nil
	until := time.Now().Add(-time.Hour)
	from := until.Add(-48 * time.Hour)
	info.Schedule.Cron.ValidFrom = &from
	info.Schedule.Cron.ValidUntil = &until

	task, err := r.Create(context.Background(), info)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusFailed, task.Status)
}

func TestSyncCalendarReleasesDeferredTasks(t *testing.T) {
	r, _, syncer := newTestReminders(t)
	task, err := r.Create(context.Background(), workdayInfo())
	require.NoError(t, err)
	require.Equal(t, core.TaskStatusPendingCalculation, task.Status)

	now := time.Now().UTC()
	// The next workday may fall into the following year.
	require.NoError(t, syncer.EnsureYear(context.Background(), now.Year()+1, false))
	report, err := r.SyncCalendar(context.Background(), now.Year(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Armed)

	stored, err := r.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusPending, stored.Status)
	wd := core.ISOWeekday(*stored.NextTriggerAt)
	assert.True(t, wd >= 1 && wd <= 5, "workday trigger on weekday %d", wd)
	_, ok := r.Armed(task.ID)
	assert.True(t, ok)
}

func TestUpdateReschedules(t *testing.T) {
	r, _, _ := newTestReminders(t)
	task, err := r.Create(context.Background(), countdownInfo("1h"))
	require.NoError(t, err)

	expr := "30 7 * * *"
	updated, err := r.Update(context.Background(), task.ID, core.TaskInfoPatch{
		Content: ptr("morning tea"),
		Schedule: &core.SchedulePatch{
			Kind: core.ScheduleRecurring,
			Cron: &core.RecurrenceRulePatch{Expression: &expr},
		},
	})
	require.NoError(t, err)
	assert.True(t, updated.Recurring)
	assert.Equal(t, core.TaskStatusPending, updated.Status)
	assert.Equal(t, "morning tea", updated.Info.Content)
	require.NotNil(t, updated.NextTriggerAt)
	assert.Equal(t, 7, updated.NextTriggerAt.UTC().Hour())
	assert.Equal(t, 30, updated.NextTriggerAt.UTC().Minute())

	armed, ok := r.Armed(task.ID)
	require.True(t, ok)
	assert.True(t, armed.Equal(*updated.NextTriggerAt))

	until := time.Now().Add(-time.Minute)
	expired, err := r.Update(context.Background(), task.ID, core.TaskInfoPatch{
		Schedule: &core.SchedulePatch{Cron: &core.RecurrenceRulePatch{ValidUntil: &until}},
	})
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusCompleted, expired.Status)
	_, ok = r.Armed(task.ID)
	assert.False(t, ok)

	_, err = r.Update(context.Background(), task.ID, core.TaskInfoPatch{Name: ptr("")})
	assert.ErrorIs(t, err, core.ErrConfiguration)
	_, err = r.Update(context.Background(), "missing", core.TaskInfoPatch{})
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
}

func TestDeleteDisarms(t *testing.T) {
	r, _, _ := newTestReminders(t)
	task, err := r.Create(context.Background(), countdownInfo("5m"))
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), task.ID))
	_, ok := r.Armed(task.ID)
	assert.False(t, ok)
	_, err = r.Get(context.Background(), task.ID)
	assert.ErrorIs(t, err, core.ErrTaskNotFound)
	assert.ErrorIs(t, r.Delete(context.Background(), task.ID), core.ErrTaskNotFound)
}

func TestPreview(t *testing.T) {
	r, _, _ := newTestReminders(t)
	r.now = func() time.Time { return time.Date(2025, 6, 13, 10, 0, 0, 0, time.UTC) }

	items, err := r.Preview(context.Background(), core.Schedule{Recurring: true, Cron: &core.RecurrenceRule{
		Expression: "0 9 * * *",
		LimitDays:  []core.DayFilter{core.DayFilterWeekdayOnly},
	}}, 3)
	require.NoError(t, err)
	require.Len(t, items, 3)
	var got []string
	for _, it := range items {
		assert.Equal(t, core.TaskStatusPending, it.Status)
		got = append(got, it.At.Format("2006-01-02"))
	}
	assert.Equal(t, []string{"2025-06-16", "2025-06-17", "2025-06-18"}, got)

	deferred, err := r.Preview(context.Background(), workdayInfo().Schedule, 3)
	require.NoError(t, err)
	require.Len(t, deferred, 1)
	assert.Equal(t, core.TaskStatusPendingCalculation, deferred[0].Status)
	assert.NotEmpty(t, deferred[0].Reason)
}

func TestRunsRequireTask(t *testing.T) {
	r, st, _ := newTestReminders(t)
	_, err := r.Runs(context.Background(), "missing", 10, 0)
	require.ErrorIs(t, err, core.ErrTaskNotFound)

	task, err := r.Create(context.Background(), countdownInfo("5m"))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		require.NoError(t, st.RecordRun(context.Background(), task.ID, time.Now().Add(time.Duration(i)*time.Second), nil))
	}
	runs, err := r.Runs(context.Background(), task.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, core.RunStatusSucceeded, runs[0].Status)
}

func ptr[T any](v T) *T { return &v }
