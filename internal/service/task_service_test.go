package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"taskdeck/internal/model"
)

func TestCreateTask_MaterializesSchedule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{
		Title:       "Pay rent",
		Category:    "Home",
		StartDate:   "2024-01-20",
		IsRecurring: true,
		Rule:        RuleInput{Freq: model.FreqMonthly, MonthlyDay: 31, Count: 3},
	}, mustDate("2024-01-20"))
	require.NoError(t, err)
	require.NotNil(t, task.CategoryID)

	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31"}, env.occurrenceDates(t, task.ID))

	rule, err := env.taskSvc.GetRule(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, rule.Count)

	events, err := env.taskSvc.RecentEvents(ctx, env.user, task.ID, 10)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, model.EventTaskCreate)
	assert.Contains(t, kinds, model.EventOccAutocreate)
}

func TestCreateTask_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{DueDate: "2024-03-15"}, mustDate("2024-03-10"))
	assert.Error(t, err, "title is required")

	_, err = env.taskSvc.CreateTask(ctx, env.user, TaskInput{Title: "X", DueDate: "someday"}, mustDate("2024-03-10"))
	assert.Error(t, err)
}

func TestCreateTask_NonRecurringGetsSingleRule(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{Title: "One-off", DueDate: "2024-03-15"}, mustDate("2024-03-10"))
	require.NoError(t, err)

	rule, err := env.taskSvc.GetRule(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Count)
	assert.False(t, rule.ManualNextDue)
	assert.Equal(t, []string{"2024-03-15"}, env.occurrenceDates(t, task.ID))
}

func TestPreviewUpdate_FlagsDiscardedCompletions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{
		Title:       "Course sessions",
		StartDate:   "2024-01-20",
		IsRecurring: true,
		Rule:        RuleInput{Freq: model.FreqMonthly, MonthlyDay: 31, Count: 3},
	}, mustDate("2024-01-20"))
	require.NoError(t, err)

	occ, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-01-31")
	require.NoError(t, err)
	_, err = env.occSvc.Complete(ctx, occ.ID, CompleteOptions{})
	require.NoError(t, err)

	edited := TaskInput{
		Title:       "Course sessions",
		StartDate:   "2024-01-20",
		IsRecurring: true,
		Rule:        RuleInput{Freq: model.FreqMonthly, MonthlyDay: 15, Count: 2},
	}
	plan, err := env.taskSvc.PreviewUpdate(ctx, env.user, task.ID, edited)
	require.NoError(t, err)
	assert.True(t, plan.RemovesDone(), "the preview warns before history is discarded")

	// Nothing was applied by the preview.
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31"}, env.occurrenceDates(t, task.ID))

	_, err = env.taskSvc.UpdateTask(ctx, env.user, task.ID, edited, mustDate("2024-01-20"))
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-02-15", "2024-03-15"}, env.occurrenceDates(t, task.ID))
}

func TestDeleteTask_Cascades(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{
		Title:       "Short-lived",
		StartDate:   "2024-03-10",
		IsRecurring: true,
		Rule:        RuleInput{Freq: model.FreqDaily, Interval: 1},
	}, mustDate("2024-03-10"))
	require.NoError(t, err)
	require.NotEmpty(t, env.occurrenceDates(t, task.ID))

	require.NoError(t, env.taskSvc.DeleteTask(ctx, env.user, task.ID))

	_, err = env.taskSvc.GetTask(ctx, env.user, task.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
	assert.Empty(t, env.occurrenceDates(t, task.ID))
	_, err = env.taskSvc.GetRule(ctx, task.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	events, err := env.events.ListRecentByTask(ctx, task.ID, 50)
	require.NoError(t, err)
	assert.NotEmpty(t, events, "the audit trail outlives the task")
}

func TestDeleteTask_WrongUser(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{Title: "Mine", DueDate: "2024-03-15"}, mustDate("2024-03-10"))
	require.NoError(t, err)

	stranger := &model.User{TelegramID: 999}
	require.NoError(t, env.db.Create(stranger).Error)
	err = env.taskSvc.DeleteTask(ctx, stranger, task.ID)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestAttachFile_RecordsHash(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{Title: "With docs", DueDate: "2024-03-15"}, mustDate("2024-03-10"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("meeting notes"), 0o600))

	link, err := env.taskSvc.AttachFile(ctx, env.user, task.ID, path)
	require.NoError(t, err)
	assert.Equal(t, path, link.Path)
	assert.Len(t, link.SHA256, 64)

	links, err := env.taskSvc.ListFiles(ctx, env.user, task.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, link.SHA256, links[0].SHA256)
}

func TestAttachFile_MissingFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	task, err := env.taskSvc.CreateTask(ctx, env.user, TaskInput{Title: "With docs", DueDate: "2024-03-15"}, mustDate("2024-03-10"))
	require.NoError(t, err)

	_, err = env.taskSvc.AttachFile(ctx, env.user, task.ID, filepath.Join(t.TempDir(), "absent.pdf"))
	assert.Error(t, err)
}
