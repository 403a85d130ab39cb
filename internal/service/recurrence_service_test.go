package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
)

type testEnv struct {
	db       *gorm.DB
	tasks    *repository.TaskRepository
	rules    *repository.RuleRepository
	occs     *repository.OccurrenceRepository
	events   *repository.EventRepository
	files    *repository.FileLinkRepository
	cats     *repository.CategoryRepository
	recurSvc *RecurrenceService
	occSvc   *OccurrenceService
	taskSvc  *TaskService
	user     *model.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.User{}, &model.Category{}, &model.Task{}, &model.RecurrenceRule{},
		&model.TaskOccurrence{}, &model.TaskEvent{}, &model.FileLink{},
	))

	env := &testEnv{
		db:     db,
		tasks:  repository.NewTaskRepository(db),
		rules:  repository.NewRuleRepository(db),
		occs:   repository.NewOccurrenceRepository(db),
		events: repository.NewEventRepository(db),
		files:  repository.NewFileLinkRepository(db),
		cats:   repository.NewCategoryRepository(db),
	}
	auditor := NewAuditor(env.events)
	env.recurSvc = NewRecurrenceService(env.tasks, env.rules, env.occs, auditor, recur.Lookahead{})
	env.occSvc = NewOccurrenceService(env.tasks, env.rules, env.occs, env.recurSvc, auditor)
	env.taskSvc = NewTaskService(env.tasks, env.rules, env.occs, env.cats, env.files, env.events, env.recurSvc, auditor)

	env.user = &model.User{TelegramID: 100, FirstName: "Test"}
	require.NoError(t, db.Create(env.user).Error)
	return env
}

func (e *testEnv) addTask(t *testing.T, task model.Task, rule *model.RecurrenceRule) *model.Task {
	t.Helper()
	task.UserID = e.user.ID
	require.NoError(t, e.tasks.Create(context.Background(), &task))
	if rule != nil {
		rule.TaskID = task.ID
		require.NoError(t, e.rules.Upsert(context.Background(), rule))
	}
	return &task
}

func (e *testEnv) occurrenceDates(t *testing.T, taskID uint) []string {
	t.Helper()
	occs, err := e.occs.ListByTask(context.Background(), taskID)
	require.NoError(t, err)
	dates := make([]string, 0, len(occs))
	for _, occ := range occs {
		dates = append(dates, occ.ScheduledDate)
	}
	return dates
}

func (e *testEnv) pendingDates(t *testing.T, taskID uint) []string {
	t.Helper()
	occs, err := e.occs.ListPendingByTask(context.Background(), taskID)
	require.NoError(t, err)
	dates := make([]string, 0, len(occs))
	for _, occ := range occs {
		dates = append(dates, occ.ScheduledDate)
	}
	return dates
}

func mustDate(s string) time.Time {
	t, err := recur.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestEnsureTask_SingleCreatesOneOccurrence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "File taxes", DueDate: "2024-03-15"}, nil)

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	assert.Equal(t, []string{"2024-03-15"}, env.occurrenceDates(t, task.ID))

	// The pass is idempotent.
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	assert.Equal(t, []string{"2024-03-15"}, env.occurrenceDates(t, task.ID))
}

func TestEnsureTask_MissingRuleRestored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Orphan", DueDate: "2024-03-15"}, nil)

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))

	rule, err := env.rules.GetByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rule.Count)
}

func TestEnsureTask_SingleFollowsDueDateEdit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Renew passport", DueDate: "2024-03-15"}, nil)

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	before, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	task.DueDate = "2024-04-01"
	require.NoError(t, env.tasks.Save(ctx, task))
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))

	after, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID, "the pending row is renamed, not recreated")
	assert.Equal(t, "2024-04-01", after[0].ScheduledDate)
}

func TestEnsureTask_SingleStaysDoneAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "One-off", DueDate: "2024-03-15"}, nil)
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))

	occs, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	done := mustDate("2024-03-15")
	require.NoError(t, env.occs.UpdateStatus(ctx, occs[0].ID, model.StatusDone, &done))

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-20")))
	assert.Empty(t, env.pendingDates(t, task.ID), "a completed single task never resurrects")
}

func TestEnsureTask_FiniteReconcileConverges(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Pay rent", StartDate: "2024-01-20", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqMonthly, MonthlyDay: 31, Count: 3, Interval: 1})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-01-20")))
	assert.Equal(t, []string{"2024-01-31", "2024-02-29", "2024-03-31"}, env.occurrenceDates(t, task.ID))

	before, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-06-01")))
	after, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, after, 3)
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID, "a second pass changes nothing")
	}
}

func TestEnsureTask_FiniteRuleEditRemovesDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Course sessions", StartDate: "2024-01-20", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqMonthly, MonthlyDay: 31, Count: 3, Interval: 1})
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-01-20")))

	first, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-01-31")
	require.NoError(t, err)
	require.NotNil(t, first)
	done := mustDate("2024-01-31")
	require.NoError(t, env.occs.UpdateStatus(ctx, first.ID, model.StatusDone, &done))

	// Moving the rule to the 15th leaves the completed row outside the
	// schedule; the plan flags that before anything is applied.
	edited := model.RecurrenceRule{TaskID: task.ID, Freq: model.FreqMonthly, MonthlyDay: 15, Count: 2, Interval: 1}
	plan, err := env.recurSvc.PlanForRule(ctx, task, edited)
	require.NoError(t, err)
	assert.True(t, plan.RemovesDone())
	assert.Len(t, plan.Removals, 3)
	assert.Equal(t, []string{"2024-02-15", "2024-03-15"}, plan.Inserts)

	require.NoError(t, env.rules.Upsert(ctx, &edited))
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-01-20")))
	assert.Equal(t, []string{"2024-02-15", "2024-03-15"}, env.occurrenceDates(t, task.ID))
}

func TestEnsureTask_FiniteNegativeOffset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Prep reviews", StartDate: "2024-03-10", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Count: 2, Interval: 7, OffsetDays: -2})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-01")))
	assert.Equal(t, []string{"2024-03-08", "2024-03-15"}, env.occurrenceDates(t, task.ID))

	// Rows before the raw anchor still take part in the next diff.
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-09")))
	assert.Equal(t, []string{"2024-03-08", "2024-03-15"}, env.occurrenceDates(t, task.ID))
}

func TestEnsureTask_ForwardWindowDaily(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Stretch", StartDate: "2024-03-01", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Interval: 1})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	dates := env.occurrenceDates(t, task.ID)
	require.Len(t, dates, 14, "default daily horizon is two weeks")
	assert.Equal(t, "2024-03-10", dates[0])
	assert.Equal(t, "2024-03-23", dates[len(dates)-1])

	// Advancing a day extends the window without touching history.
	occ, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-03-10")
	require.NoError(t, err)
	done := mustDate("2024-03-10")
	require.NoError(t, env.occs.UpdateStatus(ctx, occ.ID, model.StatusDone, &done))

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-11")))
	dates = env.occurrenceDates(t, task.ID)
	assert.Len(t, dates, 15)
	assert.Equal(t, "2024-03-10", dates[0], "the completed row stays")
	assert.Equal(t, "2024-03-24", dates[len(dates)-1])
}

func TestEnsureTask_WeeklyKeepsOneFutureOccurrence(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Team sync", StartDate: "2024-01-02", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqWeekly, Interval: 1, WeeklyDays: 1 << int(time.Monday)})

	// 2024-03-10 is a Sunday; the nearest Monday is the 11th.
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	assert.Equal(t, []string{"2024-03-11"}, env.occurrenceDates(t, task.ID))

	// A stray future row is removed on the next pass.
	require.NoError(t, env.occs.Insert(ctx, &model.TaskOccurrence{
		TaskID: task.ID, ScheduledDate: "2024-03-18", Status: model.StatusPending,
	}))
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	assert.Equal(t, []string{"2024-03-11"}, env.occurrenceDates(t, task.ID))
}

func TestEnsureTask_WeeklyKeepsPastHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Team sync", StartDate: "2024-01-02", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqWeekly, Interval: 1, WeeklyDays: 1 << int(time.Monday)})

	done := mustDate("2024-03-04")
	require.NoError(t, env.occs.Insert(ctx, &model.TaskOccurrence{
		TaskID: task.ID, ScheduledDate: "2024-03-04", Status: model.StatusDone, CompletedAt: &done,
	}))

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	assert.Equal(t, []string{"2024-03-04", "2024-03-11"}, env.occurrenceDates(t, task.ID))
}

func TestEnsureTask_CompletedAnchorSingle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Water plants", StartDate: "2024-03-01", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Interval: 2, Anchor: model.AnchorCompleted})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-05")))
	assert.Equal(t, []string{"2024-03-01"}, env.pendingDates(t, task.ID), "first pending sits on the anchor")

	// At most one pending at a time.
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-08")))
	assert.Equal(t, []string{"2024-03-01"}, env.pendingDates(t, task.ID))
}

func TestEnsureTask_CompletedAnchorFiniteStops(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Physio", StartDate: "2024-03-01", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Interval: 2, Anchor: model.AnchorCompleted, Count: 2})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-01")))
	occs, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, occs, 1)

	doneA := mustDate("2024-03-02")
	require.NoError(t, env.occs.UpdateStatus(ctx, occs[0].ID, model.StatusDone, &doneA))
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-02")))
	assert.Equal(t, []string{"2024-03-04"}, env.pendingDates(t, task.ID), "next due counts from the completion")

	second, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-03-04")
	require.NoError(t, err)
	doneB := mustDate("2024-03-04")
	require.NoError(t, env.occs.UpdateStatus(ctx, second.ID, model.StatusDone, &doneB))

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-05")))
	assert.Empty(t, env.pendingDates(t, task.ID), "two completions exhaust a count of two")
}

func TestEnsureTask_ManualNextAligns(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Dentist", DueDate: "2024-03-15", IsRecurring: true},
		&model.RecurrenceRule{ManualNextDue: true})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	before, err := env.occs.ListPendingByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, before, 1)

	task.DueDate = "2024-05-01"
	require.NoError(t, env.tasks.Save(ctx, task))
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))

	after, err := env.occs.ListPendingByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, before[0].ID, after[0].ID)
	assert.Equal(t, "2024-05-01", after[0].ScheduledDate)
}

func TestEnsureAll_SkipsUnparseableTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTask(t, model.Task{Title: "Broken", DueDate: "not-a-date"}, nil)
	good := env.addTask(t, model.Task{Title: "Good", DueDate: "2024-03-15"}, nil)

	require.NoError(t, env.recurSvc.EnsureAll(ctx, env.user.ID, mustDate("2024-03-10")))
	assert.Equal(t, []string{"2024-03-15"}, env.occurrenceDates(t, good.ID))
}
