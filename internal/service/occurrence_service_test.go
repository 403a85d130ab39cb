package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
)

func TestComplete_MarksDone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "One-off", DueDate: "2024-03-15"}, nil)
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, occs, 1)

	done, err := env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{Comment: "mailed it"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, done.Status)
	require.NotNil(t, done.CompletedAt)

	events, err := env.events.ListRecentByTask(ctx, task.ID, 10)
	require.NoError(t, err)
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Contains(t, kinds, model.EventOccComplete)
}

func TestComplete_AlreadyDoneIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "One-off", DueDate: "2024-03-15"}, nil)
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)

	first, err := env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{})
	require.NoError(t, err)
	firstAt := *first.CompletedAt

	again, err := env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, again.Status)
	assert.True(t, firstAt.Equal(*again.CompletedAt), "a repeated completion changes nothing")
}

func TestComplete_SpawnsNextOnDailyGrid(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Laundry", StartDate: "2024-03-01", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Interval: 3, HorizonDays: 1})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occ, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-03-10")
	require.NoError(t, err)
	require.NotNil(t, occ)

	// Completing late does not move the grid: the next date follows the
	// schedule, not the completion.
	late := mustDate("2024-03-12")
	_, err = env.occSvc.Complete(ctx, occ.ID, CompleteOptions{CompletedAt: &late})
	require.NoError(t, err)
	assert.Contains(t, env.pendingDates(t, task.ID), "2024-03-13")
}

func TestComplete_SpawnsFromCompletionForCompletedAnchor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Water plants", StartDate: "2024-03-01", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Interval: 2, Anchor: model.AnchorCompleted})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-01")))
	occ, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-03-01")
	require.NoError(t, err)
	require.NotNil(t, occ)

	at := mustDate("2024-03-05")
	_, err = env.occSvc.Complete(ctx, occ.ID, CompleteOptions{CompletedAt: &at})
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-03-07"}, env.pendingDates(t, task.ID), "interval counts from the completion day")
}

func TestComplete_SpawnsNextMonthClamped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Pay rent", StartDate: "2024-01-01", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqMonthly, MonthlyDay: 31})

	require.NoError(t, env.occs.Insert(ctx, &model.TaskOccurrence{
		TaskID: task.ID, ScheduledDate: "2024-01-31", Status: model.StatusPending,
	}))
	occ, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-01-31")
	require.NoError(t, err)

	_, err = env.occSvc.Complete(ctx, occ.ID, CompleteOptions{})
	require.NoError(t, err)
	assert.Contains(t, env.pendingDates(t, task.ID), "2024-02-29", "day 31 clamps to February's length")
}

func TestComplete_FiniteDoesNotSpawn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Two sessions", StartDate: "2024-03-10", IsRecurring: true},
		&model.RecurrenceRule{Freq: model.FreqDaily, Interval: 7, Count: 2})

	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	require.Len(t, env.occurrenceDates(t, task.ID), 2)

	occ, err := env.occs.FindByTaskAndDate(ctx, task.ID, "2024-03-10")
	require.NoError(t, err)
	_, err = env.occSvc.Complete(ctx, occ.ID, CompleteOptions{})
	require.NoError(t, err)
	assert.Len(t, env.occurrenceDates(t, task.ID), 2, "a finite schedule is fully materialized up front")
}

func TestComplete_ManualRequiresNextDue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Dentist", DueDate: "2024-03-15", IsRecurring: true},
		&model.RecurrenceRule{ManualNextDue: true})
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListPendingByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, occs, 1)

	_, err = env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{})
	assert.ErrorIs(t, err, ErrMissingManualNextDue)

	// The occurrence is untouched by the failed completion.
	occ, err := env.occs.FindByID(ctx, occs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, occ.Status)
}

func TestComplete_ManualRejectsBadDates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Dentist", DueDate: "2024-03-15", IsRecurring: true},
		&model.RecurrenceRule{ManualNextDue: true})
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListPendingByTask(ctx, task.ID)
	require.NoError(t, err)

	_, err = env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{NextDue: "soon"})
	assert.ErrorIs(t, err, recur.ErrInvalidDate)

	_, err = env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{NextDue: "2024-03-01"})
	assert.ErrorIs(t, err, ErrNextDueBeforeCurrent)
}

func TestComplete_ManualAdvancesTask(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "Dentist", DueDate: "2024-03-15", IsRecurring: true},
		&model.RecurrenceRule{ManualNextDue: true})
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListPendingByTask(ctx, task.ID)
	require.NoError(t, err)

	done, err := env.occSvc.Complete(ctx, occs[0].ID, CompleteOptions{NextDue: "2024-09-01"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, done.Status)

	fresh, err := env.tasks.GetOne(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "2024-09-01", fresh.DueDate)
	assert.Equal(t, []string{"2024-09-01"}, env.pendingDates(t, task.ID))
}

func TestDefer_OverridesAndClears(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "One-off", DueDate: "2024-03-15"}, nil)
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)

	deferred, err := env.occSvc.Defer(ctx, occs[0].ID, "2024-03-20")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-20", deferred.DeferredDate)
	assert.Equal(t, "2024-03-15", deferred.ScheduledDate, "the canonical date survives deferral")
	assert.Equal(t, "2024-03-20", deferred.EffectiveDate())

	cleared, err := env.occSvc.Defer(ctx, occs[0].ID, "")
	require.NoError(t, err)
	assert.Empty(t, cleared.DeferredDate)
	assert.Equal(t, "2024-03-15", cleared.EffectiveDate())
}

func TestDefer_RejectsBadDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.addTask(t, model.Task{Title: "One-off", DueDate: "2024-03-15"}, nil)
	require.NoError(t, env.recurSvc.EnsureTask(ctx, task, mustDate("2024-03-10")))
	occs, err := env.occs.ListByTask(ctx, task.ID)
	require.NoError(t, err)

	_, err = env.occSvc.Defer(ctx, occs[0].ID, "next week")
	assert.ErrorIs(t, err, recur.ErrInvalidDate)
}

func TestListDue_UsesEffectiveDates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addTask(t, model.Task{Title: "In window", DueDate: "2024-03-15"}, nil)
	outside := env.addTask(t, model.Task{Title: "Deferred out", DueDate: "2024-03-16"}, nil)

	now := mustDate("2024-03-10")
	views, err := env.occSvc.ListDue(ctx, env.user.ID, now, now, recur.AddDays(now, 7), model.StatusPending)
	require.NoError(t, err)
	require.Len(t, views, 2, "the ensure pass materializes both before listing")

	// Deferring one outside the window hides it there.
	occ, err := env.occs.FindByTaskAndDate(ctx, outside.ID, "2024-03-16")
	require.NoError(t, err)
	_, err = env.occSvc.Defer(ctx, occ.ID, "2024-04-10")
	require.NoError(t, err)

	views, err = env.occSvc.ListDue(ctx, env.user.ID, now, now, recur.AddDays(now, 7), model.StatusPending)
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "In window", views[0].Task.Title)
}
