package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
)

// RecurrenceService keeps the persisted occurrence table consistent with
// each task's recurrence rule. Every entry point is idempotent and safe
// to re-run on every read: convergence to the same fixed point, not
// locking, is the concurrency strategy.
type RecurrenceService struct {
	taskRepo *repository.TaskRepository
	ruleRepo *repository.RuleRepository
	occRepo  *repository.OccurrenceRepository
	auditor  *Auditor
	look     recur.Lookahead
}

func NewRecurrenceService(taskRepo *repository.TaskRepository, ruleRepo *repository.RuleRepository, occRepo *repository.OccurrenceRepository, auditor *Auditor, look recur.Lookahead) *RecurrenceService {
	return &RecurrenceService{
		taskRepo: taskRepo,
		ruleRepo: ruleRepo,
		occRepo:  occRepo,
		auditor:  auditor,
		look:     look,
	}
}

// EnsureAll runs the ensure pass over every task of a user. A task whose
// stored dates fail to parse is logged and skipped rather than aborting
// the whole pass.
func (s *RecurrenceService) EnsureAll(ctx context.Context, userID uint, today time.Time) error {
	tasks, err := s.taskRepo.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for i := range tasks {
		if err := s.EnsureTask(ctx, &tasks[i], today); err != nil {
			if errors.Is(err, recur.ErrInvalidDate) {
				log.Printf("[info] skip task %d in ensure pass: %v", tasks[i].ID, err)
				continue
			}
			return err
		}
	}
	return nil
}

// EnsureTask brings one task's occurrences in line with its rule.
func (s *RecurrenceService) EnsureTask(ctx context.Context, task *model.Task, today time.Time) error {
	rule, err := s.ruleRepo.GetByTask(ctx, task.ID)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Restore the one-rule-per-task invariant.
		restored := model.SingleRule(task.ID)
		if err := s.ruleRepo.Upsert(ctx, &restored); err != nil {
			return err
		}
		rule = &restored
	case err != nil:
		return err
	}

	if rule.ManualNextDue {
		return s.ensureManualNext(ctx, task)
	}
	if !task.IsRecurring {
		return s.ensureSingle(ctx, task)
	}

	sched, err := recur.Compile(*rule)
	if errors.Is(err, recur.ErrUnsupportedFrequency) {
		return nil
	}
	if err != nil {
		return err
	}

	if task.AnchorDate() == "" {
		return nil
	}
	anchor, err := recur.ParseDate(task.AnchorDate())
	if err != nil {
		return err
	}

	if daily, ok := sched.Pattern.(recur.Daily); ok && daily.FromCompletion {
		return s.ensureCompletedAnchor(ctx, task, sched, daily, anchor)
	}

	if sched.Finite() {
		plan, err := s.planFinite(ctx, task, sched, anchor)
		if err != nil {
			return err
		}
		return s.applyPlan(ctx, task, plan)
	}

	switch sched.Pattern.(type) {
	case recur.Daily:
		return s.ensureForwardWindow(ctx, task, sched, anchor, today)
	case recur.Weekly:
		return s.ensureWeeklyNext(ctx, task, sched, anchor, today)
	case recur.MonthlyByDay, recur.MonthlyByWeekday, recur.Yearly:
		return s.ensureForwardWindow(ctx, task, sched, anchor, today)
	}
	return nil
}

// ReconcilePlan is the diff a finite-count reconciliation would apply.
// Removals can include done occurrences: editing a finite rule discards
// completion history that no longer fits the schedule, so boundaries
// should preview the plan and warn before committing such an edit.
type ReconcilePlan struct {
	Inserts  []string
	Removals []model.TaskOccurrence
}

func (p ReconcilePlan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Removals) == 0
}

// RemovesDone reports whether applying the plan would delete completed
// occurrences.
func (p ReconcilePlan) RemovesDone() bool {
	for _, occ := range p.Removals {
		if occ.Status == model.StatusDone {
			return true
		}
	}
	return false
}

// PlanReconcile computes the finite-count diff for a task without
// applying it. Non-finite, manual and unsupported rules yield an empty
// plan.
func (s *RecurrenceService) PlanReconcile(ctx context.Context, task *model.Task) (ReconcilePlan, error) {
	rule, err := s.ruleRepo.GetByTask(ctx, task.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReconcilePlan{}, nil
	}
	if err != nil {
		return ReconcilePlan{}, err
	}
	return s.PlanForRule(ctx, task, *rule)
}

// PlanForRule computes the finite-count diff the given rule implies for
// the task, without requiring the rule to be persisted; task updates use
// it as a dry run before committing a destructive edit.
func (s *RecurrenceService) PlanForRule(ctx context.Context, task *model.Task, rule model.RecurrenceRule) (ReconcilePlan, error) {
	if rule.ManualNextDue || !task.IsRecurring {
		return ReconcilePlan{}, nil
	}
	sched, err := recur.Compile(rule)
	if errors.Is(err, recur.ErrUnsupportedFrequency) {
		return ReconcilePlan{}, nil
	}
	if err != nil {
		return ReconcilePlan{}, err
	}
	if !sched.Finite() {
		return ReconcilePlan{}, nil
	}
	if daily, ok := sched.Pattern.(recur.Daily); ok && daily.FromCompletion {
		// Completion-anchored rules are exempt from reconciliation.
		return ReconcilePlan{}, nil
	}
	if task.AnchorDate() == "" {
		return ReconcilePlan{}, nil
	}
	anchor, err := recur.ParseDate(task.AnchorDate())
	if err != nil {
		return ReconcilePlan{}, err
	}
	return s.planFinite(ctx, task, sched, anchor)
}

func (s *RecurrenceService) planFinite(ctx context.Context, task *model.Task, sched recur.Schedule, anchor time.Time) (ReconcilePlan, error) {
	targets := recur.FiniteTargets(sched, anchor)

	// A negative offset stores dates before the raw anchor; widen the
	// fetch bound so those rows still take part in the diff.
	lower := anchor
	if sched.OffsetDays < 0 {
		lower = recur.AddDays(anchor, sched.OffsetDays)
	}
	persisted, err := s.occRepo.ListByTaskFrom(ctx, task.ID, recur.FormatDate(lower))
	if err != nil {
		return ReconcilePlan{}, err
	}

	want := make(map[string]bool, len(targets))
	for _, t := range targets {
		want[recur.FormatDate(t)] = true
	}

	var plan ReconcilePlan
	have := make(map[string]bool, len(persisted))
	for _, occ := range persisted {
		if !want[occ.ScheduledDate] {
			plan.Removals = append(plan.Removals, occ)
			continue
		}
		have[occ.ScheduledDate] = true
	}
	for _, t := range targets {
		if date := recur.FormatDate(t); !have[date] {
			plan.Inserts = append(plan.Inserts, date)
		}
	}
	return plan, nil
}

func (s *RecurrenceService) applyPlan(ctx context.Context, task *model.Task, plan ReconcilePlan) error {
	for _, occ := range plan.Removals {
		if err := s.occRepo.Delete(ctx, occ.ID); err != nil {
			return err
		}
		s.auditor.Emit(ctx, model.EventOccDelete, model.SourceSystem, idRef(task.ID), idRef(occ.ID), map[string]interface{}{
			"date":   occ.ScheduledDate,
			"status": occ.Status,
			"reason": "reconcile",
		})
	}
	for _, date := range plan.Inserts {
		if err := s.insertPending(ctx, task, date); err != nil {
			return err
		}
	}
	return nil
}

// ensureSingle pins exactly one occurrence to a non-recurring task's due
// date. A task whose only occurrence is already done stays done.
func (s *RecurrenceService) ensureSingle(ctx context.Context, task *model.Task) error {
	due := task.AnchorDate()
	if due == "" {
		return nil
	}
	if _, err := recur.ParseDate(due); err != nil {
		return err
	}

	occs, err := s.occRepo.ListByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	var pendings []model.TaskOccurrence
	for _, occ := range occs {
		if occ.Status == model.StatusPending {
			pendings = append(pendings, occ)
		}
	}
	if len(pendings) == 0 {
		if len(occs) > 0 {
			return nil
		}
		return s.insertPending(ctx, task, due)
	}
	return s.alignPending(ctx, task, pendings, due)
}

// ensureManualNext keeps a manually-advanced task at a single pending
// occurrence matching the task's current due date, renaming the existing
// row rather than recreating it so its identity survives edits.
func (s *RecurrenceService) ensureManualNext(ctx context.Context, task *model.Task) error {
	due := task.AnchorDate()
	if due == "" {
		return nil
	}
	if _, err := recur.ParseDate(due); err != nil {
		return err
	}

	pendings, err := s.occRepo.ListPendingByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if len(pendings) == 0 {
		existing, err := s.occRepo.FindByTaskAndDate(ctx, task.ID, due)
		if err != nil {
			return err
		}
		if existing != nil {
			return nil
		}
		return s.insertPending(ctx, task, due)
	}
	return s.alignPending(ctx, task, pendings, due)
}

// alignPending keeps the earliest pending occurrence, moves it to the due
// date, and deletes the rest.
func (s *RecurrenceService) alignPending(ctx context.Context, task *model.Task, pendings []model.TaskOccurrence, due string) error {
	keep := pendings[0]
	for _, extra := range pendings[1:] {
		if err := s.occRepo.Delete(ctx, extra.ID); err != nil {
			return err
		}
		s.auditor.Emit(ctx, model.EventOccDelete, model.SourceSystem, idRef(task.ID), idRef(extra.ID), map[string]interface{}{
			"date":   extra.ScheduledDate,
			"reason": "superseded",
		})
	}
	if keep.ScheduledDate == due {
		return nil
	}
	occupied, err := s.occRepo.FindByTaskAndDate(ctx, task.ID, due)
	if err != nil {
		return err
	}
	if occupied != nil && occupied.ID != keep.ID {
		// The slot is taken by a done row; drop the stray pending.
		if err := s.occRepo.Delete(ctx, keep.ID); err != nil {
			return err
		}
		s.auditor.Emit(ctx, model.EventOccDelete, model.SourceSystem, idRef(task.ID), idRef(keep.ID), map[string]interface{}{
			"date":   keep.ScheduledDate,
			"reason": "superseded",
		})
		return nil
	}
	return s.occRepo.UpdateScheduledDate(ctx, keep.ID, due)
}

// ensureCompletedAnchor maintains the completion-anchored daily state
// machine: at most one pending occurrence exists per task, and the next
// one is dated from the last completion rather than the calendar.
func (s *RecurrenceService) ensureCompletedAnchor(ctx context.Context, task *model.Task, sched recur.Schedule, daily recur.Daily, anchor time.Time) error {
	pendings, err := s.occRepo.ListPendingByTask(ctx, task.ID)
	if err != nil {
		return err
	}
	if len(pendings) > 1 {
		// Self-heal: keep the earliest.
		for _, extra := range pendings[1:] {
			if err := s.occRepo.Delete(ctx, extra.ID); err != nil {
				return err
			}
			s.auditor.Emit(ctx, model.EventOccDelete, model.SourceSystem, idRef(task.ID), idRef(extra.ID), map[string]interface{}{
				"date":   extra.ScheduledDate,
				"reason": "superseded",
			})
		}
		pendings = pendings[:1]
	}
	if len(pendings) == 1 {
		return nil
	}

	if sched.Finite() {
		total, err := s.occRepo.CountByTask(ctx, task.ID)
		if err != nil {
			return err
		}
		if total >= int64(sched.Count) {
			return nil
		}
	}

	last, err := s.lastCompletion(ctx, task.ID)
	if err != nil {
		return err
	}
	var next time.Time
	if last == nil {
		next = recur.AddDays(anchor, sched.OffsetDays)
	} else {
		next = recur.AddDays(recur.DateOf(*last), daily.Interval+sched.OffsetDays)
	}
	return s.insertPending(ctx, task, recur.FormatDate(next))
}

func (s *RecurrenceService) lastCompletion(ctx context.Context, taskID uint) (*time.Time, error) {
	occs, err := s.occRepo.ListByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var last *time.Time
	for _, occ := range occs {
		if occ.Status != model.StatusDone || occ.CompletedAt == nil {
			continue
		}
		if last == nil || occ.CompletedAt.After(*last) {
			t := *occ.CompletedAt
			last = &t
		}
	}
	return last, nil
}

// ensureForwardWindow materializes every projected date in the rolling
// window. It never deletes: history and already-done rows stay put.
func (s *RecurrenceService) ensureForwardWindow(ctx context.Context, task *model.Task, sched recur.Schedule, anchor, today time.Time) error {
	for _, target := range recur.UpcomingTargets(sched, anchor, today, s.look) {
		if err := s.insertPendingIfAbsent(ctx, task, recur.FormatDate(target)); err != nil {
			return err
		}
	}
	return nil
}

// ensureWeeklyNext keeps an infinite weekly task at zero or one future
// occurrence: the nearest qualifying date, with every other future row
// deleted regardless of status.
func (s *RecurrenceService) ensureWeeklyNext(ctx context.Context, task *model.Task, sched recur.Schedule, anchor, today time.Time) error {
	next, ok := recur.NextAfter(sched, anchor, today, s.look)
	nextDate := ""
	if ok {
		nextDate = recur.FormatDate(next)
	}

	future, err := s.occRepo.ListByTaskFrom(ctx, task.ID, recur.FormatDate(recur.DateOf(today)))
	if err != nil {
		return err
	}
	for _, occ := range future {
		if ok && occ.ScheduledDate == nextDate {
			continue
		}
		if err := s.occRepo.Delete(ctx, occ.ID); err != nil {
			return err
		}
		s.auditor.Emit(ctx, model.EventOccDelete, model.SourceSystem, idRef(task.ID), idRef(occ.ID), map[string]interface{}{
			"date":   occ.ScheduledDate,
			"status": occ.Status,
			"reason": "superseded",
		})
	}
	if !ok {
		return nil
	}
	return s.insertPendingIfAbsent(ctx, task, nextDate)
}

func (s *RecurrenceService) insertPendingIfAbsent(ctx context.Context, task *model.Task, date string) error {
	existing, err := s.occRepo.FindByTaskAndDate(ctx, task.ID, date)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	return s.insertPending(ctx, task, date)
}

func (s *RecurrenceService) insertPending(ctx context.Context, task *model.Task, date string) error {
	occ := model.TaskOccurrence{
		TaskID:        task.ID,
		ScheduledDate: date,
		ScheduledTime: task.StartTime,
		Status:        model.StatusPending,
	}
	if err := s.occRepo.Insert(ctx, &occ); err != nil {
		return err
	}
	s.auditor.Emit(ctx, model.EventOccAutocreate, model.SourceSystem, idRef(task.ID), idRef(occ.ID), map[string]interface{}{
		"date": date,
	})
	return nil
}
