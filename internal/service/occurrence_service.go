package service

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
)

// Engine validation failures surfaced to boundaries.
var (
	// ErrMissingManualNextDue: a manual-next-due task was completed
	// without supplying the next date.
	ErrMissingManualNextDue = errors.New("next due date is required for this task")
	// ErrNextDueBeforeCurrent: the supplied next due date precedes the
	// occurrence being completed.
	ErrNextDueBeforeCurrent = errors.New("next due date precedes the current occurrence")
)

// OccurrenceView pairs an occurrence with its owning task for display.
type OccurrenceView struct {
	Occurrence model.TaskOccurrence
	Task       model.Task
}

// CompleteOptions carries caller input for completing an occurrence.
// CompletedAt is accepted as-is when supplied; "not in the future" is a
// boundary concern, not enforced here.
type CompleteOptions struct {
	Comment     string
	CompletedAt *time.Time
	// NextDue is required for manual-next-due tasks: the date the task
	// advances to, YYYY-MM-DD.
	NextDue string
}

// OccurrenceService exposes the per-occurrence operations: listing with
// ensure-on-read semantics, completion, and deferral.
type OccurrenceService struct {
	taskRepo *repository.TaskRepository
	ruleRepo *repository.RuleRepository
	occRepo  *repository.OccurrenceRepository
	recurSvc *RecurrenceService
	auditor  *Auditor
}

func NewOccurrenceService(taskRepo *repository.TaskRepository, ruleRepo *repository.RuleRepository, occRepo *repository.OccurrenceRepository, recurSvc *RecurrenceService, auditor *Auditor) *OccurrenceService {
	return &OccurrenceService{
		taskRepo: taskRepo,
		ruleRepo: ruleRepo,
		occRepo:  occRepo,
		recurSvc: recurSvc,
		auditor:  auditor,
	}
}

// ListDue runs the ensure pass for the user, then returns occurrences
// whose effective date falls within [from, to]. status filters to
// pending/done when non-empty.
func (s *OccurrenceService) ListDue(ctx context.Context, userID uint, now, from, to time.Time, status string) ([]OccurrenceView, error) {
	if err := s.recurSvc.EnsureAll(ctx, userID, now); err != nil {
		return nil, err
	}

	occs, err := s.occRepo.ListDueForUser(ctx, userID, recur.FormatDate(from), recur.FormatDate(to), status)
	if err != nil {
		return nil, err
	}

	tasks, err := s.taskRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	views := make([]OccurrenceView, 0, len(occs))
	for _, occ := range occs {
		task, ok := byID[occ.TaskID]
		if !ok {
			continue
		}
		views = append(views, OccurrenceView{Occurrence: occ, Task: task})
	}
	return views, nil
}

// Complete transitions a pending occurrence to done. The row is terminal
// afterwards; for infinite patterns the recurrence continues through a
// freshly spawned occurrence. Completing an already-done row is a no-op.
func (s *OccurrenceService) Complete(ctx context.Context, occurrenceID uint, opts CompleteOptions) (*model.TaskOccurrence, error) {
	occ, err := s.occRepo.FindByID(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if occ.Status != model.StatusPending {
		return occ, nil
	}

	task, err := s.taskRepo.GetOne(ctx, occ.TaskID)
	if err != nil {
		return nil, err
	}

	var rule *model.RecurrenceRule
	rule, err = s.ruleRepo.GetByTask(ctx, occ.TaskID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		rule = nil
	} else if err != nil {
		return nil, err
	}

	completedAt := time.Now()
	if opts.CompletedAt != nil {
		completedAt = *opts.CompletedAt
	}

	if rule != nil && rule.ManualNextDue {
		return s.completeManual(ctx, task, occ, rule, opts, completedAt)
	}

	if err := s.markDone(ctx, task, occ, opts.Comment, completedAt); err != nil {
		return nil, err
	}

	if task.IsRecurring && rule != nil && rule.Count == 0 {
		if err := s.spawnNext(ctx, task, occ, *rule, completedAt); err != nil {
			return nil, err
		}
	}

	return s.occRepo.FindByID(ctx, occurrenceID)
}

func (s *OccurrenceService) completeManual(ctx context.Context, task *model.Task, occ *model.TaskOccurrence, rule *model.RecurrenceRule, opts CompleteOptions, completedAt time.Time) (*model.TaskOccurrence, error) {
	if opts.NextDue == "" {
		return nil, ErrMissingManualNextDue
	}
	next, err := recur.ParseDate(opts.NextDue)
	if err != nil {
		return nil, err
	}
	if current, err := recur.ParseDate(occ.ScheduledDate); err == nil && next.Before(current) {
		return nil, ErrNextDueBeforeCurrent
	}

	if err := s.markDone(ctx, task, occ, opts.Comment, completedAt); err != nil {
		return nil, err
	}

	nextDate := recur.FormatDate(next)
	if task.DueDate != "" || !task.IsRecurring {
		task.DueDate = nextDate
	} else {
		task.StartDate = nextDate
	}
	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, err
	}
	if err := s.recurSvc.EnsureTask(ctx, task, completedAt); err != nil {
		return nil, err
	}
	return s.occRepo.FindByID(ctx, occ.ID)
}

func (s *OccurrenceService) markDone(ctx context.Context, task *model.Task, occ *model.TaskOccurrence, comment string, completedAt time.Time) error {
	if err := s.occRepo.UpdateStatus(ctx, occ.ID, model.StatusDone, &completedAt); err != nil {
		return err
	}
	details := map[string]interface{}{
		"date":         occ.ScheduledDate,
		"prior_status": occ.Status,
	}
	if comment != "" {
		details["comment"] = comment
	}
	s.auditor.Emit(ctx, model.EventOccComplete, model.SourceUser, idRef(task.ID), idRef(occ.ID), details)
	return nil
}

// spawnNext inserts the next occurrence of an infinite pattern after a
// completion. The insert is idempotent: an existing row at the computed
// date is left alone.
func (s *OccurrenceService) spawnNext(ctx context.Context, task *model.Task, occ *model.TaskOccurrence, rule model.RecurrenceRule, completedAt time.Time) error {
	sched, err := recur.Compile(rule)
	if errors.Is(err, recur.ErrUnsupportedFrequency) {
		return nil
	}
	if err != nil {
		return err
	}

	scheduled, err := recur.ParseDate(occ.ScheduledDate)
	if err != nil {
		return err
	}
	// The stored date already carries the offset; period arithmetic runs
	// on the raw grid so the spawned date lands back on it.
	raw := recur.AddDays(scheduled, -sched.OffsetDays)

	var next time.Time
	switch p := sched.Pattern.(type) {
	case recur.Daily:
		if p.FromCompletion {
			next = recur.AddDays(recur.DateOf(completedAt), p.Interval+sched.OffsetDays)
		} else {
			next = recur.AddDays(scheduled, p.Interval)
		}
	case recur.Weekly:
		next = recur.AddDays(scheduled, 7*p.Interval)
	case recur.MonthlyByDay:
		year, month := nextMonth(raw)
		next = recur.AddDays(recur.ClampMonthDay(year, month, p.Day), sched.OffsetDays)
	case recur.MonthlyByWeekday:
		year, month := nextMonth(raw)
		next = recur.AddDays(recur.NthWeekdayOfMonth(year, month, p.Nth, p.Dow), sched.OffsetDays)
	case recur.Yearly:
		next = recur.AddDays(recur.ClampMonthDay(raw.Year()+1, p.Month, p.Day), sched.OffsetDays)
	default:
		return nil
	}

	return s.recurSvc.insertPendingIfAbsent(ctx, task, recur.FormatDate(next))
}

// Defer sets the per-occurrence date override, or clears it when date is
// empty, restoring the canonical scheduled date. It never touches the
// recurrence math.
func (s *OccurrenceService) Defer(ctx context.Context, occurrenceID uint, date string) (*model.TaskOccurrence, error) {
	occ, err := s.occRepo.FindByID(ctx, occurrenceID)
	if err != nil {
		return nil, err
	}
	if date != "" {
		if _, err := recur.ParseDate(date); err != nil {
			return nil, err
		}
	}
	if err := s.occRepo.SetDeferredDate(ctx, occurrenceID, date); err != nil {
		return nil, err
	}

	details := map[string]interface{}{
		"scheduled": occ.ScheduledDate,
	}
	if date == "" {
		details["cleared"] = true
	} else {
		details["deferred_to"] = date
	}
	s.auditor.Emit(ctx, model.EventOccDefer, model.SourceUser, idRef(occ.TaskID), idRef(occ.ID), details)

	return s.occRepo.FindByID(ctx, occurrenceID)
}

func nextMonth(t time.Time) (int, time.Month) {
	year, month := t.Year(), t.Month()
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}
