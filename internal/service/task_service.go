package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
)

// RuleInput mirrors the recurrence rule fields a caller can set.
type RuleInput struct {
	Freq          string
	Count         int
	Interval      int
	Anchor        string
	HorizonDays   int
	MonthlyDay    int
	MonthlyNth    int
	MonthlyDow    int
	WeeklyDays    int
	YearlyMonth   int
	ManualNextDue bool
	OffsetDays    int
}

// TaskInput represents data required to create or update a task.
type TaskInput struct {
	Title                  string
	Description            string
	Category               string
	DueDate                string // YYYY-MM-DD
	StartDate              string // YYYY-MM-DD
	StartTime              string // HH:MM
	IsRecurring            bool
	RequireCompleteComment bool
	Rule                   RuleInput
}

// TaskService wraps task CRUD. Every mutation triggers the targeted
// ensure/reconcile pass for the affected task before returning.
type TaskService struct {
	taskRepo     *repository.TaskRepository
	ruleRepo     *repository.RuleRepository
	occRepo      *repository.OccurrenceRepository
	categoryRepo *repository.CategoryRepository
	fileRepo     *repository.FileLinkRepository
	eventRepo    *repository.EventRepository
	recurSvc     *RecurrenceService
	auditor      *Auditor
}

func NewTaskService(taskRepo *repository.TaskRepository, ruleRepo *repository.RuleRepository, occRepo *repository.OccurrenceRepository, categoryRepo *repository.CategoryRepository, fileRepo *repository.FileLinkRepository, eventRepo *repository.EventRepository, recurSvc *RecurrenceService, auditor *Auditor) *TaskService {
	return &TaskService{
		taskRepo:     taskRepo,
		ruleRepo:     ruleRepo,
		occRepo:      occRepo,
		categoryRepo: categoryRepo,
		fileRepo:     fileRepo,
		eventRepo:    eventRepo,
		recurSvc:     recurSvc,
		auditor:      auditor,
	}
}

func (s *TaskService) CreateTask(ctx context.Context, user *model.User, input TaskInput, now time.Time) (*model.Task, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if err := validateDates(input); err != nil {
		return nil, err
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}

	task := model.Task{
		UserID:                 user.ID,
		CategoryID:             categoryID,
		Title:                  input.Title,
		Description:            input.Description,
		DueDate:                input.DueDate,
		StartDate:              input.StartDate,
		StartTime:              input.StartTime,
		IsRecurring:            input.IsRecurring,
		RequireCompleteComment: input.RequireCompleteComment,
	}
	if err := s.taskRepo.Create(ctx, &task); err != nil {
		return nil, err
	}

	rule := ruleFromInput(task.ID, input)
	if err := s.ruleRepo.Upsert(ctx, &rule); err != nil {
		return nil, err
	}

	s.auditor.Emit(ctx, model.EventTaskCreate, model.SourceUser, idRef(task.ID), nil, map[string]interface{}{
		"title":     task.Title,
		"recurring": task.IsRecurring,
	})

	if err := s.recurSvc.EnsureTask(ctx, &task, now); err != nil {
		return nil, err
	}
	return &task, nil
}

// PreviewUpdate computes the reconcile diff an update would apply,
// without persisting anything. Boundaries use it to warn before an edit
// that would discard completed occurrences.
func (s *TaskService) PreviewUpdate(ctx context.Context, user *model.User, taskID uint, input TaskInput) (ReconcilePlan, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return ReconcilePlan{}, err
	}
	updated := *task
	applyInput(&updated, input)
	rule := ruleFromInput(taskID, input)
	return s.recurSvc.PlanForRule(ctx, &updated, rule)
}

func (s *TaskService) UpdateTask(ctx context.Context, user *model.User, taskID uint, input TaskInput, now time.Time) (*model.Task, error) {
	if input.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if err := validateDates(input); err != nil {
		return nil, err
	}

	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}

	var categoryID *uint
	if input.Category != "" {
		category, err := s.categoryRepo.GetOrCreate(ctx, user.ID, input.Category)
		if err != nil {
			return nil, err
		}
		if category != nil {
			categoryID = &category.ID
		}
	}
	task.CategoryID = categoryID
	applyInput(task, input)
	if err := s.taskRepo.Save(ctx, task); err != nil {
		return nil, err
	}

	rule := ruleFromInput(task.ID, input)
	if err := s.ruleRepo.Upsert(ctx, &rule); err != nil {
		return nil, err
	}

	s.auditor.Emit(ctx, model.EventTaskUpdate, model.SourceUser, idRef(task.ID), nil, map[string]interface{}{
		"title": task.Title,
	})

	if err := s.recurSvc.EnsureTask(ctx, task, now); err != nil {
		return nil, err
	}
	return task, nil
}

// DeleteTask removes a task with its occurrences, rule and file links.
func (s *TaskService) DeleteTask(ctx context.Context, user *model.User, taskID uint) error {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return err
	}
	if err := s.occRepo.DeleteByTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.ruleRepo.DeleteByTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.fileRepo.DeleteByTask(ctx, taskID); err != nil {
		return err
	}
	if err := s.taskRepo.Delete(ctx, user.ID, taskID); err != nil {
		return err
	}
	s.auditor.Emit(ctx, model.EventTaskDelete, model.SourceUser, idRef(taskID), nil, map[string]interface{}{
		"title": task.Title,
	})
	return nil
}

func (s *TaskService) GetTask(ctx context.Context, user *model.User, taskID uint) (*model.Task, error) {
	return s.taskRepo.FindByID(ctx, user.ID, taskID)
}

func (s *TaskService) GetRule(ctx context.Context, taskID uint) (*model.RecurrenceRule, error) {
	return s.ruleRepo.GetByTask(ctx, taskID)
}

// AttachFile links a local file to a task, recording its content hash.
func (s *TaskService) AttachFile(ctx context.Context, user *model.User, taskID uint, path string) (*model.FileLink, error) {
	task, err := s.taskRepo.FindByID(ctx, user.ID, taskID)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, fmt.Errorf("hash file: %w", err)
	}

	link := model.FileLink{
		TaskID: task.ID,
		Path:   path,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}
	if err := s.fileRepo.Create(ctx, &link); err != nil {
		return nil, err
	}
	log.Printf("[info] file linked task=%d sha256=%s", task.ID, link.SHA256[:12])
	return &link, nil
}

func (s *TaskService) ListFiles(ctx context.Context, user *model.User, taskID uint) ([]model.FileLink, error) {
	if _, err := s.taskRepo.FindByID(ctx, user.ID, taskID); err != nil {
		return nil, err
	}
	return s.fileRepo.ListByTask(ctx, taskID)
}

// RecentEvents returns the latest audit records for a task, for display.
func (s *TaskService) RecentEvents(ctx context.Context, user *model.User, taskID uint, limit int) ([]model.TaskEvent, error) {
	if _, err := s.taskRepo.FindByID(ctx, user.ID, taskID); err != nil {
		return nil, err
	}
	return s.eventRepo.ListRecentByTask(ctx, taskID, limit)
}

func applyInput(task *model.Task, input TaskInput) {
	task.Title = input.Title
	task.Description = input.Description
	task.DueDate = input.DueDate
	task.StartDate = input.StartDate
	task.StartTime = input.StartTime
	task.IsRecurring = input.IsRecurring
	task.RequireCompleteComment = input.RequireCompleteComment
}

func ruleFromInput(taskID uint, input TaskInput) model.RecurrenceRule {
	if !input.IsRecurring && !input.Rule.ManualNextDue {
		return model.SingleRule(taskID)
	}
	r := input.Rule
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}
	return model.RecurrenceRule{
		TaskID:        taskID,
		Freq:          r.Freq,
		Count:         r.Count,
		Interval:      interval,
		Anchor:        r.Anchor,
		HorizonDays:   r.HorizonDays,
		MonthlyDay:    r.MonthlyDay,
		MonthlyNth:    r.MonthlyNth,
		MonthlyDow:    r.MonthlyDow,
		WeeklyDays:    r.WeeklyDays,
		YearlyMonth:   r.YearlyMonth,
		ManualNextDue: r.ManualNextDue,
		OffsetDays:    r.OffsetDays,
	}
}

func validateDates(input TaskInput) error {
	for _, d := range []string{input.DueDate, input.StartDate} {
		if d == "" {
			continue
		}
		if _, err := recur.ParseDate(d); err != nil {
			return err
		}
	}
	return nil
}
