package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"taskdeck/internal/model"
)

// OccurrenceRepository handles persisted task occurrences.
type OccurrenceRepository struct {
	db *gorm.DB
}

func NewOccurrenceRepository(db *gorm.DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

func (r *OccurrenceRepository) Insert(ctx context.Context, occ *model.TaskOccurrence) error {
	if err := r.db.WithContext(ctx).Create(occ).Error; err != nil {
		return fmt.Errorf("insert occurrence: %w", err)
	}
	return nil
}

func (r *OccurrenceRepository) FindByID(ctx context.Context, id uint) (*model.TaskOccurrence, error) {
	var occ model.TaskOccurrence
	if err := r.db.WithContext(ctx).First(&occ, id).Error; err != nil {
		return nil, err
	}
	return &occ, nil
}

// FindByTaskAndDate returns the occurrence at a scheduled date, or nil
// when none exists. The (task, date) pair is unique.
func (r *OccurrenceRepository) FindByTaskAndDate(ctx context.Context, taskID uint, date string) (*model.TaskOccurrence, error) {
	var occ model.TaskOccurrence
	err := r.db.WithContext(ctx).Where("task_id = ? AND scheduled_date = ?", taskID, date).First(&occ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find occurrence: %w", err)
	}
	return &occ, nil
}

func (r *OccurrenceRepository) ListByTask(ctx context.Context, taskID uint) ([]model.TaskOccurrence, error) {
	var occs []model.TaskOccurrence
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("scheduled_date").Find(&occs).Error; err != nil {
		return nil, err
	}
	return occs, nil
}

func (r *OccurrenceRepository) ListByTaskFrom(ctx context.Context, taskID uint, fromDate string) ([]model.TaskOccurrence, error) {
	var occs []model.TaskOccurrence
	if err := r.db.WithContext(ctx).Where("task_id = ? AND scheduled_date >= ?", taskID, fromDate).
		Order("scheduled_date").Find(&occs).Error; err != nil {
		return nil, err
	}
	return occs, nil
}

func (r *OccurrenceRepository) ListPendingByTask(ctx context.Context, taskID uint) ([]model.TaskOccurrence, error) {
	var occs []model.TaskOccurrence
	if err := r.db.WithContext(ctx).Where("task_id = ? AND status = ?", taskID, model.StatusPending).
		Order("scheduled_date").Find(&occs).Error; err != nil {
		return nil, err
	}
	return occs, nil
}

func (r *OccurrenceRepository) CountByTask(ctx context.Context, taskID uint) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.TaskOccurrence{}).
		Where("task_id = ?", taskID).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *OccurrenceRepository) UpdateStatus(ctx context.Context, id uint, status string, completedAt *time.Time) error {
	updates := map[string]interface{}{
		"status":       status,
		"completed_at": completedAt,
	}
	if err := r.db.WithContext(ctx).Model(&model.TaskOccurrence{}).
		Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("update occurrence status: %w", err)
	}
	return nil
}

// UpdateScheduledDate moves an occurrence to a new canonical date while
// preserving its identity.
func (r *OccurrenceRepository) UpdateScheduledDate(ctx context.Context, id uint, date string) error {
	if err := r.db.WithContext(ctx).Model(&model.TaskOccurrence{}).
		Where("id = ?", id).Update("scheduled_date", date).Error; err != nil {
		return fmt.Errorf("update occurrence date: %w", err)
	}
	return nil
}

func (r *OccurrenceRepository) SetDeferredDate(ctx context.Context, id uint, date string) error {
	if err := r.db.WithContext(ctx).Model(&model.TaskOccurrence{}).
		Where("id = ?", id).Update("deferred_date", date).Error; err != nil {
		return fmt.Errorf("set deferred date: %w", err)
	}
	return nil
}

func (r *OccurrenceRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&model.TaskOccurrence{}, id).Error; err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}
	return nil
}

func (r *OccurrenceRepository) DeleteByTask(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Delete(&model.TaskOccurrence{}).Error; err != nil {
		return fmt.Errorf("delete occurrences: %w", err)
	}
	return nil
}

// ListDueForUser returns occurrences whose effective date (deferral
// override, else canonical date) falls within [from, to], joined to the
// owning user's tasks.
func (r *OccurrenceRepository) ListDueForUser(ctx context.Context, userID uint, from, to, status string) ([]model.TaskOccurrence, error) {
	q := r.db.WithContext(ctx).
		Joins("JOIN tasks ON tasks.id = task_occurrences.task_id").
		Where("tasks.user_id = ?", userID).
		Where("COALESCE(NULLIF(task_occurrences.deferred_date, ''), task_occurrences.scheduled_date) BETWEEN ? AND ?", from, to)
	if status != "" {
		q = q.Where("task_occurrences.status = ?", status)
	}
	var occs []model.TaskOccurrence
	if err := q.Order("COALESCE(NULLIF(task_occurrences.deferred_date, ''), task_occurrences.scheduled_date), task_occurrences.id").
		Find(&occs).Error; err != nil {
		return nil, err
	}
	return occs, nil
}
