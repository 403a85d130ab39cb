package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"taskdeck/internal/model"
)

// RuleRepository manages the one-to-one recurrence rule rows.
type RuleRepository struct {
	db *gorm.DB
}

func NewRuleRepository(db *gorm.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) GetByTask(ctx context.Context, taskID uint) (*model.RecurrenceRule, error) {
	var rule model.RecurrenceRule
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rule).Error; err != nil {
		return nil, err
	}
	return &rule, nil
}

// Upsert writes the rule for a task, replacing any existing row so the
// one-rule-per-task invariant holds.
func (r *RuleRepository) Upsert(ctx context.Context, rule *model.RecurrenceRule) error {
	db := r.db.WithContext(ctx)
	var existing model.RecurrenceRule
	err := db.Where("task_id = ?", rule.TaskID).First(&existing).Error
	switch {
	case err == nil:
		rule.ID = existing.ID
		rule.CreatedAt = existing.CreatedAt
		if err := db.Save(rule).Error; err != nil {
			return fmt.Errorf("update rule: %w", err)
		}
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := db.Create(rule).Error; err != nil {
			return fmt.Errorf("create rule: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("find rule: %w", err)
	}
}

func (r *RuleRepository) DeleteByTask(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Delete(&model.RecurrenceRule{}).Error; err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}
