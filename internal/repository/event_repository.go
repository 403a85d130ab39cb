package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskdeck/internal/model"
)

// EventRepository is the append-only audit sink. Rows are only ever
// inserted; there is no update or delete path.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Append(ctx context.Context, event *model.TaskEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListRecentByTask returns the newest audit records for one task, for
// display only; the engine itself never reads events back.
func (r *EventRepository) ListRecentByTask(ctx context.Context, taskID uint, limit int) ([]model.TaskEvent, error) {
	var events []model.TaskEvent
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
