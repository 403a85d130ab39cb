package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskdeck/internal/model"
)

// FileLinkRepository manages task-to-file associations.
type FileLinkRepository struct {
	db *gorm.DB
}

func NewFileLinkRepository(db *gorm.DB) *FileLinkRepository {
	return &FileLinkRepository{db: db}
}

func (r *FileLinkRepository) Create(ctx context.Context, link *model.FileLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		return fmt.Errorf("create file link: %w", err)
	}
	return nil
}

func (r *FileLinkRepository) ListByTask(ctx context.Context, taskID uint) ([]model.FileLink, error) {
	var links []model.FileLink
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("id").Find(&links).Error; err != nil {
		return nil, err
	}
	return links, nil
}

func (r *FileLinkRepository) DeleteByTask(ctx context.Context, taskID uint) error {
	if err := r.db.WithContext(ctx).Where("task_id = ?", taskID).
		Delete(&model.FileLink{}).Error; err != nil {
		return fmt.Errorf("delete file links: %w", err)
	}
	return nil
}
