package model

import "time"

// Occurrence statuses.
const (
	StatusPending = "pending"
	StatusDone    = "done"
)

// TaskOccurrence is one concrete, dated instance of a task.
// ScheduledDate is the canonical formula-derived date and never changes
// through deferral; DeferredDate is a per-row display override.
type TaskOccurrence struct {
	ID            uint   `gorm:"primaryKey"`
	TaskID        uint   `gorm:"index;index:idx_occurrence_task_date,unique"`
	ScheduledDate string `gorm:"index:idx_occurrence_task_date,unique"` // YYYY-MM-DD
	ScheduledTime string // HH:MM, optional
	DeferredDate  string // YYYY-MM-DD, empty = no override
	Status        string `gorm:"default:pending"`
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// EffectiveDate is the date the occurrence is acted on: the deferral
// override when set, the canonical schedule otherwise.
func (o TaskOccurrence) EffectiveDate() string {
	if o.DeferredDate != "" {
		return o.DeferredDate
	}
	return o.ScheduledDate
}
