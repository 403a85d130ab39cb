package model

import "time"

// Audit event kinds.
const (
	EventTaskCreate    = "task.create"
	EventTaskUpdate    = "task.update"
	EventTaskDelete    = "task.delete"
	EventOccAutocreate = "occ.autocreate"
	EventOccComplete   = "occ.complete"
	EventOccDelete     = "occ.delete"
	EventOccDefer      = "occ.defer"
)

// Audit event sources.
const (
	SourceUser   = "user"
	SourceSystem = "system"
)

// TaskEvent is an append-only audit record of an engine mutation.
// Rows are never updated or deleted.
type TaskEvent struct {
	ID           uint   `gorm:"primaryKey"`
	Kind         string `gorm:"index"`
	Source       string
	TaskID       *uint `gorm:"index"`
	OccurrenceID *uint
	Details      string // opaque JSON payload
	CreatedAt    time.Time
}
