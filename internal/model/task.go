package model

import "time"

// Task is a user-visible unit of work. Concrete dated instances live in
// TaskOccurrence rows; how they repeat lives in the task's RecurrenceRule.
type Task struct {
	ID          uint  `gorm:"primaryKey"`
	UserID      uint  `gorm:"index"`
	CategoryID  *uint `gorm:"index"`
	Title       string
	Description string
	DueDate     string // YYYY-MM-DD, single-occurrence tasks only; empty = unset
	StartDate   string // YYYY-MM-DD anchor for recurring tasks
	StartTime   string // HH:MM, optional
	IsRecurring bool   `gorm:"default:false"`
	// RequireCompleteComment is a UI hint: the surface should ask for a
	// comment before marking an occurrence done.
	RequireCompleteComment bool `gorm:"default:false"`
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AnchorDate is the reference date recurrence math starts from.
func (t Task) AnchorDate() string {
	if t.DueDate != "" {
		return t.DueDate
	}
	return t.StartDate
}
