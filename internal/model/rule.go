package model

import "time"

// Recurrence frequencies stored in RecurrenceRule.Freq.
const (
	FreqDaily   = "daily"
	FreqWeekly  = "weekly"
	FreqMonthly = "monthly"
	FreqYearly  = "yearly"
)

// Interval anchors for daily rules.
const (
	AnchorScheduled = "scheduled"
	AnchorCompleted = "completed"
)

// RecurrenceRule describes how a task repeats. Every task owns exactly one
// rule row; a non-recurring task carries the degenerate monthly/count=1
// shape so single occurrences go through the same reconciliation path.
type RecurrenceRule struct {
	ID     uint `gorm:"primaryKey"`
	TaskID uint `gorm:"uniqueIndex"`
	Freq   string
	// Count bounds the total number of occurrences ever generated.
	// 0 means the pattern repeats indefinitely within a rolling window.
	Count    int
	Interval int    `gorm:"default:1"` // days for daily, weeks for weekly
	Anchor   string // scheduled|completed, daily only
	// HorizonDays is how far ahead pending occurrences are materialized
	// for infinite daily rules. Clamped to (0,365].
	HorizonDays int
	MonthlyDay  int // 1-31, clamped to month length; also the yearly day
	MonthlyNth  int // 1..5, -1 = last; mutually exclusive with MonthlyDay
	MonthlyDow  int // 0=Sunday..6, used with MonthlyNth
	WeeklyDays  int // bitmask, bit 0 = Sunday
	YearlyMonth int // 1-12
	// ManualNextDue: the user supplies the next due date at completion
	// time instead of a formula.
	ManualNextDue bool `gorm:"default:false"`
	// OffsetDays shifts every computed target date before persistence.
	OffsetDays int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SingleRule is the degenerate rule attached to non-recurring tasks.
func SingleRule(taskID uint) RecurrenceRule {
	return RecurrenceRule{TaskID: taskID, Freq: FreqMonthly, Count: 1, Interval: 1}
}
