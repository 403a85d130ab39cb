package model

import "time"

// FileLink associates a local file with a task, content-addressed by the
// file's SHA-256 at attach time. Links are removed with their task.
type FileLink struct {
	ID        uint   `gorm:"primaryKey"`
	TaskID    uint   `gorm:"index"`
	Path      string
	SHA256    string `gorm:"index"`
	CreatedAt time.Time
}
