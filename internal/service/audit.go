package service

import (
	"context"
	"encoding/json"
	"log"

	"taskdeck/internal/model"
	"taskdeck/internal/repository"
)

// Auditor appends audit events around engine mutations. The sink is
// best-effort: a failed append is logged and swallowed, never rolling
// back the primary state change it describes.
type Auditor struct {
	events *repository.EventRepository
}

func NewAuditor(events *repository.EventRepository) *Auditor {
	return &Auditor{events: events}
}

func (a *Auditor) Emit(ctx context.Context, kind, source string, taskID, occurrenceID *uint, details map[string]interface{}) {
	if a == nil || a.events == nil {
		return
	}
	event := model.TaskEvent{
		Kind:         kind,
		Source:       source,
		TaskID:       taskID,
		OccurrenceID: occurrenceID,
	}
	if len(details) > 0 {
		payload, err := json.Marshal(details)
		if err != nil {
			log.Printf("audit marshal %s: %v", kind, err)
		} else {
			event.Details = string(payload)
		}
	}
	if err := a.events.Append(ctx, &event); err != nil {
		log.Printf("audit append %s: %v", kind, err)
	}
}

func idRef(id uint) *uint {
	return &id
}
