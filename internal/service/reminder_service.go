package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
)

// ReminderService builds human-readable summaries for daily notifications.
type ReminderService struct {
	occSvc       *OccurrenceService
	categoryRepo *repository.CategoryRepository
}

func NewReminderService(occSvc *OccurrenceService, categoryRepo *repository.CategoryRepository) *ReminderService {
	return &ReminderService{occSvc: occSvc, categoryRepo: categoryRepo}
}

// DailySummary renders the pending occurrences around now: overdue first,
// then today, then the coming week. Listing runs the ensure pass, so the
// occurrence table is consistent before it is read.
func (s *ReminderService) DailySummary(ctx context.Context, user model.User, now time.Time) (string, error) {
	today := recur.DateOf(now)
	from := recur.AddDays(today, -60)
	to := recur.AddDays(today, 7)

	views, err := s.occSvc.ListDue(ctx, user.ID, now, from, to, model.StatusPending)
	if err != nil {
		return "", err
	}

	categories, err := s.categoryRepo.ListByUser(ctx, user.ID)
	if err != nil {
		return "", err
	}
	catNames := make(map[uint]string)
	for _, cat := range categories {
		catNames[cat.ID] = cat.Name
	}

	todayStr := recur.FormatDate(today)
	var overdue, dueToday, upcoming []OccurrenceView
	for _, v := range views {
		switch {
		case v.Occurrence.EffectiveDate() < todayStr:
			overdue = append(overdue, v)
		case v.Occurrence.EffectiveDate() == todayStr:
			dueToday = append(dueToday, v)
		default:
			upcoming = append(upcoming, v)
		}
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Daily report</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", todayStr))

	builder.WriteString("⚠️ <b>Overdue</b>\n")
	if len(overdue) == 0 {
		builder.WriteString("— nothing overdue\n")
	} else {
		for _, v := range overdue {
			builder.WriteString(formatDueLine(v, catNames))
		}
	}

	builder.WriteString("\n🔥 <b>Today</b>\n")
	if len(dueToday) == 0 {
		builder.WriteString("— nothing due today\n")
	} else {
		for _, v := range dueToday {
			builder.WriteString(formatDueLine(v, catNames))
		}
	}

	builder.WriteString("\n⏳ <b>Next 7 days</b>\n")
	if len(upcoming) == 0 {
		builder.WriteString("— nothing scheduled\n")
	} else {
		for _, v := range upcoming {
			builder.WriteString(formatDueLine(v, catNames))
		}
	}

	return strings.TrimSpace(builder.String()), nil
}

func formatDueLine(v OccurrenceView, catNames map[uint]string) string {
	var sb strings.Builder

	icon := "🟢"
	if v.Task.IsRecurring {
		icon = "♻️"
	}
	sb.WriteString(fmt.Sprintf("%s <b>#%d</b> %s", icon, v.Occurrence.ID, html.EscapeString(strings.TrimSpace(v.Task.Title))))

	if v.Task.CategoryID != nil {
		if name, ok := catNames[*v.Task.CategoryID]; ok {
			trimmed := strings.TrimSpace(name)
			if trimmed != "" {
				sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(trimmed)))
			}
		}
	}

	sb.WriteString(fmt.Sprintf(" · %s", v.Occurrence.EffectiveDate()))
	if v.Occurrence.DeferredDate != "" {
		sb.WriteString(fmt.Sprintf(" (deferred from %s)", v.Occurrence.ScheduledDate))
	}
	if v.Occurrence.ScheduledTime != "" {
		sb.WriteString(fmt.Sprintf(" %s", v.Occurrence.ScheduledTime))
	}
	sb.WriteByte('\n')
	return sb.String()
}
