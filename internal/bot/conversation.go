package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/service"
)

type conversationStage int

const (
	stageTitle conversationStage = iota
	stageDescription
	stageCategory
	stageKind
	stageDueDate
	stageWeeklyDays
	stageInterval
	stageAnchorMode
	stageMonthlyDay
	stageMonthlyNth
	stageYearlyDate
	stageStartDate
	stageCount
	stageOffset
)

// Schedule kinds offered by the creation dialog.
const (
	kindOnce           = "One-off"
	kindDaily          = "Daily"
	kindWeekly         = "Weekly"
	kindMonthlyDay     = "Monthly (day of month)"
	kindMonthlyWeekday = "Monthly (weekday)"
	kindYearly         = "Yearly"
	kindManual         = "Manual next date"
)

type conversationState struct {
	stage      conversationStage
	editTaskID uint // 0 while creating
	kind       string
	input      service.TaskInput
}

func (b *Bot) startTaskConversation(ctx context.Context, msg *tgbotapi.Message, editTaskID uint) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	b.clearConfirmation(msg.From.ID)
	b.setConversation(msg.From.ID, &conversationState{stage: stageTitle, editTaskID: editTaskID})

	prompt := "📝 What should the task be called?"
	if editTaskID != 0 {
		prompt = fmt.Sprintf("✏️ Editing task #%d. What should it be called now?", editTaskID)
	}
	return b.sendWithReplyMarkup(msg.Chat.ID, prompt, cancelDialogKeyboard())
}

func (b *Bot) handleConversation(ctx context.Context, msg *tgbotapi.Message) error {
	state := b.getConversation(msg.From.ID)
	if state == nil {
		return nil
	}
	text := strings.TrimSpace(msg.Text)

	switch state.stage {
	case stageTitle:
		if text == "" {
			return b.sendWithReplyMarkup(msg.Chat.ID, "The title can not be empty. Try again.", cancelDialogKeyboard())
		}
		state.input.Title = text
		state.stage = stageDescription
		return b.sendWithReplyMarkup(msg.Chat.ID, "Add a description, or skip.", skipKeyboard())

	case stageDescription:
		if !isSkipInput(text) {
			state.input.Description = text
		}
		state.stage = stageCategory
		return b.askCategory(ctx, msg)

	case stageCategory:
		if !isSkipInput(text) {
			state.input.Category = text
		}
		state.stage = stageKind
		return b.sendWithReplyMarkup(msg.Chat.ID, "How does this task repeat?", kindKeyboard())

	case stageKind:
		return b.handleKindChoice(msg, state, text)

	case stageDueDate:
		if _, err := recur.ParseDate(text); err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Use the date format <code>2025-12-01</code>.", cancelDialogKeyboard())
		}
		state.input.DueDate = text
		return b.finishConversation(ctx, msg, state)

	case stageWeeklyDays:
		mask, err := parseWeekdaySet(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "List weekdays separated by commas, e.g. <code>mon,wed,fri</code>.", cancelDialogKeyboard())
		}
		state.input.Rule.WeeklyDays = mask
		state.stage = stageInterval
		return b.sendWithReplyMarkup(msg.Chat.ID, "Repeat every how many weeks? (1 = every week)", skipKeyboard())

	case stageInterval:
		interval := 1
		if !isSkipInput(text) {
			value, err := strconv.Atoi(text)
			if err != nil || value < 1 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Give me a whole number of 1 or more.", cancelDialogKeyboard())
			}
			interval = value
		}
		state.input.Rule.Interval = interval
		if state.kind == kindDaily {
			state.stage = stageAnchorMode
			return b.sendWithReplyMarkup(msg.Chat.ID, "Count the gap from the day you complete it, instead of a fixed grid?", yesNoKeyboard())
		}
		state.stage = stageStartDate
		return b.askStartDate(msg)

	case stageAnchorMode:
		switch {
		case isYesInput(text):
			state.input.Rule.Anchor = model.AnchorCompleted
		case isNoInput(text):
			state.input.Rule.Anchor = model.AnchorScheduled
		default:
			return b.sendWithReplyMarkup(msg.Chat.ID, "Please answer Yes or No.", yesNoKeyboard())
		}
		state.stage = stageStartDate
		return b.askStartDate(msg)

	case stageMonthlyDay:
		day, err := strconv.Atoi(text)
		if err != nil || day < 1 || day > 31 {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Give me a day of month between 1 and 31. Short months clamp to their last day.", cancelDialogKeyboard())
		}
		state.input.Rule.MonthlyDay = day
		state.stage = stageStartDate
		return b.askStartDate(msg)

	case stageMonthlyNth:
		nth, dow, err := parseNthWeekday(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Say something like <code>2 tue</code> or <code>last fri</code>.", cancelDialogKeyboard())
		}
		state.input.Rule.MonthlyNth = nth
		state.input.Rule.MonthlyDow = dow
		state.stage = stageStartDate
		return b.askStartDate(msg)

	case stageYearlyDate:
		month, day, err := parseMonthDay(text)
		if err != nil {
			return b.sendWithReplyMarkup(msg.Chat.ID, "Use <code>MM-DD</code>, e.g. <code>06-15</code>.", cancelDialogKeyboard())
		}
		state.input.Rule.YearlyMonth = month
		state.input.Rule.MonthlyDay = day
		state.stage = stageStartDate
		return b.askStartDate(msg)

	case stageStartDate:
		if isSkipInput(text) {
			state.input.StartDate = recur.FormatDate(recur.DateOf(time.Now()))
		} else {
			if _, err := recur.ParseDate(text); err != nil {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Use the date format <code>2025-12-01</code>.", cancelDialogKeyboard())
			}
			state.input.StartDate = text
		}
		state.stage = stageCount
		return b.sendWithReplyMarkup(msg.Chat.ID, "How many times in total? (0 or skip = repeat forever)", skipKeyboard())

	case stageCount:
		if !isSkipInput(text) {
			count, err := strconv.Atoi(text)
			if err != nil || count < 0 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Give me 0 or a positive whole number.", cancelDialogKeyboard())
			}
			state.input.Rule.Count = count
		}
		state.stage = stageOffset
		return b.sendWithReplyMarkup(msg.Chat.ID, "Shift every date by some days? E.g. <code>-2</code> to surface it two days early. Skip for none.", skipKeyboard())

	case stageOffset:
		if !isSkipInput(text) {
			offset, err := strconv.Atoi(text)
			if err != nil || offset < -365 || offset > 365 {
				return b.sendWithReplyMarkup(msg.Chat.ID, "Give me a whole number between -365 and 365, or skip.", skipKeyboard())
			}
			state.input.Rule.OffsetDays = offset
		}
		return b.finishConversation(ctx, msg, state)
	}

	return nil
}

func (b *Bot) handleKindChoice(msg *tgbotapi.Message, state *conversationState, text string) error {
	state.kind = text
	rule := &state.input.Rule
	rule.Interval = 1

	switch text {
	case kindOnce:
		state.input.IsRecurring = false
		state.stage = stageDueDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "When is it due? (<code>2025-12-01</code>)", cancelDialogKeyboard())
	case kindManual:
		state.input.IsRecurring = true
		rule.ManualNextDue = true
		state.stage = stageDueDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "When is the first due date? You will name each next date on completion.", cancelDialogKeyboard())
	case kindDaily:
		state.input.IsRecurring = true
		rule.Freq = model.FreqDaily
		state.stage = stageInterval
		return b.sendWithReplyMarkup(msg.Chat.ID, "Repeat every how many days? (1 = every day)", skipKeyboard())
	case kindWeekly:
		state.input.IsRecurring = true
		rule.Freq = model.FreqWeekly
		state.stage = stageWeeklyDays
		return b.sendWithReplyMarkup(msg.Chat.ID, "Which weekdays? E.g. <code>mon,wed,fri</code>.", cancelDialogKeyboard())
	case kindMonthlyDay:
		state.input.IsRecurring = true
		rule.Freq = model.FreqMonthly
		state.stage = stageMonthlyDay
		return b.sendWithReplyMarkup(msg.Chat.ID, "Which day of the month? (1-31)", cancelDialogKeyboard())
	case kindMonthlyWeekday:
		state.input.IsRecurring = true
		rule.Freq = model.FreqMonthly
		state.stage = stageMonthlyNth
		return b.sendWithReplyMarkup(msg.Chat.ID, "Which weekday of the month? E.g. <code>2 tue</code> or <code>last fri</code>.", cancelDialogKeyboard())
	case kindYearly:
		state.input.IsRecurring = true
		rule.Freq = model.FreqYearly
		state.stage = stageYearlyDate
		return b.sendWithReplyMarkup(msg.Chat.ID, "Which date each year? Use <code>MM-DD</code>.", cancelDialogKeyboard())
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Pick one of the schedule kinds below.", kindKeyboard())
	}
}

func (b *Bot) askCategory(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	categories, err := b.categorySvc.List(ctx, user)
	if err != nil || len(categories) == 0 {
		return b.sendWithReplyMarkup(msg.Chat.ID, "Name a category, or skip.", skipKeyboard())
	}

	rows := [][]tgbotapi.KeyboardButton{}
	row := []tgbotapi.KeyboardButton{}
	for _, cat := range categories {
		row = append(row, tgbotapi.NewKeyboardButton(cat.Name))
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows, []tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(btnSkip), tgbotapi.NewKeyboardButton(btnCancelDialog)})

	markup := tgbotapi.NewReplyKeyboard(rows...)
	markup.OneTimeKeyboard = true
	return b.sendWithReplyMarkup(msg.Chat.ID, "Pick a category, name a new one, or skip.", markup)
}

func (b *Bot) askStartDate(msg *tgbotapi.Message) error {
	return b.sendWithReplyMarkup(msg.Chat.ID, "From which date does the schedule start? Skip for today.", skipKeyboard())
}

func (b *Bot) finishConversation(ctx context.Context, msg *tgbotapi.Message, state *conversationState) error {
	b.clearConversation(msg.From.ID)

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	if state.editTaskID != 0 {
		return b.finishEdit(ctx, msg, user, state)
	}

	task, err := b.taskSvc.CreateTask(ctx, user, state.input, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not create the task: %s", escape(err.Error())))
	}
	if err := b.sendText(msg.Chat.ID, fmt.Sprintf("🎉 Task <b>#%d</b> \"%s\" created.", task.ID, escape(task.Title))); err != nil {
		return err
	}
	return b.sendOccurrenceList(ctx, msg.Chat.ID, user)
}

// finishEdit previews the reconcile before applying it: shrinking a
// finite schedule can discard completed occurrences, so that case needs
// an explicit confirmation.
func (b *Bot) finishEdit(ctx context.Context, msg *tgbotapi.Message, user *model.User, state *conversationState) error {
	plan, err := b.taskSvc.PreviewUpdate(ctx, user, state.editTaskID, state.input)
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not preview the change: %s", escape(err.Error())))
	}

	if plan.RemovesDone() {
		doneCount := 0
		for _, occ := range plan.Removals {
			if occ.Status == model.StatusDone {
				doneCount++
			}
		}
		text := fmt.Sprintf(
			"⚠️ This change removes %d occurrence(s), including <b>%d already completed</b>. Their history is lost. Apply anyway?",
			len(plan.Removals), doneCount,
		)
		b.setConfirmation(msg.From.ID, confirmationRequest{action: actionEdit, taskID: state.editTaskID, input: state.input})
		return b.sendWithReplyMarkup(msg.Chat.ID, text, confirmKeyboard())
	}

	return b.applyEdit(ctx, msg.Chat.ID, user, confirmationRequest{action: actionEdit, taskID: state.editTaskID, input: state.input})
}

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(menuLabelNew),
			tgbotapi.NewKeyboardButton(menuLabelTasks),
		},
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(menuLabelReport),
			tgbotapi.NewKeyboardButton(menuLabelHelp),
		},
	)
	markup.ResizeKeyboard = true
	return markup
}

func skipKeyboard() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(btnSkip),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		},
	)
	markup.OneTimeKeyboard = true
	return markup
}

func cancelDialogKeyboard() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(btnCancelDialog)},
	)
	markup.OneTimeKeyboard = true
	return markup
}

func yesNoKeyboard() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(btnYes),
			tgbotapi.NewKeyboardButton(btnNo),
		},
		[]tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(btnCancelDialog)},
	)
	markup.OneTimeKeyboard = true
	return markup
}

func confirmKeyboard() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(btnConfirm),
			tgbotapi.NewKeyboardButton(btnCancel),
		},
	)
	markup.OneTimeKeyboard = true
	return markup
}

func kindKeyboard() tgbotapi.ReplyKeyboardMarkup {
	markup := tgbotapi.NewReplyKeyboard(
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(kindOnce),
			tgbotapi.NewKeyboardButton(kindDaily),
		},
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(kindWeekly),
			tgbotapi.NewKeyboardButton(kindYearly),
		},
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(kindMonthlyDay),
			tgbotapi.NewKeyboardButton(kindMonthlyWeekday),
		},
		[]tgbotapi.KeyboardButton{
			tgbotapi.NewKeyboardButton(kindManual),
			tgbotapi.NewKeyboardButton(btnCancelDialog),
		},
	)
	markup.OneTimeKeyboard = true
	return markup
}

var weekdayNames = map[string]int{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tues": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thur": 4, "thurs": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

func parseWeekdaySet(text string) (int, error) {
	mask := 0
	for _, part := range strings.Split(text, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		day, ok := weekdayNames[name]
		if !ok {
			return 0, fmt.Errorf("unknown weekday %q", name)
		}
		mask |= 1 << day
	}
	if mask == 0 {
		return 0, fmt.Errorf("no weekdays given")
	}
	return mask, nil
}

// parseNthWeekday accepts "2 tue" or "last fri".
func parseNthWeekday(text string) (nth, dow int, err error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(text)))
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("want two fields, got %d", len(fields))
	}

	switch fields[0] {
	case "last":
		nth = -1
	default:
		nth, err = strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(fields[0], "st"), "nd"), "rd"), "th"))
		if err != nil || nth < 1 || nth > 5 {
			return 0, 0, fmt.Errorf("bad ordinal %q", fields[0])
		}
	}

	dow, ok := weekdayNames[fields[1]]
	if !ok {
		return 0, 0, fmt.Errorf("unknown weekday %q", fields[1])
	}
	return nth, dow, nil
}

func parseMonthDay(text string) (month, day int, err error) {
	parts := strings.SplitN(strings.TrimSpace(text), "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want MM-DD")
	}
	month, err = strconv.Atoi(parts[0])
	if err != nil || month < 1 || month > 12 {
		return 0, 0, fmt.Errorf("bad month %q", parts[0])
	}
	day, err = strconv.Atoi(parts[1])
	if err != nil || day < 1 || day > 31 {
		return 0, 0, fmt.Errorf("bad day %q", parts[1])
	}
	return month, day, nil
}

func isSkipInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnSkip) || value == "skip" || value == "-"
}

func isYesInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnYes) || value == "y"
}

func isNoInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnNo) || value == "n"
}
