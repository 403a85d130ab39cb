package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gorm.io/gorm"

	"taskdeck/internal/config"
	"taskdeck/internal/model"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
	"taskdeck/internal/service"
)

const (
	cbCompletePrefix = "complete:"
	cbDeletePrefix   = "delete:"
)

const (
	btnSkip         = "⏭️ Skip"
	btnYes          = "Yes"
	btnNo           = "No"
	btnConfirm      = "✅ Confirm"
	btnCancel       = "↩️ Cancel"
	btnCancelDialog = "⏪ Abort input"
	iconPending     = "🟢"
	iconOverdue     = "⚠️"
	iconRecurring   = "♻️"
	menuLabelNew    = "➕ New task"
	menuLabelTasks  = "📋 Tasks"
	menuLabelReport = "📊 Report"
	menuLabelHelp   = "ℹ️ Help"
)

type confirmationAction int

const (
	actionComplete confirmationAction = iota
	actionDelete
	actionEdit
)

type confirmationRequest struct {
	action       confirmationAction
	taskID       uint
	occurrenceID uint
	input        service.TaskInput
}

// Bot aggregates the Telegram API with the task services.
type Bot struct {
	api           *tgbotapi.BotAPI
	userRepo      *repository.UserRepository
	categorySvc   *service.CategoryService
	taskSvc       *service.TaskService
	occSvc        *service.OccurrenceService
	reminderSvc   *service.ReminderService
	config        *config.Config
	conversations map[int64]*conversationState
	confirmations map[int64]confirmationRequest
	mu            sync.Mutex
}

func New(token string, userRepo *repository.UserRepository, categorySvc *service.CategoryService, taskSvc *service.TaskService, occSvc *service.OccurrenceService, reminderSvc *service.ReminderService, cfg *config.Config) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Printf("[info] bot authorized on account %s", api.Self.UserName)

	return &Bot{
		api:           api,
		userRepo:      userRepo,
		categorySvc:   categorySvc,
		taskSvc:       taskSvc,
		occSvc:        occSvc,
		reminderSvc:   reminderSvc,
		config:        cfg,
		conversations: make(map[int64]*conversationState),
		confirmations: make(map[int64]confirmationRequest),
	}, nil
}

// Start begins polling updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	log.Println("[info] start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	for update := range updates {
		switch {
		case update.CallbackQuery != nil:
			if err := b.handleCallback(ctx, update.CallbackQuery); err != nil {
				log.Printf("handle callback: %v", err)
			}
		case update.Message != nil:
			if update.Message.Chat == nil || !update.Message.Chat.IsPrivate() {
				continue
			}
			if err := b.handleMessage(ctx, update.Message); err != nil {
				log.Printf("handle message: %v", err)
			}
		}
	}

	return nil
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil {
		return nil
	}

	if !msg.IsCommand() && isCancelDialogInput(msg.Text) {
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input aborted. Start over whenever you like.")
	}

	if !msg.IsCommand() {
		if handled, err := b.handleMenuAlias(ctx, msg); handled {
			return err
		}
	}

	if msg.IsCommand() {
		log.Printf("[info] command from %d: /%s %s", msg.From.ID, msg.Command(), msg.CommandArguments())
		return b.handleCommand(ctx, msg)
	}

	if pending, ok := b.getConfirmation(msg.From.ID); ok {
		return b.handleConfirmationResponse(ctx, msg, pending)
	}

	if b.hasConversation(msg.From.ID) {
		return b.handleConversation(ctx, msg)
	}

	return b.sendText(msg.Chat.ID, "I did not get that. Use /newtask to add a task or /help for the command list.")
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start":
		return b.handleStart(ctx, msg)
	case "help":
		return b.handleHelp(msg)
	case "report":
		return b.handleReport(ctx, msg)
	case "tasks":
		return b.handleListTasks(ctx, msg)
	case "newtask":
		return b.startTaskConversation(ctx, msg, 0)
	case "edit":
		return b.handleEdit(ctx, msg)
	case "complete":
		return b.handleComplete(ctx, msg)
	case "defer":
		return b.handleDefer(ctx, msg)
	case "delete":
		return b.handleDelete(ctx, msg)
	case "attach":
		return b.handleAttach(ctx, msg)
	case "files":
		return b.handleFiles(ctx, msg)
	case "history":
		return b.handleHistory(ctx, msg)
	case "cancel":
		b.clearConversation(msg.From.ID)
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "⏪ Input aborted.")
	default:
		return b.sendText(msg.Chat.ID, "Unknown command. See /help.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	name := strings.TrimSpace(msg.From.FirstName)
	if name == "" {
		name = "there"
	}

	text := fmt.Sprintf(
		"👋 Hi, %s!\n<b>I track your tasks, one-off and repeating.</b>\n\nCommands:\n"+
			"• /newtask — add a task\n"+
			"• /tasks — what is due\n"+
			"• /complete &lt;id&gt; — mark an occurrence done\n"+
			"• /defer &lt;id&gt; &lt;date&gt; — push one occurrence to another day\n"+
			"• /report — daily summary\n"+
			"• /help — more",
		escape(name),
	)

	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleHelp(msg *tgbotapi.Message) error {
	text := "ℹ️ <b>Commands</b>\n" +
		"• /newtask — add a task step by step\n" +
		"• /edit &lt;task-id&gt; — change a task and its schedule\n" +
		"• /tasks — due occurrences with complete buttons\n" +
		"• /complete &lt;id&gt; [next-date] — mark an occurrence done; tasks with a manual schedule need the next date\n" +
		"• /defer &lt;id&gt; &lt;date&gt; — override one occurrence's date (<code>-</code> clears it)\n" +
		"• /delete &lt;task-id&gt; — remove a task and its whole history\n" +
		"• /attach &lt;task-id&gt; &lt;path&gt; — link a local file to a task\n" +
		"• /files &lt;task-id&gt; — linked files\n" +
		"• /history &lt;task-id&gt; — recent audit records\n" +
		"• /report — daily summary now\n" +
		"• /cancel — abort the current input"
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleReport(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	text, err := b.reminderSvc.DailySummary(ctx, *user, time.Now())
	if err != nil {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not build the report: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleListTasks(ctx context.Context, msg *tgbotapi.Message) error {
	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	return b.sendOccurrenceList(ctx, msg.Chat.ID, user)
}

func (b *Bot) sendOccurrenceList(ctx context.Context, chatID int64, user *model.User) error {
	now := time.Now()
	today := recur.DateOf(now)
	views, err := b.occSvc.ListDue(ctx, user.ID, now, recur.AddDays(today, -60), recur.AddDays(today, 14), model.StatusPending)
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not load occurrences: %s", escape(err.Error())))
	}
	if len(views) == 0 {
		return b.sendText(chatID, "Nothing pending. Add something with /newtask.")
	}

	todayStr := recur.FormatDate(today)
	var builder strings.Builder
	builder.WriteString("📋 <b>Due occurrences</b>\n")
	builder.WriteString("Tap a button to mark one done.\n\n")

	var buttons [][]tgbotapi.InlineKeyboardButton
	for _, v := range views {
		icon := iconPending
		if v.Task.IsRecurring {
			icon = iconRecurring
		}
		if v.Occurrence.EffectiveDate() < todayStr {
			icon = iconOverdue
		}
		builder.WriteString(fmt.Sprintf("%s <b>#%d</b> %s · %s", icon, v.Occurrence.ID, escape(strings.TrimSpace(v.Task.Title)), v.Occurrence.EffectiveDate()))
		if v.Occurrence.DeferredDate != "" {
			builder.WriteString(fmt.Sprintf(" <i>(deferred from %s)</i>", v.Occurrence.ScheduledDate))
		}
		builder.WriteString(fmt.Sprintf("\n   task #%d", v.Task.ID))
		if v.Task.Description != "" {
			builder.WriteString(fmt.Sprintf(" · %s", escape(shortText(v.Task.Description, 40))))
		}
		builder.WriteString("\n\n")

		row := []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("✅ #%d · %s", v.Occurrence.ID, shortText(v.Task.Title, 20)), fmt.Sprintf("%s%d", cbCompletePrefix, v.Occurrence.ID)),
			tgbotapi.NewInlineKeyboardButtonData("🗑 Task", fmt.Sprintf("%s%d", cbDeletePrefix, v.Task.ID)),
		}
		buttons = append(buttons, row)
	}

	out := tgbotapi.NewMessage(chatID, strings.TrimSpace(builder.String()))
	out.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons...)
	out.ParseMode = tgbotapi.ModeHTML
	_, err = b.api.Send(out)
	return err
}

func (b *Bot) handleComplete(ctx context.Context, msg *tgbotapi.Message) error {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) == 0 {
		return b.sendText(msg.Chat.ID, "Give me the occurrence id: /complete 12")
	}
	occID, err := parseID(fields[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The occurrence id must be a number.")
	}
	opts := service.CompleteOptions{}
	if len(fields) > 1 {
		opts.NextDue = fields[1]
	}
	if len(fields) > 2 {
		opts.Comment = strings.Join(fields[2:], " ")
	}

	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}
	return b.completeOccurrence(ctx, msg.Chat.ID, occID, opts)
}

func (b *Bot) completeOccurrence(ctx context.Context, chatID int64, occID uint, opts service.CompleteOptions) error {
	occ, err := b.occSvc.Complete(ctx, occID, opts)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return b.sendText(chatID, "Occurrence not found.")
	case errors.Is(err, service.ErrMissingManualNextDue):
		return b.sendText(chatID, "This task advances manually — pass the next date: /complete "+strconv.FormatUint(uint64(occID), 10)+" 2025-12-01")
	case errors.Is(err, service.ErrNextDueBeforeCurrent):
		return b.sendText(chatID, "The next date must not precede the current occurrence.")
	case errors.Is(err, recur.ErrInvalidDate):
		return b.sendText(chatID, "Use the date format <code>2025-12-01</code>.")
	case err != nil:
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}

	log.Printf("[info] occurrence completed id=%d task=%d", occ.ID, occ.TaskID)
	return b.sendText(chatID, fmt.Sprintf("✅ Occurrence <b>#%d</b> (%s) is done.", occ.ID, occ.ScheduledDate))
}

func (b *Bot) handleDefer(ctx context.Context, msg *tgbotapi.Message) error {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) < 2 {
		return b.sendText(msg.Chat.ID, "Usage: /defer 12 2025-12-01 (or <code>-</code> to clear the override)")
	}
	occID, err := parseID(fields[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The occurrence id must be a number.")
	}
	date := fields[1]
	if date == "-" {
		date = ""
	}

	if _, err := b.ensureUser(ctx, msg.From); err != nil {
		return err
	}

	occ, err := b.occSvc.Defer(ctx, occID, date)
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return b.sendText(msg.Chat.ID, "Occurrence not found.")
	case errors.Is(err, recur.ErrInvalidDate):
		return b.sendText(msg.Chat.ID, "Use the date format <code>2025-12-01</code>.")
	case err != nil:
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}

	if occ.DeferredDate == "" {
		return b.sendText(msg.Chat.ID, fmt.Sprintf("↩️ Occurrence <b>#%d</b> is back on %s.", occ.ID, occ.ScheduledDate))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("⏳ Occurrence <b>#%d</b> deferred to %s (schedule stays %s).", occ.ID, occ.DeferredDate, occ.ScheduledDate))
}

func (b *Bot) handleDelete(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Give me the task id: /delete 12")
	}
	taskID, err := parseID(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task id must be a number.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	task, err := b.taskSvc.GetTask(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Task not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}

	text := fmt.Sprintf("Delete task \"%s\" (#%d) with its whole occurrence history?", escape(strings.TrimSpace(task.Title)), task.ID)
	b.setConfirmation(msg.From.ID, confirmationRequest{action: actionDelete, taskID: task.ID})
	return b.sendWithReplyMarkup(msg.Chat.ID, text, confirmKeyboard())
}

func (b *Bot) handleEdit(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Give me the task id: /edit 12")
	}
	taskID, err := parseID(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task id must be a number.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	if _, err := b.taskSvc.GetTask(ctx, user, taskID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Task not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	return b.startTaskConversation(ctx, msg, taskID)
}

func (b *Bot) handleAttach(ctx context.Context, msg *tgbotapi.Message) error {
	fields := strings.Fields(msg.CommandArguments())
	if len(fields) < 2 {
		return b.sendText(msg.Chat.ID, "Usage: /attach 12 /path/to/file")
	}
	taskID, err := parseID(fields[0])
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task id must be a number.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}

	link, err := b.taskSvc.AttachFile(ctx, user, taskID, strings.Join(fields[1:], " "))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Task not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Could not attach: %s", escape(err.Error())))
	}
	return b.sendText(msg.Chat.ID, fmt.Sprintf("📎 Linked <code>%s</code> (sha256 %s…).", escape(link.Path), link.SHA256[:12]))
}

func (b *Bot) handleFiles(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Give me the task id: /files 12")
	}
	taskID, err := parseID(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task id must be a number.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	links, err := b.taskSvc.ListFiles(ctx, user, taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Task not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	if len(links) == 0 {
		return b.sendText(msg.Chat.ID, "No files linked to this task.")
	}

	var builder strings.Builder
	builder.WriteString("📎 <b>Linked files</b>\n")
	for _, link := range links {
		builder.WriteString(fmt.Sprintf("• <code>%s</code> — %s…\n", escape(link.Path), link.SHA256[:12]))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleHistory(ctx context.Context, msg *tgbotapi.Message) error {
	args := strings.TrimSpace(msg.CommandArguments())
	if args == "" {
		return b.sendText(msg.Chat.ID, "Give me the task id: /history 12")
	}
	taskID, err := parseID(args)
	if err != nil {
		return b.sendText(msg.Chat.ID, "The task id must be a number.")
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		return err
	}
	events, err := b.taskSvc.RecentEvents(ctx, user, taskID, 15)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(msg.Chat.ID, "Task not found.")
		}
		return b.sendText(msg.Chat.ID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	if len(events) == 0 {
		return b.sendText(msg.Chat.ID, "No audit records yet.")
	}

	var builder strings.Builder
	builder.WriteString("🧾 <b>Recent history</b>\n")
	for _, ev := range events {
		builder.WriteString(fmt.Sprintf("• %s <code>%s</code> (%s)\n", ev.CreatedAt.Format("2006-01-02 15:04"), ev.Kind, ev.Source))
	}
	return b.sendText(msg.Chat.ID, strings.TrimSpace(builder.String()))
}

func (b *Bot) handleConfirmationResponse(ctx context.Context, msg *tgbotapi.Message, req confirmationRequest) error {
	text := strings.TrimSpace(msg.Text)
	switch {
	case isConfirmInput(text):
		b.clearConfirmation(msg.From.ID)
		user, err := b.ensureUser(ctx, msg.From)
		if err != nil {
			return err
		}
		switch req.action {
		case actionDelete:
			return b.deleteTask(ctx, msg.Chat.ID, user, req.taskID)
		case actionEdit:
			return b.applyEdit(ctx, msg.Chat.ID, user, req)
		default:
			return b.completeOccurrence(ctx, msg.Chat.ID, req.occurrenceID, service.CompleteOptions{})
		}
	case isCancelInput(text):
		b.clearConfirmation(msg.From.ID)
		return b.sendText(msg.Chat.ID, "Okay, nothing changed.")
	default:
		return b.sendWithReplyMarkup(msg.Chat.ID, "Please confirm or cancel.", confirmKeyboard())
	}
}

func (b *Bot) deleteTask(ctx context.Context, chatID int64, user *model.User, taskID uint) error {
	if err := b.taskSvc.DeleteTask(ctx, user, taskID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return b.sendText(chatID, "Task not found or already deleted.")
		}
		return b.sendText(chatID, fmt.Sprintf("Error: %s", escape(err.Error())))
	}
	log.Printf("[info] task deleted id=%d user=%d", taskID, user.ID)
	return b.sendText(chatID, fmt.Sprintf("🗑 Task #%d deleted.", taskID))
}

func (b *Bot) applyEdit(ctx context.Context, chatID int64, user *model.User, req confirmationRequest) error {
	task, err := b.taskSvc.UpdateTask(ctx, user, req.taskID, req.input, time.Now())
	if err != nil {
		return b.sendText(chatID, fmt.Sprintf("Could not update the task: %s", escape(err.Error())))
	}
	log.Printf("[info] task updated id=%d user=%d", task.ID, user.ID)
	if err := b.sendText(chatID, fmt.Sprintf("✏️ Task <b>#%d</b> updated.", task.ID)); err != nil {
		return err
	}
	return b.sendOccurrenceList(ctx, chatID, user)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil {
		return nil
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		log.Printf("callback ack: %v", err)
	}

	data := cb.Data
	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}

	switch {
	case strings.HasPrefix(data, cbCompletePrefix):
		occID, err := parseID(strings.TrimPrefix(data, cbCompletePrefix))
		if err != nil {
			return nil
		}
		return b.completeOccurrence(ctx, cb.Message.Chat.ID, occID, service.CompleteOptions{})
	case strings.HasPrefix(data, cbDeletePrefix):
		taskID, err := parseID(strings.TrimPrefix(data, cbDeletePrefix))
		if err != nil {
			return nil
		}
		task, err := b.taskSvc.GetTask(ctx, user, taskID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return b.sendText(cb.Message.Chat.ID, "Task not found.")
			}
			return err
		}
		text := fmt.Sprintf("Delete task \"%s\" (#%d) with its whole occurrence history?", escape(strings.TrimSpace(task.Title)), task.ID)
		b.setConfirmation(cb.From.ID, confirmationRequest{action: actionDelete, taskID: task.ID})
		return b.sendWithReplyMarkup(cb.Message.Chat.ID, text, confirmKeyboard())
	default:
		return nil
	}
}

// SendDailyReports sends a summary to every known user.
func (b *Bot) SendDailyReports(ctx context.Context) error {
	users, err := b.userRepo.ListAll(ctx)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, user := range users {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		text, err := b.reminderSvc.DailySummary(ctx, user, now)
		if err != nil {
			log.Printf("build summary for user %d: %v", user.TelegramID, err)
			continue
		}
		if err := b.sendText(user.TelegramID, text); err != nil {
			log.Printf("send summary to %d: %v", user.TelegramID, err)
		}
	}
	return nil
}

func (b *Bot) handleMenuAlias(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	text := strings.TrimSpace(strings.ToLower(msg.Text))
	switch text {
	case strings.ToLower(menuLabelNew):
		return true, b.startTaskConversation(ctx, msg, 0)
	case strings.ToLower(menuLabelTasks):
		return true, b.handleListTasks(ctx, msg)
	case strings.ToLower(menuLabelReport):
		return true, b.handleReport(ctx, msg)
	case strings.ToLower(menuLabelHelp):
		return true, b.handleHelp(msg)
	default:
		return false, nil
	}
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.userRepo.UpsertFromTelegram(ctx, from.ID, from.FirstName, from.LastName, from.UserName)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = mainMenuKeyboard()
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) getConfirmation(userID int64) (confirmationRequest, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	req, ok := b.confirmations[userID]
	return req, ok
}

func (b *Bot) setConfirmation(userID int64, req confirmationRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirmations[userID] = req
}

func (b *Bot) clearConfirmation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.confirmations, userID)
}

func (b *Bot) setConversation(userID int64, state *conversationState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversations[userID] = state
}

func (b *Bot) getConversation(userID int64) *conversationState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversations[userID]
}

func (b *Bot) hasConversation(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.conversations[userID]
	return ok
}

func (b *Bot) clearConversation(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.conversations, userID)
}

func parseID(raw string) (uint, error) {
	value, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(value), nil
}

func shortText(text string, maxLen int) string {
	clean := strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	runes := []rune(clean)
	if len(runes) <= maxLen {
		return clean
	}
	if maxLen <= 1 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func isConfirmInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnConfirm) || value == "confirm" || value == "yes"
}

func isCancelInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancel) || value == "cancel"
}

func isCancelDialogInput(text string) bool {
	value := strings.TrimSpace(strings.ToLower(text))
	return value == strings.ToLower(btnCancelDialog) || value == "abort" || value == "abort input"
}
