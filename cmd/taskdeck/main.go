package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"taskdeck/internal/bot"
	"taskdeck/internal/config"
	"taskdeck/internal/recur"
	"taskdeck/internal/repository"
	"taskdeck/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	ruleRepo := repository.NewRuleRepository(db)
	occRepo := repository.NewOccurrenceRepository(db)
	eventRepo := repository.NewEventRepository(db)
	fileRepo := repository.NewFileLinkRepository(db)

	auditor := service.NewAuditor(eventRepo)
	recurSvc := service.NewRecurrenceService(taskRepo, ruleRepo, occRepo, auditor, lookaheadFromConfig(cfg.Engine))
	occSvc := service.NewOccurrenceService(taskRepo, ruleRepo, occRepo, recurSvc, auditor)
	taskSvc := service.NewTaskService(taskRepo, ruleRepo, occRepo, categoryRepo, fileRepo, eventRepo, recurSvc, auditor)
	categorySvc := service.NewCategoryService(categoryRepo)
	reminderSvc := service.NewReminderService(occSvc, categoryRepo)

	tgBot, err := bot.New(cfg.TelegramToken, userRepo, categorySvc, taskSvc, occSvc, reminderSvc, &cfg)
	if err != nil {
		log.Fatalf("create bot: %v", err)
	}

	scheduler := service.NewSchedulerService(time.Local)

	if _, err := scheduler.ScheduleInterval(cfg.ReportInterval, func() {
		if err := tgBot.SendDailyReports(ctx); err != nil {
			log.Printf("interval report: %v", err)
		}
	}); err != nil {
		log.Fatalf("schedule interval report: %v", err)
	}

	if cfg.ReportTime != "" {
		if _, err := scheduler.ScheduleDaily(cfg.ReportTime, func() {
			if err := tgBot.SendDailyReports(ctx); err != nil {
				log.Printf("daily report: %v", err)
			}
		}); err != nil {
			log.Fatalf("schedule daily report: %v", err)
		}
	}

	// Keep the projected windows warm even for users who never ask.
	if _, err := scheduler.ScheduleInterval(time.Hour, func() {
		refreshAll(ctx, userRepo, recurSvc)
	}); err != nil {
		log.Fatalf("schedule ensure refresh: %v", err)
	}

	scheduler.Start()
	defer scheduler.Stop()

	log.Println("[info] taskdeck started")
	if err := tgBot.Start(ctx); err != nil {
		log.Fatalf("bot stopped: %v", err)
	}
	log.Println("[info] taskdeck stopped")
}

func refreshAll(ctx context.Context, userRepo *repository.UserRepository, recurSvc *service.RecurrenceService) {
	users, err := userRepo.ListAll(ctx)
	if err != nil {
		log.Printf("ensure refresh: list users: %v", err)
		return
	}
	now := time.Now()
	for _, user := range users {
		if err := recurSvc.EnsureAll(ctx, user.ID, now); err != nil {
			log.Printf("ensure refresh: user %d: %v", user.ID, err)
		}
	}
}

func lookaheadFromConfig(engine config.EngineConfig) recur.Lookahead {
	return recur.Lookahead{
		DailyHorizonDays: engine.DefaultHorizonDays,
		WeeklyWeeks:      engine.WeeklyWeeks,
		MonthlyMonths:    engine.MonthlyMonths,
		YearlyYears:      engine.YearlyYears,
	}
}
