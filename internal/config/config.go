package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// EngineConfig tunes the rolling windows the recurrence engine projects
// for infinite patterns. Zero values fall back to the engine defaults.
type EngineConfig struct {
	DefaultHorizonDays int `toml:"default_horizon_days"`
	WeeklyWeeks        int `toml:"weekly_weeks"`
	MonthlyMonths      int `toml:"monthly_months"`
	YearlyYears        int `toml:"yearly_years"`
}

// Config keeps runtime settings for the tracker.
type Config struct {
	TelegramToken  string
	DatabaseURL    string
	ReportInterval time.Duration
	ReportTime     string // HH:MM, empty disables the fixed daily report
	Engine         EngineConfig
}

// Load reads configuration from environment variables with sane defaults.
// ENGINE_CONFIG may point at a TOML file with engine tuning; a missing
// path is created with the defaults so it can be edited in place.
func Load() (Config, error) {
	cfg := Config{
		TelegramToken:  strings.TrimSpace(os.Getenv("TELEGRAM_TOKEN")),
		DatabaseURL:    strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ReportInterval: parseInterval(strings.TrimSpace(os.Getenv("REPORT_INTERVAL_HOURS"))),
		ReportTime:     strings.TrimSpace(os.Getenv("REPORT_TIME")),
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = "taskdeck.db"
	}

	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = 5 * time.Hour
	}

	if path := strings.TrimSpace(os.Getenv("ENGINE_CONFIG")); path != "" {
		engine, err := loadOrCreateEngine(path)
		if err != nil {
			return cfg, fmt.Errorf("engine config: %w", err)
		}
		cfg.Engine = engine
	}

	if cfg.TelegramToken == "" {
		return cfg, fmt.Errorf("TELEGRAM_TOKEN is required")
	}

	return cfg, nil
}

func defaultEngine() EngineConfig {
	return EngineConfig{
		DefaultHorizonDays: 14,
		WeeklyWeeks:        8,
		MonthlyMonths:      2,
		YearlyYears:        2,
	}
}

func loadOrCreateEngine(path string) (EngineConfig, error) {
	engine := defaultEngine()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		data, err := toml.Marshal(engine)
		if err != nil {
			return engine, err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return engine, err
		}
		return engine, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return engine, err
	}
	if err := toml.Unmarshal(data, &engine); err != nil {
		return engine, err
	}
	return engine, nil
}

func parseInterval(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	hours, err := time.ParseDuration(raw + "h")
	if err != nil || hours <= 0 {
		return 0
	}
	return hours
}
