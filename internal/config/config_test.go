package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REPORT_INTERVAL_HOURS", "")
	t.Setenv("REPORT_TIME", "")
	t.Setenv("ENGINE_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "taskdeck.db", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Hour, cfg.ReportInterval)
	assert.Empty(t, cfg.ReportTime)
	assert.Zero(t, cfg.Engine, "engine tuning stays unset without a config file")
}

func TestLoad_RequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_ParsesInterval(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("REPORT_INTERVAL_HOURS", "12")
	t.Setenv("ENGINE_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, cfg.ReportInterval)
}

func TestLoadOrCreateEngine_WritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")

	engine, err := loadOrCreateEngine(path)
	require.NoError(t, err)
	assert.Equal(t, defaultEngine(), engine)

	// The file now exists and round-trips.
	_, err = os.Stat(path)
	require.NoError(t, err)
	again, err := loadOrCreateEngine(path)
	require.NoError(t, err)
	assert.Equal(t, engine, again)
}

func TestLoadOrCreateEngine_ReadsExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	require.NoError(t, os.WriteFile(path, []byte("default_horizon_days = 30\nweekly_weeks = 4\n"), 0o644))

	engine, err := loadOrCreateEngine(path)
	require.NoError(t, err)
	assert.Equal(t, 30, engine.DefaultHorizonDays)
	assert.Equal(t, 4, engine.WeeklyWeeks)
	assert.Equal(t, 2, engine.MonthlyMonths, "unlisted keys keep the defaults")
}
