package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "@every 24h", cfg.Reminder.Schedule)
	assert.Equal(t, 5*time.Second, cfg.Reminder.CatchUpDelay)
	assert.Equal(t, 30*time.Minute, cfg.Reminder.DeferBackoff)
	assert.True(t, cfg.Reminder.Enabled)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, time.UTC, cfg.App.Location)
	assert.Nil(t, cfg.PowerOverride())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "POSTGRES")
	t.Setenv("DATABASE_URL", "postgres://u:p@localhost:5432/reminders")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHAT_ID", "-100200300")
	t.Setenv("REMINDER_SCHEDULE", "0 20 * * *")
	t.Setenv("HTTP_API_KEYS", " one, ,two ")
	t.Setenv("POWER_OVERRIDE", "constrained")
	t.Setenv("APP_TIMEZONE", "Asia/Almaty")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, int64(-100200300), cfg.Telegram.ChatID)
	assert.Equal(t, "0 20 * * *", cfg.Reminder.Schedule)
	assert.Equal(t, []string{"one", "two"}, cfg.HTTP.APIKeys)
	assert.Equal(t, "Asia/Almaty", cfg.App.Location.String())
	if assert.NotNil(t, cfg.PowerOverride()) {
		assert.True(t, *cfg.PowerOverride())
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("POWER_LOW_BATTERY_PERCENT", "0")
	t.Setenv("POWER_OVERRIDE", "sometimes")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "TELEGRAM_CHAT_ID is required")
	assert.Contains(t, msg, "POWER_LOW_BATTERY_PERCENT")
	assert.Contains(t, msg, "POWER_OVERRIDE")
}

func TestValidate_RejectsPowerOverrideInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("POWER_OVERRIDE", "unconstrained")

	_, err := Load()
	assert.ErrorContains(t, err, "POWER_OVERRIDE is not allowed")

	cfg := &Config{App: AppConfig{Environment: EnvProduction}, Power: PowerConfig{Override: "unconstrained"}}
	assert.Nil(t, cfg.PowerOverride())
}

func TestValidate_UnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Load()
	assert.ErrorContains(t, err, "DB_DRIVER")
}

func TestGetEnvHelpers_FallBackOnGarbage(t *testing.T) {
	t.Setenv("X_INT", "ten")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_BOOL", "maybe")

	assert.Equal(t, 10, getEnvInt("X_INT", 10))
	assert.Equal(t, time.Minute, getEnvDuration("X_DUR", time.Minute))
	assert.True(t, getEnvBool("X_BOOL", true))
}
