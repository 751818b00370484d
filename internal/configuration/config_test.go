package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"prayerreminder/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
scheduler_base_url = "https://scheduler.example.com/api"
onesignal_app_id = "app-1"
control_secret_key = "secret"
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestGetConfig_Defaults(t *testing.T) {
	c, err := GetConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8899", c.ServerAddress)
	assert.Equal(t, logger.LevelInfo, c.LogLevel)
	assert.Equal(t, StorageMemory, c.StorageBackend)
	assert.Equal(t, "https://api.onesignal.com", c.OneSignalAPIURL)
	assert.Equal(t, "AndroidPush", c.PushTokenType)
	assert.True(t, c.NotificationsPermitted)
	assert.Equal(t, 5*time.Second, c.BaseRetryDelay)
	assert.Equal(t, 5, c.MaxAttempts)
	assert.Equal(t, time.Second, c.SubscriptionPollInterval)
	assert.Equal(t, 45, c.SubscriptionMaxPolls)
	assert.Equal(t, time.Second, c.SettleDelay)
	assert.Equal(t, 15*time.Second, c.RequestTimeout)
	assert.Equal(t, 5*time.Minute, c.RegistrationCheckInterval)
	assert.Equal(t, "UTC", c.DefaultWindow.Timezone)
	assert.NotNil(t, c.ControlSecretKey)
}

func TestGetConfig_Values(t *testing.T) {
	c, err := GetConfig(writeConfig(t, minimalConfig+`
log_level = "debug"
storage_backend = "redis"
redis_addr = "cache:6379"
redis_db = 2
notifications_permitted = false
base_retry_delay = "2s"
max_attempts = 3
settle_delay = "500ms"
default_timezone = "Asia/Jakarta"
default_start_time = "04:30"
default_end_time = "21:00"
`))
	require.NoError(t, err)

	assert.Equal(t, logger.LevelDebug, c.LogLevel)
	assert.Equal(t, StorageRedis, c.StorageBackend)
	assert.Equal(t, "cache:6379", c.RedisAddr)
	assert.Equal(t, 2, c.RedisDB)
	assert.False(t, c.NotificationsPermitted)
	assert.Equal(t, 2*time.Second, c.BaseRetryDelay)
	assert.Equal(t, 3, c.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.SettleDelay)
	assert.Equal(t, "Asia/Jakarta", c.DefaultWindow.Timezone)
	assert.Equal(t, "04:30", c.DefaultWindow.StartTime)
}

func TestGetConfig_EnvOverrides(t *testing.T) {
	t.Setenv("PRAYER_SCHEDULER_URL", "http://localhost:3000")
	t.Setenv("PRAYER_PUSH_TOKEN", "token-1")
	t.Setenv("PRAYER_REDIS_DB", "4")

	c, err := GetConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", c.SchedulerBaseURL)
	assert.Equal(t, "token-1", c.PushToken)
	assert.Equal(t, 4, c.RedisDB)

	t.Setenv("PRAYER_REDIS_DB", "-1")
	_, err = GetConfig(writeConfig(t, minimalConfig))
	assert.ErrorContains(t, err, "PRAYER_REDIS_DB")
}

func TestGetConfig_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"missing scheduler", `onesignal_app_id = "a"
control_secret_key = "s"`, "scheduler_base_url is not set"},
		{"relative scheduler", `scheduler_base_url = "scheduler/api"
onesignal_app_id = "a"
control_secret_key = "s"`, "not an absolute URL"},
		{"missing app id", `scheduler_base_url = "http://x"
control_secret_key = "s"`, "onesignal_app_id is not set"},
		{"missing secret", `scheduler_base_url = "http://x"
onesignal_app_id = "a"`, "control_secret_key is not set"},
		{"bad backend", minimalConfig + `storage_backend = "sqlite"`, "unknown storage_backend"},
		{"bad duration", minimalConfig + `base_retry_delay = "soon"`, "base_retry_delay"},
		{"negative duration", minimalConfig + `settle_delay = "-1s"`, "settle_delay must not be negative"},
		{"check interval", minimalConfig + `registration_check_interval = "1s"`, "registration_check_interval too short"},
		{"attempts", minimalConfig + `max_attempts = 11`, "max_attempts out of range"},
		{"log level", minimalConfig + `log_level = "LOUD"`, "log_level"},
		{"default window", minimalConfig + `default_start_time = "25:00"`, "invalid default notification window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := GetConfig(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestGetConfig_MissingFile(t *testing.T) {
	_, err := GetConfig(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorContains(t, err, "failed to decode toml file")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(p, []byte("PRAYER_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PRAYER_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env"), p))
	assert.Equal(t, "loaded", os.Getenv("PRAYER_TEST_DOTENV"))
}
