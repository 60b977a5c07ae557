package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/settings"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/reminders")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 30*time.Second, cfg.SyncInterval)
	assert.Equal(t, "@every 15m", cfg.SyncCronSpec)
	assert.Equal(t, "0 4 * * *", cfg.HousekeepingCron)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
	assert.Equal(t, "reminder_call", cfg.PhoneAccountID)
	assert.True(t, cfg.ExactAlarms)
	assert.True(t, cfg.CalendarEnabled)
	assert.Equal(t, "Reminders", cfg.CalendarName)
	assert.True(t, cfg.CalendarRead)
	assert.True(t, cfg.CalendarWrite)
	assert.Equal(t, settings.Defaults(), cfg.Defaults)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/reminders")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_OWNER_ID", "4242")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("CALENDAR_SYNC_INTERVAL", "1m")
	t.Setenv("METRICS_ADDR", "")
	t.Setenv("EXACT_ALARMS_ALLOWED", "false")
	t.Setenv("SNOOZE_ENABLED", "true")
	t.Setenv("SNOOZE_REPEATS", "99")
	t.Setenv("SPEECH_RATE", "1.5")
	t.Setenv("CALENDAR_WRITE_GRANTED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(4242), cfg.TelegramOwnerID)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, time.Minute, cfg.SyncInterval)
	assert.Empty(t, cfg.MetricsAddr)
	assert.False(t, cfg.ExactAlarms)
	assert.True(t, cfg.Defaults.SnoozeEnabled)
	assert.Equal(t, settings.MaxSnoozeRepeats, cfg.Defaults.SnoozeRepeats, "out of range values are clamped")
	assert.Equal(t, 1.5, cfg.Defaults.SpeechRate)
	assert.True(t, cfg.CalendarRead)
	assert.False(t, cfg.CalendarWrite)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "missing database", env: map[string]string{"DATABASE_URL": ""}},
		{name: "token without owner", env: map[string]string{"TELEGRAM_TOKEN": "123:abc"}},
		{name: "bad owner id", env: map[string]string{"TELEGRAM_OWNER_ID": "me"}},
		{name: "bad interval", env: map[string]string{"CALENDAR_SYNC_INTERVAL": "soon"}},
		{name: "negative interval", env: map[string]string{"CALENDAR_SYNC_INTERVAL": "-5s"}},
		{name: "bad exact flag", env: map[string]string{"EXACT_ALARMS_ALLOWED": "maybe"}},
		{name: "bad settings default", env: map[string]string{"SNOOZE_ENABLED": "sometimes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "postgres://localhost/reminders")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestParseRoutingPolicy(t *testing.T) {
	policy, err := ParseRoutingPolicy([]byte(`
default: media
manufacturers:
  samsung: voice_call
  Pixel: media
`))
	require.NoError(t, err)

	assert.Equal(t, call.StreamMedia, policy.Default)
	assert.Equal(t, call.StreamVoiceCall, policy.StreamFor(call.DeviceInfo{Manufacturer: "Samsung"}))
	assert.Equal(t, call.StreamMedia, policy.StreamFor(call.DeviceInfo{Manufacturer: "PIXEL"}))
	assert.Equal(t, call.StreamMedia, policy.StreamFor(call.DeviceInfo{Manufacturer: "nokia"}))
}

func TestParseRoutingPolicy_Errors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "not yaml", doc: "default: [unterminated"},
		{name: "unknown default", doc: "default: earpiece"},
		{name: "unknown vendor stream", doc: "manufacturers:\n  HONOR: ring"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRoutingPolicy([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadRoutingPolicy(t *testing.T) {
	builtin, err := LoadRoutingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, call.DefaultRoutingPolicy(), builtin)

	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("manufacturers:\n  HONOR: voice_call\n"), 0o600))

	policy, err := LoadRoutingPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, call.StreamVoiceCall, policy.Default)
	assert.Equal(t, call.StreamVoiceCall, policy.StreamFor(call.DeviceInfo{Manufacturer: "honor"}))

	_, err = LoadRoutingPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
