package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"

	"call_reminder/internal/domain/settings"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	DatabaseURL      string
	TelegramToken    string // empty runs without the bot: no call simulation, log-only notifications
	TelegramOwnerID  int64
	LogLevel         string
	Environment      string
	SyncInterval     time.Duration // tier-one calendar sync tick
	SyncCronSpec     string        // tier-two calendar sync job
	HousekeepingCron string
	MetricsAddr      string // empty disables the /metrics endpoint
	AudioRoutingFile string
	DeviceVendor     string
	DeviceModel      string
	PhoneAccountID   string
	ExactAlarms      bool

	// Calendar integration. CalendarRead/CalendarWrite are the granted
	// access levels; without either the bridge degrades to no-ops.
	CalendarEnabled bool
	CalendarName    string
	CalendarRead    bool
	CalendarWrite   bool

	// Defaults seeds the settings store on first start.
	Defaults settings.Settings
}

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()

	cfg := &AppConfig{}
	var err error

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	cfg.TelegramToken = os.Getenv("TELEGRAM_TOKEN")
	if ownerIDStr := os.Getenv("TELEGRAM_OWNER_ID"); ownerIDStr != "" {
		cfg.TelegramOwnerID, err = strconv.ParseInt(ownerIDStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_OWNER_ID: %w", err)
		}
	}
	if cfg.TelegramToken != "" && cfg.TelegramOwnerID == 0 {
		return nil, fmt.Errorf("TELEGRAM_OWNER_ID is required when TELEGRAM_TOKEN is set")
	}

	cfg.LogLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Environment = strings.ToLower(os.Getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	if cfg.SyncInterval, err = durationEnv("CALENDAR_SYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.SyncCronSpec = stringEnv("CALENDAR_SYNC_CRON", "@every 15m")
	cfg.HousekeepingCron = stringEnv("HOUSEKEEPING_CRON", "0 4 * * *") // 04:00 daily
	cfg.MetricsAddr = stringEnv("METRICS_ADDR", ":9090")
	if v, ok := os.LookupEnv("METRICS_ADDR"); ok && v == "" {
		cfg.MetricsAddr = ""
	}

	cfg.AudioRoutingFile = os.Getenv("AUDIO_ROUTING_FILE")
	cfg.DeviceVendor = os.Getenv("DEVICE_MANUFACTURER")
	cfg.DeviceModel = os.Getenv("DEVICE_MODEL")
	cfg.PhoneAccountID = stringEnv("PHONE_ACCOUNT_ID", "reminder_call")
	if cfg.ExactAlarms, err = boolEnv("EXACT_ALARMS_ALLOWED", true); err != nil {
		return nil, err
	}

	if cfg.CalendarEnabled, err = boolEnv("CALENDAR_ENABLED", true); err != nil {
		return nil, err
	}
	cfg.CalendarName = stringEnv("CALENDAR_NAME", "Reminders")
	if cfg.CalendarRead, err = boolEnv("CALENDAR_READ_GRANTED", true); err != nil {
		return nil, err
	}
	if cfg.CalendarWrite, err = boolEnv("CALENDAR_WRITE_GRANTED", true); err != nil {
		return nil, err
	}

	if cfg.Defaults, err = loadDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// settingsEnv maps settings keys to the environment variables seeding them.
var settingsEnv = map[string]string{
	settings.KeySpeakDelaySeconds:  "SPEAK_DELAY_SECONDS",
	settings.KeySpeechRate:         "SPEECH_RATE",
	settings.KeySpeechEngine:       "SPEECH_ENGINE",
	settings.KeyUseCallDelivery:    "USE_CALL_DELIVERY",
	settings.KeySnoozeEnabled:      "SNOOZE_ENABLED",
	settings.KeySnoozeRepeats:      "SNOOZE_REPEATS",
	settings.KeySnoozeDelayMinutes: "SNOOZE_DELAY_MINUTES",
	settings.KeySyncFromCalendar:   "SYNC_FROM_CALENDAR",
	settings.KeyAddToCalendar:      "ADD_TO_CALENDAR",
	settings.KeyReadCalendarID:     "READ_CALENDAR_ID",
	settings.KeyWriteCalendarID:    "WRITE_CALENDAR_ID",
	settings.KeyAutoDeletePast:     "AUTO_DELETE_PAST",
}

func loadDefaults() (settings.Settings, error) {
	values := make(map[string]string)
	for key, env := range settingsEnv {
		if v, ok := os.LookupEnv(env); ok {
			values[key] = v
		}
	}
	s, errs := settings.FromValues(settings.Defaults(), values)
	if len(errs) > 0 {
		return settings.Settings{}, fmt.Errorf("invalid settings default: %w", errs[0])
	}
	return s, nil
}

func stringEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func boolEnv(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
