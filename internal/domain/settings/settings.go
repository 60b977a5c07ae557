// Package settings holds the user preferences read by the engine.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	MinSpeakDelaySeconds   = 0
	MaxSpeakDelaySeconds   = 120
	MinSpeechRate          = 0.5
	MaxSpeechRate          = 2.0
	MinSnoozeRepeats       = 0
	MaxSnoozeRepeats       = 10
	MinSnoozeDelayMinutes  = 1
	MaxSnoozeDelayMinutes  = 60
	DefaultSpeakDelay      = 5
	DefaultSnoozeRepeats   = 2
	DefaultSnoozeDelayMins = 5
)

// Keys as stored by Store implementations and accepted by Set.
const (
	KeyUseCallDelivery    = "use_call_delivery"
	KeySpeechEngine       = "speech_engine"
	KeySpeechRate         = "speech_rate"
	KeySpeakDelaySeconds  = "speak_delay_seconds"
	KeySnoozeEnabled      = "snooze_enabled"
	KeySnoozeRepeats      = "snooze_repeats"
	KeySnoozeDelayMinutes = "snooze_delay_minutes"
	KeySyncFromCalendar   = "sync_from_calendar"
	KeyAddToCalendar      = "add_to_calendar"
	KeyReadCalendarID     = "read_calendar_id"
	KeyWriteCalendarID    = "write_calendar_id"
	KeyAutoDeletePast     = "auto_delete_past"
)

var ErrUnknownKey = fmt.Errorf("unknown settings key")

// Settings is a snapshot of the user preferences.
type Settings struct {
	UseCallDelivery    bool
	SpeechEngine       string // "" selects the system default engine
	SpeechRate         float64
	SpeakDelaySeconds  int
	SnoozeEnabled      bool
	SnoozeRepeats      int
	SnoozeDelayMinutes int
	SyncFromCalendar   bool
	AddToCalendar      bool
	ReadCalendarID     string // "" reads every calendar
	WriteCalendarID    string // "" writes to the first available calendar
	AutoDeletePast     bool
}

// Provider returns the current settings.
type Provider interface {
	Current(ctx context.Context) (Settings, error)
}

// Store persists settings.
type Store interface {
	Provider
	Save(ctx context.Context, s Settings) error
}

func Defaults() Settings {
	return Settings{
		UseCallDelivery:    true,
		SpeechRate:         1.0,
		SpeakDelaySeconds:  DefaultSpeakDelay,
		SnoozeEnabled:      false,
		SnoozeRepeats:      DefaultSnoozeRepeats,
		SnoozeDelayMinutes: DefaultSnoozeDelayMins,
		SyncFromCalendar:   true,
		AddToCalendar:      true,
	}
}

// Normalize clamps every numeric field into its allowed range.
func (s Settings) Normalize() Settings {
	s.SpeakDelaySeconds = clampInt(s.SpeakDelaySeconds, MinSpeakDelaySeconds, MaxSpeakDelaySeconds)
	s.SnoozeRepeats = clampInt(s.SnoozeRepeats, MinSnoozeRepeats, MaxSnoozeRepeats)
	s.SnoozeDelayMinutes = clampInt(s.SnoozeDelayMinutes, MinSnoozeDelayMinutes, MaxSnoozeDelayMinutes)
	if s.SpeechRate < MinSpeechRate {
		s.SpeechRate = MinSpeechRate
	}
	if s.SpeechRate > MaxSpeechRate {
		s.SpeechRate = MaxSpeechRate
	}
	return s
}

func (s Settings) SpeakDelay() time.Duration {
	return time.Duration(s.SpeakDelaySeconds) * time.Second
}

func (s Settings) SnoozeDelay() time.Duration {
	return time.Duration(s.SnoozeDelayMinutes) * time.Minute
}

// Set parses value into the field named by key. The result is normalized.
func (s Settings) Set(key, value string) (Settings, error) {
	value = strings.TrimSpace(value)
	var err error
	switch key {
	case KeyUseCallDelivery:
		s.UseCallDelivery, err = strconv.ParseBool(value)
	case KeySpeechEngine:
		s.SpeechEngine = value
	case KeySpeechRate:
		s.SpeechRate, err = strconv.ParseFloat(value, 64)
	case KeySpeakDelaySeconds:
		s.SpeakDelaySeconds, err = strconv.Atoi(value)
	case KeySnoozeEnabled:
		s.SnoozeEnabled, err = strconv.ParseBool(value)
	case KeySnoozeRepeats:
		s.SnoozeRepeats, err = strconv.Atoi(value)
	case KeySnoozeDelayMinutes:
		s.SnoozeDelayMinutes, err = strconv.Atoi(value)
	case KeySyncFromCalendar:
		s.SyncFromCalendar, err = strconv.ParseBool(value)
	case KeyAddToCalendar:
		s.AddToCalendar, err = strconv.ParseBool(value)
	case KeyReadCalendarID:
		s.ReadCalendarID = value
	case KeyWriteCalendarID:
		s.WriteCalendarID = value
	case KeyAutoDeletePast:
		s.AutoDeletePast, err = strconv.ParseBool(value)
	default:
		return s, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if err != nil {
		return s, fmt.Errorf("invalid value %q for %s: %w", value, key, err)
	}
	return s.Normalize(), nil
}

// Values renders the settings as key/value strings.
func (s Settings) Values() map[string]string {
	return map[string]string{
		KeyUseCallDelivery:    strconv.FormatBool(s.UseCallDelivery),
		KeySpeechEngine:       s.SpeechEngine,
		KeySpeechRate:         strconv.FormatFloat(s.SpeechRate, 'f', -1, 64),
		KeySpeakDelaySeconds:  strconv.Itoa(s.SpeakDelaySeconds),
		KeySnoozeEnabled:      strconv.FormatBool(s.SnoozeEnabled),
		KeySnoozeRepeats:      strconv.Itoa(s.SnoozeRepeats),
		KeySnoozeDelayMinutes: strconv.Itoa(s.SnoozeDelayMinutes),
		KeySyncFromCalendar:   strconv.FormatBool(s.SyncFromCalendar),
		KeyAddToCalendar:      strconv.FormatBool(s.AddToCalendar),
		KeyReadCalendarID:     s.ReadCalendarID,
		KeyWriteCalendarID:    s.WriteCalendarID,
		KeyAutoDeletePast:     strconv.FormatBool(s.AutoDeletePast),
	}
}

// Keys lists every settings key in display order.
func Keys() []string {
	return []string{
		KeyUseCallDelivery, KeySpeechEngine, KeySpeechRate, KeySpeakDelaySeconds,
		KeySnoozeEnabled, KeySnoozeRepeats, KeySnoozeDelayMinutes,
		KeySyncFromCalendar, KeyAddToCalendar, KeyReadCalendarID, KeyWriteCalendarID,
		KeyAutoDeletePast,
	}
}

// FromValues overlays stored key/value pairs onto base. Unparsable values
// are reported but do not stop the overlay; unknown keys are ignored.
func FromValues(base Settings, values map[string]string) (Settings, []error) {
	var errs []error
	for _, key := range Keys() {
		v, ok := values[key]
		if !ok {
			continue
		}
		next, err := base.Set(key, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		base = next
	}
	return base.Normalize(), errs
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
