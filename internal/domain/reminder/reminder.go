package reminder

import (
	"fmt"
	"strings"
	"time"
)

// RepeatPolicy controls how a reminder's due time advances after it fires.
type RepeatPolicy string

const (
	RepeatNone    RepeatPolicy = "none"
	RepeatDaily   RepeatPolicy = "daily"
	RepeatMonthly RepeatPolicy = "monthly"
	RepeatYearly  RepeatPolicy = "yearly"
)

// Source records who authored a reminder.
type Source string

const (
	SourceUser     Source = "user"
	SourceCalendar Source = "calendar" // imported from an external calendar event
)

// DefaultMessage is announced when a reminder carries no text.
const DefaultMessage = "Time's up!"

var ErrInvalidRepeatPolicy = fmt.Errorf("invalid repeat policy")

// Reminder is a user-visible scheduled item.
type Reminder struct {
	ID        int64
	Message   string
	DueAt     time.Time // millisecond precision
	Repeat    RepeatPolicy
	Source    Source
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p RepeatPolicy) Valid() bool {
	switch p {
	case RepeatNone, RepeatDaily, RepeatMonthly, RepeatYearly:
		return true
	}
	return false
}

func (p RepeatPolicy) Repeats() bool {
	return p != RepeatNone && p != ""
}

// ParseRepeatPolicy accepts the policy names case-insensitively; an empty
// string means RepeatNone.
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	p := RepeatPolicy(strings.ToLower(strings.TrimSpace(s)))
	if p == "" {
		return RepeatNone, nil
	}
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRepeatPolicy, s)
	}
	return p, nil
}

// Announcement returns the text to speak for this reminder.
func (r *Reminder) Announcement() string {
	if strings.TrimSpace(r.Message) == "" {
		return DefaultMessage
	}
	return r.Message
}

// IsFuture reports whether the reminder is due strictly after now.
func (r *Reminder) IsFuture(now time.Time) bool {
	return r.DueAt.After(now)
}

// ExportsToCalendar reports whether the reminder is eligible for mirroring
// into the user's calendar. Imported reminders are never mirrored back.
func (r *Reminder) ExportsToCalendar() bool {
	return r.Source != SourceCalendar
}

// TruncateMillis drops sub-millisecond precision so stored and in-memory
// times compare equal.
func TruncateMillis(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}
