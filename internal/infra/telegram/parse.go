package telegram

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"call_reminder/internal/domain/reminder"
)

var (
	ErrMissingWhen = fmt.Errorf("missing due time")
	ErrBadWhen     = fmt.Errorf("unrecognised due time")
	ErrBadID       = fmt.Errorf("reminder id must be a positive number")
)

const (
	dateLayout     = "2006-01-02"
	clockLayout    = "15:04"
	dateTimeLayout = "2006-01-02 15:04"
	listLayout     = "Mon 02 Jan 15:04"
)

// ReminderInput is the parsed form of "/add" and "/edit" arguments:
// <when> [none|daily|monthly|yearly] [message...]
type ReminderInput struct {
	DueAt   time.Time
	Repeat  reminder.RepeatPolicy
	Message string
}

// ParseReminderInput reads a reminder description relative to now. <when>
// is one of: a Go duration prefixed with "+" or "in" ("+10m", "in 1h30m"),
// a clock time "15:04" (today, or tomorrow once passed), a date and clock
// time "2006-01-02 15:04", or RFC 3339.
func ParseReminderInput(payload string, now time.Time) (ReminderInput, error) {
	fields := strings.Fields(payload)
	if len(fields) == 0 {
		return ReminderInput{}, ErrMissingWhen
	}

	dueAt, used, err := parseWhen(fields, now)
	if err != nil {
		return ReminderInput{}, err
	}
	rest := fields[used:]

	in := ReminderInput{DueAt: dueAt, Repeat: reminder.RepeatNone}
	if len(rest) > 0 {
		if p, err := reminder.ParseRepeatPolicy(rest[0]); err == nil {
			in.Repeat = p
			rest = rest[1:]
		}
	}
	in.Message = strings.Join(rest, " ")
	return in, nil
}

// parseWhen returns the due time and how many fields it consumed.
func parseWhen(fields []string, now time.Time) (time.Time, int, error) {
	loc := now.Location()
	first := fields[0]

	switch {
	case strings.EqualFold(first, "in"):
		if len(fields) < 2 {
			return time.Time{}, 0, ErrMissingWhen
		}
		d, err := time.ParseDuration(fields[1])
		if err != nil || d <= 0 {
			return time.Time{}, 0, fmt.Errorf("%w: %q", ErrBadWhen, fields[1])
		}
		return now.Add(d), 2, nil
	case strings.HasPrefix(first, "+"):
		d, err := time.ParseDuration(first[1:])
		if err != nil || d <= 0 {
			return time.Time{}, 0, fmt.Errorf("%w: %q", ErrBadWhen, first)
		}
		return now.Add(d), 1, nil
	}

	if _, err := time.ParseInLocation(dateLayout, first, loc); err == nil && len(fields) > 1 {
		t, err := time.ParseInLocation(dateTimeLayout, first+" "+fields[1], loc)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: %q", ErrBadWhen, first+" "+fields[1])
		}
		return t, 2, nil
	}

	if t, err := time.ParseInLocation(clockLayout, first, loc); err == nil {
		due := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, loc)
		if !due.After(now) {
			due = due.AddDate(0, 0, 1)
		}
		return due, 1, nil
	}

	if t, err := time.Parse(time.RFC3339, first); err == nil {
		return t.In(loc), 1, nil
	}
	return time.Time{}, 0, fmt.Errorf("%w: %q", ErrBadWhen, first)
}

// ParseIDs reads one or more reminder ids. Duplicates are dropped.
func ParseIDs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, ErrBadID
	}
	seen := make(map[int64]bool, len(args))
	ids := make([]int64, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseInt(strings.TrimPrefix(a, "#"), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrBadID, a)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// SplitEditArgs separates the id from the rest of an "/edit" payload.
func SplitEditArgs(payload string) (int64, string, error) {
	payload = strings.TrimSpace(payload)
	head, rest, _ := strings.Cut(payload, " ")
	ids, err := ParseIDs([]string{head})
	if err != nil {
		return 0, "", err
	}
	return ids[0], strings.TrimSpace(rest), nil
}

// FormatReminder renders one line of the reminder list.
func FormatReminder(r *reminder.Reminder, loc *time.Location) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d  %s", r.ID, r.DueAt.In(loc).Format(listLayout))
	if r.Repeat.Repeats() {
		fmt.Fprintf(&b, " (%s)", r.Repeat)
	}
	if r.Source == reminder.SourceCalendar {
		b.WriteString(" [calendar]")
	}
	b.WriteString("  ")
	b.WriteString(r.Announcement())
	return b.String()
}

// FormatReminderList renders reminders ordered by due time.
func FormatReminderList(rs []*reminder.Reminder, loc *time.Location) string {
	sorted := make([]*reminder.Reminder, len(rs))
	copy(sorted, rs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].DueAt.Equal(sorted[j].DueAt) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].DueAt.Before(sorted[j].DueAt)
	})

	var b strings.Builder
	for i, r := range sorted {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(FormatReminder(r, loc))
	}
	return b.String()
}
