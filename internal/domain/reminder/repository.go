package reminder

import (
	"context"
	"fmt"
	"time"
)

var ErrReminderNotFound = fmt.Errorf("reminder not found")

// Repository persists reminders.
type Repository interface {
	Add(ctx context.Context, r *Reminder) error // fills ID, CreatedAt, UpdatedAt
	Update(ctx context.Context, r *Reminder) error
	Delete(ctx context.Context, id int64) error
	DeleteMany(ctx context.Context, ids []int64) error
	GetByID(ctx context.Context, id int64) (*Reminder, error)
	GetAll(ctx context.Context) ([]*Reminder, error) // ordered by due time
	GetPastDue(ctx context.Context, now time.Time) ([]*Reminder, error)
}

// EventMappings links a reminder to the calendar event that mirrors it.
// A reminder has at most one mapping.
type EventMappings interface {
	GetEventIDFor(ctx context.Context, reminderID int64) (eventID string, ok bool, err error)
	SetEventIDFor(ctx context.Context, reminderID int64, eventID string) error
	RemoveEventIDFor(ctx context.Context, reminderID int64) error
	IsEventMapped(ctx context.Context, eventID string) (bool, error)
}

// ImportLedger remembers which calendar instances were turned into
// reminders, keyed by (event id, instance begin).
type ImportLedger interface {
	IsImported(ctx context.Context, eventID string, begin time.Time) (bool, error)
	RecordImported(ctx context.Context, eventID string, begin time.Time) error
	PruneImported(ctx context.Context, beganBefore time.Time) (int64, error)
}

// Store is the full persistence contract used by the engine.
type Store interface {
	Repository
	EventMappings
	ImportLedger
}

// SnoozeRepository holds the remaining snooze budget per reminder.
type SnoozeRepository interface {
	Remaining(ctx context.Context, reminderID int64) (n int, ok bool, err error)
	SetRemaining(ctx context.Context, reminderID int64, n int) error
	Clear(ctx context.Context, reminderID int64) error
}

// LedgerKey is the textual form of an import ledger entry.
func LedgerKey(eventID string, begin time.Time) string {
	return fmt.Sprintf("%s_%d", eventID, begin.UnixMilli())
}
