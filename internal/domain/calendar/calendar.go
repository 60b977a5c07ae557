// Package calendar defines the contract with the user's external calendar.
package calendar

import (
	"context"
	"fmt"
	"time"
)

const (
	// SyncWindow is how far ahead instances are imported.
	SyncWindow = 30 * 24 * time.Hour
	// MirrorDuration is the length of an event created for a reminder.
	MirrorDuration = time.Minute
	// DefaultTitle is used for imported instances whose event has no title.
	DefaultTitle = "Calendar event"
)

// ErrEventNotFound is returned by UpdateEvent when the event no longer exists.
var ErrEventNotFound = fmt.Errorf("calendar event not found")

// Calendar is one of the user's calendars.
type Calendar struct {
	ID   string
	Name string
}

// Instance is one concrete occurrence of a (possibly recurring) event.
type Instance struct {
	EventID string
	Begin   time.Time
	Title   string
}

// EventInput describes an event to insert or update.
type EventInput struct {
	Title string
	Start time.Time
	End   time.Time
}

// Bridge reads and writes the external calendar.
//
// An empty calendarID for QueryFutureInstances means all calendars.
// Implementations degrade to empty results and no-op writes when the
// required permission is missing; returned errors are provider failures.
type Bridge interface {
	ListAvailableCalendars(ctx context.Context) ([]Calendar, error)
	QueryFutureInstances(ctx context.Context, from, to time.Time, calendarID string) ([]Instance, error)
	// InsertEvent returns the new event id, or "" when nothing was inserted.
	InsertEvent(ctx context.Context, calendarID string, ev EventInput) (string, error)
	// UpdateEvent reports false when nothing was written; a vanished event
	// yields ErrEventNotFound.
	UpdateEvent(ctx context.Context, eventID string, ev EventInput) (bool, error)
	DeleteEvent(ctx context.Context, eventID string) (bool, error)
}

// Permissions reports the calendar access currently granted.
type Permissions interface {
	CanRead() bool
	CanWrite() bool
}

// ResolveWriteCalendar picks the preferred calendar if it is available,
// else the first available one. ok is false when no calendar exists.
func ResolveWriteCalendar(available []Calendar, preferredID string) (id string, ok bool) {
	if len(available) == 0 {
		return "", false
	}
	if preferredID != "" {
		for _, c := range available {
			if c.ID == preferredID {
				return c.ID, true
			}
		}
	}
	return available[0].ID, true
}

// Mirror builds the event that mirrors a reminder due at start.
func Mirror(title string, start time.Time) EventInput {
	return EventInput{Title: title, Start: start, End: start.Add(MirrorDuration)}
}
