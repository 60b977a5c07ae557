package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

// CalendarExporter mirrors user-authored reminders as calendar events and
// keeps the reminder to event mapping in step.
type CalendarExporter struct {
	bridge   calendar.Bridge
	mappings reminder.EventMappings
	metrics  Metrics
	log      *logrus.Entry

	// inserting is held shared from InsertEvent until the mapping is stored.
	inserting sync.RWMutex
}

func NewCalendarExporter(bridge calendar.Bridge, mappings reminder.EventMappings, metrics Metrics, log *logrus.Entry) *CalendarExporter {
	return &CalendarExporter{
		bridge:   bridge,
		mappings: mappings,
		metrics:  orNop(metrics),
		log:      log.WithField("component", "calendar_export"),
	}
}

// Sync brings the mirror of r in line with the settings: it is created or
// updated when export is on, removed otherwise.
func (e *CalendarExporter) Sync(ctx context.Context, r *reminder.Reminder, s settings.Settings) error {
	if !s.AddToCalendar || !r.ExportsToCalendar() {
		return e.Remove(ctx, r.ID)
	}

	ev := calendar.Mirror(r.Announcement(), r.DueAt)
	eventID, mapped, err := e.mappings.GetEventIDFor(ctx, r.ID)
	if err != nil {
		return fmt.Errorf("read event mapping: %w", err)
	}

	if mapped {
		updated, err := e.bridge.UpdateEvent(ctx, eventID, ev)
		if err == nil {
			if updated {
				e.metrics.CalendarExported("update")
			}
			return nil
		}
		if !errors.Is(err, calendar.ErrEventNotFound) {
			return fmt.Errorf("update calendar event %s: %w", eventID, err)
		}
		e.log.WithFields(logrus.Fields{"reminder_id": r.ID, "event_id": eventID}).Info("Mirrored event vanished, re-creating")
		if err := e.mappings.RemoveEventIDFor(ctx, r.ID); err != nil {
			return fmt.Errorf("remove stale event mapping: %w", err)
		}
	}

	return e.insert(ctx, r.ID, ev, s.WriteCalendarID)
}

// Remove deletes the mirror of a reminder, if any, and its mapping.
func (e *CalendarExporter) Remove(ctx context.Context, reminderID int64) error {
	eventID, mapped, err := e.mappings.GetEventIDFor(ctx, reminderID)
	if err != nil {
		return fmt.Errorf("read event mapping: %w", err)
	}
	if !mapped {
		return nil
	}
	if _, err := e.bridge.DeleteEvent(ctx, eventID); err != nil {
		return fmt.Errorf("delete calendar event %s: %w", eventID, err)
	}
	if err := e.mappings.RemoveEventIDFor(ctx, reminderID); err != nil {
		return fmt.Errorf("remove event mapping: %w", err)
	}
	e.metrics.CalendarExported("delete")
	return nil
}

// pauseInserts blocks new mirrors until the returned release is called and
// waits for inserts still awaiting their mapping.
func (e *CalendarExporter) pauseInserts() (release func()) {
	e.inserting.Lock()
	return e.inserting.Unlock
}

// Available lists the calendars the user can pick from.
func (e *CalendarExporter) Available(ctx context.Context) ([]calendar.Calendar, error) {
	return e.bridge.ListAvailableCalendars(ctx)
}

func (e *CalendarExporter) insert(ctx context.Context, reminderID int64, ev calendar.EventInput, preferred string) error {
	available, err := e.bridge.ListAvailableCalendars(ctx)
	if err != nil {
		return fmt.Errorf("list calendars: %w", err)
	}
	calendarID, ok := calendar.ResolveWriteCalendar(available, preferred)
	if !ok {
		e.log.WithField("reminder_id", reminderID).Debug("No writable calendar, export skipped")
		return nil
	}

	e.inserting.RLock()
	defer e.inserting.RUnlock()

	eventID, err := e.bridge.InsertEvent(ctx, calendarID, ev)
	if err != nil {
		return fmt.Errorf("insert calendar event: %w", err)
	}
	if eventID == "" {
		return nil
	}
	if err := e.mappings.SetEventIDFor(ctx, reminderID, eventID); err != nil {
		// an unmapped mirror would come back on the next import
		if _, delErr := e.bridge.DeleteEvent(ctx, eventID); delErr != nil {
			e.log.WithError(delErr).WithFields(logrus.Fields{"reminder_id": reminderID, "event_id": eventID}).Error("Could not roll back unmapped calendar event")
		}
		return fmt.Errorf("store event mapping: %w", err)
	}
	e.metrics.CalendarExported("insert")
	e.log.WithFields(logrus.Fields{"reminder_id": reminderID, "event_id": eventID, "calendar_id": calendarID}).Debug("Reminder mirrored to calendar")
	return nil
}
