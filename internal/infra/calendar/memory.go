// Package calendar provides calendar.Bridge implementations.
package calendar

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
)

// maxExpansion bounds how many instances of one recurring event a query
// expands.
const maxExpansion = 1000

type event struct {
	calendarID string
	title      string
	start      time.Time
	end        time.Time
	repeat     reminder.RepeatPolicy
}

// MemoryBridge is an in-process calendar provider. Recurring events are
// expanded into instances at query time.
type MemoryBridge struct {
	mu        sync.RWMutex
	calendars []calendar.Calendar
	events    map[string]event
}

func NewMemoryBridge(calendars ...calendar.Calendar) *MemoryBridge {
	return &MemoryBridge{
		calendars: calendars,
		events:    make(map[string]event),
	}
}

func (b *MemoryBridge) ListAvailableCalendars(context.Context) ([]calendar.Calendar, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]calendar.Calendar(nil), b.calendars...), nil
}

func (b *MemoryBridge) QueryFutureInstances(_ context.Context, from, to time.Time, calendarID string) ([]calendar.Instance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []calendar.Instance
	for id, ev := range b.events {
		if calendarID != "" && ev.calendarID != calendarID {
			continue
		}
		begin := ev.start
		if begin.Before(from) && ev.repeat.Repeats() {
			begin = reminder.NextFutureOccurrence(ev.start, ev.repeat, from.Add(-time.Nanosecond))
		}
		for i := 0; i < maxExpansion && begin.Before(to); i++ {
			if !begin.Before(from) {
				out = append(out, calendar.Instance{EventID: id, Begin: begin, Title: ev.title})
			}
			if !ev.repeat.Repeats() {
				break
			}
			// stepping from the anchor keeps month-end events on the last day
			begin = reminder.NextFutureOccurrence(ev.start, ev.repeat, begin)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Begin.Equal(out[j].Begin) {
			return out[i].EventID < out[j].EventID
		}
		return out[i].Begin.Before(out[j].Begin)
	})
	return out, nil
}

func (b *MemoryBridge) InsertEvent(_ context.Context, calendarID string, ev calendar.EventInput) (string, error) {
	return b.AddEvent(calendarID, ev.Title, ev.Start, ev.End, reminder.RepeatNone)
}

// AddEvent creates an event, optionally recurring, as the calendar owner
// would. It returns the new event id.
func (b *MemoryBridge) AddEvent(calendarID, title string, start, end time.Time, repeat reminder.RepeatPolicy) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.hasCalendarLocked(calendarID) {
		return "", fmt.Errorf("calendar %q does not exist", calendarID)
	}
	id := uuid.NewString()
	b.events[id] = event{calendarID: calendarID, title: title, start: start, end: end, repeat: repeat}
	return id, nil
}

func (b *MemoryBridge) UpdateEvent(_ context.Context, eventID string, in calendar.EventInput) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ev, ok := b.events[eventID]
	if !ok {
		return false, calendar.ErrEventNotFound
	}
	ev.title, ev.start, ev.end = in.Title, in.Start, in.End
	b.events[eventID] = ev
	return true, nil
}

func (b *MemoryBridge) DeleteEvent(_ context.Context, eventID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.events[eventID]; !ok {
		return false, nil
	}
	delete(b.events, eventID)
	return true, nil
}

// Event returns the stored form of an event.
func (b *MemoryBridge) Event(eventID string) (calendar.EventInput, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ev, ok := b.events[eventID]
	if !ok {
		return calendar.EventInput{}, false
	}
	return calendar.EventInput{Title: ev.title, Start: ev.start, End: ev.end}, true
}

func (b *MemoryBridge) hasCalendarLocked(id string) bool {
	for _, c := range b.calendars {
		if c.ID == id {
			return true
		}
	}
	return false
}
