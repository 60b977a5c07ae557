package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

// MemoryStore is an in-memory reminder.Store. Reminders are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	next     int64
	items    map[int64]reminder.Reminder
	mappings map[int64]string
	ledger   map[string]time.Time

	// AddErr fails every Add when set.
	AddErr error
	// GetAllErr fails every GetAll when set.
	GetAllErr error
	// SetMappingErr fails every SetEventIDFor when set.
	SetMappingErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		items:    make(map[int64]reminder.Reminder),
		mappings: make(map[int64]string),
		ledger:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Add(_ context.Context, r *reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.AddErr != nil {
		return s.AddErr
	}
	s.next++
	r.ID = s.next
	r.CreatedAt = s.now()
	r.UpdatedAt = r.CreatedAt
	s.items[r.ID] = *r
	return nil
}

func (s *MemoryStore) Update(_ context.Context, r *reminder.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[r.ID]; !ok {
		return reminder.ErrReminderNotFound
	}
	r.UpdatedAt = s.now()
	s.items[r.ID] = *r
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return reminder.ErrReminderNotFound
	}
	delete(s.items, id)
	delete(s.mappings, id)
	return nil
}

func (s *MemoryStore) DeleteMany(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.items, id)
		delete(s.mappings, id)
	}
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id int64) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.items[id]
	if !ok {
		return nil, reminder.ErrReminderNotFound
	}
	return &r, nil
}

func (s *MemoryStore) GetAll(_ context.Context) ([]*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetAllErr != nil {
		return nil, s.GetAllErr
	}
	return s.sortedLocked(func(*reminder.Reminder) bool { return true }), nil
}

func (s *MemoryStore) GetPastDue(_ context.Context, now time.Time) ([]*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(r *reminder.Reminder) bool { return !r.DueAt.After(now) }), nil
}

func (s *MemoryStore) sortedLocked(keep func(*reminder.Reminder) bool) []*reminder.Reminder {
	out := make([]*reminder.Reminder, 0, len(s.items))
	for _, r := range s.items {
		r := r
		if keep(&r) {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DueAt.Equal(out[j].DueAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DueAt.Before(out[j].DueAt)
	})
	return out
}

// Len reports how many reminders are stored.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) GetEventIDFor(_ context.Context, reminderID int64) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mappings[reminderID]
	return id, ok, nil
}

func (s *MemoryStore) SetEventIDFor(_ context.Context, reminderID int64, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SetMappingErr != nil {
		return s.SetMappingErr
	}
	if _, ok := s.items[reminderID]; !ok {
		return reminder.ErrReminderNotFound
	}
	s.mappings[reminderID] = eventID
	return nil
}

func (s *MemoryStore) RemoveEventIDFor(_ context.Context, reminderID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, reminderID)
	return nil
}

func (s *MemoryStore) IsEventMapped(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.mappings {
		if id == eventID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) IsImported(_ context.Context, eventID string, begin time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.ledger[reminder.LedgerKey(eventID, begin)]
	return ok, nil
}

func (s *MemoryStore) RecordImported(_ context.Context, eventID string, begin time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ledger[reminder.LedgerKey(eventID, begin)] = begin
	return nil
}

func (s *MemoryStore) PruneImported(_ context.Context, beganBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for k, begin := range s.ledger {
		if begin.Before(beganBefore) {
			delete(s.ledger, k)
			n++
		}
	}
	return n, nil
}

// LedgerSize reports how many import ledger entries are stored.
func (s *MemoryStore) LedgerSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ledger)
}

// MemorySnoozes is an in-memory reminder.SnoozeRepository.
type MemorySnoozes struct {
	mu     sync.Mutex
	budget map[int64]int
}

func NewMemorySnoozes() *MemorySnoozes {
	return &MemorySnoozes{budget: make(map[int64]int)}
}

func (m *MemorySnoozes) Remaining(_ context.Context, id int64) (int, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.budget[id]
	return n, ok, nil
}

func (m *MemorySnoozes) SetRemaining(_ context.Context, id int64, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budget[id] = n
	return nil
}

func (m *MemorySnoozes) Clear(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.budget, id)
	return nil
}

// StaticSettings is a settings.Store holding a single snapshot.
type StaticSettings struct {
	mu  sync.Mutex
	s   settings.Settings
	Err error
}

func NewStaticSettings(s settings.Settings) *StaticSettings {
	return &StaticSettings{s: s}
}

func (p *StaticSettings) Current(context.Context) (settings.Settings, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return settings.Settings{}, p.Err
	}
	return p.s, nil
}

func (p *StaticSettings) Save(_ context.Context, s settings.Settings) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.s = s
	return nil
}

// Update applies fn to the stored snapshot.
func (p *StaticSettings) Update(fn func(*settings.Settings)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.s)
}

// AlarmEntry is one timer registered with FakeAlarms.
type AlarmEntry struct {
	Mode    alarm.Mode
	At      time.Time
	Payload alarm.Payload
}

// FakeAlarms records timers instead of arming them.
type FakeAlarms struct {
	mu          sync.Mutex
	Exact       bool // CanScheduleExact result
	RefuseExact bool // Set in exact mode fails with ErrExactNotPermitted
	SetErr      error
	entries     map[alarm.Token]AlarmEntry
	Cancelled   []alarm.Token
}

func NewFakeAlarms() *FakeAlarms {
	return &FakeAlarms{Exact: true, entries: make(map[alarm.Token]AlarmEntry)}
}

func (a *FakeAlarms) Set(_ context.Context, mode alarm.Mode, at time.Time, token alarm.Token, payload alarm.Payload) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SetErr != nil {
		return a.SetErr
	}
	if mode == alarm.ModeExact && a.RefuseExact {
		return alarm.ErrExactNotPermitted
	}
	a.entries[token] = AlarmEntry{Mode: mode, At: at, Payload: payload}
	return nil
}

func (a *FakeAlarms) Cancel(_ context.Context, token alarm.Token) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.entries, token)
	a.Cancelled = append(a.Cancelled, token)
	return nil
}

func (a *FakeAlarms) CanScheduleExact() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Exact
}

func (a *FakeAlarms) Get(token alarm.Token) (AlarmEntry, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.entries[token]
	return e, ok
}

func (a *FakeAlarms) Count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}

// FakeCalendar is an in-memory calendar.Bridge.
type FakeCalendar struct {
	mu        sync.Mutex
	Calendars []calendar.Calendar
	Instances []calendar.Instance
	events    map[string]calendar.EventInput
	owners    map[string]string
	next      int

	QueryErr  error
	InsertErr error
	// InsertHook runs at the start of InsertEvent, outside the lock.
	InsertHook func()
	// ListInserted makes inserted events show up as instances.
	ListInserted bool
	Queries      int
	Inserts      int
	Updates      int
	Deletes      int
}

func NewFakeCalendar(cals ...calendar.Calendar) *FakeCalendar {
	return &FakeCalendar{
		Calendars: cals,
		events:    make(map[string]calendar.EventInput),
		owners:    make(map[string]string),
	}
}

func (c *FakeCalendar) ListAvailableCalendars(context.Context) ([]calendar.Calendar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]calendar.Calendar(nil), c.Calendars...), nil
}

func (c *FakeCalendar) QueryFutureInstances(_ context.Context, from, to time.Time, _ string) ([]calendar.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries++
	if c.QueryErr != nil {
		return nil, c.QueryErr
	}
	var out []calendar.Instance
	for _, in := range c.Instances {
		if !in.Begin.Before(from) && in.Begin.Before(to) {
			out = append(out, in)
		}
	}
	if c.ListInserted {
		for id, ev := range c.events {
			if !ev.Start.Before(from) && ev.Start.Before(to) {
				out = append(out, calendar.Instance{EventID: id, Begin: ev.Start, Title: ev.Title})
			}
		}
	}
	return out, nil
}

func (c *FakeCalendar) InsertEvent(_ context.Context, calendarID string, ev calendar.EventInput) (string, error) {
	if c.InsertHook != nil {
		c.InsertHook()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InsertErr != nil {
		return "", c.InsertErr
	}
	c.Inserts++
	c.next++
	id := fmt.Sprintf("ev-%d", c.next)
	c.events[id] = ev
	c.owners[id] = calendarID
	return id, nil
}

func (c *FakeCalendar) UpdateEvent(_ context.Context, eventID string, ev calendar.EventInput) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.events[eventID]; !ok {
		return false, calendar.ErrEventNotFound
	}
	c.Updates++
	c.events[eventID] = ev
	return true, nil
}

func (c *FakeCalendar) DeleteEvent(_ context.Context, eventID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deletes++
	if _, ok := c.events[eventID]; !ok {
		return false, nil
	}
	delete(c.events, eventID)
	delete(c.owners, eventID)
	return true, nil
}

// Event returns a stored event and the calendar it lives in.
func (c *FakeCalendar) Event(id string) (calendar.EventInput, string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ev, ok := c.events[id]
	return ev, c.owners[id], ok
}

// Forget drops an event as if the user deleted it in the calendar app.
func (c *FakeCalendar) Forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.events, id)
}

func (c *FakeCalendar) EventCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}
