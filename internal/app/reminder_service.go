package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

var ErrEmptyMessage = errors.New("reminder message is empty")

// deliveryAborter ends an in-flight delivery; implemented by Dispatcher.
type deliveryAborter interface {
	AbortDelivery(id int64)
}

// ReminderService is the entry point for user-initiated changes. Every
// mutation keeps timers, snooze state and calendar mirrors consistent
// with the store.
type ReminderService struct {
	store      reminder.Store
	settings   settings.Provider
	scheduler  *DeliveryScheduler
	snooze     *SnoozeCoordinator
	exporter   *CalendarExporter
	collection *Collection
	aborter    deliveryAborter
	clock      call.Clock
	locks      *keyedLocks
	log        *logrus.Entry
}

// ReminderServiceDeps groups the collaborators of a ReminderService.
type ReminderServiceDeps struct {
	Store      reminder.Store
	Settings   settings.Provider
	Scheduler  *DeliveryScheduler
	Snooze     *SnoozeCoordinator
	Exporter   *CalendarExporter
	Collection *Collection
	Aborter    deliveryAborter
	Clock      call.Clock
	Locks      *keyedLocks
	Logger     *logrus.Entry
}

func NewReminderService(d ReminderServiceDeps) *ReminderService {
	if d.Locks == nil {
		d.Locks = newKeyedLocks()
	}
	return &ReminderService{
		store:      d.Store,
		settings:   d.Settings,
		scheduler:  d.Scheduler,
		snooze:     d.Snooze,
		exporter:   d.Exporter,
		collection: d.Collection,
		aborter:    d.Aborter,
		clock:      d.Clock,
		locks:      d.Locks,
		log:        d.Logger.WithField("component", "reminders"),
	}
}

// Add persists a new reminder, registers its fire and mirrors it into the
// calendar when export is on.
func (s *ReminderService) Add(ctx context.Context, message string, dueAt time.Time, repeat reminder.RepeatPolicy) (*reminder.Reminder, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if repeat == "" {
		repeat = reminder.RepeatNone
	}
	if !repeat.Valid() {
		return nil, fmt.Errorf("%w: %q", reminder.ErrInvalidRepeatPolicy, repeat)
	}

	r := &reminder.Reminder{
		Message: message,
		DueAt:   reminder.TruncateMillis(dueAt),
		Repeat:  repeat,
		Source:  reminder.SourceUser,
	}
	if err := s.store.Add(ctx, r); err != nil {
		return nil, fmt.Errorf("add reminder: %w", err)
	}

	entry := s.log.WithField("reminder_id", r.ID)
	if _, err := s.scheduler.Schedule(ctx, r); err != nil {
		entry.WithError(err).Error("Reminder stored but its fire could not be registered")
	}
	s.mirror(ctx, r)
	s.publish(ctx)

	entry.WithFields(logrus.Fields{"due_at": r.DueAt.Format(time.RFC3339), "repeat": r.Repeat}).Info("Reminder added")
	return r, nil
}

// Update replaces message, due time and repeat policy of an existing
// reminder: the old fire is cancelled, the new one registered, and the
// calendar mirror updated, created or removed.
func (s *ReminderService) Update(ctx context.Context, id int64, message string, dueAt time.Time, repeat reminder.RepeatPolicy) (*reminder.Reminder, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if !repeat.Valid() {
		return nil, fmt.Errorf("%w: %q", reminder.ErrInvalidRepeatPolicy, repeat)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	r, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load reminder %d: %w", id, err)
	}

	s.scheduler.Cancel(ctx, id)
	r.Message = message
	r.DueAt = reminder.TruncateMillis(dueAt)
	r.Repeat = repeat
	if err := s.store.Update(ctx, r); err != nil {
		return nil, fmt.Errorf("update reminder %d: %w", id, err)
	}

	entry := s.log.WithField("reminder_id", id)
	if _, err := s.scheduler.Schedule(ctx, r); err != nil {
		entry.WithError(err).Error("Reminder updated but its fire could not be registered")
	}
	s.mirror(ctx, r)
	s.publish(ctx)

	entry.Info("Reminder updated")
	return r, nil
}

// Delete removes a reminder together with its timers, snooze state,
// in-flight delivery and calendar mirror.
func (s *ReminderService) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	if _, err := s.store.GetByID(ctx, id); err != nil {
		return fmt.Errorf("load reminder %d: %w", id, err)
	}
	s.cascade(ctx, id)
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete reminder %d: %w", id, err)
	}
	s.publish(ctx)

	s.log.WithField("reminder_id", id).Info("Reminder deleted")
	return nil
}

// DeleteMany deletes several reminders with one store call. Unknown ids are
// ignored.
func (s *ReminderService) DeleteMany(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	// locks are held until the rows are gone; ascending order keeps
	// overlapping batches from deadlocking
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)
	for _, id := range ordered {
		unlock := s.locks.Lock(id)
		defer unlock()
		s.cascade(ctx, id)
	}
	if err := s.store.DeleteMany(ctx, ids); err != nil {
		return fmt.Errorf("delete reminders: %w", err)
	}
	s.publish(ctx)

	s.log.WithField("count", len(ids)).Info("Reminders deleted")
	return nil
}

func (s *ReminderService) Get(ctx context.Context, id int64) (*reminder.Reminder, error) {
	return s.store.GetByID(ctx, id)
}

func (s *ReminderService) List(ctx context.Context) ([]*reminder.Reminder, error) {
	return s.store.GetAll(ctx)
}

// Watch streams reminder snapshots until ctx is done.
func (s *ReminderService) Watch(ctx context.Context) <-chan []*reminder.Reminder {
	return s.collection.Subscribe(ctx)
}

// RemovePast deletes past-due, non-repeating reminders when auto-delete is
// enabled. It returns how many were removed.
func (s *ReminderService) RemovePast(ctx context.Context) (int, error) {
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		return 0, fmt.Errorf("read settings: %w", err)
	}
	if !cfg.AutoDeletePast {
		return 0, nil
	}

	past, err := s.store.GetPastDue(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("list past reminders: %w", err)
	}
	var ids []int64
	for _, r := range past {
		if !r.Repeat.Repeats() {
			ids = append(ids, r.ID)
		}
	}
	if err := s.DeleteMany(ctx, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// CatchUpRepeating advances repeating reminders whose due time passed while
// the process was not running. Their fires are registered by RescheduleAll.
func (s *ReminderService) CatchUpRepeating(ctx context.Context) (int, error) {
	now := s.clock.Now()
	past, err := s.store.GetPastDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list past reminders: %w", err)
	}

	n := 0
	for _, r := range past {
		if !r.Repeat.Repeats() {
			continue
		}
		unlock := s.locks.Lock(r.ID)
		r.DueAt = reminder.NextFutureOccurrence(r.DueAt, r.Repeat, now)
		err := s.store.Update(ctx, r)
		unlock()
		if err != nil {
			s.log.WithError(err).WithField("reminder_id", r.ID).Warn("Could not advance missed repeating reminder")
			continue
		}
		s.mirror(ctx, r)
		n++
	}
	if n > 0 {
		s.log.WithField("count", n).Info("Missed repeating reminders advanced")
	}
	return n, nil
}

// RescheduleAll registers the fire of every future reminder.
func (s *ReminderService) RescheduleAll(ctx context.Context) (int, error) {
	all, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list reminders: %w", err)
	}
	return s.scheduler.RescheduleAll(ctx, all), nil
}

func (s *ReminderService) cascade(ctx context.Context, id int64) {
	entry := s.log.WithField("reminder_id", id)

	s.scheduler.Cancel(ctx, id)
	if err := s.snooze.CancelSnooze(ctx, id); err != nil {
		entry.WithError(err).Warn("Could not clear snooze state")
	}
	if s.aborter != nil {
		s.aborter.AbortDelivery(id)
	}
	if s.exporter != nil {
		if err := s.exporter.Remove(ctx, id); err != nil {
			entry.WithError(err).Warn("Could not remove calendar mirror")
		}
	}
}

func (s *ReminderService) mirror(ctx context.Context, r *reminder.Reminder) {
	if s.exporter == nil {
		return
	}
	cfg, err := s.settings.Current(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Could not read settings, calendar mirror skipped")
		return
	}
	if err := s.exporter.Sync(ctx, r, cfg); err != nil {
		s.log.WithError(err).WithField("reminder_id", r.ID).Warn("Calendar mirror not updated")
	}
}

func (s *ReminderService) publish(ctx context.Context) {
	if s.collection != nil {
		s.collection.Publish(ctx)
	}
}
