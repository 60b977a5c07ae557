package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

// SnoozeCoordinator re-schedules declined deliveries within a per-reminder
// budget.
type SnoozeCoordinator struct {
	repo      reminder.SnoozeRepository
	settings  settings.Provider
	scheduler *DeliveryScheduler
	clock     call.Clock
	locks     *keyedLocks
	metrics   Metrics
	log       *logrus.Entry
}

func NewSnoozeCoordinator(
	repo reminder.SnoozeRepository,
	sp settings.Provider,
	scheduler *DeliveryScheduler,
	clock call.Clock,
	metrics Metrics,
	log *logrus.Entry,
) *SnoozeCoordinator {
	return &SnoozeCoordinator{
		repo:      repo,
		settings:  sp,
		scheduler: scheduler,
		clock:     clock,
		locks:     newKeyedLocks(),
		metrics:   orNop(metrics),
		log:       log.WithField("component", "snooze"),
	}
}

// TryScheduleSnooze schedules another delivery of the reminder if snoozing
// is enabled and budget remains. It reports whether a snooze was scheduled.
func (c *SnoozeCoordinator) TryScheduleSnooze(ctx context.Context, reminderID int64, message string) (bool, error) {
	unlock := c.locks.Lock(reminderID)
	defer unlock()

	s, err := c.settings.Current(ctx)
	if err != nil {
		return false, fmt.Errorf("read settings: %w", err)
	}
	entry := c.log.WithField("reminder_id", reminderID)
	if !s.SnoozeEnabled {
		entry.Debug("Snooze disabled, not rescheduling")
		return false, nil
	}

	remaining, ok, err := c.repo.Remaining(ctx, reminderID)
	if err != nil {
		return false, fmt.Errorf("read snooze budget: %w", err)
	}
	if !ok {
		remaining = s.SnoozeRepeats
	}
	if remaining <= 0 {
		entry.Info("Snooze budget exhausted")
		return false, nil
	}

	at := c.clock.Now().Add(s.SnoozeDelay())
	if err := c.scheduler.ScheduleSnooze(ctx, reminderID, message, at); err != nil {
		return false, fmt.Errorf("schedule snooze: %w", err)
	}
	if err := c.repo.SetRemaining(ctx, reminderID, remaining-1); err != nil {
		return true, fmt.Errorf("store snooze budget: %w", err)
	}

	c.metrics.SnoozeScheduled()
	entry.WithFields(logrus.Fields{"at": at.Format(time.RFC3339), "remaining": remaining - 1}).Info("Snooze scheduled")
	return true, nil
}

// CancelSnooze removes a pending snooze timer and clears the budget.
func (c *SnoozeCoordinator) CancelSnooze(ctx context.Context, reminderID int64) error {
	unlock := c.locks.Lock(reminderID)
	defer unlock()

	c.scheduler.CancelSnooze(ctx, reminderID)
	if err := c.repo.Clear(ctx, reminderID); err != nil {
		return fmt.Errorf("clear snooze budget: %w", err)
	}
	return nil
}
