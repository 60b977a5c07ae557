package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/reminder"
)

// DeliveryScheduler maps reminders to wake-up timers.
type DeliveryScheduler struct {
	timers *TimerService
	clock  call.Clock
	log    *logrus.Entry
}

func NewDeliveryScheduler(timers *TimerService, clock call.Clock, log *logrus.Entry) *DeliveryScheduler {
	return &DeliveryScheduler{timers: timers, clock: clock, log: log.WithField("component", "delivery_scheduler")}
}

// Schedule registers the primary fire for r. Reminders that are not in the
// future are skipped and reported as not scheduled.
func (d *DeliveryScheduler) Schedule(ctx context.Context, r *reminder.Reminder) (bool, error) {
	if !r.IsFuture(d.clock.Now()) {
		return false, nil
	}
	payload := alarm.Payload{ReminderID: r.ID, Message: r.Message}
	if err := d.timers.ScheduleGuaranteed(ctx, r.DueAt, alarm.FireToken(r.ID), payload); err != nil {
		return false, err
	}
	d.log.WithFields(logrus.Fields{"reminder_id": r.ID, "due_at": r.DueAt.Format(time.RFC3339)}).Debug("Reminder fire scheduled")
	return true, nil
}

func (d *DeliveryScheduler) Cancel(ctx context.Context, reminderID int64) {
	d.timers.Cancel(ctx, alarm.FireToken(reminderID))
}

func (d *DeliveryScheduler) ScheduleSnooze(ctx context.Context, reminderID int64, message string, at time.Time) error {
	payload := alarm.Payload{ReminderID: reminderID, Message: message}
	return d.timers.ScheduleExact(ctx, at, alarm.SnoozeToken(reminderID), payload)
}

func (d *DeliveryScheduler) CancelSnooze(ctx context.Context, reminderID int64) {
	d.timers.Cancel(ctx, alarm.SnoozeToken(reminderID))
}

// RescheduleAll re-registers the fire of every future reminder and returns
// how many were registered. Failures are logged and skipped.
func (d *DeliveryScheduler) RescheduleAll(ctx context.Context, reminders []*reminder.Reminder) int {
	n := 0
	for _, r := range reminders {
		ok, err := d.Schedule(ctx, r)
		if err != nil {
			d.log.WithError(err).WithField("reminder_id", r.ID).Warn("Could not re-register reminder fire")
			continue
		}
		if ok {
			n++
		}
	}
	return n
}
