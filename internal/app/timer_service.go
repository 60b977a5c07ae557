package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/domain/alarm"
)

// TimerService wraps the platform wake-up timers. Exact requests degrade to
// inexact ones when the exact-alarm permission is missing.
type TimerService struct {
	platform alarm.Platform
	log      *logrus.Entry
}

func NewTimerService(platform alarm.Platform, log *logrus.Entry) *TimerService {
	return &TimerService{platform: platform, log: log.WithField("component", "timers")}
}

func (t *TimerService) CanScheduleExact() bool {
	return t.platform.CanScheduleExact()
}

// ScheduleExact registers an exact timer, or an inexact one when exact
// timers are not permitted.
func (t *TimerService) ScheduleExact(ctx context.Context, at time.Time, token alarm.Token, payload alarm.Payload) error {
	entry := t.log.WithFields(logrus.Fields{"token": token.String(), "at": at.Format(time.RFC3339)})

	if !t.platform.CanScheduleExact() {
		entry.Debug("Exact timers not permitted, scheduling inexact")
		return t.set(ctx, alarm.ModeInexact, at, token, payload)
	}

	err := t.platform.Set(ctx, alarm.ModeExact, at, token, payload)
	if errors.Is(err, alarm.ErrExactNotPermitted) {
		entry.Warn("Exact timer refused, scheduling inexact")
		return t.set(ctx, alarm.ModeInexact, at, token, payload)
	}
	if err != nil {
		return fmt.Errorf("schedule exact %s: %w", token, err)
	}
	return nil
}

// ScheduleGuaranteed registers an alarm-clock class timer. Used only for
// reminder fires.
func (t *TimerService) ScheduleGuaranteed(ctx context.Context, at time.Time, token alarm.Token, payload alarm.Payload) error {
	return t.set(ctx, alarm.ModeGuaranteed, at, token, payload)
}

// Cancel removes the timer for token. Unknown tokens and platform errors
// are logged only.
func (t *TimerService) Cancel(ctx context.Context, token alarm.Token) {
	if err := t.platform.Cancel(ctx, token); err != nil {
		t.log.WithError(err).WithField("token", token.String()).Warn("Timer cancel failed")
	}
}

func (t *TimerService) set(ctx context.Context, mode alarm.Mode, at time.Time, token alarm.Token, payload alarm.Payload) error {
	if err := t.platform.Set(ctx, mode, at, token, payload); err != nil {
		return fmt.Errorf("schedule %s %s: %w", mode, token, err)
	}
	return nil
}
