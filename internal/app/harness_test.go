package app_test

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/app"
	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
	"call_reminder/internal/testutil"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type env struct {
	clock     *testutil.FakeClock
	store     *testutil.MemoryStore
	snoozes   *testutil.MemorySnoozes
	settings  *testutil.StaticSettings
	alarms    *testutil.FakeAlarms
	cal       *testutil.FakeCalendar
	telephony *testutil.FakeTelephony
	notifier  *testutil.FakeNotifier
	speech    *testutil.FakeSpeech
	audio     *testutil.FakeAudio
	engine    *app.Engine
}

func newEnv(t *testing.T, configure ...func(*settings.Settings)) *env {
	t.Helper()

	s := settings.Defaults()
	for _, fn := range configure {
		fn(&s)
	}

	e := &env{
		clock:     testutil.NewFakeClock(t0),
		store:     testutil.NewMemoryStore(),
		snoozes:   testutil.NewMemorySnoozes(),
		settings:  testutil.NewStaticSettings(s),
		alarms:    testutil.NewFakeAlarms(),
		cal:       testutil.NewFakeCalendar(calendar.Calendar{ID: "personal", Name: "Personal"}),
		telephony: &testutil.FakeTelephony{},
		notifier:  &testutil.FakeNotifier{},
		speech:    &testutil.FakeSpeech{AutoReady: true, AutoComplete: true},
		audio:     testutil.NewFakeAudio(),
	}
	e.engine = app.NewEngine(app.Deps{
		Store:     e.store,
		Snoozes:   e.snoozes,
		Settings:  e.settings,
		Calendar:  e.cal,
		Alarms:    e.alarms,
		Telephony: e.telephony,
		Notifier:  e.notifier,
		Speech:    e.speech,
		Audio:     e.audio,
		Clock:     e.clock,
		Logger:    quietLogger(),
	}, app.Options{
		Dispatcher: app.DispatcherConfig{Account: call.PhoneAccount{ID: "reminder_call", Label: "Reminders"}},
	})
	t.Cleanup(e.engine.Shutdown)
	return e
}

// add stores a user reminder through the service.
func (e *env) add(t *testing.T, message string, dueIn time.Duration, repeat reminder.RepeatPolicy) *reminder.Reminder {
	t.Helper()
	r, err := e.engine.Reminders.Add(context.Background(), message, e.clock.Now().Add(dueIn), repeat)
	require.NoError(t, err)
	return r
}

// seed stores a reminder directly, bypassing scheduling and export.
func (e *env) seed(t *testing.T, r reminder.Reminder) *reminder.Reminder {
	t.Helper()
	if r.Repeat == "" {
		r.Repeat = reminder.RepeatNone
	}
	if r.Source == "" {
		r.Source = reminder.SourceUser
	}
	require.NoError(t, e.store.Add(context.Background(), &r))
	return &r
}

func (e *env) fire(r *reminder.Reminder) {
	e.engine.HandleFire(context.Background(), alarm.FireToken(r.ID), alarm.Payload{ReminderID: r.ID, Message: r.Message})
}

func (e *env) fireSnooze(r *reminder.Reminder) {
	e.engine.HandleFire(context.Background(), alarm.SnoozeToken(r.ID), alarm.Payload{ReminderID: r.ID, Message: r.Message})
}
