package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/app"
	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

func TestDispatcher_CallPathCompletes(t *testing.T) {
	e := newEnv(t)
	r := e.add(t, "Take the pills", time.Hour, reminder.RepeatNone)
	e.clock.Advance(time.Hour)

	e.fire(r)

	require.Equal(t, 1, e.telephony.Calls())
	req := e.telephony.Requests[0]
	assert.Equal(t, "reminder_call", req.Account.ID)
	assert.Equal(t, r.ID, req.ReminderID)

	sess, ok := e.engine.Dispatcher.Active(r.ID)
	require.True(t, ok)
	assert.Equal(t, call.StateRinging, sess.State())
	assert.Equal(t, 1, e.telephony.Conn(0).Ringing)

	e.telephony.Listener(0).Answer()
	assert.Equal(t, call.StateAnswered, sess.State())

	e.clock.Advance(settings.DefaultSpeakDelay * time.Second)
	e.engine.Dispatcher.Wait()

	<-sess.Done()
	assert.Equal(t, call.OutcomeCompleted, sess.Result().Outcome)
	spoken := e.speech.Last().Spoken()
	require.Len(t, spoken, 1)
	assert.Equal(t, "Take the pills", spoken[0].Text)

	_, stillActive := e.engine.Dispatcher.Active(r.ID)
	assert.False(t, stillActive)
	assert.Equal(t, 1, e.telephony.Conn(0).DestroyCount())
	assert.Zero(t, e.notifier.Count())
}

func TestDispatcher_FallsBackToNotification(t *testing.T) {
	tests := []struct {
		name  string
		setup func(e *env)
	}{
		{name: "telephony error", setup: func(e *env) { e.telephony.Err = errors.New("no phone account") }},
		{name: "telephony panic", setup: func(e *env) { e.telephony.Panic = true }},
		{name: "call delivery disabled", setup: func(e *env) {
			e.settings.Update(func(s *settings.Settings) { s.UseCallDelivery = false })
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			r := e.add(t, "Call mom", time.Minute, reminder.RepeatNone)
			tt.setup(e)

			e.fire(r)

			require.Equal(t, 1, e.notifier.Count())
			note := e.notifier.Posted[0]
			assert.Equal(t, r.ID, note.ReminderID)
			assert.Equal(t, "Call mom", note.Message)
			assert.Equal(t, "call", note.Category)
			assert.Equal(t, "max", note.Priority)

			sess, ok := e.engine.Dispatcher.Active(r.ID)
			require.True(t, ok)
			assert.Equal(t, call.StateNotifiedFallback, sess.State())

			require.NoError(t, e.engine.Dispatcher.OpenFallback(context.Background(), r.ID))
			<-sess.Done()
			e.engine.Dispatcher.Wait()

			res := sess.Result()
			assert.True(t, res.Outcome.Delivered())
			assert.Equal(t, call.PathNotification, res.Path)
			spoken := e.speech.Last().Spoken()
			require.Len(t, spoken, 1)
			assert.Equal(t, call.StreamMedia, spoken[0].Stream)
			assert.Equal(t, []int64{r.ID}, e.notifier.Cancelled)
		})
	}
}

func TestDispatcher_BothPathsFail(t *testing.T) {
	e := newEnv(t)
	r := e.add(t, "Call mom", time.Minute, reminder.RepeatNone)
	e.telephony.Err = errors.New("no phone account")
	e.notifier.Err = errors.New("notifications blocked")

	e.fire(r)

	_, ok := e.engine.Dispatcher.Active(r.ID)
	assert.False(t, ok)
	assert.Nil(t, e.speech.Last())
	assert.ErrorIs(t, e.engine.Dispatcher.OpenFallback(context.Background(), r.ID), app.ErrNoActiveDelivery)
}

func TestDispatcher_AdvancesRepeatingReminder(t *testing.T) {
	e := newEnv(t)
	r := e.add(t, "Stretch", time.Hour, reminder.RepeatDaily)
	e.clock.Advance(time.Hour)

	e.fire(r)

	stored, err := e.store.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	want := t0.Add(25 * time.Hour)
	assert.Equal(t, want, stored.DueAt)

	entry, ok := e.alarms.Get(alarm.FireToken(r.ID))
	require.True(t, ok)
	assert.Equal(t, want, entry.At)

	eventID, mapped, _ := e.store.GetEventIDFor(context.Background(), r.ID)
	require.True(t, mapped)
	ev, _, ok := e.cal.Event(eventID)
	require.True(t, ok)
	assert.Equal(t, want, ev.Start)
}

func TestDispatcher_SnoozeFireDoesNotAdvance(t *testing.T) {
	e := newEnv(t, enableSnooze)
	r := e.add(t, "Stretch", time.Hour, reminder.RepeatDaily)
	require.NoError(t, e.snoozes.SetRemaining(context.Background(), r.ID, 1))
	e.clock.Advance(time.Hour)

	e.fireSnooze(r)

	stored, err := e.store.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), stored.DueAt)
	n, ok, _ := e.snoozes.Remaining(context.Background(), r.ID)
	assert.True(t, ok, "a snooze fire keeps the budget")
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, e.telephony.Calls())
}

func TestDispatcher_DropsFireForDeletedReminder(t *testing.T) {
	e := newEnv(t)

	e.engine.HandleFire(context.Background(), alarm.FireToken(99), alarm.Payload{ReminderID: 99, Message: "gone"})

	assert.Zero(t, e.telephony.Calls())
	assert.Zero(t, e.notifier.Count())
}

func TestDispatcher_ReplacesInFlightDelivery(t *testing.T) {
	e := newEnv(t)
	r := e.add(t, "Meeting", time.Minute, reminder.RepeatNone)

	e.fire(r)
	first, ok := e.engine.Dispatcher.Active(r.ID)
	require.True(t, ok)

	e.fireSnooze(r)
	second, ok := e.engine.Dispatcher.Active(r.ID)
	require.True(t, ok)

	assert.NotSame(t, first, second)
	assert.Equal(t, call.StateTerminated, first.State())
	assert.Equal(t, call.OutcomeAborted, first.Result().Outcome)
	assert.Equal(t, 1, e.telephony.Conn(0).DestroyCount())
	assert.Equal(t, call.StateRinging, second.State())
}

func TestDispatcher_DeclineSchedulesSnooze(t *testing.T) {
	e := newEnv(t, enableSnooze)
	r := e.add(t, "Meeting", time.Minute, reminder.RepeatNone)
	e.clock.Advance(time.Minute)

	e.fire(r)
	e.telephony.Listener(0).Reject()
	e.engine.Dispatcher.Wait()

	entry, ok := e.alarms.Get(alarm.SnoozeToken(r.ID))
	require.True(t, ok)
	assert.Equal(t, t0.Add(6*time.Minute), entry.At)
	assert.Equal(t, "Meeting", entry.Payload.Message)

	n, _, _ := e.snoozes.Remaining(context.Background(), r.ID)
	assert.Equal(t, 1, n)
}

func TestDispatcher_DismissedFallbackSchedulesSnooze(t *testing.T) {
	e := newEnv(t, enableSnooze, func(s *settings.Settings) { s.UseCallDelivery = false })
	r := e.add(t, "Meeting", time.Minute, reminder.RepeatNone)

	e.fire(r)
	require.NoError(t, e.engine.Dispatcher.DismissFallback(context.Background(), r.ID))
	e.engine.Dispatcher.Wait()

	_, ok := e.alarms.Get(alarm.SnoozeToken(r.ID))
	assert.True(t, ok)
	assert.Equal(t, []int64{r.ID}, e.notifier.Cancelled)
}

func TestDispatcher_ReplacedFallbackKeepsNewNotification(t *testing.T) {
	e := newEnv(t, enableSnooze, func(s *settings.Settings) { s.UseCallDelivery = false })
	r := e.add(t, "Meeting", time.Minute, reminder.RepeatNone)

	e.fire(r)
	first, ok := e.engine.Dispatcher.Active(r.ID)
	require.True(t, ok)

	e.fireSnooze(r)
	e.engine.Dispatcher.Wait()

	second, ok := e.engine.Dispatcher.Active(r.ID)
	require.True(t, ok)
	assert.NotSame(t, first, second)
	assert.Equal(t, call.StateTerminated, first.State())
	assert.Equal(t, call.StateNotifiedFallback, second.State())
	assert.Equal(t, 2, e.notifier.Count())
	assert.True(t, e.notifier.Live(r.ID), "the replaced session must not cancel the new notification")
	assert.Empty(t, e.notifier.Cancelled)

	require.NoError(t, e.engine.Dispatcher.DismissFallback(context.Background(), r.ID))
	e.engine.Dispatcher.Wait()

	assert.False(t, e.notifier.Live(r.ID))
	assert.Equal(t, []int64{r.ID}, e.notifier.Cancelled)
}

func TestDispatcher_CompletedDeliveryClearsSnooze(t *testing.T) {
	e := newEnv(t, enableSnooze)
	r := e.add(t, "Meeting", time.Minute, reminder.RepeatNone)
	require.NoError(t, e.snoozes.SetRemaining(context.Background(), r.ID, 1))

	e.fireSnooze(r)
	e.telephony.Listener(0).Answer()
	e.clock.Advance(settings.DefaultSpeakDelay * time.Second)
	e.engine.Dispatcher.Wait()

	_, ok, _ := e.snoozes.Remaining(context.Background(), r.ID)
	assert.False(t, ok)
}

func TestDispatcher_EmptyMessageUsesDefault(t *testing.T) {
	e := newEnv(t, func(s *settings.Settings) { s.UseCallDelivery = false })
	r := e.seed(t, reminder.Reminder{Message: "  ", DueAt: t0.Add(time.Minute)})

	e.fire(r)

	require.Equal(t, 1, e.notifier.Count())
	assert.Equal(t, reminder.DefaultMessage, e.notifier.Posted[0].Message)
}

func TestDispatcher_SettingsFailureUsesDefaults(t *testing.T) {
	e := newEnv(t)
	r := e.add(t, "Meeting", time.Minute, reminder.RepeatNone)
	e.settings.Err = errors.New("settings unreadable")

	e.fire(r)

	assert.Equal(t, 1, e.telephony.Calls(), "defaults enable call delivery")
}
