package calendar

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
)

var t0 = time.Date(2025, time.January, 20, 9, 0, 0, 0, time.UTC)

func newBridge() *MemoryBridge {
	return NewMemoryBridge(
		calendar.Calendar{ID: "personal", Name: "Personal"},
		calendar.Calendar{ID: "work", Name: "Work"},
	)
}

func TestMemoryBridge_QueryExpandsRecurringEvents(t *testing.T) {
	b := newBridge()
	ctx := context.Background()

	rent, err := b.AddEvent("personal", "Rent", time.Date(2024, time.October, 31, 8, 0, 0, 0, time.UTC), time.Time{}, reminder.RepeatMonthly)
	require.NoError(t, err)
	_, err = b.AddEvent("work", "Review", t0.Add(2*time.Hour), t0.Add(3*time.Hour), reminder.RepeatNone)
	require.NoError(t, err)
	_, err = b.AddEvent("work", "Last week", t0.Add(-7*24*time.Hour), time.Time{}, reminder.RepeatNone)
	require.NoError(t, err)

	got, err := b.QueryFutureInstances(ctx, t0, t0.Add(calendar.SyncWindow), "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Review", got[0].Title)
	assert.Equal(t, rent, got[1].EventID)
	assert.Equal(t, time.Date(2025, time.January, 31, 8, 0, 0, 0, time.UTC), got[1].Begin)

	feb, err := b.QueryFutureInstances(ctx, t0.Add(15*24*time.Hour), t0.Add(45*24*time.Hour), "personal")
	require.NoError(t, err)
	require.Len(t, feb, 1)
	assert.Equal(t, time.Date(2025, time.February, 28, 8, 0, 0, 0, time.UTC), feb[0].Begin)

	work, err := b.QueryFutureInstances(ctx, t0, t0.Add(calendar.SyncWindow), "work")
	require.NoError(t, err)
	require.Len(t, work, 1)
	assert.Equal(t, "Review", work[0].Title)
}

func TestMemoryBridge_DailyInstancesInWindow(t *testing.T) {
	b := newBridge()
	_, err := b.AddEvent("personal", "Pills", t0.Add(-72*time.Hour), time.Time{}, reminder.RepeatDaily)
	require.NoError(t, err)

	got, err := b.QueryFutureInstances(context.Background(), t0, t0.Add(7*24*time.Hour), "")
	require.NoError(t, err)
	require.Len(t, got, 7)
	assert.Equal(t, t0, got[0].Begin)
	assert.Equal(t, t0.Add(6*24*time.Hour), got[6].Begin)
}

func TestMemoryBridge_Writes(t *testing.T) {
	b := newBridge()
	ctx := context.Background()

	_, err := b.InsertEvent(ctx, "missing", calendar.Mirror("x", t0))
	assert.Error(t, err)

	id, err := b.InsertEvent(ctx, "personal", calendar.Mirror("Dentist", t0))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ok, err := b.UpdateEvent(ctx, id, calendar.Mirror("Dentist moved", t0.Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, ok)
	ev, found := b.Event(id)
	require.True(t, found)
	assert.Equal(t, "Dentist moved", ev.Title)
	assert.Equal(t, t0.Add(time.Hour+calendar.MirrorDuration), ev.End)

	deleted, err := b.DeleteEvent(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)
	deleted, err = b.DeleteEvent(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)

	_, err = b.UpdateEvent(ctx, id, calendar.Mirror("gone", t0))
	assert.ErrorIs(t, err, calendar.ErrEventNotFound)
}

func TestGate(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	b := newBridge()
	_, err := b.AddEvent("personal", "Standup", t0.Add(time.Hour), time.Time{}, reminder.RepeatNone)
	require.NoError(t, err)

	grants := NewGrants(false, false)
	g := NewGate(b, grants, logrus.NewEntry(l))
	ctx := context.Background()

	cals, err := g.ListAvailableCalendars(ctx)
	require.NoError(t, err)
	assert.Empty(t, cals)
	inst, err := g.QueryFutureInstances(ctx, t0, t0.Add(calendar.SyncWindow), "")
	require.NoError(t, err)
	assert.Empty(t, inst)
	id, err := g.InsertEvent(ctx, "personal", calendar.Mirror("x", t0))
	require.NoError(t, err)
	assert.Empty(t, id, "nothing inserted without write access")

	grants.SetRead(true)
	grants.SetWrite(true)

	inst, err = g.QueryFutureInstances(ctx, t0, t0.Add(calendar.SyncWindow), "")
	require.NoError(t, err)
	assert.Len(t, inst, 1)
	id, err = g.InsertEvent(ctx, "personal", calendar.Mirror("x", t0))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	grants.SetWrite(false)
	ok, err := g.UpdateEvent(ctx, id, calendar.Mirror("y", t0))
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = g.DeleteEvent(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)
	_, still := b.Event(id)
	assert.True(t, still)
}
