package telegram

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/domain/reminder"
)

func TestParseReminderInput(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    ReminderInput
		wantErr error
	}{
		{
			name:    "plus duration",
			payload: "+10m Stretch",
			want:    ReminderInput{DueAt: now.Add(10 * time.Minute), Repeat: reminder.RepeatNone, Message: "Stretch"},
		},
		{
			name:    "in duration with repeat",
			payload: "in 1h30m daily Call mom back",
			want:    ReminderInput{DueAt: now.Add(90 * time.Minute), Repeat: reminder.RepeatDaily, Message: "Call mom back"},
		},
		{
			name:    "clock time later today",
			payload: "18:30 Dinner",
			want:    ReminderInput{DueAt: time.Date(2025, time.March, 10, 18, 30, 0, 0, time.UTC), Repeat: reminder.RepeatNone, Message: "Dinner"},
		},
		{
			name:    "clock time already passed rolls to tomorrow",
			payload: "08:00 Breakfast",
			want:    ReminderInput{DueAt: time.Date(2025, time.March, 11, 8, 0, 0, 0, time.UTC), Repeat: reminder.RepeatNone, Message: "Breakfast"},
		},
		{
			name:    "date and time",
			payload: "2025-04-01 07:15 yearly Pay the insurance",
			want:    ReminderInput{DueAt: time.Date(2025, time.April, 1, 7, 15, 0, 0, time.UTC), Repeat: reminder.RepeatYearly, Message: "Pay the insurance"},
		},
		{
			name:    "rfc3339",
			payload: "2025-03-12T10:00:00Z MONTHLY Rent",
			want:    ReminderInput{DueAt: time.Date(2025, time.March, 12, 10, 0, 0, 0, time.UTC), Repeat: reminder.RepeatMonthly, Message: "Rent"},
		},
		{
			name:    "message may be empty",
			payload: "+1h",
			want:    ReminderInput{DueAt: now.Add(time.Hour), Repeat: reminder.RepeatNone},
		},
		{name: "empty", payload: "  ", wantErr: ErrMissingWhen},
		{name: "in without duration", payload: "in", wantErr: ErrMissingWhen},
		{name: "negative duration", payload: "+-5m x", wantErr: ErrBadWhen},
		{name: "garbage", payload: "tomorrow x", wantErr: ErrBadWhen},
		{name: "bad time after date", payload: "2025-04-01 late x", wantErr: ErrBadWhen},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReminderInput(tt.payload, now)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.DueAt.Equal(got.DueAt), "due %s, got %s", tt.want.DueAt, got.DueAt)
			assert.Equal(t, tt.want.Repeat, got.Repeat)
			assert.Equal(t, tt.want.Message, got.Message)
		})
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := ParseIDs([]string{"3", "#5", "3"})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, ids)

	for _, bad := range [][]string{nil, {"0"}, {"-1"}, {"abc"}, {"1", "x"}} {
		_, err := ParseIDs(bad)
		assert.ErrorIs(t, err, ErrBadID, "%v", bad)
	}
}

func TestSplitEditArgs(t *testing.T) {
	id, rest, err := SplitEditArgs(" 14 +5m daily Walk ")
	require.NoError(t, err)
	assert.Equal(t, int64(14), id)
	assert.Equal(t, "+5m daily Walk", rest)

	_, _, err = SplitEditArgs("")
	assert.ErrorIs(t, err, ErrBadID)
}

func TestFormatReminderList(t *testing.T) {
	base := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	rs := []*reminder.Reminder{
		{ID: 2, Message: "Later", DueAt: base.Add(2 * time.Hour), Repeat: reminder.RepeatDaily},
		{ID: 1, Message: "", DueAt: base, Repeat: reminder.RepeatNone, Source: reminder.SourceCalendar},
	}

	got := FormatReminderList(rs, time.UTC)
	assert.Equal(t, "#1  Mon 10 Mar 09:00 [calendar]  Time's up!\n#2  Mon 10 Mar 11:00 (daily)  Later", got)
	assert.Equal(t, int64(2), rs[0].ID, "input order is left alone")
}
