package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/app/call"
)

const ownerID int64 = 4242

func TestCallPlatform_AddIncomingCall(t *testing.T) {
	client := &fakeClient{}
	p := NewCallPlatform(client, ownerID, quietLogger())
	l := &recordingListener{}

	req := call.NewRequest(call.PhoneAccount{ID: "reminder_call", Label: "Reminders"}, 7, "Take the pills")
	conn, err := p.AddIncomingCall(context.Background(), req, l)
	require.NoError(t, err)
	require.NotNil(t, conn)

	sent := client.lastSent()
	assert.Equal(t, ownerID, sent.chatID)
	assert.Contains(t, sent.text, "Incoming call from Reminders")
	assert.Contains(t, sent.text, "Take the pills")

	btns := buttons(sent.opts)
	require.Len(t, btns, 2)
	assert.Equal(t, uniqueCallAnswer, btns[0].Unique)
	assert.Equal(t, uniqueCallDecline, btns[1].Unique)
	assert.Equal(t, btns[0].Data, btns[1].Data)
	assert.Equal(t, 1, p.Active())

	callID := btns[0].Data
	require.NoError(t, p.Answer(callID))
	require.NoError(t, p.Decline(callID))
	require.NoError(t, p.Hangup(callID))
	assert.Equal(t, 1, l.answered)
	assert.Equal(t, 1, l.rejected)
	assert.Equal(t, 1, l.dropped)
}

func TestCallPlatform_ConnectionLifecycle(t *testing.T) {
	client := &fakeClient{}
	p := NewCallPlatform(client, ownerID, quietLogger())
	conn, err := p.AddIncomingCall(context.Background(), call.NewRequest(call.PhoneAccount{}, 1, "Stand-up"), &recordingListener{})
	require.NoError(t, err)
	callID := buttons(client.lastSent().opts)[0].Data

	conn.SetRinging()
	assert.Contains(t, client.lastEdit().text, "Ringing")
	assert.Len(t, buttons(client.lastEdit().opts), 2)

	conn.SetActive()
	assert.Equal(t, "In call: Stand-up", client.lastEdit().text)
	active := buttons(client.lastEdit().opts)
	require.Len(t, active, 1)
	assert.Equal(t, uniqueCallHangup, active[0].Unique)

	conn.Destroy()
	conn.Destroy()
	assert.Equal(t, 3, client.editCount())
	assert.Equal(t, "Call ended: Stand-up", client.lastEdit().text)
	assert.Empty(t, buttons(client.lastEdit().opts))
	assert.Equal(t, 0, p.Active())

	assert.ErrorIs(t, p.Answer(callID), ErrUnknownCall)
	assert.ErrorIs(t, p.Decline("nope"), ErrUnknownCall)
}

func TestCallPlatform_SendFailure(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("bot blocked")}
	p := NewCallPlatform(client, ownerID, quietLogger())

	conn, err := p.AddIncomingCall(context.Background(), call.NewRequest(call.PhoneAccount{}, 3, "x"), &recordingListener{})
	assert.Error(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, 0, p.Active())
}

func TestCallPlatform_EditFailureIsLogged(t *testing.T) {
	client := &fakeClient{}
	p := NewCallPlatform(client, ownerID, quietLogger())
	conn, err := p.AddIncomingCall(context.Background(), call.NewRequest(call.PhoneAccount{}, 3, "x"), &recordingListener{})
	require.NoError(t, err)

	client.editErr = errors.New("message to edit not found")
	assert.NotPanics(t, func() {
		conn.SetRinging()
		conn.Destroy()
	})
	assert.Equal(t, 0, p.Active())
}
