package audio

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call_reminder/internal/app/call"
)

func newController() *Controller {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return NewController(logrus.NewEntry(l))
}

func TestController_Mode(t *testing.T) {
	c := newController()
	assert.Equal(t, call.AudioModeNormal, c.Mode())

	c.SetMode(call.AudioModeInCommunication)
	assert.Equal(t, call.AudioModeInCommunication, c.Mode())
}

func TestController_Focus(t *testing.T) {
	c := newController()
	transient := call.FocusRequest{Usage: "voice_communication", Content: "speech", Transient: true}

	a, err := c.RequestFocus(transient)
	require.NoError(t, err)
	b, err := c.RequestFocus(transient)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, c.Holders())

	c.AbandonFocus(a)
	c.AbandonFocus(a)
	c.AbandonFocus("unknown")
	assert.Equal(t, 1, c.Holders())

	c.AbandonFocus(b)
	excl, err := c.RequestFocus(call.FocusRequest{Usage: "media"})
	require.NoError(t, err)

	_, err = c.RequestFocus(transient)
	assert.ErrorIs(t, err, ErrFocusDenied)

	c.AbandonFocus(excl)
	_, err = c.RequestFocus(transient)
	assert.NoError(t, err)
}
