package call

import (
	"context"
	"time"
)

// Handle cancels a delayed action. Stop reports whether the action was
// still pending.
type Handle interface {
	Stop() bool
}

// Clock schedules delayed actions. Tests drive it manually.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Handle
}

type realClock struct{}

// RealClock is the wall clock backed by time.AfterFunc.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// Connection is the platform object representing one simulated call.
type Connection interface {
	SetRinging()
	SetActive()
	// Destroy ends the call UI. Calling it twice is harmless.
	Destroy()
}

// Listener receives the user's actions on a simulated call.
type Listener interface {
	Answer()
	Reject()
	Abort()
	Disconnect()
}

// PhoneAccount is the self-managed calling account the engine registers
// with the platform.
type PhoneAccount struct {
	ID    string
	Label string
}

// Request asks the platform to present an incoming call.
type Request struct {
	Account     PhoneAccount
	ReminderID  int64
	Message     string
	DisplayName string
	Address     string
}

// Telephony is the platform call service. AddIncomingCall must not block
// on the user: the returned Connection is ringing and listener receives the
// user's later actions.
type Telephony interface {
	AddIncomingCall(ctx context.Context, req Request, listener Listener) (Connection, error)
}

// FullScreenNotification is the fallback when a call cannot be placed.
type FullScreenNotification struct {
	ReminderID int64
	Title      string
	Message    string
	Category   string // always "call"
	Priority   string // always "max"
}

// Notifier posts high-priority full-screen notifications.
type Notifier interface {
	PostFullScreen(ctx context.Context, n FullScreenNotification) error
	Cancel(ctx context.Context, reminderID int64) error
}

// AudioStream selects where speech is rendered.
type AudioStream uint8

const (
	StreamVoiceCall AudioStream = iota
	StreamMedia
)

func (s AudioStream) String() string {
	if s == StreamMedia {
		return "media"
	}
	return "voice_call"
}

// AudioMode is the device-wide audio routing mode.
type AudioMode uint8

const (
	AudioModeNormal AudioMode = iota
	AudioModeInCommunication
)

// FocusRequest describes an audio focus acquisition.
type FocusRequest struct {
	Usage     string // "voice_communication"
	Content   string // "speech"
	Transient bool
}

// AudioController owns the global audio mode and focus.
type AudioController interface {
	Mode() AudioMode
	SetMode(m AudioMode)
	RequestFocus(req FocusRequest) (token string, err error)
	AbandonFocus(token string)
}

// SpeechEngine renders text to audio. Completion is reported through the
// done callback passed to Speak, possibly from another goroutine and
// possibly before Speak returns.
type SpeechEngine interface {
	SetRate(rate float64)
	SetLocale(locale string)
	Speak(text string, stream AudioStream, utteranceID string, done func(utteranceID string, err error)) error
	Stop()
	Shutdown()
}

// SpeechFactory opens speech engines. onReady is invoked once the engine
// finished initializing, or failed to.
type SpeechFactory interface {
	Open(engine string, onReady func(err error)) (SpeechEngine, error)
}

// Hooks lets the owner of a session react to its outcomes. Hooks are called
// from the session's event loop and must not block.
type Hooks interface {
	Declined(reminderID int64, message string)
	Finished(res Result)
}
