package call

// Event drives a Session. Events are processed one at a time in arrival
// order; events raised while another is being handled are queued.
type Event interface {
	eventName() string
}

// Registered: the platform accepted the incoming call.
type Registered struct{ Conn Connection }

// FallbackPosted: the full-screen notification was shown instead of a call.
type FallbackPosted struct{}

// Answered: the user accepted the call.
type Answered struct{}

// Declined: the user rejected the call or dismissed the fallback.
type Declined struct{}

// Opened: the user opened the fallback notification.
type Opened struct{}

// SpeakDelayElapsed: the post-answer pause is over.
type SpeakDelayElapsed struct{}

// EngineReady: the speech engine finished initializing.
type EngineReady struct{ Err error }

// UtteranceDone: the engine finished (or failed) an utterance.
type UtteranceDone struct {
	UtteranceID string
	Err         error
}

// VoiceRouteSilent: no completion arrived on the voice-call stream in time.
type VoiceRouteSilent struct{}

// HardTimeout: the forced-completion deadline passed.
type HardTimeout struct{}

// Aborted: the platform aborted the call, or the owner tore it down.
type Aborted struct{}

// Disconnected: the call was disconnected.
type Disconnected struct{}

func (Registered) eventName() string        { return "registered" }
func (FallbackPosted) eventName() string    { return "fallback_posted" }
func (Answered) eventName() string          { return "answered" }
func (Declined) eventName() string          { return "declined" }
func (Opened) eventName() string            { return "opened" }
func (SpeakDelayElapsed) eventName() string { return "speak_delay_elapsed" }
func (EngineReady) eventName() string       { return "engine_ready" }
func (UtteranceDone) eventName() string     { return "utterance_done" }
func (VoiceRouteSilent) eventName() string  { return "voice_route_silent" }
func (HardTimeout) eventName() string       { return "hard_timeout" }
func (Aborted) eventName() string           { return "aborted" }
func (Disconnected) eventName() string      { return "disconnected" }

// EventName returns a stable name for logging.
func EventName(ev Event) string { return ev.eventName() }
