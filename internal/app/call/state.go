package call

// State is the delivery-session state.
type State uint8

const (
	StateIdle State = iota
	StateRinging
	StateAnswered
	StateAnnouncing
	StateDeclined
	StateNotifiedFallback
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRinging:
		return "ringing"
	case StateAnswered:
		return "answered"
	case StateAnnouncing:
		return "announcing"
	case StateDeclined:
		return "declined"
	case StateNotifiedFallback:
		return "notified_fallback"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Outcome is how a session ended.
type Outcome uint8

const (
	OutcomeNone Outcome = iota
	OutcomeCompleted
	OutcomeFallbackCompleted // finished on the media-stream re-speak
	OutcomeSpeechError
	OutcomeTimedOut
	OutcomeDeclined
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeFallbackCompleted:
		return "fallback_completed"
	case OutcomeSpeechError:
		return "speech_error"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeDeclined:
		return "declined"
	case OutcomeAborted:
		return "aborted"
	default:
		return "none"
	}
}

// Delivered reports whether the message was announced to the user.
func (o Outcome) Delivered() bool {
	return o == OutcomeCompleted || o == OutcomeFallbackCompleted
}

// Result is reported once per session when it reaches Terminated.
type Result struct {
	ReminderID int64
	Outcome    Outcome
	Path       Path
	Err        error
}

// Path is how the user was reached.
type Path uint8

const (
	PathNone Path = iota
	PathCall
	PathNotification
)

func (p Path) String() string {
	switch p {
	case PathCall:
		return "call"
	case PathNotification:
		return "notification"
	default:
		return "none"
	}
}
