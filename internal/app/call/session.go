// Package call simulates an incoming phone call for a firing reminder and
// announces the reminder text with speech once the user answers.
package call

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// VoiceRouteTimeout is how long speech on the voice-call stream may stay
	// silent before it is re-spoken on the media stream.
	VoiceRouteTimeout = 4 * time.Second
	// HardTimeoutAfter bounds an announcement; the session is forced to finish.
	HardTimeoutAfter = 30 * time.Second
	DefaultLocale    = "en-US"
)

// Config is the per-session input, fixed when the reminder fires.
type Config struct {
	ReminderID int64
	Message    string
	SpeakDelay time.Duration
	SpeechRate float64
	Engine     string // "" is the system default engine
	Locale     string
	Device     DeviceInfo
	Routing    RoutingPolicy
}

// Deps are the platform services a session drives.
type Deps struct {
	Clock          Clock
	Speech         SpeechFactory
	Audio          AudioController
	Hooks          Hooks
	Logger         *logrus.Entry
	NewUtteranceID func() string
}

type timerKind uint8

const (
	timerSpeakDelay timerKind = iota
	timerVoiceSilence
	timerHardTimeout
)

// timerFired wraps events raised by armed delayed actions so that a timer
// that was re-armed or cancelled after firing is recognised as stale.
type timerFired struct {
	kind timerKind
	gen  uint64
	ev   Event
}

func (t timerFired) eventName() string { return t.ev.eventName() }

// Session is one delivery attempt for one reminder. It owns the session
// record (connection, engine, audio state, pending timers) and mutates it
// only from its event loop.
type Session struct {
	cfg  Config
	deps Deps
	log  *logrus.Entry

	mu      sync.Mutex
	queue   []Event
	running bool
	state   State
	result  Result
	done    chan struct{}

	// owned by the event loop
	path           Path
	conn           Connection
	engine         SpeechEngine
	engineReady    bool
	stream         AudioStream
	rerouted       bool
	utterance      string
	prevMode       AudioMode
	modeOverridden bool
	focus          string
	timers         map[timerKind]Handle
	timerGen       map[timerKind]uint64
	gen            uint64
}

func NewSession(cfg Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = RealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
	if deps.NewUtteranceID == nil {
		deps.NewUtteranceID = func() string { return "reminder-" + uuid.NewString() }
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	if cfg.SpeakDelay < 0 {
		cfg.SpeakDelay = 0
	}
	if cfg.Routing.ByManufacturer == nil {
		cfg.Routing = DefaultRoutingPolicy()
	}

	return &Session{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger.WithField("reminder_id", cfg.ReminderID),
		state:    StateIdle,
		done:     make(chan struct{}),
		timers:   make(map[timerKind]Handle),
		timerGen: make(map[timerKind]uint64),
	}
}

func (s *Session) ReminderID() int64 { return s.cfg.ReminderID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed when the session reaches Terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Result is meaningful once Done is closed.
func (s *Session) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Listener implementation for the telephony platform.

func (s *Session) Answer()     { s.Handle(Answered{}) }
func (s *Session) Reject()     { s.Handle(Declined{}) }
func (s *Session) Abort()      { s.Handle(Aborted{}) }
func (s *Session) Disconnect() { s.Handle(Disconnected{}) }

// Handle injects an event. It is safe to call from any goroutine and from
// within callbacks the session itself triggered: such events are queued and
// processed after the current one completes.
func (s *Session) Handle(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.safeStep(next)
		s.mu.Lock()
	}
	s.running = false
	s.mu.Unlock()
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"from": prev.String(), "to": st.String()}).Debug("Delivery session transition")
}

func (s *Session) safeStep(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic handling %s: %v", ev.eventName(), r)
			s.log.WithError(err).Error("Delivery session step failed, terminating")
			s.terminate(OutcomeAborted, err)
		}
	}()
	s.step(ev)
}

func (s *Session) step(ev Event) {
	if tf, ok := ev.(timerFired); ok {
		if s.timerGen[tf.kind] != tf.gen {
			return
		}
		delete(s.timers, tf.kind)
		ev = tf.ev
	}

	st := s.State()
	if st == StateTerminated {
		s.log.WithField("event", ev.eventName()).Debug("Event after termination ignored")
		return
	}

	switch ev.(type) {
	case Aborted, Disconnected:
		s.terminate(OutcomeAborted, nil)
		return
	}

	handled := false
	switch st {
	case StateIdle:
		handled = s.onIdle(ev)
	case StateRinging:
		handled = s.onRinging(ev)
	case StateAnswered:
		handled = s.onAnswered(ev)
	case StateAnnouncing:
		handled = s.onAnnouncing(ev)
	case StateNotifiedFallback:
		handled = s.onNotifiedFallback(ev)
	}
	if !handled {
		s.log.WithFields(logrus.Fields{"event": ev.eventName(), "state": st.String()}).Debug("Event ignored in state")
	}
}

func (s *Session) onIdle(ev Event) bool {
	switch e := ev.(type) {
	case Registered:
		s.path = PathCall
		s.conn = e.Conn
		if s.conn != nil {
			s.conn.SetRinging()
		}
		s.setState(StateRinging)
	case FallbackPosted:
		s.path = PathNotification
		s.setState(StateNotifiedFallback)
	default:
		return false
	}
	return true
}

func (s *Session) onRinging(ev Event) bool {
	switch ev.(type) {
	case Answered:
		if s.conn != nil {
			s.conn.SetActive()
		}
		s.setState(StateAnswered)
		s.arm(timerSpeakDelay, s.cfg.SpeakDelay, SpeakDelayElapsed{})
	case Declined:
		s.decline()
	default:
		return false
	}
	return true
}

func (s *Session) onAnswered(ev Event) bool {
	if _, ok := ev.(SpeakDelayElapsed); !ok {
		return false
	}
	s.startAnnouncing()
	return true
}

func (s *Session) onNotifiedFallback(ev Event) bool {
	switch ev.(type) {
	case Opened:
		s.startAnnouncing()
	case Declined:
		s.decline()
	default:
		return false
	}
	return true
}

func (s *Session) onAnnouncing(ev Event) bool {
	switch e := ev.(type) {
	case EngineReady:
		s.onEngineReady(e.Err)
	case UtteranceDone:
		if e.UtteranceID != s.utterance {
			s.log.WithField("utterance_id", e.UtteranceID).Debug("Stale utterance completion ignored")
			return true
		}
		if e.Err != nil {
			s.terminate(OutcomeSpeechError, e.Err)
			return true
		}
		if s.rerouted {
			s.terminate(OutcomeFallbackCompleted, nil)
		} else {
			s.terminate(OutcomeCompleted, nil)
		}
	case VoiceRouteSilent:
		s.reroute()
	case HardTimeout:
		s.log.Warn("Announcement did not finish in time, forcing completion")
		s.terminate(OutcomeTimedOut, nil)
	default:
		return false
	}
	return true
}

func (s *Session) decline() {
	s.setState(StateDeclined)
	if s.deps.Hooks != nil {
		s.safely("declined hook", func() { s.deps.Hooks.Declined(s.cfg.ReminderID, s.cfg.Message) })
	}
	s.terminate(OutcomeDeclined, nil)
}

func (s *Session) startAnnouncing() {
	s.setState(StateAnnouncing)
	s.arm(timerHardTimeout, HardTimeoutAfter, HardTimeout{})

	if s.deps.Audio != nil {
		if s.path == PathCall {
			s.prevMode = s.deps.Audio.Mode()
			s.deps.Audio.SetMode(AudioModeInCommunication)
			s.modeOverridden = true
		}
		token, err := s.deps.Audio.RequestFocus(FocusRequest{
			Usage:     "voice_communication",
			Content:   "speech",
			Transient: true,
		})
		if err != nil {
			s.log.WithError(err).Warn("Audio focus not granted, announcing anyway")
		} else {
			s.focus = token
		}
	}

	if s.deps.Speech == nil {
		s.terminate(OutcomeSpeechError, fmt.Errorf("no speech engine available"))
		return
	}
	engine, err := s.deps.Speech.Open(s.cfg.Engine, func(err error) {
		s.Handle(EngineReady{Err: err})
	})
	if err != nil {
		s.terminate(OutcomeSpeechError, fmt.Errorf("open speech engine: %w", err))
		return
	}
	s.engine = engine
}

func (s *Session) onEngineReady(err error) {
	if s.engineReady || s.engine == nil {
		return
	}
	if err != nil {
		s.terminate(OutcomeSpeechError, fmt.Errorf("speech engine init: %w", err))
		return
	}
	s.engineReady = true
	s.engine.SetRate(s.cfg.SpeechRate)
	s.engine.SetLocale(s.cfg.Locale)

	stream := StreamMedia
	if s.path == PathCall {
		stream = s.cfg.Routing.StreamFor(s.cfg.Device)
	}
	if !s.speak(stream) {
		return
	}
	if stream == StreamVoiceCall {
		s.arm(timerVoiceSilence, VoiceRouteTimeout, VoiceRouteSilent{})
	}
}

func (s *Session) reroute() {
	if s.rerouted || s.stream != StreamVoiceCall || s.engine == nil {
		return
	}
	s.log.Info("No speech completion on voice stream, re-speaking on media stream")
	s.rerouted = true
	s.engine.Stop()
	if !s.speak(StreamMedia) {
		return
	}
	s.arm(timerHardTimeout, HardTimeoutAfter, HardTimeout{})
}

func (s *Session) speak(stream AudioStream) bool {
	id := s.deps.NewUtteranceID()
	s.utterance = id
	s.stream = stream
	err := s.engine.Speak(s.cfg.Message, stream, id, func(uid string, err error) {
		s.Handle(UtteranceDone{UtteranceID: uid, Err: err})
	})
	if err != nil {
		s.terminate(OutcomeSpeechError, fmt.Errorf("speak on %s stream: %w", stream, err))
		return false
	}
	return true
}

func (s *Session) arm(kind timerKind, d time.Duration, ev Event) {
	s.disarm(kind)
	s.gen++
	gen := s.gen
	s.timerGen[kind] = gen
	s.timers[kind] = s.deps.Clock.AfterFunc(d, func() {
		s.Handle(timerFired{kind: kind, gen: gen, ev: ev})
	})
}

func (s *Session) disarm(kind timerKind) {
	if h, ok := s.timers[kind]; ok {
		h.Stop()
		delete(s.timers, kind)
	}
	delete(s.timerGen, kind)
}

// terminate releases everything the session acquired. It runs at most once.
func (s *Session) terminate(outcome Outcome, err error) {
	if s.State() == StateTerminated {
		return
	}

	for kind := range s.timers {
		s.disarm(kind)
	}
	if s.engine != nil {
		engine := s.engine
		s.engine = nil
		s.safely("stop speech", engine.Stop)
		s.safely("shutdown speech", engine.Shutdown)
	}
	if s.focus != "" && s.deps.Audio != nil {
		token := s.focus
		s.focus = ""
		s.safely("abandon focus", func() { s.deps.Audio.AbandonFocus(token) })
	}
	if s.modeOverridden && s.deps.Audio != nil {
		s.modeOverridden = false
		s.safely("restore audio mode", func() { s.deps.Audio.SetMode(s.prevMode) })
	}
	if s.conn != nil {
		conn := s.conn
		s.conn = nil
		s.safely("destroy connection", conn.Destroy)
	}

	res := Result{ReminderID: s.cfg.ReminderID, Outcome: outcome, Path: s.path, Err: err}
	s.mu.Lock()
	s.result = res
	s.mu.Unlock()
	s.setState(StateTerminated)
	close(s.done)

	entry := s.log.WithFields(logrus.Fields{"outcome": outcome.String(), "path": s.path.String()})
	if err != nil {
		entry.WithError(err).Warn("Delivery session ended")
	} else {
		entry.Info("Delivery session ended")
	}

	if s.deps.Hooks != nil {
		s.safely("finished hook", func() { s.deps.Hooks.Finished(res) })
	}
}

func (s *Session) safely(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("cleanup", what).Errorf("Recovered from panic: %v", r)
		}
	}()
	fn()
}
