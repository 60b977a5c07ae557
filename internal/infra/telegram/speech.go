package telegram

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"call_reminder/internal/app/call"
	tg "call_reminder/internal/domain/telegram"
)

const (
	charsPerSecond    = 12.0
	minUtterance      = 2 * time.Second
	defaultSpeechLang = "en-US"
)

// ErrSpeechShutdown is returned by Speak after Shutdown.
var ErrSpeechShutdown = fmt.Errorf("speech engine shut down")

// SpeechFactory opens chat-backed speech engines: an utterance is sent as a
// message and reported complete after its estimated reading time. A nil
// client only logs the utterance.
type SpeechFactory struct {
	client  tg.Client
	ownerID int64
	clock   call.Clock
	log     *logrus.Entry
}

func NewSpeechFactory(client tg.Client, ownerID int64, clock call.Clock, log *logrus.Entry) *SpeechFactory {
	if clock == nil {
		clock = call.RealClock()
	}
	return &SpeechFactory{
		client:  client,
		ownerID: ownerID,
		clock:   clock,
		log:     log.WithField("component", "speech"),
	}
}

// Open never fails; onReady runs before Open returns.
func (f *SpeechFactory) Open(engine string, onReady func(err error)) (call.SpeechEngine, error) {
	e := &speechEngine{
		factory: f,
		engine:  engine,
		rate:    1.0,
		locale:  defaultSpeechLang,
		log:     f.log.WithField("engine", engineName(engine)),
	}
	if onReady != nil {
		onReady(nil)
	}
	return e, nil
}

type speechEngine struct {
	factory *SpeechFactory
	engine  string
	log     *logrus.Entry

	mu      sync.Mutex
	rate    float64
	locale  string
	pending call.Handle
	closed  bool
}

func (e *speechEngine) SetRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if rate > 0 {
		e.rate = rate
	}
}

func (e *speechEngine) SetLocale(locale string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if locale != "" {
		e.locale = locale
	}
}

func (e *speechEngine) Speak(text string, stream call.AudioStream, utteranceID string, done func(string, error)) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrSpeechShutdown
	}
	rate := e.rate
	e.mu.Unlock()

	if e.factory.client != nil {
		body := fmt.Sprintf("\U0001F50A %s", text)
		if _, err := e.factory.client.SendMessage(e.factory.ownerID, body, &telebot.SendOptions{DisableNotification: stream == call.StreamMedia}); err != nil {
			return fmt.Errorf("could not send utterance %s: %w", utteranceID, err)
		}
	} else {
		e.log.WithField("utterance_id", utteranceID).Info("Announcement: " + text)
	}

	d := UtteranceDuration(text, rate)
	e.log.WithFields(logrus.Fields{
		"utterance_id": utteranceID,
		"stream":       stream.String(),
		"duration":     d,
	}).Debug("Speaking")

	h := e.factory.clock.AfterFunc(d, func() {
		e.mu.Lock()
		closed := e.closed
		e.pending = nil
		e.mu.Unlock()
		if !closed && done != nil {
			done(utteranceID, nil)
		}
	})

	e.mu.Lock()
	if e.pending != nil {
		e.pending.Stop()
	}
	e.pending = h
	e.mu.Unlock()
	return nil
}

// Stop drops the current utterance without reporting completion.
func (e *speechEngine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending != nil {
		e.pending.Stop()
		e.pending = nil
	}
}

func (e *speechEngine) Shutdown() {
	e.Stop()
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// UtteranceDuration estimates how long text takes to read aloud at rate.
func UtteranceDuration(text string, rate float64) time.Duration {
	if rate <= 0 {
		rate = 1.0
	}
	secs := float64(utf8.RuneCountInString(text)) / (charsPerSecond * rate)
	d := time.Duration(secs * float64(time.Second))
	if d < minUtterance {
		return minUtterance
	}
	return d
}

func engineName(engine string) string {
	if engine == "" {
		return "default"
	}
	return engine
}
