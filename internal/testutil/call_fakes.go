package testutil

import (
	"context"
	"fmt"
	"sync"

	"call_reminder/internal/app/call"
)

// Utterance is one Speak call recorded by FakeEngine.
type Utterance struct {
	Text   string
	Stream call.AudioStream
	ID     string
	done   func(string, error)
}

// FakeSpeech opens FakeEngines. With AutoReady the engine reports ready
// from inside Open; with AutoComplete every utterance completes from
// inside Speak.
type FakeSpeech struct {
	mu           sync.Mutex
	OpenErr      error
	InitErr      error
	SpeakErr     error
	AutoReady    bool
	AutoComplete bool
	Engines      []*FakeEngine
}

func (f *FakeSpeech) Open(engine string, onReady func(error)) (call.SpeechEngine, error) {
	f.mu.Lock()
	if f.OpenErr != nil {
		f.mu.Unlock()
		return nil, f.OpenErr
	}
	e := &FakeEngine{Name: engine, onReady: onReady, speakErr: f.SpeakErr, autoComplete: f.AutoComplete}
	f.Engines = append(f.Engines, e)
	autoReady, initErr := f.AutoReady, f.InitErr
	f.mu.Unlock()

	if autoReady {
		onReady(initErr)
	}
	return e, nil
}

// Last returns the most recently opened engine, or nil.
func (f *FakeSpeech) Last() *FakeEngine {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Engines) == 0 {
		return nil
	}
	return f.Engines[len(f.Engines)-1]
}

type FakeEngine struct {
	mu           sync.Mutex
	Name         string
	Rate         float64
	Locale       string
	Utterances   []Utterance
	StopCount    int
	Shutdowns    int
	onReady      func(error)
	speakErr     error
	autoComplete bool
}

func (e *FakeEngine) SetRate(rate float64) {
	e.mu.Lock()
	e.Rate = rate
	e.mu.Unlock()
}

func (e *FakeEngine) SetLocale(locale string) {
	e.mu.Lock()
	e.Locale = locale
	e.mu.Unlock()
}

func (e *FakeEngine) Speak(text string, stream call.AudioStream, id string, done func(string, error)) error {
	e.mu.Lock()
	if e.speakErr != nil {
		e.mu.Unlock()
		return e.speakErr
	}
	e.Utterances = append(e.Utterances, Utterance{Text: text, Stream: stream, ID: id, done: done})
	auto := e.autoComplete
	e.mu.Unlock()

	if auto {
		done(id, nil)
	}
	return nil
}

func (e *FakeEngine) Stop() {
	e.mu.Lock()
	e.StopCount++
	e.mu.Unlock()
}

func (e *FakeEngine) Shutdown() {
	e.mu.Lock()
	e.Shutdowns++
	e.mu.Unlock()
}

// Ready reports initialization finished.
func (e *FakeEngine) Ready(err error) { e.onReady(err) }

// Complete finishes the i-th utterance.
func (e *FakeEngine) Complete(i int, err error) {
	e.mu.Lock()
	u := e.Utterances[i]
	e.mu.Unlock()
	u.done(u.ID, err)
}

func (e *FakeEngine) Spoken() []Utterance {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Utterance(nil), e.Utterances...)
}

func (e *FakeEngine) ShutdownCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Shutdowns
}

// FakeAudio tracks audio mode changes and focus ownership.
type FakeAudio struct {
	mu        sync.Mutex
	mode      call.AudioMode
	ModeLog   []call.AudioMode
	FocusErr  error
	Holders   map[string]call.FocusRequest
	Requests  int
	Abandoned int
	seq       int
}

func NewFakeAudio() *FakeAudio {
	return &FakeAudio{Holders: map[string]call.FocusRequest{}}
}

func (a *FakeAudio) Mode() call.AudioMode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

func (a *FakeAudio) SetMode(m call.AudioMode) {
	a.mu.Lock()
	a.mode = m
	a.ModeLog = append(a.ModeLog, m)
	a.mu.Unlock()
}

func (a *FakeAudio) RequestFocus(req call.FocusRequest) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Requests++
	if a.FocusErr != nil {
		return "", a.FocusErr
	}
	a.seq++
	token := fmt.Sprintf("focus-%d", a.seq)
	a.Holders[token] = req
	return token, nil
}

func (a *FakeAudio) AbandonFocus(token string) {
	a.mu.Lock()
	delete(a.Holders, token)
	a.Abandoned++
	a.mu.Unlock()
}

func (a *FakeAudio) FocusHeld() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.Holders)
}

// FakeConnection records the call UI lifecycle.
type FakeConnection struct {
	mu        sync.Mutex
	Ringing   int
	Active    int
	Destroyed int
}

func (c *FakeConnection) SetRinging() {
	c.mu.Lock()
	c.Ringing++
	c.mu.Unlock()
}

func (c *FakeConnection) SetActive() {
	c.mu.Lock()
	c.Active++
	c.mu.Unlock()
}

func (c *FakeConnection) Destroy() {
	c.mu.Lock()
	c.Destroyed++
	c.mu.Unlock()
}

func (c *FakeConnection) DestroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Destroyed
}

// FakeTelephony accepts incoming calls unless Err is set or Panic is true.
type FakeTelephony struct {
	mu        sync.Mutex
	Err       error
	Panic     bool
	Requests  []call.Request
	Listeners []call.Listener
	Conns     []*FakeConnection
}

func (t *FakeTelephony) AddIncomingCall(_ context.Context, req call.Request, l call.Listener) (call.Connection, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Panic {
		panic("telephony service crashed")
	}
	if t.Err != nil {
		return nil, t.Err
	}
	conn := &FakeConnection{}
	t.Requests = append(t.Requests, req)
	t.Listeners = append(t.Listeners, l)
	t.Conns = append(t.Conns, conn)
	return conn, nil
}

func (t *FakeTelephony) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Requests)
}

func (t *FakeTelephony) Listener(i int) call.Listener {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Listeners[i]
}

func (t *FakeTelephony) Conn(i int) *FakeConnection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Conns[i]
}

// FakeNotifier records posted fallback notifications. Like the real
// notifiers it keeps at most one live notification per reminder id.
type FakeNotifier struct {
	mu        sync.Mutex
	Err       error
	Posted    []call.FullScreenNotification
	Cancelled []int64
	live      map[int64]bool
}

func (n *FakeNotifier) PostFullScreen(_ context.Context, note call.FullScreenNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.Posted = append(n.Posted, note)
	if n.live == nil {
		n.live = make(map[int64]bool)
	}
	n.live[note.ReminderID] = true
	return nil
}

func (n *FakeNotifier) Cancel(_ context.Context, reminderID int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Cancelled = append(n.Cancelled, reminderID)
	delete(n.live, reminderID)
	return nil
}

// Live reports whether the notification of reminderID is still shown.
func (n *FakeNotifier) Live(reminderID int64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.live[reminderID]
}

func (n *FakeNotifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.Posted)
}
