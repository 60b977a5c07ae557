// Package alarm provides an in-process wake-up timer platform.
package alarm

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
)

// inexactWindow is the batching granularity of inexact timers: they fire at
// the next window boundary at or after the requested time.
const inexactWindow = time.Minute

type entry struct {
	handle call.Handle
	gen    uint64
	mode   alarm.Mode
	at     time.Time
}

// LocalPlatform keeps timers in memory and fires them on the given clock.
// Timers do not survive a restart; the engine re-registers them on start.
type LocalPlatform struct {
	clock        call.Clock
	exactAllowed bool
	log          *logrus.Entry

	mu       sync.Mutex
	receiver alarm.Receiver
	timers   map[alarm.Token]entry
	gen      uint64
	stopped  bool
	stopOnce sync.Once
}

func NewLocalPlatform(clock call.Clock, exactAllowed bool, log *logrus.Entry) *LocalPlatform {
	return &LocalPlatform{
		clock:        clock,
		exactAllowed: exactAllowed,
		log:          log.WithField("component", "alarm_platform"),
		timers:       make(map[alarm.Token]entry),
	}
}

// SetReceiver installs the callback invoked when a timer fires.
func (p *LocalPlatform) SetReceiver(r alarm.Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiver = r
}

func (p *LocalPlatform) CanScheduleExact() bool {
	return p.exactAllowed
}

func (p *LocalPlatform) Set(_ context.Context, mode alarm.Mode, at time.Time, token alarm.Token, payload alarm.Payload) error {
	if mode == alarm.ModeExact && !p.exactAllowed {
		return alarm.ErrExactNotPermitted
	}
	fireAt := at
	if mode == alarm.ModeInexact {
		fireAt = roundUp(at, inexactWindow)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return nil
	}
	if old, ok := p.timers[token]; ok {
		old.handle.Stop()
	}
	p.gen++
	gen := p.gen
	handle := p.clock.AfterFunc(fireAt.Sub(p.clock.Now()), func() {
		p.fire(token, gen, payload)
	})
	p.timers[token] = entry{handle: handle, gen: gen, mode: mode, at: fireAt}

	p.log.WithFields(logrus.Fields{
		"token":        token.String(),
		"request_code": token.RequestCode(),
		"mode":         mode.String(),
		"at":           fireAt.Format(time.RFC3339),
	}).Debug("Timer set")
	return nil
}

func (p *LocalPlatform) Cancel(_ context.Context, token alarm.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.timers[token]; ok {
		e.handle.Stop()
		delete(p.timers, token)
	}
	return nil
}

// Pending returns the fire time of the timer registered for token.
func (p *LocalPlatform) Pending(token alarm.Token) (time.Time, alarm.Mode, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.timers[token]
	return e.at, e.mode, ok
}

// Stop cancels every timer. Later Set calls are ignored.
func (p *LocalPlatform) Stop() {
	p.stopOnce.Do(func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.stopped = true
		for token, e := range p.timers {
			e.handle.Stop()
			delete(p.timers, token)
		}
	})
}

func (p *LocalPlatform) fire(token alarm.Token, gen uint64, payload alarm.Payload) {
	p.mu.Lock()
	e, ok := p.timers[token]
	if !ok || e.gen != gen {
		// replaced or cancelled after the clock had already fired
		p.mu.Unlock()
		return
	}
	delete(p.timers, token)
	receiver := p.receiver
	p.mu.Unlock()

	if receiver == nil {
		p.log.WithField("token", token.String()).Warn("Timer fired with no receiver installed")
		return
	}
	receiver(context.Background(), token, payload)
}

func roundUp(t time.Time, d time.Duration) time.Time {
	r := t.Truncate(d)
	if r.Before(t) {
		r = r.Add(d)
	}
	return r
}
