package telegram

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"call_reminder/internal/app/call"
	tg "call_reminder/internal/domain/telegram"
)

// Callback button identifiers. telebot routes a pressed button to the
// handler registered for its Unique value; the payload carries the call id
// or the reminder id.
const (
	uniqueCallAnswer     = "call_answer"
	uniqueCallDecline    = "call_decline"
	uniqueCallHangup     = "call_hangup"
	uniqueFallbackListen = "fallback_listen"
	uniqueFallbackSnooze = "fallback_snooze"
)

// ErrUnknownCall is returned when a button refers to a call that already ended.
var ErrUnknownCall = fmt.Errorf("unknown or finished call")

// CallPlatform presents simulated incoming calls as a bot message with
// Answer and Decline buttons. It implements call.Telephony.
type CallPlatform struct {
	client  tg.Client
	ownerID int64
	log     *logrus.Entry

	mu    sync.Mutex
	calls map[string]*connection
}

func NewCallPlatform(client tg.Client, ownerID int64, log *logrus.Entry) *CallPlatform {
	return &CallPlatform{
		client:  client,
		ownerID: ownerID,
		log:     log.WithField("component", "call_platform"),
		calls:   make(map[string]*connection),
	}
}

func (p *CallPlatform) AddIncomingCall(_ context.Context, req call.Request, l call.Listener) (call.Connection, error) {
	id := uuid.NewString()
	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("Answer", uniqueCallAnswer, id),
		markup.Data("Decline", uniqueCallDecline, id),
	))

	msg, err := p.client.SendMessage(p.ownerID, incomingCallText(req), &telebot.SendOptions{ReplyMarkup: markup})
	if err != nil {
		return nil, fmt.Errorf("could not present incoming call for reminder %d: %w", req.ReminderID, err)
	}

	conn := &connection{
		id:       id,
		platform: p,
		req:      req,
		listener: l,
		msg:      msg,
		markup:   markup,
		log:      p.log.WithFields(logrus.Fields{"call_id": id, "reminder_id": req.ReminderID}),
	}
	p.mu.Lock()
	p.calls[id] = conn
	p.mu.Unlock()

	conn.log.Info("Incoming call presented")
	return conn, nil
}

// Answer forwards an Answer button press to the call's listener.
func (p *CallPlatform) Answer(callID string) error {
	conn, ok := p.lookup(callID)
	if !ok {
		return ErrUnknownCall
	}
	conn.listener.Answer()
	return nil
}

// Decline forwards a Decline button press to the call's listener.
func (p *CallPlatform) Decline(callID string) error {
	conn, ok := p.lookup(callID)
	if !ok {
		return ErrUnknownCall
	}
	conn.listener.Reject()
	return nil
}

// Hangup ends an answered call.
func (p *CallPlatform) Hangup(callID string) error {
	conn, ok := p.lookup(callID)
	if !ok {
		return ErrUnknownCall
	}
	conn.listener.Disconnect()
	return nil
}

// Active reports how many calls are still presented.
func (p *CallPlatform) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *CallPlatform) lookup(id string) (*connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.calls[id]
	return c, ok
}

func (p *CallPlatform) forget(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.calls[id]; !ok {
		return false
	}
	delete(p.calls, id)
	return true
}

type connection struct {
	id       string
	platform *CallPlatform
	req      call.Request
	listener call.Listener
	msg      *telebot.Message
	markup   *telebot.ReplyMarkup
	log      *logrus.Entry
}

func (c *connection) SetRinging() {
	c.edit(fmt.Sprintf("%s\nRinging...", incomingCallText(c.req)), c.markup)
}

func (c *connection) SetActive() {
	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(markup.Data("Hang up", uniqueCallHangup, c.id)))
	c.edit(fmt.Sprintf("In call: %s", c.req.DisplayName), markup)
}

func (c *connection) Destroy() {
	if !c.platform.forget(c.id) {
		return
	}
	c.edit(fmt.Sprintf("Call ended: %s", c.req.DisplayName), nil)
	c.log.Debug("Call released")
}

func (c *connection) edit(text string, markup *telebot.ReplyMarkup) {
	if c.msg == nil {
		return
	}
	opts := &telebot.SendOptions{}
	if markup != nil {
		opts.ReplyMarkup = markup
	}
	if err := c.platform.client.EditMessage(c.msg, text, opts); err != nil {
		c.log.WithError(err).Warn("Failed to update call message")
	}
}

func incomingCallText(req call.Request) string {
	caller := req.Account.Label
	if caller == "" {
		caller = "Reminders"
	}
	return fmt.Sprintf("Incoming call from %s\n%s", caller, req.DisplayName)
}
