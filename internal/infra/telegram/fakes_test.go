package telegram

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

var t0 = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func quietLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

type sentMessage struct {
	chatID int64
	text   string
	opts   *telebot.SendOptions
}

type editedMessage struct {
	msgID int
	text  string
	opts  *telebot.SendOptions
}

// fakeClient records the messages the adapters send and edit.
type fakeClient struct {
	mu      sync.Mutex
	sent    []sentMessage
	edits   []editedMessage
	sendErr error
	editErr error
}

func (f *fakeClient) SendMessage(chatID int64, text string, opts *telebot.SendOptions) (*telebot.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, opts: opts})
	return &telebot.Message{ID: len(f.sent), Text: text, Chat: &telebot.Chat{ID: chatID}}, nil
}

func (f *fakeClient) EditMessage(msg telebot.Editable, text string, opts *telebot.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return f.editErr
	}
	m, ok := msg.(*telebot.Message)
	if !ok {
		return errors.New("unexpected editable")
	}
	f.edits = append(f.edits, editedMessage{msgID: m.ID, text: text, opts: opts})
	return nil
}

func (f *fakeClient) lastSent() sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

func (f *fakeClient) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeClient) editCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.edits)
}

func (f *fakeClient) lastEdit() editedMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.edits[len(f.edits)-1]
}

// buttons flattens the inline keyboard of a message.
func buttons(opts *telebot.SendOptions) []telebot.InlineButton {
	if opts == nil || opts.ReplyMarkup == nil {
		return nil
	}
	var out []telebot.InlineButton
	for _, row := range opts.ReplyMarkup.InlineKeyboard {
		out = append(out, row...)
	}
	return out
}

type recordingListener struct {
	mu                                   sync.Mutex
	answered, rejected, aborted, dropped int
}

func (l *recordingListener) Answer()     { l.mu.Lock(); l.answered++; l.mu.Unlock() }
func (l *recordingListener) Reject()     { l.mu.Lock(); l.rejected++; l.mu.Unlock() }
func (l *recordingListener) Abort()      { l.mu.Lock(); l.aborted++; l.mu.Unlock() }
func (l *recordingListener) Disconnect() { l.mu.Lock(); l.dropped++; l.mu.Unlock() }
