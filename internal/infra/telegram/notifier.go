package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"call_reminder/internal/app/call"
	tg "call_reminder/internal/domain/telegram"
)

// Notifier posts the fallback notification as a message with Listen and
// Snooze buttons. It implements call.Notifier.
type Notifier struct {
	client  tg.Client
	ownerID int64
	log     *logrus.Entry

	mu     sync.Mutex
	posted map[int64]*telebot.Message
}

func NewNotifier(client tg.Client, ownerID int64, log *logrus.Entry) *Notifier {
	return &Notifier{
		client:  client,
		ownerID: ownerID,
		log:     log.WithField("component", "notifier"),
		posted:  make(map[int64]*telebot.Message),
	}
}

func (n *Notifier) PostFullScreen(_ context.Context, fs call.FullScreenNotification) error {
	payload := strconv.FormatInt(fs.ReminderID, 10)
	markup := &telebot.ReplyMarkup{}
	markup.Inline(markup.Row(
		markup.Data("Listen", uniqueFallbackListen, payload),
		markup.Data("Snooze", uniqueFallbackSnooze, payload),
	))

	text := fmt.Sprintf("%s\n%s", fs.Title, fs.Message)
	msg, err := n.client.SendMessage(n.ownerID, text, &telebot.SendOptions{ReplyMarkup: markup})
	if err != nil {
		return fmt.Errorf("could not post notification for reminder %d: %w", fs.ReminderID, err)
	}

	n.mu.Lock()
	n.posted[fs.ReminderID] = msg
	n.mu.Unlock()
	n.log.WithField("reminder_id", fs.ReminderID).Info("Fallback notification posted")
	return nil
}

// Cancel removes the buttons from a posted notification. Unknown ids are ignored.
func (n *Notifier) Cancel(_ context.Context, reminderID int64) error {
	n.mu.Lock()
	msg, ok := n.posted[reminderID]
	delete(n.posted, reminderID)
	n.mu.Unlock()
	if !ok || msg == nil {
		return nil
	}
	if err := n.client.EditMessage(msg, msg.Text, nil); err != nil {
		return fmt.Errorf("could not clear notification for reminder %d: %w", reminderID, err)
	}
	return nil
}

// LogNotifier only logs; it stands in for the bot when no token is configured.
type LogNotifier struct {
	log *logrus.Entry
}

func NewLogNotifier(log *logrus.Entry) *LogNotifier {
	return &LogNotifier{log: log.WithField("component", "notifier")}
}

func (n *LogNotifier) PostFullScreen(_ context.Context, fs call.FullScreenNotification) error {
	n.log.WithFields(logrus.Fields{
		"reminder_id": fs.ReminderID,
		"title":       fs.Title,
		"priority":    fs.Priority,
	}).Warn("Reminder due: " + fs.Message)
	return nil
}

func (n *LogNotifier) Cancel(context.Context, int64) error { return nil }
