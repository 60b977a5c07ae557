package telegram

import (
	"context"
	"errors"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"call_reminder/internal/app"
)

// FallbackActions reacts to the buttons of a fallback notification.
type FallbackActions interface {
	OpenFallback(ctx context.Context, id int64) error
	DismissFallback(ctx context.Context, id int64) error
}

// RegisterCommandHandlers wires the text commands. Only ownerID may use them.
func RegisterCommandHandlers(ctx context.Context, b *telebot.Bot, cmds *Commands, ownerID int64, baseLogger *logrus.Entry) {
	logger := baseLogger.WithField("handler_group", "commands")
	owner := ownerOnly(ownerID, logger)

	b.Handle("/start", owner(func(c telebot.Context) error {
		return c.Send("Hi " + c.Sender().FirstName + "! I ring you when a reminder is due. Use /help for the list of commands.")
	}))
	b.Handle("/help", owner(func(c telebot.Context) error {
		return c.Send(cmds.Help())
	}))
	b.Handle("/add", owner(func(c telebot.Context) error {
		return c.Send(cmds.Add(ctx, c.Message().Payload))
	}))
	b.Handle("/list", owner(func(c telebot.Context) error {
		return c.Send(cmds.List(ctx))
	}))
	b.Handle("/edit", owner(func(c telebot.Context) error {
		return c.Send(cmds.Edit(ctx, c.Message().Payload))
	}))
	b.Handle("/delete", owner(func(c telebot.Context) error {
		return c.Send(cmds.Delete(ctx, c.Args()))
	}))
	b.Handle("/calendars", owner(func(c telebot.Context) error {
		return c.Send(cmds.Calendars(ctx))
	}))
	b.Handle("/event", owner(func(c telebot.Context) error {
		return c.Send(cmds.Event(ctx, c.Message().Payload))
	}))
	b.Handle("/settings", owner(func(c telebot.Context) error {
		return c.Send(cmds.Settings(ctx))
	}))
	b.Handle("/set", owner(func(c telebot.Context) error {
		return c.Send(cmds.Set(ctx, c.Args()))
	}))
}

// RegisterCallHandlers wires the call and fallback notification buttons.
func RegisterCallHandlers(ctx context.Context, b *telebot.Bot, calls *CallPlatform, fallback FallbackActions, ownerID int64, baseLogger *logrus.Entry) {
	logger := baseLogger.WithField("handler_group", "call_buttons")
	owner := ownerOnly(ownerID, logger)

	callButton := func(action string, fn func(string) error) telebot.HandlerFunc {
		return owner(func(c telebot.Context) error {
			callID := c.Data()
			if err := fn(callID); err != nil {
				logger.WithError(err).WithFields(logrus.Fields{"action": action, "call_id": callID}).Debug("Call button ignored")
				return c.Respond(&telebot.CallbackResponse{Text: "This call has ended."})
			}
			return c.Respond()
		})
	}
	b.Handle(&telebot.Btn{Unique: uniqueCallAnswer}, callButton("answer", calls.Answer))
	b.Handle(&telebot.Btn{Unique: uniqueCallDecline}, callButton("decline", calls.Decline))
	b.Handle(&telebot.Btn{Unique: uniqueCallHangup}, callButton("hangup", calls.Hangup))

	fallbackButton := func(action string, fn func(context.Context, int64) error, ack string) telebot.HandlerFunc {
		return owner(func(c telebot.Context) error {
			logCtx := logger.WithField("action", action)
			id, err := strconv.ParseInt(c.Data(), 10, 64)
			if err != nil {
				c.Bot().OnError(err, c)
				return c.Respond(&telebot.CallbackResponse{Text: "Invalid reminder."})
			}
			logCtx = logCtx.WithField("reminder_id", id)
			if err := fn(ctx, id); err != nil {
				if errors.Is(err, app.ErrNoActiveDelivery) {
					return c.Respond(&telebot.CallbackResponse{Text: "This reminder is no longer active."})
				}
				logCtx.WithError(err).Error("Fallback action failed")
				return c.Respond(&telebot.CallbackResponse{Text: "Something went wrong."})
			}
			return c.Respond(&telebot.CallbackResponse{Text: ack})
		})
	}
	b.Handle(&telebot.Btn{Unique: uniqueFallbackListen}, fallbackButton("listen", fallback.OpenFallback, "Playing reminder"))
	b.Handle(&telebot.Btn{Unique: uniqueFallbackSnooze}, fallbackButton("snooze", fallback.DismissFallback, "Snoozed"))
}

func ownerOnly(ownerID int64, logger *logrus.Entry) func(telebot.HandlerFunc) telebot.HandlerFunc {
	return func(next telebot.HandlerFunc) telebot.HandlerFunc {
		return func(c telebot.Context) error {
			sender := c.Sender()
			if sender == nil || sender.ID != ownerID {
				entry := logger
				if sender != nil {
					entry = entry.WithField("sender_id", sender.ID)
				}
				entry.Warn("Unauthorized access attempt")
				if c.Callback() != nil {
					return c.Respond(&telebot.CallbackResponse{Text: "Not allowed."})
				}
				return c.Send("Sorry, this bot belongs to someone else.")
			}
			return next(c)
		}
	}
}
