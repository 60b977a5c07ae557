package telegram

import "gopkg.in/telebot.v3"

// Client defines an interface for sending and editing messages via a Telegram bot.
type Client interface {
	SendMessage(recipientChatID int64, text string, options *telebot.SendOptions) (*telebot.Message, error)
	EditMessage(msg telebot.Editable, text string, options *telebot.SendOptions) error
}
