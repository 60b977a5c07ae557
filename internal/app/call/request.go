package call

import (
	"strings"
	"unicode/utf8"
)

const (
	maxDisplayName     = 50
	defaultDisplayName = "Reminder"
	addressScheme      = "reminder:"
)

// NewRequest builds the incoming-call request presented for a reminder.
func NewRequest(account PhoneAccount, reminderID int64, message string) Request {
	return Request{
		Account:     account,
		ReminderID:  reminderID,
		Message:     message,
		DisplayName: DisplayName(message),
		Address:     Address(message),
	}
}

// DisplayName is the caller name shown on the incoming-call UI: the message
// cut to 50 characters with a trailing ellipsis.
func DisplayName(message string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		return defaultDisplayName
	}
	if utf8.RuneCountInString(message) <= maxDisplayName {
		return message
	}
	runes := []rune(message)
	return string(runes[:maxDisplayName]) + "…"
}

// Address is the caller address: the message with separators flattened.
func Address(message string) string {
	r := strings.NewReplacer(":", " ", "\r\n", " ", "\n", " ", "\r", " ")
	return addressScheme + r.Replace(message)
}
