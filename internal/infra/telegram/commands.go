package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app"
	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

// ReminderManager is the reminder surface used by the bot UI.
type ReminderManager interface {
	Add(ctx context.Context, message string, dueAt time.Time, repeat reminder.RepeatPolicy) (*reminder.Reminder, error)
	Update(ctx context.Context, id int64, message string, dueAt time.Time, repeat reminder.RepeatPolicy) (*reminder.Reminder, error)
	Delete(ctx context.Context, id int64) error
	DeleteMany(ctx context.Context, ids []int64) error
	Get(ctx context.Context, id int64) (*reminder.Reminder, error)
	List(ctx context.Context) ([]*reminder.Reminder, error)
}

// CalendarLister lists the calendars the user can pick from.
type CalendarLister interface {
	ListAvailableCalendars(ctx context.Context) ([]calendar.Calendar, error)
}

// EventSource adds events to a calendar the way its owner would from a
// calendar app.
type EventSource interface {
	AddEvent(calendarID, title string, start, end time.Time, repeat reminder.RepeatPolicy) (string, error)
}

// CalendarSyncer runs one calendar sync pass.
type CalendarSyncer interface {
	Run(ctx context.Context, trigger string) (app.SyncReport, error)
}

// Commands implements the text commands of the bot. Every method returns
// the reply to send; failures are logged and turned into a reply.
type Commands struct {
	reminders ReminderManager
	settings  settings.Store
	calendars CalendarLister // nil without calendar integration
	clock     call.Clock
	log       *logrus.Entry

	events     EventSource
	eventCalID string
	syncer     CalendarSyncer
}

func NewCommands(reminders ReminderManager, store settings.Store, calendars CalendarLister, clock call.Clock, log *logrus.Entry) *Commands {
	if clock == nil {
		clock = call.RealClock()
	}
	return &Commands{
		reminders: reminders,
		settings:  store,
		calendars: calendars,
		clock:     clock,
		log:       log.WithField("component", "commands"),
	}
}

// WithEvents enables /event, which adds events to calendarID and then runs
// a sync pass so they are imported right away. syncer may be nil.
func (c *Commands) WithEvents(events EventSource, calendarID string, syncer CalendarSyncer) *Commands {
	c.events = events
	c.eventCalID = calendarID
	c.syncer = syncer
	return c
}

// eventLength is the duration given to events created by /event.
const eventLength = 30 * time.Minute

const eventUsage = "Usage: /event <when> [none|daily|monthly|yearly] <title>\n" +
	"<when>: +10m, in 1h30m, 18:30, 2025-03-10 18:30"

const addUsage = "Usage: /add <when> [none|daily|monthly|yearly] <message>\n" +
	"<when>: +10m, in 1h30m, 18:30, 2025-03-10 18:30"

func (c *Commands) Help() string {
	var helpText strings.Builder
	helpText.WriteString("Available commands:\n\n")
	helpText.WriteString("/add <when> [repeat] <message> - create a reminder\n")
	helpText.WriteString("/list - show reminders\n")
	helpText.WriteString("/edit <id> <when> [repeat] [message] - change a reminder\n")
	helpText.WriteString("/delete <id> [id...] - delete reminders\n")
	helpText.WriteString("/calendars - show calendars available for sync\n")
	if c.events != nil {
		helpText.WriteString("/event <when> [repeat] <title> - add an event to the calendar\n")
	}
	helpText.WriteString("/settings - show settings\n")
	helpText.WriteString("/set <key> <value> - change a setting\n\n")
	helpText.WriteString("<when>: +10m, in 1h30m, 18:30, 2025-03-10 18:30\n")
	helpText.WriteString("A due reminder rings as an incoming call. Answer to hear it, decline to snooze.")
	return helpText.String()
}

func (c *Commands) Add(ctx context.Context, payload string) string {
	logCtx := c.log.WithField("command", "/add")
	now := c.clock.Now()
	in, err := ParseReminderInput(payload, now)
	if err != nil {
		logCtx.WithError(err).Debug("Invalid /add arguments")
		return fmt.Sprintf("%s\n%s", err.Error(), addUsage)
	}

	r, err := c.reminders.Add(ctx, in.Message, in.DueAt, in.Repeat)
	if err != nil {
		if errors.Is(err, app.ErrEmptyMessage) {
			return "The reminder needs a message.\n" + addUsage
		}
		logCtx.WithError(err).Error("Failed to add reminder")
		return fmt.Sprintf("Could not add the reminder: %s", err.Error())
	}
	logCtx.WithField("reminder_id", r.ID).Info("Reminder added via bot")

	reply := "Added " + FormatReminder(r, now.Location())
	if !r.IsFuture(now) {
		reply += "\nThis time is already past, so it will not ring."
	}
	return reply
}

func (c *Commands) List(ctx context.Context) string {
	rs, err := c.reminders.List(ctx)
	if err != nil {
		c.log.WithError(err).WithField("command", "/list").Error("Failed to list reminders")
		return fmt.Sprintf("Could not load reminders: %s", err.Error())
	}
	if len(rs) == 0 {
		return "No reminders yet. Use /add to create one."
	}
	return FormatReminderList(rs, c.clock.Now().Location())
}

func (c *Commands) Edit(ctx context.Context, payload string) string {
	logCtx := c.log.WithField("command", "/edit")
	id, rest, err := SplitEditArgs(payload)
	if err != nil {
		return "Usage: /edit <id> <when> [repeat] [message]"
	}
	logCtx = logCtx.WithField("reminder_id", id)

	current, err := c.reminders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, reminder.ErrReminderNotFound) {
			return fmt.Sprintf("Reminder #%d not found.", id)
		}
		logCtx.WithError(err).Error("Failed to load reminder")
		return fmt.Sprintf("Could not load reminder #%d: %s", id, err.Error())
	}

	now := c.clock.Now()
	in, err := ParseReminderInput(rest, now)
	if err != nil {
		return fmt.Sprintf("%s\nUsage: /edit <id> <when> [repeat] [message]", err.Error())
	}
	if in.Message == "" {
		in.Message = current.Message
	}

	updated, err := c.reminders.Update(ctx, id, in.Message, in.DueAt, in.Repeat)
	if err != nil {
		if errors.Is(err, reminder.ErrReminderNotFound) {
			return fmt.Sprintf("Reminder #%d not found.", id)
		}
		logCtx.WithError(err).Error("Failed to update reminder")
		return fmt.Sprintf("Could not update reminder #%d: %s", id, err.Error())
	}
	return "Updated " + FormatReminder(updated, now.Location())
}

func (c *Commands) Delete(ctx context.Context, args []string) string {
	logCtx := c.log.WithField("command", "/delete")
	ids, err := ParseIDs(args)
	if err != nil {
		return "Usage: /delete <id> [id...]"
	}

	if len(ids) == 1 {
		if err := c.reminders.Delete(ctx, ids[0]); err != nil {
			if errors.Is(err, reminder.ErrReminderNotFound) {
				return fmt.Sprintf("Reminder #%d not found.", ids[0])
			}
			logCtx.WithError(err).WithField("reminder_id", ids[0]).Error("Failed to delete reminder")
			return fmt.Sprintf("Could not delete reminder #%d: %s", ids[0], err.Error())
		}
		return fmt.Sprintf("Reminder #%d deleted.", ids[0])
	}

	if err := c.reminders.DeleteMany(ctx, ids); err != nil {
		logCtx.WithError(err).WithField("count", len(ids)).Error("Failed to delete reminders")
		return fmt.Sprintf("Could not delete reminders: %s", err.Error())
	}
	return fmt.Sprintf("%d reminders deleted.", len(ids))
}

func (c *Commands) Calendars(ctx context.Context) string {
	if c.calendars == nil {
		return "Calendar integration is not configured."
	}
	cals, err := c.calendars.ListAvailableCalendars(ctx)
	if err != nil {
		c.log.WithError(err).WithField("command", "/calendars").Warn("Failed to list calendars")
		return fmt.Sprintf("Could not list calendars: %s", err.Error())
	}
	if len(cals) == 0 {
		return "No calendars available. Calendar access may not be granted."
	}

	var b strings.Builder
	b.WriteString("Calendars:")
	for _, cal := range cals {
		fmt.Fprintf(&b, "\n%s  %s", cal.ID, cal.Name)
	}
	b.WriteString("\n\nUse /set read_calendar_id <id> or /set write_calendar_id <id>.")
	return b.String()
}

// Event adds a calendar event. Reminders are created from it by the
// calendar import, not directly.
func (c *Commands) Event(ctx context.Context, payload string) string {
	logCtx := c.log.WithField("command", "/event")
	if c.events == nil {
		return "Calendar integration is not configured."
	}
	now := c.clock.Now()
	in, err := ParseReminderInput(payload, now)
	if err != nil {
		return fmt.Sprintf("%s\n%s", err.Error(), eventUsage)
	}
	title := strings.TrimSpace(in.Message)
	if title == "" {
		return "The event needs a title.\n" + eventUsage
	}

	eventID, err := c.events.AddEvent(c.eventCalID, title, in.DueAt, in.DueAt.Add(eventLength), in.Repeat)
	if err != nil {
		logCtx.WithError(err).Error("Failed to add calendar event")
		return fmt.Sprintf("Could not add the event: %s", err.Error())
	}
	logCtx = logCtx.WithField("event_id", eventID)
	logCtx.Info("Calendar event added via bot")

	reply := fmt.Sprintf("Event %q added for %s.", title, in.DueAt.In(now.Location()).Format(listLayout))
	if c.syncer == nil {
		return reply
	}
	rep, err := c.syncer.Run(ctx, "command")
	switch {
	case errors.Is(err, app.ErrSyncInProgress):
		return reply + "\nA sync is running; it will be imported shortly."
	case err != nil:
		logCtx.WithError(err).Warn("Sync after /event failed")
		return reply + "\nIt will be imported on the next sync."
	case rep.Imported == 0:
		return reply + fmt.Sprintf("\nNothing imported. Check %s and %s in /settings.", settings.KeySyncFromCalendar, settings.KeyReadCalendarID)
	}
	return reply + fmt.Sprintf("\nImported %d reminder(s). See /list.", rep.Imported)
}

func (c *Commands) Settings(ctx context.Context) string {
	s, err := c.settings.Current(ctx)
	if err != nil {
		c.log.WithError(err).WithField("command", "/settings").Error("Failed to load settings")
		return fmt.Sprintf("Could not load settings: %s", err.Error())
	}
	values := s.Values()
	var b strings.Builder
	b.WriteString("Settings:")
	for _, k := range settings.Keys() {
		v := values[k]
		if v == "" {
			v = "(default)"
		}
		fmt.Fprintf(&b, "\n%s = %s", k, v)
	}
	return b.String()
}

func (c *Commands) Set(ctx context.Context, args []string) string {
	logCtx := c.log.WithField("command", "/set")
	if len(args) < 1 {
		return "Usage: /set <key> <value>"
	}
	key := strings.ToLower(args[0])
	value := strings.Join(args[1:], " ")

	current, err := c.settings.Current(ctx)
	if err != nil {
		logCtx.WithError(err).Error("Failed to load settings")
		return fmt.Sprintf("Could not load settings: %s", err.Error())
	}
	next, err := current.Set(key, value)
	if err != nil {
		if errors.Is(err, settings.ErrUnknownKey) {
			return fmt.Sprintf("Unknown setting %q. Keys: %s", key, strings.Join(settings.Keys(), ", "))
		}
		return err.Error()
	}
	if err := c.settings.Save(ctx, next); err != nil {
		logCtx.WithError(err).WithField("key", key).Error("Failed to save settings")
		return fmt.Sprintf("Could not save settings: %s", err.Error())
	}
	logCtx.WithField("key", key).Info("Setting changed")
	return fmt.Sprintf("%s = %s", key, next.Values()[key])
}
