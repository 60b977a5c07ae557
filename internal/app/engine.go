package app

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

// Deps are the platform and storage services the engine runs on.
type Deps struct {
	Store     reminder.Store
	Snoozes   reminder.SnoozeRepository
	Settings  settings.Provider
	Calendar  calendar.Bridge
	Alarms    alarm.Platform
	Telephony call.Telephony // nil disables call simulation
	Notifier  call.Notifier
	Speech    call.SpeechFactory
	Audio     call.AudioController
	Clock     call.Clock
	Metrics   Metrics
	Logger    *logrus.Entry
}

// Options tune the engine.
type Options struct {
	SyncInterval time.Duration
	Dispatcher   DispatcherConfig
}

// Engine wires the services together and owns their lifecycle.
type Engine struct {
	Reminders  *ReminderService
	Dispatcher *Dispatcher
	Snooze     *SnoozeCoordinator
	Scheduler  *DeliveryScheduler
	Sync       *CalendarSyncRunner
	Exporter   *CalendarExporter
	Timers     *TimerService
	Collection *Collection

	log *logrus.Entry
}

func NewEngine(d Deps, opts Options) *Engine {
	if d.Clock == nil {
		d.Clock = call.RealClock()
	}
	if d.Logger == nil {
		d.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	timers := NewTimerService(d.Alarms, d.Logger)
	scheduler := NewDeliveryScheduler(timers, d.Clock, d.Logger)
	collection := NewCollection(d.Store, d.Logger)
	snooze := NewSnoozeCoordinator(d.Snoozes, d.Settings, scheduler, d.Clock, d.Metrics, d.Logger)
	var exporter *CalendarExporter
	if d.Calendar != nil {
		exporter = NewCalendarExporter(d.Calendar, d.Store, d.Metrics, d.Logger)
	}
	locks := newKeyedLocks()

	dispatcher := NewDispatcher(DispatcherDeps{
		Store:      d.Store,
		Settings:   d.Settings,
		Scheduler:  scheduler,
		Snooze:     snooze,
		Exporter:   exporter,
		Collection: collection,
		Telephony:  d.Telephony,
		Notifier:   d.Notifier,
		Speech:     d.Speech,
		Audio:      d.Audio,
		Clock:      d.Clock,
		Locks:      locks,
		Metrics:    d.Metrics,
		Logger:     d.Logger,
	}, opts.Dispatcher)

	reminders := NewReminderService(ReminderServiceDeps{
		Store:      d.Store,
		Settings:   d.Settings,
		Scheduler:  scheduler,
		Snooze:     snooze,
		Exporter:   exporter,
		Collection: collection,
		Aborter:    dispatcher,
		Clock:      d.Clock,
		Locks:      locks,
		Logger:     d.Logger,
	})

	var syncRunner *CalendarSyncRunner
	if d.Calendar != nil {
		syncRunner = NewCalendarSyncRunner(CalendarSyncDeps{
			Store:      d.Store,
			Bridge:     d.Calendar,
			Exporter:   exporter,
			Settings:   d.Settings,
			Scheduler:  scheduler,
			Timers:     timers,
			Collection: collection,
			Clock:      d.Clock,
			Locks:      locks,
			Metrics:    d.Metrics,
			Logger:     d.Logger,
		}, opts.SyncInterval)
	}

	return &Engine{
		Reminders:  reminders,
		Dispatcher: dispatcher,
		Snooze:     snooze,
		Scheduler:  scheduler,
		Sync:       syncRunner,
		Exporter:   exporter,
		Timers:     timers,
		Collection: collection,
		log:        d.Logger.WithField("component", "engine"),
	}
}

// Start cleans up and catches up stored reminders, then registers every
// future fire and arms the calendar sync tick. Registration is
// unconditional so timers lost with the previous process are restored.
func (e *Engine) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := e.Reminders.RemovePast(gctx)
		return err
	})
	g.Go(func() error {
		_, err := e.Reminders.CatchUpRepeating(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("prepare reminders: %w", err)
	}

	n, err := e.Reminders.RescheduleAll(ctx)
	if err != nil {
		return fmt.Errorf("register reminder fires: %w", err)
	}
	e.log.WithField("count", n).Info("Reminder fires registered")

	if e.Sync != nil {
		if err := e.Sync.ScheduleNext(ctx); err != nil {
			e.log.WithError(err).Error("Could not arm calendar sync tick")
		}
	}
	e.Collection.Publish(ctx)
	return nil
}

// HandleFire is the alarm platform receiver.
func (e *Engine) HandleFire(ctx context.Context, token alarm.Token, payload alarm.Payload) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("token", token.String()).Errorf("Recovered from panic in timer receiver: %v", r)
		}
	}()

	if token.Purpose == alarm.PurposeCalendarSync {
		if e.Sync != nil {
			e.Sync.HandleTick(ctx)
		}
		return
	}
	e.Dispatcher.HandleFire(ctx, token, payload)
}

// Housekeeping removes past reminders (when enabled) and prunes the import
// ledger. Run periodically by the process scheduler.
func (e *Engine) Housekeeping(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := e.Reminders.RemovePast(gctx)
		return err
	})
	if e.Sync != nil {
		g.Go(func() error {
			_, err := e.Sync.PruneLedger(gctx)
			return err
		})
	}
	return g.Wait()
}

// Shutdown ends every in-flight delivery, restoring audio state.
func (e *Engine) Shutdown() {
	e.Dispatcher.Shutdown()
	e.log.Info("Engine stopped")
}
