package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

var ErrNoActiveDelivery = fmt.Errorf("no active delivery for reminder")

// DispatcherConfig is the static part of the call setup.
type DispatcherConfig struct {
	Account call.PhoneAccount
	Device  call.DeviceInfo
	Routing call.RoutingPolicy
	Locale  string
}

// Dispatcher turns timer fires into delivery sessions: a simulated call
// when possible, a full-screen notification otherwise. At most one session
// per reminder is active; a new fire replaces the one in flight.
type Dispatcher struct {
	store      reminder.Repository
	settings   settings.Provider
	scheduler  *DeliveryScheduler
	snooze     *SnoozeCoordinator
	exporter   *CalendarExporter
	collection *Collection
	telephony  call.Telephony // nil when call simulation is unavailable
	notifier   call.Notifier
	speech     call.SpeechFactory
	audio      call.AudioController
	clock      call.Clock
	cfg        DispatcherConfig
	locks      *keyedLocks
	notes      *keyedLocks
	metrics    Metrics
	log        *logrus.Entry

	mu     sync.Mutex
	active map[int64]*call.Session
	wg     sync.WaitGroup
}

// DispatcherDeps groups the collaborators of a Dispatcher.
type DispatcherDeps struct {
	Store      reminder.Repository
	Settings   settings.Provider
	Scheduler  *DeliveryScheduler
	Snooze     *SnoozeCoordinator
	Exporter   *CalendarExporter
	Collection *Collection
	Telephony  call.Telephony
	Notifier   call.Notifier
	Speech     call.SpeechFactory
	Audio      call.AudioController
	Clock      call.Clock
	Locks      *keyedLocks
	Metrics    Metrics
	Logger     *logrus.Entry
}

func NewDispatcher(d DispatcherDeps, cfg DispatcherConfig) *Dispatcher {
	if cfg.Routing.ByManufacturer == nil {
		cfg.Routing = call.DefaultRoutingPolicy()
	}
	if d.Locks == nil {
		d.Locks = newKeyedLocks()
	}
	return &Dispatcher{
		store:      d.Store,
		settings:   d.Settings,
		scheduler:  d.Scheduler,
		snooze:     d.Snooze,
		exporter:   d.Exporter,
		collection: d.Collection,
		telephony:  d.Telephony,
		notifier:   d.Notifier,
		speech:     d.Speech,
		audio:      d.Audio,
		clock:      d.Clock,
		cfg:        cfg,
		locks:      d.Locks,
		notes:      newKeyedLocks(),
		metrics:    orNop(d.Metrics),
		log:        d.Logger.WithField("component", "dispatcher"),
		active:     make(map[int64]*call.Session),
	}
}

// HandleFire delivers a reminder or snooze fire. It never panics and never
// returns an error to the platform: failures are logged.
func (d *Dispatcher) HandleFire(ctx context.Context, token alarm.Token, payload alarm.Payload) {
	entry := d.log.WithFields(logrus.Fields{"reminder_id": payload.ReminderID, "token": token.String()})
	defer func() {
		if r := recover(); r != nil {
			entry.Errorf("Recovered from panic while delivering reminder: %v", r)
		}
	}()

	switch token.Purpose {
	case alarm.PurposeFire:
		d.deliver(ctx, payload, true)
	case alarm.PurposeSnooze:
		d.deliver(ctx, payload, false)
	default:
		entry.Warn("Dispatcher received a timer it does not handle")
	}
}

func (d *Dispatcher) deliver(ctx context.Context, payload alarm.Payload, primary bool) {
	id := payload.ReminderID
	entry := d.log.WithField("reminder_id", id)

	message := payload.Message
	r, err := d.store.GetByID(ctx, id)
	switch {
	case errors.Is(err, reminder.ErrReminderNotFound):
		entry.Info("Reminder no longer exists, fire dropped")
		return
	case err != nil:
		entry.WithError(err).Warn("Could not load reminder, delivering timer payload")
	default:
		message = r.Message
		if primary {
			d.advance(ctx, r)
		}
	}
	if primary {
		// a primary fire starts a fresh snooze budget
		if err := d.snooze.CancelSnooze(ctx, id); err != nil {
			entry.WithError(err).Warn("Could not reset snooze budget")
		}
	}
	if strings.TrimSpace(message) == "" {
		message = reminder.DefaultMessage
	}

	s, err := d.settings.Current(ctx)
	if err != nil {
		entry.WithError(err).Warn("Could not read settings, using defaults")
		s = settings.Defaults()
	}

	hooks := &sessionHooks{d: d}
	sess := call.NewSession(call.Config{
		ReminderID: id,
		Message:    message,
		SpeakDelay: s.SpeakDelay(),
		SpeechRate: s.SpeechRate,
		Engine:     s.SpeechEngine,
		Locale:     d.cfg.Locale,
		Device:     d.cfg.Device,
		Routing:    d.cfg.Routing,
	}, call.Deps{
		Clock:  d.clock,
		Speech: d.speech,
		Audio:  d.audio,
		Hooks:  hooks,
		Logger: d.log.WithField("component", "call"),
	})
	hooks.session = sess
	d.replace(id, sess)

	if s.UseCallDelivery && d.telephony != nil {
		conn, err := d.placeCall(ctx, call.NewRequest(d.cfg.Account, id, message), sess)
		if err == nil {
			d.metrics.DeliveryStarted(call.PathCall.String())
			sess.Handle(call.Registered{Conn: conn})
			return
		}
		entry.WithError(err).Warn("Call could not be placed, falling back to notification")
	}

	if err := d.postFallback(ctx, id, message); err != nil {
		entry.WithError(err).Error("Fallback notification failed, reminder not delivered")
		sess.Abort()
		return
	}
	d.metrics.DeliveryStarted(call.PathNotification.String())
	sess.Handle(call.FallbackPosted{})
}

// advance moves a repeating reminder to its next future occurrence and
// re-registers its fire.
func (d *Dispatcher) advance(ctx context.Context, r *reminder.Reminder) {
	if !r.Repeat.Repeats() {
		return
	}
	unlock := d.locks.Lock(r.ID)
	defer unlock()

	entry := d.log.WithField("reminder_id", r.ID)
	current, err := d.store.GetByID(ctx, r.ID)
	if err != nil {
		entry.WithError(err).Warn("Could not reload reminder to advance it")
		return
	}
	current.DueAt = reminder.NextFutureOccurrence(current.DueAt, current.Repeat, d.clock.Now())
	if err := d.store.Update(ctx, current); err != nil {
		entry.WithError(err).Error("Could not store next occurrence")
		return
	}
	if _, err := d.scheduler.Schedule(ctx, current); err != nil {
		entry.WithError(err).Error("Could not schedule next occurrence")
	}
	if d.exporter != nil {
		if s, err := d.settings.Current(ctx); err == nil {
			if err := d.exporter.Sync(ctx, current, s); err != nil {
				entry.WithError(err).Warn("Could not move mirrored calendar event")
			}
		}
	}
	if d.collection != nil {
		d.collection.Publish(ctx)
	}
	entry.WithField("next", current.DueAt).Info("Repeating reminder advanced")
}

func (d *Dispatcher) placeCall(ctx context.Context, req call.Request, l call.Listener) (conn call.Connection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telephony panic: %v", r)
		}
	}()
	conn, err = d.telephony.AddIncomingCall(ctx, req, l)
	if err == nil && conn == nil {
		err = fmt.Errorf("telephony returned no connection")
	}
	return conn, err
}

func (d *Dispatcher) postFallback(ctx context.Context, id int64, message string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	if d.notifier == nil {
		return fmt.Errorf("no notifier configured")
	}
	unlock := d.notes.Lock(id)
	defer unlock()
	return d.notifier.PostFullScreen(ctx, call.FullScreenNotification{
		ReminderID: id,
		Title:      "Reminder",
		Message:    message,
		Category:   "call",
		Priority:   "max",
	})
}

func (d *Dispatcher) replace(id int64, sess *call.Session) {
	d.mu.Lock()
	old := d.active[id]
	d.active[id] = sess
	d.mu.Unlock()

	if old != nil {
		d.log.WithField("reminder_id", id).Info("Replacing in-flight delivery")
		old.Abort()
	}
}

// Active returns the in-flight session for a reminder.
func (d *Dispatcher) Active(id int64) (*call.Session, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.active[id]
	return s, ok
}

// OpenFallback starts the announcement for a fallback notification.
func (d *Dispatcher) OpenFallback(_ context.Context, id int64) error {
	sess, ok := d.Active(id)
	if !ok {
		return ErrNoActiveDelivery
	}
	sess.Handle(call.Opened{})
	return nil
}

// DismissFallback declines a fallback notification.
func (d *Dispatcher) DismissFallback(_ context.Context, id int64) error {
	sess, ok := d.Active(id)
	if !ok {
		return ErrNoActiveDelivery
	}
	sess.Handle(call.Declined{})
	return nil
}

// AbortDelivery ends the in-flight session for a reminder, if any.
func (d *Dispatcher) AbortDelivery(id int64) {
	if sess, ok := d.Active(id); ok {
		sess.Abort()
	}
}

// Shutdown aborts every in-flight session and waits for background work.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	sessions := make([]*call.Session, 0, len(d.active))
	for _, s := range d.active {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		s.Abort()
	}
	d.Wait()
}

// Wait blocks until background work started by sessions has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) background(what string, fn func(ctx context.Context)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("task", what).Errorf("Recovered from panic: %v", r)
			}
		}()
		fn(context.Background())
	}()
}

// sessionHooks binds session outcomes back to the dispatcher. Storage work
// runs in the background so the session loop never waits on I/O.
type sessionHooks struct {
	d       *Dispatcher
	session *call.Session
}

func (h *sessionHooks) Declined(id int64, message string) {
	h.d.background("snooze", func(ctx context.Context) {
		if _, err := h.d.snooze.TryScheduleSnooze(ctx, id, message); err != nil {
			h.d.log.WithError(err).WithField("reminder_id", id).Error("Snooze scheduling failed")
		}
	})
}

// dismissNotification cancels the fallback notification of id unless a
// newer session has taken the reminder over. Notifications are keyed by
// reminder id, so cancelling then would strip the newer one.
func (d *Dispatcher) dismissNotification(ctx context.Context, id int64, owner *call.Session) {
	unlock := d.notes.Lock(id)
	defer unlock()

	d.mu.Lock()
	current, ok := d.active[id]
	d.mu.Unlock()
	if ok && current != owner {
		d.log.WithField("reminder_id", id).Debug("Notification belongs to a newer delivery, kept")
		return
	}
	if err := d.notifier.Cancel(ctx, id); err != nil {
		d.log.WithError(err).WithField("reminder_id", id).Warn("Could not dismiss notification")
	}
}

func (h *sessionHooks) Finished(res call.Result) {
	h.d.mu.Lock()
	if h.d.active[res.ReminderID] == h.session {
		delete(h.d.active, res.ReminderID)
	}
	h.d.mu.Unlock()

	h.d.metrics.DeliveryFinished(res.Path.String(), res.Outcome.String())

	if res.Path == call.PathNotification && h.d.notifier != nil {
		h.d.background("dismiss notification", func(ctx context.Context) {
			h.d.dismissNotification(ctx, res.ReminderID, h.session)
		})
	}
	if res.Outcome.Delivered() {
		h.d.background("clear snooze", func(ctx context.Context) {
			if err := h.d.snooze.CancelSnooze(ctx, res.ReminderID); err != nil {
				h.d.log.WithError(err).WithField("reminder_id", res.ReminderID).Warn("Could not clear snooze budget")
			}
		})
	}
}
