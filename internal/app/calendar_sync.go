package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/alarm"
	"call_reminder/internal/domain/calendar"
	"call_reminder/internal/domain/reminder"
	"call_reminder/internal/domain/settings"
)

const (
	// DefaultSyncInterval is the period of the self-rescheduling sync tick.
	DefaultSyncInterval = 30 * time.Second
	// ledgerGrace keeps ledger entries this long after their instance began.
	ledgerGrace = 24 * time.Hour
)

var ErrSyncInProgress = fmt.Errorf("calendar sync already running")

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Imported   int
	Skipped    int
	Failed     int
	Exported   int
	Unexported int
}

// CalendarSyncRunner imports future calendar instances as reminders and
// catches up on mirroring reminders into the calendar.
type CalendarSyncRunner struct {
	store      reminder.Store
	bridge     calendar.Bridge
	exporter   *CalendarExporter
	settings   settings.Provider
	scheduler  *DeliveryScheduler
	timers     *TimerService
	collection *Collection
	clock      call.Clock
	interval   time.Duration
	locks      *keyedLocks
	metrics    Metrics
	log        *logrus.Entry

	running sync.Mutex
}

// CalendarSyncDeps groups the collaborators of a CalendarSyncRunner.
type CalendarSyncDeps struct {
	Store      reminder.Store
	Bridge     calendar.Bridge
	Exporter   *CalendarExporter
	Settings   settings.Provider
	Scheduler  *DeliveryScheduler
	Timers     *TimerService
	Collection *Collection
	Clock      call.Clock
	Locks      *keyedLocks
	Metrics    Metrics
	Logger     *logrus.Entry
}

func NewCalendarSyncRunner(d CalendarSyncDeps, interval time.Duration) *CalendarSyncRunner {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if d.Locks == nil {
		d.Locks = newKeyedLocks()
	}
	return &CalendarSyncRunner{
		store:      d.Store,
		bridge:     d.Bridge,
		exporter:   d.Exporter,
		settings:   d.Settings,
		scheduler:  d.Scheduler,
		timers:     d.Timers,
		collection: d.Collection,
		clock:      d.Clock,
		interval:   interval,
		locks:      d.Locks,
		metrics:    orNop(d.Metrics),
		log:        d.Logger.WithField("component", "calendar_sync"),
	}
}

// Run performs one sync pass. Passes never overlap; a pass requested while
// another is running returns ErrSyncInProgress. Per-instance failures are
// counted and skipped.
func (r *CalendarSyncRunner) Run(ctx context.Context, trigger string) (SyncReport, error) {
	if !r.running.TryLock() {
		return SyncReport{}, ErrSyncInProgress
	}
	defer r.running.Unlock()

	rep, err := r.run(ctx)
	r.metrics.SyncCompleted(trigger, err)

	entry := r.log.WithFields(logrus.Fields{
		"trigger":    trigger,
		"imported":   rep.Imported,
		"skipped":    rep.Skipped,
		"failed":     rep.Failed,
		"exported":   rep.Exported,
		"unexported": rep.Unexported,
	})
	if err != nil {
		entry.WithError(err).Warn("Calendar sync pass failed")
	} else if rep.Imported+rep.Failed+rep.Exported+rep.Unexported > 0 {
		entry.Info("Calendar sync pass finished")
	} else {
		entry.Debug("Calendar sync pass finished")
	}
	return rep, err
}

func (r *CalendarSyncRunner) run(ctx context.Context) (SyncReport, error) {
	var rep SyncReport

	s, err := r.settings.Current(ctx)
	if err != nil {
		return rep, fmt.Errorf("read settings: %w", err)
	}

	var importErr error
	if s.SyncFromCalendar {
		importErr = r.importInstances(ctx, s, &rep)
	}
	exportErr := r.exportPass(ctx, s, &rep)

	if rep.Imported > 0 && r.collection != nil {
		r.collection.Publish(ctx)
	}
	if rep.Imported > 0 {
		r.metrics.CalendarImported(rep.Imported)
	}
	if importErr != nil {
		return rep, importErr
	}
	return rep, exportErr
}

func (r *CalendarSyncRunner) importInstances(ctx context.Context, s settings.Settings, rep *SyncReport) error {
	if r.exporter != nil {
		// a mirror between insert and mapping would look foreign
		release := r.exporter.pauseInserts()
		defer release()
	}

	now := r.clock.Now()
	instances, err := r.bridge.QueryFutureInstances(ctx, now, now.Add(calendar.SyncWindow), s.ReadCalendarID)
	if err != nil {
		return fmt.Errorf("query calendar instances: %w", err)
	}

	seen := make(map[string]struct{}, len(instances))
	for _, inst := range instances {
		key := reminder.LedgerKey(inst.EventID, inst.Begin)
		if _, dup := seen[key]; dup {
			rep.Skipped++
			continue
		}
		seen[key] = struct{}{}

		imported, err := r.importOne(ctx, inst)
		if err != nil {
			rep.Failed++
			r.log.WithError(err).WithFields(logrus.Fields{"event_id": inst.EventID, "begin": inst.Begin}).Warn("Calendar instance import failed")
			continue
		}
		if imported {
			rep.Imported++
		} else {
			rep.Skipped++
		}
	}
	return nil
}

// importOne creates a reminder for inst unless it mirrors one of ours or
// was imported before. The ledger entry is written last, after the reminder
// exists and its fire is registered.
func (r *CalendarSyncRunner) importOne(ctx context.Context, inst calendar.Instance) (bool, error) {
	mapped, err := r.store.IsEventMapped(ctx, inst.EventID)
	if err != nil {
		return false, fmt.Errorf("check event mapping: %w", err)
	}
	if mapped {
		return false, nil
	}
	done, err := r.store.IsImported(ctx, inst.EventID, inst.Begin)
	if err != nil {
		return false, fmt.Errorf("check import ledger: %w", err)
	}
	if done {
		return false, nil
	}

	title := strings.TrimSpace(inst.Title)
	if title == "" {
		title = calendar.DefaultTitle
	}
	rem := &reminder.Reminder{
		Message: title,
		DueAt:   reminder.TruncateMillis(inst.Begin),
		Repeat:  reminder.RepeatNone,
		Source:  reminder.SourceCalendar,
	}
	if err := r.store.Add(ctx, rem); err != nil {
		return false, fmt.Errorf("create reminder: %w", err)
	}
	if _, err := r.scheduler.Schedule(ctx, rem); err != nil {
		r.log.WithError(err).WithField("reminder_id", rem.ID).Warn("Imported reminder not scheduled")
	}
	if err := r.store.RecordImported(ctx, inst.EventID, inst.Begin); err != nil {
		return true, fmt.Errorf("record import of reminder %d: %w", rem.ID, err)
	}
	return true, nil
}

func (r *CalendarSyncRunner) exportPass(ctx context.Context, s settings.Settings, rep *SyncReport) error {
	if r.exporter == nil {
		return nil
	}
	all, err := r.store.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("list reminders: %w", err)
	}

	for _, rem := range all {
		if !rem.ExportsToCalendar() {
			continue
		}
		r.exportOne(ctx, rem.ID, s, rep)
	}
	return nil
}

// exportOne reconciles the mirror of one reminder under its lock. The
// reminder is re-read so a concurrent edit or delete wins over the snapshot.
func (r *CalendarSyncRunner) exportOne(ctx context.Context, id int64, s settings.Settings, rep *SyncReport) {
	unlock := r.locks.Lock(id)
	defer unlock()

	entry := r.log.WithField("reminder_id", id)
	rem, err := r.store.GetByID(ctx, id)
	if errors.Is(err, reminder.ErrReminderNotFound) {
		return
	}
	if err != nil {
		rep.Failed++
		entry.WithError(err).Warn("Could not reload reminder for export")
		return
	}
	if !rem.ExportsToCalendar() {
		return
	}
	_, mapped, err := r.store.GetEventIDFor(ctx, id)
	if err != nil {
		rep.Failed++
		return
	}

	switch {
	case s.AddToCalendar && !mapped && rem.IsFuture(r.clock.Now()):
		if err := r.exporter.Sync(ctx, rem, s); err != nil {
			rep.Failed++
			entry.WithError(err).Warn("Reminder export failed")
			return
		}
		rep.Exported++
	case !s.AddToCalendar && mapped:
		if err := r.exporter.Remove(ctx, id); err != nil {
			rep.Failed++
			entry.WithError(err).Warn("Mirror removal failed")
			return
		}
		rep.Unexported++
	}
}

// ScheduleNext arms the next sync tick.
func (r *CalendarSyncRunner) ScheduleNext(ctx context.Context) error {
	at := r.clock.Now().Add(r.interval)
	return r.timers.ScheduleExact(ctx, at, alarm.SyncToken(), alarm.Payload{})
}

// Cancel disarms the sync tick.
func (r *CalendarSyncRunner) Cancel(ctx context.Context) {
	r.timers.Cancel(ctx, alarm.SyncToken())
}

// HandleTick runs a pass and re-arms the tick while sync or export is on.
func (r *CalendarSyncRunner) HandleTick(ctx context.Context) {
	s, err := r.settings.Current(ctx)
	if err != nil {
		r.log.WithError(err).Warn("Could not read settings on sync tick, re-arming")
	} else if !s.SyncFromCalendar && !s.AddToCalendar {
		r.log.Info("Calendar sync disabled, tick not re-armed")
		return
	}

	if _, err := r.Run(ctx, "tick"); err != nil && !errors.Is(err, ErrSyncInProgress) {
		r.log.WithError(err).Debug("Sync tick pass returned error")
	}
	if err := r.ScheduleNext(ctx); err != nil {
		r.log.WithError(err).Error("Could not re-arm calendar sync tick")
	}
}

// PruneLedger drops ledger entries for instances that began long enough
// ago that no future query window can contain them.
func (r *CalendarSyncRunner) PruneLedger(ctx context.Context) (int64, error) {
	n, err := r.store.PruneImported(ctx, r.clock.Now().Add(-ledgerGrace))
	if err != nil {
		return 0, fmt.Errorf("prune import ledger: %w", err)
	}
	if n > 0 {
		r.log.WithField("pruned", n).Info("Import ledger pruned")
	}
	return n, nil
}
