package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"call_reminder/internal/app"
)

const (
	syncJobTimeout         = 2 * time.Minute
	housekeepingJobTimeout = 5 * time.Minute
)

// SyncRunner is the calendar sync pass entry point.
type SyncRunner interface {
	Run(ctx context.Context, trigger string) (app.SyncReport, error)
}

// Housekeeper removes stale data.
type Housekeeper interface {
	Housekeeping(ctx context.Context) error
}

// MaintenanceScheduler runs the periodic jobs that back up the engine's own
// timers: the calendar sync pass (the second, platform-managed tier) and
// housekeeping.
type MaintenanceScheduler struct {
	cronEngine       *cron.Cron
	sync             SyncRunner
	housekeeper      Housekeeper
	logger           *logrus.Entry
	syncCronSpec     string
	housekeepingSpec string
}

func NewMaintenanceScheduler(
	sync SyncRunner,
	housekeeper Housekeeper,
	logger *logrus.Entry,
	syncCronSpec string, // e.g. "@every 15m"
	housekeepingSpec string, // e.g. "0 4 * * *" (04:00 daily)
) *MaintenanceScheduler {
	cronLogger := cron.VerbosePrintfLogger(logger.WithField("component", "cron"))
	return &MaintenanceScheduler{
		cronEngine: cron.New(
			cron.WithLocation(time.Local), // Use server's local time for cron
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		sync:             sync,
		housekeeper:      housekeeper,
		logger:           logger.WithField("component", "scheduler"),
		syncCronSpec:     syncCronSpec,
		housekeepingSpec: housekeepingSpec,
	}
}

// Start registers the jobs and starts the cron engine. An invalid spec is
// returned as an error and nothing is started.
func (s *MaintenanceScheduler) Start() error {
	s.logger.Info("Starting maintenance scheduler...")

	if s.sync != nil && s.syncCronSpec != "" {
		if _, err := s.cronEngine.AddFunc(s.syncCronSpec, s.runSync); err != nil {
			return fmt.Errorf("could not add calendar sync cron job: %w", err)
		}
	}
	if s.housekeeper != nil && s.housekeepingSpec != "" {
		if _, err := s.cronEngine.AddFunc(s.housekeepingSpec, s.runHousekeeping); err != nil {
			return fmt.Errorf("could not add housekeeping cron job: %w", err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithField("jobs", len(s.cronEngine.Entries())).Info("Maintenance scheduler started.")
	return nil
}

func (s *MaintenanceScheduler) runSync() {
	ctx, cancel := context.WithTimeout(context.Background(), syncJobTimeout)
	defer cancel()

	if _, err := s.sync.Run(ctx, "cron"); err != nil {
		if errors.Is(err, app.ErrSyncInProgress) {
			s.logger.Debug("Calendar sync already running, cron pass skipped")
			return
		}
		s.logger.WithError(err).Warn("Scheduled calendar sync failed")
	}
}

func (s *MaintenanceScheduler) runHousekeeping() {
	ctx, cancel := context.WithTimeout(context.Background(), housekeepingJobTimeout)
	defer cancel()

	if err := s.housekeeper.Housekeeping(ctx); err != nil {
		s.logger.WithError(err).Error("Housekeeping failed")
		return
	}
	s.logger.Info("Housekeeping finished")
}

func (s *MaintenanceScheduler) Stop() {
	s.logger.Info("Stopping maintenance scheduler...")
	ctx := s.cronEngine.Stop() // Stops the scheduler from adding new jobs, waits for running jobs.
	<-ctx.Done()
	s.logger.Info("Maintenance scheduler gracefully stopped.")
}
