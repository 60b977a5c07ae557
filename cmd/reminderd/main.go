package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"

	"call_reminder/internal/app"
	"call_reminder/internal/app/call"
	"call_reminder/internal/domain/calendar"
	ialarm "call_reminder/internal/infra/alarm"
	"call_reminder/internal/infra/audio"
	icalendar "call_reminder/internal/infra/calendar"
	"call_reminder/internal/infra/config"
	idb "call_reminder/internal/infra/database"
	"call_reminder/internal/infra/logger"
	"call_reminder/internal/infra/metrics"
	"call_reminder/internal/infra/scheduler"
	"call_reminder/internal/infra/telegram"
)

const (
	startupTimeout  = time.Minute
	shutdownTimeout = 10 * time.Second
	localCalendarID = "local"
	speechLocale    = "en-US"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("FATAL: Could not load application configuration: %v", err)
	}
	logger.Init(cfg)
	mainLogger := logger.Component("main")
	mainLogger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"bot":         cfg.TelegramToken != "",
		"calendar":    cfg.CalendarEnabled,
	}).Info("Reminder daemon starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Database Connection
	db, err := idb.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not connect to database")
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(ctx, startupTimeout)
	err = idb.Migrate(migrateCtx, db)
	migrateCancel()
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not apply database schema")
	}
	mainLogger.Info("Database connection established, schema up to date.")

	// Initialize Repositories
	reminderRepo := idb.NewPostgresReminderRepository(db)
	snoozeRepo := idb.NewPostgresSnoozeRepository(db)
	settingsRepo := idb.NewPostgresSettingsRepository(db, cfg.Defaults, logger.Component("settings"))

	routing, err := config.LoadRoutingPolicy(cfg.AudioRoutingFile)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not load audio routing table")
	}

	clock := call.RealClock()
	alarms := ialarm.NewLocalPlatform(clock, cfg.ExactAlarms, logger.Component("alarms"))

	var (
		bridge        calendar.Bridge
		calendars     telegram.CalendarLister
		localCalendar *icalendar.MemoryBridge
	)
	if cfg.CalendarEnabled {
		localCalendar = icalendar.NewMemoryBridge(calendar.Calendar{ID: localCalendarID, Name: cfg.CalendarName})
		gate := icalendar.NewGate(
			localCalendar,
			icalendar.NewGrants(cfg.CalendarRead, cfg.CalendarWrite),
			logger.Log.WithField("source", "calendar"),
		)
		bridge = gate
		calendars = gate
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := app.Deps{
		Store:    reminderRepo,
		Snoozes:  snoozeRepo,
		Settings: settingsRepo,
		Calendar: bridge,
		Alarms:   alarms,
		Audio:    audio.NewController(logger.Log.WithField("source", "audio")),
		Clock:    clock,
		Metrics:  metrics.NewRecorder(registry),
		Logger:   logger.Log.WithField("source", "engine"),
	}

	// Initialize Telegram Bot
	var (
		bot   *telebot.Bot
		calls *telegram.CallPlatform
	)
	if cfg.TelegramToken != "" {
		pref := telebot.Settings{
			Token:  cfg.TelegramToken,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
			OnError: func(err error, c telebot.Context) { // Global error handler
				entry := logger.Component("telebot").WithError(err)
				if c != nil && c.Sender() != nil && c.Chat() != nil {
					entry = entry.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID})
				}
				entry.Error("Telegram handler failed")
			},
		}
		bot, err = telebot.NewBot(pref)
		if err != nil {
			mainLogger.WithError(err).Fatal("Could not create Telegram bot")
		}
		client := telegram.NewTelebotAdapter(bot)
		tgLogger := logger.Log.WithField("source", "telegram")

		calls = telegram.NewCallPlatform(client, cfg.TelegramOwnerID, tgLogger)
		deps.Telephony = calls
		deps.Notifier = telegram.NewNotifier(client, cfg.TelegramOwnerID, tgLogger)
		deps.Speech = telegram.NewSpeechFactory(client, cfg.TelegramOwnerID, clock, tgLogger)
	} else {
		mainLogger.Warn("TELEGRAM_TOKEN not set: call simulation disabled, reminders are only logged")
		deps.Notifier = telegram.NewLogNotifier(logger.Log.WithField("source", "telegram"))
		deps.Speech = telegram.NewSpeechFactory(nil, 0, clock, logger.Log.WithField("source", "telegram"))
	}

	engine := app.NewEngine(deps, app.Options{
		SyncInterval: cfg.SyncInterval,
		Dispatcher: app.DispatcherConfig{
			Account: call.PhoneAccount{ID: cfg.PhoneAccountID, Label: "Reminders"},
			Device:  call.DeviceInfo{Manufacturer: cfg.DeviceVendor, Model: cfg.DeviceModel},
			Routing: routing,
			Locale:  speechLocale,
		},
	})
	alarms.SetReceiver(engine.HandleFire)

	startCtx, startCancel := context.WithTimeout(ctx, startupTimeout)
	err = engine.Start(startCtx)
	startCancel()
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not start reminder engine")
	}

	// The second sync tier runs only when calendar integration is on.
	var syncRunner scheduler.SyncRunner
	if engine.Sync != nil {
		syncRunner = engine.Sync
	}
	maintenance := scheduler.NewMaintenanceScheduler(
		syncRunner,
		engine,
		logger.Log.WithField("source", "maintenance"),
		cfg.SyncCronSpec,
		cfg.HousekeepingCron,
	)
	if err := maintenance.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start maintenance scheduler")
	}

	var metricsServer *metrics.Server
	if cfg.MetricsAddr != "" {
		metricsServer = metrics.NewServer(cfg.MetricsAddr, registry, logger.Log.WithField("source", "metrics"))
		metricsServer.Start()
	}

	if bot != nil {
		tgLogger := logger.Log.WithField("source", "telegram")
		commands := telegram.NewCommands(engine.Reminders, settingsRepo, calendars, clock, tgLogger)
		if localCalendar != nil && engine.Sync != nil {
			// /event stands in for the calendar app of the local calendar
			commands.WithEvents(localCalendar, localCalendarID, engine.Sync)
		}
		telegram.RegisterCommandHandlers(ctx, bot, commands, cfg.TelegramOwnerID, tgLogger)
		telegram.RegisterCallHandlers(ctx, bot, calls, engine.Dispatcher, cfg.TelegramOwnerID, tgLogger)
		mainLogger.Info("Telegram handlers registered.")

		// Start bot in a goroutine so it doesn't block graceful shutdown handling
		go bot.Start()
	}

	mainLogger.Info("Application setup complete.")

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit // Block until a signal is received

	mainLogger.WithField("signal", sig.String()).Info("Shutting down application...")
	cancel()
	if bot != nil {
		bot.Stop()
	}
	maintenance.Stop()
	alarms.Stop()
	engine.Shutdown()

	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			mainLogger.WithError(err).Warn("Metrics endpoint did not stop cleanly")
		}
		shutdownCancel()
	}
	mainLogger.Info("Application shut down gracefully.")
}
