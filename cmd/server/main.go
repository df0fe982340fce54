package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/yegors/afkfleet/internal/accounts"
	"github.com/yegors/afkfleet/internal/api"
	"github.com/yegors/afkfleet/internal/clock"
	"github.com/yegors/afkfleet/internal/command"
	"github.com/yegors/afkfleet/internal/config"
	"github.com/yegors/afkfleet/internal/fleet"
	"github.com/yegors/afkfleet/internal/game/bridge"
	"github.com/yegors/afkfleet/internal/notify"
	"github.com/yegors/afkfleet/internal/session"
	"github.com/yegors/afkfleet/internal/storage/sqlite"
	"github.com/yegors/afkfleet/internal/websocket"
	"github.com/yegors/afkfleet/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "afkfleet: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("afkfleet", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	accountsPath := flags.String("accounts", "", "Path to the accounts file (overrides accounts.path)")
	logLevel := flags.String("log-level", "", "Log level override: debug, info, warn, error")
	noAutoStart := flags.Bool("no-autostart", false, "Provision slots without connecting them")
	showVersion := flags.Bool("version", false, "Print the version and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if *showVersion {
		fmt.Println(Version)
		return nil
	}

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if *accountsPath != "" {
		cfg.Accounts.Path = *accountsPath
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *noAutoStart {
		cfg.Fleet.AutoStart = false
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting afkfleet",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
		logger.String("server", fmt.Sprintf("%s:%d", cfg.Game.Host, cfg.Game.Port)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Accounts
	accountStore, err := accounts.Load(cfg.Accounts.Path)
	if err != nil {
		return fmt.Errorf("loading accounts: %w", err)
	}
	log.Info("Loaded accounts",
		logger.String("path", cfg.Accounts.Path),
		logger.Int("count", len(accountStore.List())))

	// Notifications: log, operator hub and (optionally) the event log
	wsServer := websocket.NewServer(log)
	go wsServer.Run(ctx)

	broadcaster := notify.NewBroadcaster(cfg.Fleet.NotifyQueueSize, log, notify.NewLogSink(log), wsServer)

	var (
		events *sqlite.EventStore
		stats  fleet.StatsStore
	)
	if cfg.Storage.SQLitePath != "" {
		db, err := sqlite.Open(cfg.Storage.SQLitePath, log)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer db.Close()

		events = db.Events()
		stats = db
		broadcaster.AddSink(events)

		if cfg.Storage.EventsRetainDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.Storage.EventsRetainDays)
			if _, err := events.Prune(cutoff); err != nil {
				log.Warn("Failed to prune old events", logger.Error(err))
			}
		}
	} else {
		log.Info("Persistence disabled, events and stats are kept in memory only")
	}
	broadcaster.Start(ctx)

	// Game bridge
	dialer := bridge.NewDialer(bridge.Config{
		URL:         cfg.Game.BridgeURL,
		DialTimeout: time.Duration(cfg.Game.DialTimeoutSecs) * time.Second,
	}, log)

	f, err := fleet.New(fleet.Config{
		AutoStart:          cfg.Fleet.AutoStart,
		StartStagger:       time.Duration(cfg.Fleet.StartStaggerMs) * time.Millisecond,
		StatsFlushInterval: time.Duration(cfg.Fleet.StatsFlushSecs) * time.Second,
	}, cfg.Policy(), accountStore, stats, session.Deps{
		Dialer:   dialer,
		Clock:    clock.Real(),
		Notifier: broadcaster,
	}, log)
	if err != nil {
		return fmt.Errorf("creating fleet: %w", err)
	}
	if err := f.Start(ctx); err != nil {
		return fmt.Errorf("starting fleet: %w", err)
	}

	// Control surface
	dispatcher := command.NewDispatcher(f, log)
	wsServer.SetMessageHandler(websocket.NewCommandHandler(dispatcher.Execute))

	var eventLister api.EventLister
	if events != nil {
		eventLister = events
	}
	handler := api.NewHandler(f, dispatcher, eventLister, wsServer, cfg.Storage.EventsListLimit, Version, log)
	router := api.NewRouter(handler, api.RouterConfig{
		APIToken:           cfg.Server.APIToken,
		CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if cfg.Server.APIToken == "" {
			log.Warn("API token is empty, the control surface is unauthenticated")
		}
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("Shutting down", logger.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("HTTP server error", logger.Error(err))
		runErr = err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Stopping fleet...")
	if err := f.Stop(); err != nil {
		log.Error("Failed to persist stats on shutdown", logger.Error(err))
	}

	// Deliver the final disconnect notifications before closing storage
	broadcaster.Stop()
	cancel()

	log.Info("Server fully stopped",
		logger.Int64("dropped_notifications", broadcaster.Dropped()))
	return runErr
}
