package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/roasbeef/otpwatch/internal/build"
	"github.com/roasbeef/otpwatch/internal/config"
	"github.com/roasbeef/otpwatch/internal/control"
	"github.com/roasbeef/otpwatch/internal/db"
	"github.com/roasbeef/otpwatch/internal/engine"
	"github.com/roasbeef/otpwatch/internal/fetch/ivasms"
	"github.com/roasbeef/otpwatch/internal/notify"
	"github.com/roasbeef/otpwatch/internal/session"
	"github.com/roasbeef/otpwatch/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String(
		"config", config.GetConfigPath(), "Path to config file",
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("unable to load config: %w", err)
	}

	logger, logCloser, err := build.SetupLogging(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("unable to set up logging: %w", err)
	}
	defer logCloser.Close()

	logger.Info("Starting otpwatchd",
		"version", build.Version(),
		"commit", build.CommitHash(),
		"dry_run", cfg.DryRun,
	)

	database, err := db.Open(cfg.DBPath, logger)
	if err != nil {
		return fmt.Errorf("unable to open database: %w", err)
	}

	recordStore := store.NewSQLStore(database, logger)
	defer recordStore.Close()

	adapter, err := ivasms.NewClient(ivasms.Config{
		BaseURL:  cfg.UpstreamBaseURL,
		Email:    cfg.UpstreamEmail,
		Password: cfg.UpstreamPassword,
		Timeout:  cfg.FetchTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("unable to create upstream client: %w", err)
	}

	sessions := session.NewController(adapter, session.Config{
		MaxSessionAge: cfg.MaxSessionAge(),
	}, logger)

	// A dry run logs deliveries instead of sending them; everything
	// upstream of the endpoints behaves identically.
	var (
		endpoints []notify.Endpoint
		bot       *tgbotapi.BotAPI
	)
	if cfg.DryRun {
		endpoints = append(endpoints, notify.NewDryRunEndpoint(logger))
	} else {
		bot, err = tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return fmt.Errorf("unable to create telegram bot: %w",
				err)
		}
		logger.Info("Telegram bot authorized",
			"username", bot.Self.UserName,
		)

		for _, chatID := range cfg.ChatIDs {
			endpoints = append(
				endpoints,
				notify.NewTelegramEndpoint(bot, chatID),
			)
		}
	}

	fanout := notify.NewFanout(endpoints, logger)

	eng := engine.New(engine.Config{
		Scheduler: engine.SchedulerConfig{
			PollInterval: cfg.PollInterval(),
			FetchTimeout: cfg.FetchTimeout(),
			RetryCeiling: cfg.RetryCeiling,
			Backoff:      engine.NewBackoffPolicy(cfg.BackoffBase(), 0),
		},
		Housekeeper: engine.HousekeeperConfig{
			Retention:         cfg.Retention(),
			HeartbeatSchedule: cfg.HeartbeatSchedule,
		},
	}, sessions, adapter, recordStore, fanout, logger)

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer cancel()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("unable to start engine: %w", err)
	}

	// The admin command loop only runs with a real bot.
	if bot != nil && len(cfg.AdminIDs) > 0 {
		ctrl := control.NewController(bot, eng, cfg.AdminIDs, logger)
		go ctrl.Run(ctx)
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	stopCtx, stopCancel := context.WithTimeout(
		context.Background(), engine.DefaultFetchTimeout,
	)
	defer stopCancel()

	if err := eng.Stop(stopCtx); err != nil {
		log.Printf("Engine shutdown error: %v", err)
	}

	logger.Info("otpwatchd stopped")

	return nil
}
