// Package main is the entry point for the battlezone server: the Telegram
// bot, the admin HTTP API and the battle maintenance jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"battlezone/internal/battle"
	"battlezone/internal/bot"
	"battlezone/internal/config"
	"battlezone/internal/httpapi"
	"battlezone/internal/jobs"
	"battlezone/internal/metrics"
	"battlezone/internal/notify"
	"battlezone/internal/pkg/db"
	"battlezone/internal/questionbank"
	"battlezone/internal/repository"
	"battlezone/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	configDir := "config"
	if v := os.Getenv("BATTLEZONE_CONFIG_DIR"); v != "" {
		configDir = v
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	if err := db.Migrate(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	m := metrics.New()

	// The bot doubles as the notification transport, so it is created before
	// the dispatcher and gets its handlers once the services exist.
	var telegramBot *bot.Bot
	var sink notify.Sink = notify.LogSink{}
	if cfg.Bot.Token != "" {
		telegramBot, err = bot.New(cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create bot")
		}
		sink = notify.MultiSink{notify.LogSink{}, notify.NewTelegramSink(telegramBot.Sender(), cfg.Bot.AnnounceChatID)}
	} else {
		log.Warn().Msg("No bot token configured, notifications go to the log only")
	}

	dispatcher := notify.NewDispatcher(sink, notify.DispatcherConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Timeout:   cfg.Notify.Timeout,
		OnDrop: func(e notify.Event) {
			m.NotificationDropped(string(e.Type))
		},
		OnError: func(e notify.Event, _ error) {
			m.NotificationFailed(string(e.Type))
		},
	})

	players := repository.NewPlayerRepository(dbPool)
	txs := repository.NewTransactionRepository(dbPool)
	achievements := repository.NewAchievementRepository(dbPool)
	streaks := repository.NewStreakRepository(dbPool)
	battles := repository.NewBattleRepository(dbPool)

	loc, err := cfg.Progression.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid timezone")
	}

	currency := service.NewCurrency(players, txs)
	ledger := service.NewLedger(dbPool, players, dispatcher, m)
	achievementTracker := service.NewAchievementTracker(dbPool, achievements, ledger, dispatcher, m)
	streakTracker := service.NewStreakTracker(dbPool, players, streaks, ledger, dispatcher, m, service.StreakConfig{
		Location:      loc,
		RewardBase:    cfg.Progression.DailyRewardXP,
		MaxMultiplier: cfg.Progression.MaxStreakBonus,
	})
	playerService := service.NewPlayerService(dbPool, players, txs, achievements, currency, cfg.Progression.StartingCoins)

	rules, err := battle.RulesFromConfig(&cfg.Battle)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid battle rules")
	}

	deps := battle.Deps{
		Pool:         dbPool,
		Battles:      battles,
		Players:      players,
		Currency:     currency,
		Ledger:       ledger,
		Achievements: achievementTracker,
		Streaks:      streakTracker,
		Notifier:     dispatcher,
		Metrics:      m,
		Rules:        rules,
	}
	if bank, err := questionbank.Load(cfg.Questions.BankPath); err != nil {
		log.Warn().Err(err).Str("path", cfg.Questions.BankPath).Msg("Question bank unavailable, battles stay pending")
	} else {
		log.Info().Int("questions", bank.Size()).Msg("Question bank loaded")
		deps.Questions = bank
	}
	orchestrator := battle.NewOrchestrator(deps)

	scheduler, err := jobs.NewScheduler(orchestrator, jobs.Config{
		LobbyTTL:              cfg.Battle.LobbyTTL,
		LobbyExpiryInterval:   cfg.Jobs.LobbyExpiryInterval,
		QuestionRetryInterval: cfg.Jobs.QuestionRetryInterval,
		OverdueInterval:       cfg.Jobs.OverdueInterval,
		JudgeInterval:         cfg.Jobs.JudgeInterval,
		BatchSize:             cfg.Jobs.BatchSize,
	}, m)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	// catch up on anything left over from the previous run
	scheduler.RunOnce()
	scheduler.Start()

	api := &httpapi.Server{
		Battles:      orchestrator,
		Ranks:        ledger,
		Achievements: achievementTracker,
		Players:      playerService,
		Health:       dbPool.HealthCheck,
		Metrics:      m,
	}
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server failed")
			cancel()
		}
	}()

	if telegramBot != nil {
		telegramBot.Mount(&bot.Dependencies{
			Players:      playerService,
			Ranks:        ledger,
			Streaks:      streakTracker,
			Achievements: achievementTracker,
			Battles:      orchestrator,
			BattleAdmin:  orchestrator,
			Progress:     ledger,
			Metrics:      m,
		})
		go telegramBot.Start()
	}

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	if telegramBot != nil {
		telegramBot.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	if err := scheduler.Stop(); err != nil {
		log.Error().Err(err).Msg("Scheduler shutdown failed")
	}
	dispatcher.Stop()

	log.Info().Msg("Stopped gracefully")
}
