package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/user/examslots/internal/bot"
	"github.com/user/examslots/internal/config"
	"github.com/user/examslots/internal/crawler"
	"github.com/user/examslots/internal/notify"
	"github.com/user/examslots/internal/reconcile"
	"github.com/user/examslots/internal/runlock"
	"github.com/user/examslots/internal/scheduler"
	"github.com/user/examslots/internal/server"
	"github.com/user/examslots/internal/store"
)

const (
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()
	gin.SetMode(gin.ReleaseMode)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sqlStore, err := store.NewSQLStore(&cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	log.Info().Str("driver", cfg.DB.Driver).Msg("Database connection established")

	httpCrawler, err := crawler.NewHTTPCrawler(crawler.ConfigFrom(&cfg.Scraper))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create crawler")
	}
	log.Info().Msg("Crawler initialized")

	locker, err := runlock.New(&cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize run lock")
	}

	mailer := notify.NewMailer(cfg.Mail.APIKey, cfg.Mail.From)
	notifier := notify.NewService(sqlStore, mailer, cfg.Server.BaseURL, cfg.Mail.RateLimit)
	log.Info().Msg("Notification service initialized")

	engine := reconcile.NewEngine(sqlStore, notifier, cfg.Scraper.NotifyPolicy)
	sched := scheduler.NewScheduler(httpCrawler, engine, sqlStore, locker, &cfg.Scraper)

	var telegramClient *bot.Client
	if cfg.Bot.Token != "" {
		telegramClient, err = bot.NewClient(cfg.Bot.Token)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Telegram client")
		}
		botHandler := bot.NewHandler(sqlStore, sched, telegramClient, cfg.Bot.AdminChatID)
		sched.SetReporter(botHandler)

		go func() {
			log.Info().Msg("Starting Telegram bot polling")
			for update := range telegramClient.GetUpdates() {
				botHandler.HandleUpdate(ctx, update)
			}
		}()
	} else {
		log.Info().Msg("TELEGRAM_BOT_TOKEN not set, admin bot disabled")
	}

	httpServer := server.NewServer(sqlStore, sched, notifier, &cfg.Server)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.Start(cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	sched.Start(ctx)

	log.Info().Msg("Exam slots service started successfully")

	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer shutdownCancel()

	log.Info().Msg("Starting graceful shutdown...")

	cancel()
	sched.Stop()

	if telegramClient != nil {
		telegramClient.StopReceivingUpdates()
		log.Info().Msg("Telegram bot polling stopped")
	}

	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping HTTP server")
	} else {
		log.Info().Msg("HTTP server stopped")
	}

	if err := httpCrawler.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing crawler")
	} else {
		log.Info().Msg("Crawler closed")
	}

	if closer, ok := locker.(*runlock.RedisLocker); ok {
		if err := closer.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing redis connection")
		}
	}

	if err := sqlStore.Close(); err != nil {
		log.Error().Err(err).Msg("Error closing database connection")
	} else {
		log.Info().Msg("Database connection closed")
	}

	select {
	case <-shutdownCtx.Done():
		if shutdownCtx.Err() == context.DeadlineExceeded {
			log.Warn().Msg("Shutdown timeout exceeded, forcing exit")
		}
	default:
		log.Info().Msg("Graceful shutdown completed")
	}
}
