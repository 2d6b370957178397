package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tazhate/tododav/config"
	"github.com/tazhate/tododav/internal/api"
	"github.com/tazhate/tododav/internal/bot"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/scheduler"
	"github.com/tazhate/tododav/internal/service"
	"github.com/tazhate/tododav/internal/storage"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", "err", err)
	}
	config.SetupLogging(os.Stderr, cfg.LogLevel, "tododav")

	settings, err := config.LoadSettings(cfg.SettingsPath)
	if err != nil {
		log.Fatal("failed to load settings", "path", cfg.SettingsPath, "err", err)
	}

	// Инициализация storage
	store, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal("failed to init storage", "err", err)
	}
	defer store.Close()

	// Инициализация сервиса задач
	todos := service.NewTodoService(settings, store, service.CalDAVConnect)
	todos.OnSettingsChange(func(s domain.Settings) error {
		return config.SaveSettings(cfg.SettingsPath, s)
	})
	if err := todos.Restore(); err != nil {
		log.Warn("failed to restore cache", "err", err)
	}
	if !settings.Ready() {
		log.Warn("caldav account or calendars not configured", "settings", cfg.SettingsPath)
	}

	// HTTP: REST API, health, webhook
	srv := api.New(todos, cfg.APIUsername, cfg.APIPassword)

	// Инициализация scheduler
	sched := scheduler.New(cfg, store, todos)

	// Контекст для graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализация бота (опционально)
	var tgBot *bot.Bot
	if cfg.TelegramToken != "" {
		tgBot, err = bot.New(cfg, store, todos)
		if err != nil {
			log.Fatal("failed to init bot", "err", err)
		}
		if cfg.WebhookURL != "" {
			srv.Handle(bot.WebhookPath, tgBot.WebhookHandler())
			if err := tgBot.SetupWebhook(); err != nil {
				log.Fatal("failed to setup webhook", "err", err)
			}
		}
		sched.SetSender(tgBot)

		go func() {
			if err := tgBot.Start(ctx); err != nil {
				log.Error("bot stopped", "err", err)
			}
		}()
	} else {
		log.Info("TELEGRAM_BOT_TOKEN not set, running API only")
	}

	// Запуск scheduler в горутине
	go func() {
		if err := sched.Start(ctx); err != nil {
			log.Error("scheduler stopped", "err", err)
		}
	}()

	// Первичная загрузка задач
	go func() {
		if _, err := todos.RefreshIfStale(ctx); err != nil {
			log.Warn("initial refresh failed", "err", err)
		}
	}()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("starting http server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
		}
	}()

	log.Info("tododav started")

	// Ожидание сигнала завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down...")

	// Graceful shutdown
	cancel()
	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("error stopping http server", "err", err)
	}

	log.Info("tododav stopped")
}
