package bot

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/tododav/config"
	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
)

// WebhookPath is where Telegram delivers updates in webhook mode
const WebhookPath = "/bot"

// Todos is the todo service as used by the bot
type Todos interface {
	Settings() domain.Settings
	SetSettings(domain.Settings) error
	Busy() int64
	Visible(showCompleted, expanded bool) []domain.Todo
	Find(ref string) (domain.Todo, bool)
	Dispatch(ctx context.Context, action domain.Action) error
	Create(ctx context.Context, contents string) (domain.Todo, error)
	Refresh(ctx context.Context) error
	DiscoverCalendars(ctx context.Context) ([]caldav.Calendar, error)
}

type Users interface {
	CreateUser(u *domain.User) error
	GetUserByTelegramID(telegramID int64) (*domain.User, error)
	SetUserDigest(telegramID int64, enabled bool) error
}

type Bot struct {
	api     *tgbotapi.BotAPI
	cfg     *config.Config
	users   Users
	todos   Todos
	updates chan tgbotapi.Update
}

func New(cfg *config.Config, users Users, todos Todos) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	log.Info("authorized", "bot", api.Self.UserName)

	bot := &Bot{
		api:     api,
		cfg:     cfg,
		users:   users,
		todos:   todos,
		updates: make(chan tgbotapi.Update, 100),
	}

	// Set bot commands (menu button)
	bot.setCommands()

	return bot, nil
}

func (b *Bot) setCommands() {
	commands := []tgbotapi.BotCommand{
		{Command: "todos", Description: "📋 Ближайшие задачи"},
		{Command: "all", Description: "🗂 Все задачи"},
		{Command: "add", Description: "➕ Добавить задачу"},
		{Command: "refresh", Description: "🔄 Обновить с сервера"},
		{Command: "calendars", Description: "📅 Календари"},
		{Command: "help", Description: "❓ Справка по командам"},
	}

	cfg := tgbotapi.NewSetMyCommands(commands...)
	if _, err := b.api.Request(cfg); err != nil {
		log.Warn("failed to set commands", "err", err)
	}
}

func (b *Bot) SetupWebhook() error {
	webhookURL := b.cfg.WebhookURL + WebhookPath

	wh, err := tgbotapi.NewWebhook(webhookURL)
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}

	_, err = b.api.Request(wh)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	info, err := b.api.GetWebhookInfo()
	if err != nil {
		return fmt.Errorf("get webhook info: %w", err)
	}

	if info.LastErrorDate != 0 {
		log.Warn("webhook last error", "message", info.LastErrorMessage)
	}

	log.Info("webhook set", "url", webhookURL)
	return nil
}

// WebhookHandler receives updates pushed by Telegram
func (b *Bot) WebhookHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		update, err := b.api.HandleUpdate(r)
		if err != nil {
			log.Warn("bad webhook update", "err", err)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		b.updates <- *update
	})
}

// Start processes updates until ctx is done. Without a webhook URL it
// falls back to long polling.
func (b *Bot) Start(ctx context.Context) error {
	var updates tgbotapi.UpdatesChannel = b.updates
	if b.cfg.WebhookURL == "" {
		if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
			log.Warn("failed to delete webhook", "err", err)
		}
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates = b.api.GetUpdatesChan(u)
		log.Info("long polling started")
	}

	for {
		select {
		case <-ctx.Done():
			if b.cfg.WebhookURL == "" {
				b.api.StopReceivingUpdates()
			}
			return nil
		case update := <-updates:
			go b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	_, err := b.api.Send(msg)
	return err
}

func (b *Bot) SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = "HTML"
	msg.ReplyMarkup = keyboard
	_, err := b.api.Send(msg)
	return err
}
