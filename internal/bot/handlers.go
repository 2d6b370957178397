package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/tododav/internal/domain"
)

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if update.Message != nil {
		b.handleMessage(ctx, update.Message)
	} else if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !b.cfg.IsAllowedUser(userID) {
		b.SendMessage(chatID, "⛔ Доступ запрещён")
		return
	}

	user, err := b.users.GetUserByTelegramID(userID)
	if err != nil {
		log.Error("get user", "telegram_id", userID, "err", err)
		return
	}

	// Авто-регистрация если пользователь в allowed list но не зарегистрирован
	if user == nil {
		user = b.autoRegisterUser(msg.From)
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg, user)
		return
	}

	// Текст без команды: новая задача
	b.addTodo(ctx, chatID, text)
}

// autoRegisterUser auto-registers an allowed user
func (b *Bot) autoRegisterUser(from *tgbotapi.User) *domain.User {
	name := from.FirstName
	if from.LastName != "" {
		name += " " + from.LastName
	}

	role := domain.RoleOwner
	if from.ID == b.cfg.PartnerTelegramID {
		role = domain.RolePartner
	}

	newUser := &domain.User{
		TelegramID: from.ID,
		Name:       name,
		Role:       role,
		Digest:     true,
	}

	if err := b.users.CreateUser(newUser); err != nil {
		log.Error("auto-register user", "err", err)
		return nil
	}

	log.Info("auto-registered user", "name", name, "telegram_id", from.ID)
	return newUser
}

func (b *Bot) answer(callback *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callback.ID, text)); err != nil {
		log.Debug("answer callback", "err", err)
	}
}

func (b *Bot) editMessage(chatID int64, msgID int, text string, kb tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = "HTML"
	edit.ReplyMarkup = &kb
	if _, err := b.api.Send(edit); err != nil {
		log.Debug("edit message", "err", err)
	}
}

func (b *Bot) showList(chatID int64, msgID int, view listView) {
	text, kb := b.listMessage(view)
	b.editMessage(chatID, msgID, text, kb)
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	userID := callback.From.ID
	chatID := callback.Message.Chat.ID
	msgID := callback.Message.MessageID

	if !b.cfg.IsAllowedUser(userID) {
		b.answer(callback, "⛔ Доступ запрещён")
		return
	}

	parts := strings.Split(callback.Data, ":")
	arg := func(i int) string {
		if i < len(parts) {
			return parts[i]
		}
		return ""
	}

	switch parts[0] {
	case "list":
		// list:view
		b.answer(callback, "")
		b.showList(chatID, msgID, parseView(arg(1)))

	case "refresh":
		// refresh:view
		if err := b.todos.Refresh(ctx); err != nil {
			log.Warn("refresh from callback", "err", err)
			b.answer(callback, "❌ Не удалось обновить")
		} else {
			b.answer(callback, "🔄 Обновлено")
		}
		b.showList(chatID, msgID, parseView(arg(1)))

	case "toggle":
		// toggle:ref:view
		todo, ok := b.todos.Find(arg(1))
		if !ok {
			b.answer(callback, "Задача не найдена")
			return
		}
		if err := b.todos.Dispatch(ctx, domain.ToggleTodo(todo.ID)); err != nil {
			log.Warn("toggle todo", "id", todo.ID, "err", err)
			b.answer(callback, actionError(err))
		} else if todo.Completed {
			b.answer(callback, "⬜ Снова в работе")
		} else {
			b.answer(callback, "✅ Выполнено!")
		}
		b.showList(chatID, msgID, parseView(arg(2)))

	case "del":
		// del:ref:view
		todo, ok := b.todos.Find(arg(1))
		if !ok {
			b.answer(callback, "Задача не найдена")
			return
		}
		b.answer(callback, "")
		text := fmt.Sprintf("🗑 Удалить задачу?\n\n<b>%s</b>", html.EscapeString(todo.Contents))
		b.editMessage(chatID, msgID, text, confirmDeleteKeyboard(arg(1), parseView(arg(2))))

	case "confirm_del":
		// confirm_del:ref:view
		todo, ok := b.todos.Find(arg(1))
		if !ok {
			b.answer(callback, "Задача не найдена")
			return
		}
		if err := b.todos.Dispatch(ctx, domain.RemoveTodo(todo.ID)); err != nil {
			log.Warn("remove todo", "id", todo.ID, "err", err)
			b.answer(callback, actionError(err))
		} else {
			b.answer(callback, "🗑 Удалено")
		}
		b.showList(chatID, msgID, parseView(arg(2)))

	case "cal":
		// cal:index
		b.toggleCalendar(ctx, callback, arg(1))

	default:
		b.answer(callback, "")
	}
}

func (b *Bot) toggleCalendar(ctx context.Context, callback *tgbotapi.CallbackQuery, index string) {
	calendars, err := b.todos.DiscoverCalendars(ctx)
	if err != nil {
		b.answer(callback, actionError(err))
		return
	}
	i, err := strconv.Atoi(index)
	if err != nil || i < 0 || i >= len(calendars) {
		b.answer(callback, "Календарь не найден")
		return
	}

	settings := b.todos.Settings()
	settings.Calendars = toggleCalendar(settings.Calendars, calendars[i].DisplayName, calendars[i].URL)
	if err := b.todos.SetSettings(settings); err != nil {
		b.answer(callback, "❌ "+err.Error())
		return
	}
	b.answer(callback, "✅ Сохранено")

	names := make([]string, 0, len(calendars))
	for _, c := range calendars {
		names = append(names, c.DisplayName)
	}
	b.editMessage(callback.Message.Chat.ID, callback.Message.MessageID,
		"<b>📅 Календари</b>\n\nНажми, чтобы выбрать или убрать:", calendarsKeyboard(names, b.selectedNames()))
}

// toggleCalendar adds the calendar to the selection or removes it
func toggleCalendar(selected []domain.Calendar, name, url string) []domain.Calendar {
	out := make([]domain.Calendar, 0, len(selected)+1)
	removed := false
	for _, c := range selected {
		if strings.EqualFold(c.DisplayName, name) {
			removed = true
			continue
		}
		out = append(out, c)
	}
	if !removed {
		out = append(out, domain.Calendar{DisplayName: name, URL: url})
	}
	return out
}
