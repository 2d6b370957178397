package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/charmbracelet/log"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/tododav/internal/clients/caldav"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/service"
)

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	switch cmd {
	case "start":
		b.cmdStart(msg, user)
	case "help":
		b.cmdHelp(chatID)
	case "todos", "list":
		b.sendList(chatID, listView{})
	case "all":
		b.sendList(chatID, listView{Completed: true, Expanded: true})
	case "add":
		b.cmdAdd(ctx, chatID, args)
	case "done":
		b.cmdDone(ctx, chatID, args)
	case "edit":
		b.cmdEdit(ctx, chatID, args)
	case "rm":
		b.cmdRemove(ctx, chatID, args)
	case "refresh":
		b.cmdRefresh(ctx, chatID)
	case "calendars":
		b.cmdCalendars(ctx, chatID)
	case "select":
		b.cmdSelect(chatID, args)
	case "digest":
		b.cmdDigest(chatID, user, args)
	default:
		b.SendMessage(chatID, "Неизвестная команда. /help для списка команд")
	}
}

func (b *Bot) cmdStart(msg *tgbotapi.Message, user *domain.User) {
	chatID := msg.Chat.ID
	if user == nil {
		b.SendMessage(chatID, "❌ Ошибка регистрации")
		return
	}
	b.SendMessage(chatID, fmt.Sprintf("👋 Привет, %s!\n\nЯ показываю задачи из твоего CalDAV-календаря.\n\n/help — список команд", html.EscapeString(user.Name)))
}

func (b *Bot) cmdHelp(chatID int64) {
	text := `<b>Команды:</b>

<b>Задачи</b>
/todos — ближайшие задачи
/all — все задачи, включая выполненные
/add текст — добавить задачу
/done REF — выполнить задачу
/edit REF текст — изменить текст
/rm REF — удалить задачу
/refresh — обновить с сервера

<b>Настройки</b>
/calendars — выбрать календари
/select Имя1, Имя2 — выбрать календари по имени
/digest on|off — утренний дайджест

REF — код из списка задач, например <code>1a2b3c4d</code>

💡 Просто отправь текст — добавлю как задачу`

	b.SendMessage(chatID, text)
}

// listMessage renders the list for view
func (b *Bot) listMessage(view listView) (string, tgbotapi.InlineKeyboardMarkup) {
	items := b.todos.Visible(view.Completed, view.Expanded)
	total := len(b.todos.Visible(view.Completed, true))
	return listText(items, total, b.todos.Busy()), todoListKeyboard(items, view, total > len(items))
}

func listText(items []domain.Todo, total int, busy int64) string {
	text := "<b>📋 Задачи</b>"
	if busy > 0 {
		text += " ⏳"
	}
	text += "\n\n" + service.FormatTodoList(items)
	if total > len(items) {
		text += fmt.Sprintf("\n\n…и ещё %d", total-len(items))
	}
	return text
}

func (b *Bot) sendList(chatID int64, view listView) {
	if !b.todos.Settings().Ready() {
		b.SendMessage(chatID, "⚙️ CalDAV не настроен: укажи аккаунт в настройках и выбери календари через /calendars")
		return
	}
	text, kb := b.listMessage(view)
	b.SendMessageWithKeyboard(chatID, text, kb)
}

// actionError describes a failed remote write for the user. The list already
// shows the change; the next refresh reconciles it with the server.
func actionError(err error) string {
	switch {
	case errors.Is(err, service.ErrNotConfigured):
		return "⚙️ CalDAV не настроен"
	case errors.Is(err, caldav.ErrPreconditionFailed):
		return "⚠️ Задача изменилась на сервере, список обновится"
	case errors.Is(err, caldav.ErrNotFound):
		return "⚠️ Задача уже удалена на сервере"
	default:
		return "❌ Ошибка: " + err.Error()
	}
}

func (b *Bot) cmdAdd(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.SendMessage(chatID, "Укажи текст задачи: /add Купить молоко")
		return
	}
	b.addTodo(ctx, chatID, args)
}

func (b *Bot) addTodo(ctx context.Context, chatID int64, text string) {
	todo, err := b.todos.Create(ctx, text)
	if err != nil {
		b.SendMessage(chatID, actionError(err))
		return
	}

	ref := domain.ShortRef(todo.ID)
	msg := fmt.Sprintf("✅ Задача добавлена\n\n%s <code>%s</code>", html.EscapeString(todo.Contents), ref)
	kb := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Выполнено", fmt.Sprintf("toggle:%s:%s", ref, listView{})),
			tgbotapi.NewInlineKeyboardButtonData("📋 Список", "list:"+listView{}.String()),
		),
	)
	b.SendMessageWithKeyboard(chatID, msg, kb)
}

// findTodo resolves a ref argument, replying when it fails
func (b *Bot) findTodo(chatID int64, ref, usage string) (domain.Todo, bool) {
	if ref == "" {
		b.SendMessage(chatID, usage)
		return domain.Todo{}, false
	}
	todo, ok := b.todos.Find(ref)
	if !ok {
		b.SendMessage(chatID, "Задача не найдена. /todos — обновить список")
	}
	return todo, ok
}

func (b *Bot) cmdDone(ctx context.Context, chatID int64, args string) {
	todo, ok := b.findTodo(chatID, args, "Укажи код задачи: /done 1a2b3c4d")
	if !ok {
		return
	}
	if todo.Completed {
		b.SendMessage(chatID, "Задача уже выполнена")
		return
	}
	if err := b.todos.Dispatch(ctx, domain.ToggleTodo(todo.ID)); err != nil {
		log.Warn("complete todo", "id", todo.ID, "err", err)
		b.SendMessage(chatID, actionError(err))
		return
	}
	b.SendMessage(chatID, "✅ Выполнено: "+html.EscapeString(todo.Contents))
}

func (b *Bot) cmdEdit(ctx context.Context, chatID int64, args string) {
	ref, text, _ := strings.Cut(args, " ")
	todo, ok := b.findTodo(chatID, ref, "Формат: /edit 1a2b3c4d новый текст")
	if !ok {
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		b.SendMessage(chatID, "Формат: /edit 1a2b3c4d новый текст\nДля удаления: /rm "+ref)
		return
	}
	if err := b.todos.Dispatch(ctx, domain.UpdateTodo(todo.ID, text)); err != nil {
		log.Warn("edit todo", "id", todo.ID, "err", err)
		b.SendMessage(chatID, actionError(err))
		return
	}
	b.SendMessage(chatID, "✏️ Изменено: "+html.EscapeString(text))
}

func (b *Bot) cmdRemove(ctx context.Context, chatID int64, args string) {
	todo, ok := b.findTodo(chatID, args, "Укажи код задачи: /rm 1a2b3c4d")
	if !ok {
		return
	}
	if err := b.todos.Dispatch(ctx, domain.RemoveTodo(todo.ID)); err != nil {
		log.Warn("remove todo", "id", todo.ID, "err", err)
		b.SendMessage(chatID, actionError(err))
		return
	}
	b.SendMessage(chatID, "🗑 Удалено: "+html.EscapeString(todo.Contents))
}

func (b *Bot) cmdRefresh(ctx context.Context, chatID int64) {
	if err := b.todos.Refresh(ctx); err != nil {
		log.Warn("refresh from bot", "err", err)
		b.SendMessage(chatID, "❌ Не удалось обновить: "+err.Error())
		return
	}
	b.sendList(chatID, listView{})
}

func (b *Bot) cmdCalendars(ctx context.Context, chatID int64) {
	calendars, err := b.todos.DiscoverCalendars(ctx)
	if err != nil {
		b.SendMessage(chatID, actionError(err))
		return
	}
	if len(calendars) == 0 {
		b.SendMessage(chatID, "На сервере нет календарей с задачами")
		return
	}

	names := make([]string, 0, len(calendars))
	for _, c := range calendars {
		names = append(names, c.DisplayName)
	}
	b.SendMessageWithKeyboard(chatID, "<b>📅 Календари</b>\n\nНажми, чтобы выбрать или убрать:", calendarsKeyboard(names, b.selectedNames()))
}

func (b *Bot) selectedNames() map[string]bool {
	selected := make(map[string]bool)
	for _, c := range b.todos.Settings().Calendars {
		selected[strings.ToLower(c.DisplayName)] = true
	}
	return selected
}

func (b *Bot) cmdSelect(chatID int64, args string) {
	names := parseNames(args)
	if len(names) == 0 {
		b.SendMessage(chatID, "Формат: /select Работа, Дом")
		return
	}

	settings := b.todos.Settings()
	settings.Calendars = nil
	for _, name := range names {
		settings.Calendars = append(settings.Calendars, domain.Calendar{DisplayName: name})
	}
	if err := b.todos.SetSettings(settings); err != nil {
		b.SendMessage(chatID, "❌ Ошибка: "+err.Error())
		return
	}
	b.SendMessage(chatID, "✅ Выбрано: "+html.EscapeString(strings.Join(names, ", ")))
}

// parseNames splits a comma separated list, dropping blanks
func parseNames(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}

func (b *Bot) cmdDigest(chatID int64, user *domain.User, args string) {
	if user == nil {
		b.SendMessage(chatID, "Сначала /start")
		return
	}

	var enabled bool
	switch strings.ToLower(args) {
	case "on", "вкл":
		enabled = true
	case "off", "выкл":
		enabled = false
	default:
		state := "выключен"
		if user.Digest {
			state = "включён"
		}
		b.SendMessage(chatID, "Утренний дайджест "+state+". /digest on или /digest off")
		return
	}

	if err := b.users.SetUserDigest(user.TelegramID, enabled); err != nil {
		b.SendMessage(chatID, "❌ Ошибка: "+err.Error())
		return
	}
	if enabled {
		b.SendMessage(chatID, "☀️ Утренний дайджест включён")
	} else {
		b.SendMessage(chatID, "🌙 Утренний дайджест выключен")
	}
}
