package bot

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/tazhate/tododav/internal/domain"
)

// listView is the state of a list message, carried in callback data
type listView struct {
	Completed bool // Show completed todos
	Expanded  bool // Show more than Settings.Show items
}

func flag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func (v listView) String() string {
	return flag(v.Completed) + flag(v.Expanded)
}

func parseView(s string) listView {
	return listView{
		Completed: len(s) > 0 && s[0] == '1',
		Expanded:  len(s) > 1 && s[1] == '1',
	}
}

// Todo list keyboard. Callback data stays well under Telegram's 64 bytes:
// todos are referenced by their short ref.
func todoListKeyboard(items []domain.Todo, view listView, hasMore bool) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	for _, t := range items {
		ref := domain.ShortRef(t.ID)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("%s %s", t.Status(), truncate(t.Contents, 30)),
				fmt.Sprintf("toggle:%s:%s", ref, view),
			),
			tgbotapi.NewInlineKeyboardButtonData("🗑", fmt.Sprintf("del:%s:%s", ref, view)),
		))
	}

	var navRow []tgbotapi.InlineKeyboardButton
	if hasMore || view.Expanded {
		label := "⬇️ Ещё"
		next := listView{Completed: view.Completed, Expanded: true}
		if view.Expanded {
			label = "⬆️ Свернуть"
			next.Expanded = false
		}
		navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData(label, "list:"+next.String()))
	}
	completedLabel := "☑️ Выполненные"
	if view.Completed {
		completedLabel = "🙈 Скрыть выполненные"
	}
	navRow = append(navRow, tgbotapi.NewInlineKeyboardButtonData(
		completedLabel,
		"list:"+listView{Completed: !view.Completed, Expanded: view.Expanded}.String(),
	))
	rows = append(rows, navRow)

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔄 Обновить", "refresh:"+view.String()),
	))

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// Confirm delete keyboard
func confirmDeleteKeyboard(ref string, view listView) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Да, удалить", fmt.Sprintf("confirm_del:%s:%s", ref, view)),
			tgbotapi.NewInlineKeyboardButtonData("◀️ Отмена", "list:"+view.String()),
		),
	)
}

// Calendar selection keyboard, one toggle per calendar
func calendarsKeyboard(names []string, selected map[string]bool) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for i, name := range names {
		mark := "⬜"
		if selected[strings.ToLower(name)] {
			mark = "✅"
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(mark+" "+truncate(name, 40), fmt.Sprintf("cal:%d", i)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}
