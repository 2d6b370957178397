package service

import (
	"fmt"
	"html"
	"strings"

	"github.com/tazhate/tododav/internal/domain"
)

// FormatTodoList renders todos as a numbered HTML list for Telegram
func FormatTodoList(items []domain.Todo) string {
	if len(items) == 0 {
		return "Задач нет 🎉"
	}

	var sb strings.Builder
	for i, t := range items {
		fmt.Fprintf(&sb, "%d. %s %s <code>%s</code>\n", i+1, t.Status(), html.EscapeString(t.Contents), domain.ShortRef(t.ID))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// FormatPlain renders todos for a terminal
func FormatPlain(items []domain.Todo) string {
	var sb strings.Builder
	for _, t := range items {
		mark := "[ ]"
		if t.Completed {
			mark = "[x]"
		}
		fmt.Fprintf(&sb, "%s  %s %s\n", domain.ShortRef(t.ID), mark, t.Contents)
	}
	return sb.String()
}
