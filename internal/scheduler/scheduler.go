package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/tazhate/tododav/config"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/service"
)

type MessageSender interface {
	SendMessage(chatID int64, text string) error
}

// Todos is the part of the todo service the scheduler drives
type Todos interface {
	RefreshIfStale(ctx context.Context) (bool, error)
	Visible(showCompleted, expanded bool) []domain.Todo
}

type UserLister interface {
	ListUsers() ([]*domain.User, error)
}

type Scheduler struct {
	cron   *cron.Cron
	cfg    *config.Config
	users  UserLister
	todos  Todos
	sender MessageSender
}

func New(cfg *config.Config, users UserLister, todos Todos) *Scheduler {
	location := cfg.Timezone
	if location == nil {
		location = time.UTC
	}

	c := cron.New(cron.WithLocation(location))

	return &Scheduler{
		cron:  c,
		cfg:   cfg,
		users: users,
		todos: todos,
	}
}

func (s *Scheduler) SetSender(sender MessageSender) {
	s.sender = sender
}

func (s *Scheduler) Start(ctx context.Context) error {
	// Проверка устаревания кэша каждую минуту
	if _, err := s.cron.AddFunc("@every 1m", s.refreshIfStale); err != nil {
		return fmt.Errorf("add refresh check: %w", err)
	}

	// Утренний дайджест
	morningSpec, err := dailySpec(s.cfg.MorningTime)
	if err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(morningSpec, s.morningDigest); err != nil {
		return fmt.Errorf("add morning digest: %w", err)
	}

	s.cron.Start()
	log.Info("scheduler started", "tz", s.cfg.Timezone, "morning", s.cfg.MorningTime)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("scheduler stopped")
}

// dailySpec turns HH:MM into a cron spec
func dailySpec(hhmm string) (string, error) {
	hour, minute, ok := strings.Cut(hhmm, ":")
	h, herr := strconv.Atoi(hour)
	m, merr := strconv.Atoi(minute)
	if !ok || herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return "", fmt.Errorf("invalid time %q: want HH:MM", hhmm)
	}
	return fmt.Sprintf("%d %d * * *", m, h), nil
}

func (s *Scheduler) refreshIfStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Second)
	defer cancel()

	refreshed, err := s.todos.RefreshIfStale(ctx)
	if err != nil {
		log.Warn("scheduled refresh failed", "err", err)
		return
	}
	if refreshed {
		log.Debug("scheduled refresh done")
	}
}

func (s *Scheduler) morningDigest() {
	if s.sender == nil {
		return
	}

	users, err := s.users.ListUsers()
	if err != nil {
		log.Error("list users", "err", err)
		return
	}

	s.refreshIfStale()
	text := digestText(s.todos.Visible(false, true))

	for _, u := range users {
		if !u.Digest {
			continue
		}
		if err := s.sender.SendMessage(u.TelegramID, text); err != nil {
			log.Error("send morning digest", "telegram_id", u.TelegramID, "err", err)
		}
	}
}

func digestText(items []domain.Todo) string {
	text := "☀️ <b>Доброе утро!</b>\n\n"
	if len(items) == 0 {
		return text + "Ближайших задач нет. Отличный день!"
	}
	text += fmt.Sprintf("<b>Задачи на ближайшие дни (%d):</b>\n\n", len(items))
	return text + service.FormatTodoList(items)
}
