package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tazhate/tododav/config"
	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/service"
	"github.com/tazhate/tododav/internal/storage"
)

// App holds the state shared by all subcommands
type App struct {
	SettingsPath string
	DatabasePath string
	LogLevel     string
	Timeout      time.Duration

	// connect is replaced in tests
	connect service.ConnectFunc
	store   *storage.Storage
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&App{})
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "todoctl",
		Short:        "Manage CalDAV todos from the terminal",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Pending todos of the selected calendars
  todoctl list

  # Everything, including recently completed
  todoctl list --all --completed

  # Pick calendars, then add a todo to the first one
  todoctl select Work Home
  todoctl add Buy milk
`),
	}

	cmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		config.SetupLogging(cmd.ErrOrStderr(), app.LogLevel, "todoctl")
	}
	cmd.PersistentPostRunE = func(cmd *cobra.Command, args []string) error {
		return app.close()
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.SettingsPath, "settings", envOr("SETTINGS_PATH", "./data/settings.toml"), "settings file")
	flags.StringVar(&app.DatabasePath, "db", envOr("DATABASE_PATH", "./data/tododav.db"), "cache database")
	flags.StringVar(&app.LogLevel, "log-level", envOr("LOG_LEVEL", "warn"), "log level")
	flags.DurationVar(&app.Timeout, "timeout", time.Minute, "timeout for server requests")

	cmd.AddCommand(
		newListCmd(app),
		newAddCmd(app),
		newDoneCmd(app),
		newEditCmd(app),
		newRmCmd(app),
		newRefreshCmd(app),
		newCalendarsCmd(app),
		newSelectCmd(app),
		newCacheCmd(app),
	)
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (a *App) openStore() (*storage.Storage, error) {
	if a.store != nil {
		return a.store, nil
	}
	store, err := storage.New(a.DatabasePath)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

// open builds the todo service over the stored cache
func (a *App) open() (*service.TodoService, error) {
	settings, err := config.LoadSettings(a.SettingsPath)
	if err != nil {
		return nil, err
	}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}

	todos := service.NewTodoService(settings, store, a.connect)
	todos.OnSettingsChange(func(s domain.Settings) error {
		return config.SaveSettings(a.SettingsPath, s)
	})
	if err := todos.Restore(); err != nil {
		log.Warn("failed to restore cache", "err", err)
	}
	return todos, nil
}

// fresh opens the service and refreshes a stale cache. A failed refresh
// leaves the cached list in place.
func (a *App) fresh(ctx context.Context) (*service.TodoService, error) {
	todos, err := a.open()
	if err != nil {
		return nil, err
	}
	if _, err := todos.RefreshIfStale(ctx); err != nil {
		log.Warn("refresh failed, using cached todos", "err", err)
	}
	return todos, nil
}

func (a *App) withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	return context.WithTimeout(cmd.Context(), timeout)
}

func (a *App) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

func findTodo(todos *service.TodoService, ref string) (domain.Todo, error) {
	todo, ok := todos.Find(ref)
	if !ok {
		return domain.Todo{}, fmt.Errorf("todo %q not found", ref)
	}
	return todo, nil
}
