package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tazhate/tododav/internal/domain"
	"github.com/tazhate/tododav/internal/service"
)

func newListCmd(app *App) *cobra.Command {
	var showCompleted, all bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show todos",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			todos, err := app.fresh(ctx)
			if err != nil {
				return err
			}

			items := todos.Visible(showCompleted, all)
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No todos")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), service.FormatPlain(items))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&showCompleted, "completed", "c", false, "include completed todos")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "do not limit the list length")
	return cmd
}

func newAddCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>",
		Short: "Create a todo due now in the first selected calendar",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			todos, err := app.open()
			if err != nil {
				return err
			}
			todo, err := todos.Create(ctx, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", domain.ShortRef(todo.ID))
			return nil
		},
	}
}

// dispatchCmd builds a command that resolves a todo by reference and applies
// an action to it
func dispatchCmd(app *App, use, short string, args cobra.PositionalArgs, action func(domain.Todo, []string) domain.Action, done string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			todos, err := app.fresh(ctx)
			if err != nil {
				return err
			}
			todo, err := findTodo(todos, args[0])
			if err != nil {
				return err
			}
			if err := todos.Dispatch(ctx, action(todo, args[1:])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", done, domain.ShortRef(todo.ID))
			return nil
		},
	}
}

func newDoneCmd(app *App) *cobra.Command {
	return dispatchCmd(app, "done <ref>", "Toggle a todo between completed and pending", cobra.ExactArgs(1),
		func(t domain.Todo, _ []string) domain.Action { return domain.ToggleTodo(t.ID) }, "Toggled")
}

func newEditCmd(app *App) *cobra.Command {
	return dispatchCmd(app, "edit <ref> <text>", "Change the text of a todo; empty text removes it", cobra.MinimumNArgs(1),
		func(t domain.Todo, rest []string) domain.Action {
			return domain.UpdateTodo(t.ID, strings.Join(rest, " "))
		}, "Updated")
}

func newRmCmd(app *App) *cobra.Command {
	return dispatchCmd(app, "rm <ref>", "Delete a todo on the server", cobra.ExactArgs(1),
		func(t domain.Todo, _ []string) domain.Action { return domain.RemoveTodo(t.ID) }, "Removed")
}

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Fetch todos from the server now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			todos, err := app.open()
			if err != nil {
				return err
			}
			if err := todos.Refresh(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d todos\n", len(todos.Items()))
			return nil
		},
	}
}

func newCacheCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local todo cache",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget cached todos; the next command refetches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			if err := store.ClearCache(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	})
	return cmd
}
