package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tazhate/tododav/internal/domain"
)

func newCalendarsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "calendars",
		Short: "List calendars that accept todos; selected ones are marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := app.withTimeout(cmd)
			defer cancel()

			todos, err := app.open()
			if err != nil {
				return err
			}
			calendars, err := todos.DiscoverCalendars(ctx)
			if err != nil {
				return err
			}

			selected := make(map[string]bool)
			for _, c := range todos.Settings().Calendars {
				selected[strings.ToLower(c.DisplayName)] = true
			}

			out := cmd.OutOrStdout()
			for _, c := range calendars {
				mark := " "
				if selected[strings.ToLower(c.DisplayName)] {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\n", mark, c.DisplayName, c.URL)
			}
			return nil
		},
	}
}

func newSelectCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "select <name>...",
		Short: "Replace the calendar selection; new todos go to the first one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			todos, err := app.open()
			if err != nil {
				return err
			}

			settings := todos.Settings()
			settings.Calendars = settings.Calendars[:0:0]
			for _, name := range args {
				if name = strings.TrimSpace(name); name != "" {
					settings.Calendars = append(settings.Calendars, domain.Calendar{DisplayName: name})
				}
			}
			if err := todos.SetSettings(settings); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Selected %d calendars\n", len(settings.Calendars))
			return nil
		},
	}
}
