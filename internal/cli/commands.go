package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Joseda-hg/taskwatch/internal/app"
	"github.com/Joseda-hg/taskwatch/internal/model"
)

const localTimeLayout = "2006-01-02 15:04"

func newServeCmd(opts *options) *cobra.Command {
	var (
		withTUI bool
		port    int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run detection, reminders and the web API without the TUI",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), opts, withTUI, port)
		},
	}
	cmd.Flags().BoolVar(&withTUI, "tui", false, "also open the TUI")
	cmd.Flags().IntVar(&port, "port", 0, "web server port")
	return cmd
}

func newTUICmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the terminal panels (same as running without a subcommand)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApp(cmd.Context(), opts, true, 0)
		},
	}
}

func newAddCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "add <text>",
		Short: "Add a task by hand",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return fmt.Errorf("task text is required")
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				task, err := a.Tasks.Insert(cmd.Context(), text, "", model.AddedManually, model.StatusPending)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s  %s\n", task.ID, task.Text)
				return nil
			})
		},
	}
}

func newListCmd(opts *options) *cobra.Command {
	var completed bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pending tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				list := a.Tasks.Pending()
				if completed {
					list = a.Tasks.Completed()
				}
				printTasks(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&completed, "completed", false, "list completed tasks instead")
	return cmd
}

func printTasks(out io.Writer, list []model.Task) {
	if len(list) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return
	}
	for _, task := range list {
		fmt.Fprintf(out, "%s  %-18s  %s\n", task.ID, task.AdditionMethod, task.Text)
	}
}

func newHistoryCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "history <task-id>",
		Short: "Show the change history of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				entries, err := a.Tasks.History(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No history.")
					return nil
				}
				for _, entry := range entries {
					fmt.Fprintf(out, "%s  %-8s  %s\n", entry.CreatedAt.Local().Format(localTimeLayout), entry.EventType, entry.Details)
				}
				return nil
			})
		},
	}
}

func newNameCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "name [new-name]",
		Short: "Show or set the name the classifier looks for",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				ctx := cmd.Context()
				if len(args) == 1 {
					if err := a.Profile.SetName(ctx, args[0]); err != nil {
						return err
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), a.Profile.Name(ctx))
				return nil
			})
		},
	}
}

func newRemindCmd(opts *options) *cobra.Command {
	var (
		at           string
		reminderType string
	)
	cmd := &cobra.Command{
		Use:   "remind <task-id>",
		Short: "Schedule a reminder for a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			when, err := parseWhen(at, time.Local)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, func(a *app.App) error {
				return addReminder(cmd.Context(), a, cmd.OutOrStdout(), args[0], when, model.ReminderType(reminderType))
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "due time, RFC3339 or \"YYYY-MM-DD HH:MM\" local time")
	cmd.Flags().StringVar(&reminderType, "type", string(model.ReminderCustom), "custom, 1_hour_before, 1_day_before or at_due_time")
	_ = cmd.MarkFlagRequired("at")
	return cmd
}

func addReminder(ctx context.Context, a *app.App, out io.Writer, taskID string, when time.Time, reminderType model.ReminderType) error {
	task, err := a.Tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	reminder, err := a.Reminders.Add(ctx, task.ID, when, reminderType)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Reminder %s for %q at %s\n", reminder.ID, task.Text, reminder.Time.Local().Format(localTimeLayout))
	return nil
}

func parseWhen(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(localTimeLayout, value, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC3339 or %q", value, localTimeLayout)
	}
	return t, nil
}
