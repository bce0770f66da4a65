package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/taskmaster/taskpad/internal/adapters/repository"
	"github.com/taskmaster/taskpad/internal/application/query"
	"github.com/taskmaster/taskpad/internal/application/services"
	"github.com/taskmaster/taskpad/internal/domain/entities"
	"github.com/taskmaster/taskpad/internal/infrastructure/logger"
	"github.com/taskmaster/taskpad/internal/ports"
)

// NewTasksCommand works on the persisted task list without a running server
func NewTasksCommand() *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Task list commands",
		Long:  "List, add and export tasks directly against the configured storage",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Print the task view",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := query.Default()
			sortKey, _ := cmd.Flags().GetString("sort")
			direction, _ := cmd.Flags().GetString("direction")
			filter, _ := cmd.Flags().GetString("filter")
			q.SortKey = query.SortKey(sortKey)
			q.Direction = query.Direction(direction)
			q.Filter = query.StatusFilter(filter)
			q.Search, _ = cmd.Flags().GetString("search")

			date, _ := cmd.Flags().GetString("date")
			d, err := entities.ParseOptionalDate(date)
			if err != nil {
				return err
			}
			q.Date = d

			if err := q.Validate(); err != nil {
				return err
			}

			format, _ := cmd.Flags().GetString("format")
			return listTasks(cmd, q, format)
		},
	}
	listCmd.Flags().String("sort", string(query.SortByCreatedAt), "Sort key (priority, createdAt)")
	listCmd.Flags().String("direction", string(query.Descending), "Sort direction (ascending, descending)")
	listCmd.Flags().String("filter", string(query.FilterAll), "Status filter (all, completed, pending, today, tomorrow, pinned)")
	listCmd.Flags().String("search", "", "Case-insensitive title search")
	listCmd.Flags().String("date", "", "Only tasks due on this day (YYYY-MM-DD)")
	listCmd.Flags().String("format", "table", "Output format (table, json, yaml)")

	addCmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Add a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := ports.AddTaskRequest{Title: strings.Join(args, " ")}
			req.Priority, _ = cmd.Flags().GetString("priority")
			req.Location, _ = cmd.Flags().GetString("location")
			req.DueDate, _ = cmd.Flags().GetString("due")
			return addTask(cmd, req)
		},
	}
	addCmd.Flags().String("priority", "", "Priority (low, medium, high)")
	addCmd.Flags().String("location", "", "Location used for weather lookups")
	addCmd.Flags().String("due", "", "Due date (YYYY-MM-DD)")

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the whole task state",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			output, _ := cmd.Flags().GetString("output")
			return exportTasks(cmd, format, output)
		},
	}
	exportCmd.Flags().String("format", "json", "Export format (json, yaml)")
	exportCmd.Flags().String("output", "", "Write to this file instead of stdout")

	tasksCmd.AddCommand(listCmd, addCmd, exportCmd)
	return tasksCmd
}

// openStore loads the task store from the configured backend
func openStore(cmd *cobra.Command) (*services.TaskStore, func() error, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := commandContext(cmd)
	blobs, closeBlobs, err := repository.NewBlobStore(ctx, cfg.Storage, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage: %w", err)
	}

	store := services.NewTaskStore(blobs, services.RealClock{}, appLogger, nil)
	if err := store.Load(ctx); err != nil {
		closeBlobs()
		return nil, nil, err
	}
	return store, closeBlobs, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func listTasks(cmd *cobra.Command, q query.Query, format string) error {
	store, closeStore, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	views := store.Views(query.Apply(store.Tasks(), q, time.Now()))
	out := cmd.OutOrStdout()

	switch format {
	case "json":
		return writeJSON(out, ports.ListTasksResponse{Data: views, Total: len(views)})
	case "yaml":
		return yaml.NewEncoder(out).Encode(views)
	case "table":
		return writeTable(out, views)
	}
	return fmt.Errorf("unknown format %q", format)
}

func addTask(cmd *cobra.Command, req ports.AddTaskRequest) error {
	store, closeStore, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	task, err := store.AddTask(commandContext(cmd), req)
	if task == nil && err == nil {
		return fmt.Errorf("title must not be blank")
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Task created: #%d %s (%s)\n", task.ID, task.Title, task.Priority)
	return nil
}

func exportTasks(cmd *cobra.Command, format, output string) error {
	store, closeStore, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer closeStore()

	var out io.Writer = cmd.OutOrStdout()
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	state := store.Snapshot()
	switch format {
	case "json":
		return writeJSON(out, state)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(state); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeTable(out io.Writer, views []ports.TaskView) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPRIORITY\tDUE\tDONE\tPINNED\tWEATHER")
	for _, v := range views {
		due := "-"
		if v.DueDate != nil {
			due = v.DueDate.String()
		}
		weather := "-"
		if v.Weather != nil {
			weather = fmt.Sprintf("%.1f°C %s", v.Weather.Temperature, v.Weather.Condition)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%t\t%s\n", v.ID, v.Title, v.Priority, due, v.Completed, v.Pinned, weather)
	}
	return w.Flush()
}
