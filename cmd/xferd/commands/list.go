package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/xferd/internal/app/list"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/printer"
)

type ListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	statusFilter string
	limit        int
	format       string
}

// NewListCommand returns the list command.
func NewListCommand(rootCmd *RootCommand, app *kingpin.Application) *ListCommand {
	c := &ListCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("list", "List jobs, newest first.")
	c.Cmd.Flag("status", "Filter by status (queued, running, succeeded, failed, canceled).").StringVar(&c.statusFilter)
	c.Cmd.Flag("limit", "Max number of jobs (0 is unlimited).").Default("50").IntVar(&c.limit)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	var statusFilter *model.JobStatus
	if c.statusFilter != "" {
		status := model.JobStatus(strings.ToLower(c.statusFilter))
		switch status {
		case model.JobStatusQueued, model.JobStatusRunning, model.JobStatusSucceeded, model.JobStatusFailed, model.JobStatusCanceled:
			statusFilter = &status
		default:
			return fmt.Errorf("invalid status filter: %s (must be: queued, running, succeeded, failed, canceled)", c.statusFilter)
		}
	}

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := list.NewService(list.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	jobs, err := svc.Run(ctx, list.Request{
		StatusFilter: statusFilter,
		Limit:        c.limit,
	})
	if err != nil {
		return fmt.Errorf("could not list jobs: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintJobList(jobs); err != nil {
		return fmt.Errorf("could not print list: %w", err)
	}

	return nil
}

func newPrinter(format string, rootCmd *RootCommand) printer.Printer {
	if format == "json" {
		return printer.NewJSONPrinter(rootCmd.Stdout)
	}
	return printer.NewTablePrinter(rootCmd.Stdout)
}
