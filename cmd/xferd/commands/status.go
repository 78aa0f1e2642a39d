package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/xferd/internal/app/status"
	"github.com/slok/xferd/internal/printer"
)

type StatusCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID    string
	logLines int
	format   string
}

// NewStatusCommand returns the status command.
func NewStatusCommand(rootCmd *RootCommand, app *kingpin.Application) *StatusCommand {
	c := &StatusCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("status", "Show the detailed status of a job.")
	c.Cmd.Arg("job-id", "Job ID.").Required().StringVar(&c.jobID)
	c.Cmd.Flag("logs", "Number of job log lines to show from the end.").Default("0").IntVar(&c.logLines)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c StatusCommand) Name() string { return c.Cmd.FullCommand() }

func (c StatusCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	cfg, err := c.rootCmd.LoadConfig(ctx, nil)
	if err != nil {
		return err
	}

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := status.NewService(status.ServiceConfig{
		Repository: repo,
		Paths:      cfg.Paths(),
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	res, err := svc.Run(ctx, status.Request{
		JobID:    c.jobID,
		LogLines: c.logLines,
	})
	if err != nil {
		return fmt.Errorf("could not get job status: %w", err)
	}

	err = newPrinter(c.format, c.rootCmd).PrintJobStatus(printer.JobStatus{
		Job:          res.Job,
		ArtifactPath: res.ArtifactPath,
		Log:          res.Log,
	})
	if err != nil {
		return fmt.Errorf("could not print status: %w", err)
	}

	return nil
}
