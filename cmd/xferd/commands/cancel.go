package commands

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/xferd/internal/app/cancel"
)

// CancelCommand requests the cancellation of a job, the server stops it on
// its next poll.
type CancelCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobID string
}

// NewCancelCommand returns the cancel command.
func NewCancelCommand(rootCmd *RootCommand, app *kingpin.Application) *CancelCommand {
	c := &CancelCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("cancel", "Cancel a queued or running job.")
	c.Cmd.Arg("job-id", "Job ID.").Required().StringVar(&c.jobID)

	return c
}

func (c CancelCommand) Name() string { return c.Cmd.FullCommand() }

func (c CancelCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := cancel.NewService(cancel.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	job, err := svc.Run(ctx, cancel.Request{JobID: c.jobID})
	if err != nil {
		return fmt.Errorf("could not cancel job: %w", err)
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Cancel requested for job %s (%s)\n", job.ID, job.Status)

	return nil
}
