package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/xferd/internal/app/doctor"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/storage/memory"
	"github.com/slok/xferd/internal/storage/sqlite"
)

type DoctorCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand
}

// NewDoctorCommand returns the doctor command.
func NewDoctorCommand(rootCmd *RootCommand, app *kingpin.Application) *DoctorCommand {
	c := &DoctorCommand{rootCmd: rootCmd}
	c.Cmd = app.Command("doctor", "Run preflight checks for the job engine.")
	return c
}

func (c DoctorCommand) Name() string { return c.Cmd.FullCommand() }

func (c DoctorCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger
	out := c.rootCmd.Stdout

	cfg, err := c.rootCmd.LoadConfig(ctx, nil)
	if err != nil {
		return err
	}

	svcCfg := doctor.ServiceConfig{
		Config: cfg,
		Engine: &rclone.Binary{Path: cfg.Rclone.Path},
		Logger: logger,
	}

	// Doctor never creates the data dir, without a database there is nothing to check.
	_, err = os.Stat(cfg.Paths().DB())
	switch {
	case err == nil:
		repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
			DBPath: cfg.Paths().DB(),
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("could not create repository: %w", err)
		}
		defer repo.Close()
		svcCfg.Repository = repo
		svcCfg.Schema = repo
	case errors.Is(err, fs.ErrNotExist):
		repo, err := memory.NewRepository(memory.RepositoryConfig{Logger: logger})
		if err != nil {
			return fmt.Errorf("could not create repository: %w", err)
		}
		svcCfg.Repository = repo
	default:
		return fmt.Errorf("could not check database: %w", err)
	}

	svc, err := doctor.NewService(svcCfg)
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	fmt.Fprintf(out, "\nChecking xferd environment...\n")
	results := svc.Run(ctx)
	for _, r := range results {
		fmt.Fprintf(out, "  %s %-20s %s\n", getStatusIcon(r.Status), r.ID, r.Message)
	}

	// Summary
	_, totalWarnings, totalErrors := results.Summary()
	fmt.Fprintln(out)
	if totalErrors == 0 && totalWarnings == 0 {
		fmt.Fprintln(out, "All checks passed!")
	} else {
		var summary []string
		if totalErrors > 0 {
			summary = append(summary, fmt.Sprintf("%d error(s)", totalErrors))
		}
		if totalWarnings > 0 {
			summary = append(summary, fmt.Sprintf("%d warning(s)", totalWarnings))
		}
		fmt.Fprintf(out, "%s\n", strings.Join(summary, ", "))
	}

	if results.HasErrors() {
		return fmt.Errorf("preflight checks failed with %d error(s)", totalErrors)
	}

	return nil
}

func getStatusIcon(status model.CheckStatus) string {
	switch status {
	case model.CheckStatusOK:
		return "OK"
	case model.CheckStatusWarning:
		return "!!"
	case model.CheckStatusError:
		return "XX"
	default:
		return "??"
	}
}
