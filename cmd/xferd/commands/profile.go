package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"

	"github.com/slok/xferd/internal/app/profileadd"
	"github.com/slok/xferd/internal/app/profilelist"
	storageio "github.com/slok/xferd/internal/storage/io"
)

// NewProfileCommand returns the parent command of the profile subcommands.
func NewProfileCommand(app *kingpin.Application) *kingpin.CmdClause {
	return app.Command("profile", "Manage S3 profiles.")
}

// ProfileAddCommand stores a profile loaded from a YAML file.
type ProfileAddCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	file   string
	format string
}

// NewProfileAddCommand returns the profile add command.
func NewProfileAddCommand(rootCmd *RootCommand, profileCmd *kingpin.CmdClause) *ProfileAddCommand {
	c := &ProfileAddCommand{rootCmd: rootCmd}

	c.Cmd = profileCmd.Command("add", "Add a profile from a YAML file.")
	c.Cmd.Arg("file", "Profile YAML file.").Required().StringVar(&c.file)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ProfileAddCommand) Name() string { return c.Cmd.FullCommand() }

func (c ProfileAddCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	profilePath, err := filepath.Abs(c.file)
	if err != nil {
		return fmt.Errorf("could not resolve profile file path: %w", err)
	}

	loader := storageio.NewProfileYAMLRepository(os.DirFS("/"))
	profile, err := loader.GetProfile(ctx, profilePath[1:])
	if err != nil {
		return fmt.Errorf("could not load profile: %w", err)
	}

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := profileadd.NewService(profileadd.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	stored, err := svc.Run(ctx, profileadd.Request{Profile: profile})
	if err != nil {
		return fmt.Errorf("could not add profile: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintProfile(*stored); err != nil {
		return fmt.Errorf("could not print profile: %w", err)
	}

	return nil
}

// ProfileListCommand lists the stored profiles.
type ProfileListCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	format string
}

// NewProfileListCommand returns the profile list command.
func NewProfileListCommand(rootCmd *RootCommand, profileCmd *kingpin.CmdClause) *ProfileListCommand {
	c := &ProfileListCommand{rootCmd: rootCmd}

	c.Cmd = profileCmd.Command("list", "List profiles.")
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c ProfileListCommand) Name() string { return c.Cmd.FullCommand() }

func (c ProfileListCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := profilelist.NewService(profilelist.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	profiles, err := svc.Run(ctx, profilelist.Request{})
	if err != nil {
		return fmt.Errorf("could not list profiles: %w", err)
	}

	if err := newPrinter(c.format, c.rootCmd).PrintProfileList(profiles); err != nil {
		return fmt.Errorf("could not print profiles: %w", err)
	}

	return nil
}
