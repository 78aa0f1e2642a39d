package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/alecthomas/kingpin/v2"
	"k8s.io/client-go/util/homedir"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/conventions"
	"github.com/slok/xferd/internal/log"
	storageio "github.com/slok/xferd/internal/storage/io"
	"github.com/slok/xferd/internal/storage/sqlite"
)

const (
	// LoggerTypeDefault is the logger default type.
	LoggerTypeDefault = "default"
	// LoggerTypeJSON is the logger json type.
	LoggerTypeJSON = "json"
)

// Command represents an application command, all commands that want to be executed
// should implement and setup on main.
type Command interface {
	Name() string
	Run(ctx context.Context) error
}

// RootCommand represents the root command configuration and global configuration
// for all the commands.
type RootCommand struct {
	// Global flags.
	Debug      bool
	NoLog      bool
	NoColor    bool
	LoggerType string
	DataDir    string
	ConfigFile string
	RclonePath string

	// Global instances.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger log.Logger
}

// NewRootCommand initializes the main root configuration.
func NewRootCommand(app *kingpin.Application) *RootCommand {
	c := &RootCommand{}

	app.Flag("debug", "Enable debug mode.").BoolVar(&c.Debug)
	app.Flag("no-log", "Disable logger.").BoolVar(&c.NoLog)
	app.Flag("no-color", "Disable logger color.").BoolVar(&c.NoColor)
	app.Flag("logger", "Selects the logger type.").Default(LoggerTypeDefault).EnumVar(&c.LoggerType, LoggerTypeDefault, LoggerTypeJSON)

	defaultDataDir := filepath.Join(homedir.HomeDir(), conventions.DefaultDataDir)
	app.Flag("data-dir", "Directory of the state database, job logs and artifacts.").Envar("XFERD_DATA_DIR").Default(defaultDataDir).StringVar(&c.DataDir)
	app.Flag("config-file", "Optional YAML file with engine settings.").Envar("XFERD_CONFIG_FILE").StringVar(&c.ConfigFile)
	app.Flag("rclone-path", "Explicit rclone binary path.").Envar("RCLONE_PATH").StringVar(&c.RclonePath)

	return c
}

// LoadConfig returns the validated engine configuration from the defaults, the
// optional config file and the global flags. mod is applied before validating.
func (r RootCommand) LoadConfig(ctx context.Context, mod func(*config.Config)) (config.Config, error) {
	cfg := config.Defaults()

	if r.ConfigFile != "" {
		configPath, err := filepath.Abs(r.ConfigFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("could not resolve config file path: %w", err)
		}

		repo := storageio.NewConfigYAMLRepository(os.DirFS("/"))
		cfg, err = repo.GetConfig(ctx, configPath[1:], cfg)
		if err != nil {
			return config.Config{}, fmt.Errorf("could not load config file: %w", err)
		}
	}

	cfg.DataDir = r.DataDir
	if r.RclonePath != "" {
		cfg.Rclone.Path = r.RclonePath
	}
	if mod != nil {
		mod(&cfg)
	}

	cfg, err := cfg.Validate()
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// OpenRepository opens the state database of the data dir.
func (r RootCommand) OpenRepository(ctx context.Context) (*sqlite.Repository, error) {
	cfg, err := r.LoadConfig(ctx, nil)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Paths().DataDir(), 0o755); err != nil {
		return nil, fmt.Errorf("could not create data dir: %w", err)
	}

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: cfg.Paths().DB(),
		Logger: r.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create repository: %w", err)
	}

	return repo, nil
}
