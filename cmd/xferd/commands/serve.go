package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofrs/flock"
	"github.com/oklog/run"

	"github.com/slok/xferd/internal/config"
	"github.com/slok/xferd/internal/events"
	"github.com/slok/xferd/internal/manager"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/printer"
	"github.com/slok/xferd/internal/rclone"
	"github.com/slok/xferd/internal/retry"
	"github.com/slok/xferd/internal/s3client"
	"github.com/slok/xferd/internal/storage/sqlite"
)

// ServeCommand runs the job engine until a termination signal is received.
type ServeCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	concurrency   int
	queueCapacity int
	allowedDirs   []string
	jobLogStdout  bool
	emitEvents    bool
	pollInterval  time.Duration
	captureErrors bool
}

// NewServeCommand returns the serve command.
func NewServeCommand(rootCmd *RootCommand, app *kingpin.Application) *ServeCommand {
	c := &ServeCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("serve", "Run the job engine.")
	c.Cmd.Flag("concurrency", "Max number of jobs running at the same time (0 uses the configured value).").IntVar(&c.concurrency)
	c.Cmd.Flag("queue-capacity", "Max number of queued jobs in memory (0 uses the configured value).").IntVar(&c.queueCapacity)
	c.Cmd.Flag("allowed-dir", "Local directory that upload jobs can read from (repeatable).").StringsVar(&c.allowedDirs)
	c.Cmd.Flag("job-log-stdout", "Print the job log lines as JSON on stdout.").BoolVar(&c.jobLogStdout)
	c.Cmd.Flag("emit-events", "Print the engine events as JSON lines on stdout.").BoolVar(&c.emitEvents)
	c.Cmd.Flag("poll-interval", "Interval to pick up submitted jobs and cancel requests.").Default("1s").DurationVar(&c.pollInterval)
	c.Cmd.Flag("capture-unknown-errors", "Store unclassified rclone failures on the data dir.").BoolVar(&c.captureErrors)

	return c
}

func (c ServeCommand) Name() string { return c.Cmd.FullCommand() }

func (c ServeCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	if c.pollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}

	cfg, err := c.rootCmd.LoadConfig(ctx, c.applyFlags)
	if err != nil {
		return err
	}
	paths := cfg.Paths()

	if err := os.MkdirAll(paths.DataDir(), 0o755); err != nil {
		return fmt.Errorf("could not create data dir: %w", err)
	}

	// Recovery marks running jobs as failed, only one server per data dir can do that.
	lock := flock.New(paths.Lock())
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("could not lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("data dir %s is used by another server", paths.DataDir())
	}
	defer func() { _ = lock.Unlock() }()

	repo, err := sqlite.NewRepository(ctx, sqlite.RepositoryConfig{
		DBPath: paths.DB(),
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create repository: %w", err)
	}
	defer repo.Close()

	hub := events.NewHub(events.HubConfig{Logger: logger})

	runner, err := rclone.NewExecRunner(rclone.ExecRunnerConfig{
		Binary: &rclone.Binary{Path: cfg.Rclone.Path},
		Paths:  paths,
		Env:    cfg.Rclone.Env,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create rclone runner: %w", err)
	}

	sampler, err := retry.NewUnknownSampler(retry.UnknownSamplerConfig{
		Dir:     paths.UnknownErrors(),
		Enabled: cfg.Rclone.CaptureUnknownErrors,
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("could not create unknown error sampler: %w", err)
	}

	mgr, err := manager.NewManager(manager.ManagerConfig{
		Config:     cfg,
		Repository: repo,
		Runner:     runner,
		Publisher:  hub,
		Sampler:    sampler,
		Lister: func(ctx context.Context, p model.Profile) (s3.ListObjectsV2APIClient, error) {
			return s3client.New(ctx, p)
		},
		Stdout: c.rootCmd.Stdout,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("could not create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := mgr.RecoverAndRequeue(ctx); err != nil {
		return fmt.Errorf("could not recover jobs: %w", err)
	}

	var g run.Group

	// Context cancellation.
	g.Add(
		func() error {
			<-ctx.Done()
			return nil
		},
		func(_ error) {
			cancel()
		},
	)

	// Job dispatcher.
	g.Add(
		func() error {
			return mgr.Run(ctx)
		},
		func(_ error) {
			cancel()
		},
	)

	// Maintenance.
	g.Add(
		func() error {
			return mgr.RunMaintenance(ctx)
		},
		func(_ error) {
			cancel()
		},
	)

	// Submitted jobs and cancel requests from other processes.
	g.Add(
		func() error {
			ticker := time.NewTicker(c.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}

				if _, err := mgr.SyncQueued(ctx); err != nil {
					logger.Warningf("could not sync queued jobs: %s", err)
				}
				if err := mgr.ProcessCancelRequests(ctx); err != nil {
					logger.Warningf("could not process cancel requests: %s", err)
				}
			}
		},
		func(_ error) {
			cancel()
		},
	)

	if c.emitEvents {
		sub, _ := hub.Subscribe(events.SubscribeOpts{Buffer: 512})
		p := printer.NewEventPrinter(c.rootCmd.Stdout)
		g.Add(
			func() error {
				for e := range sub.Events() {
					if err := p.PrintEvent(e); err != nil {
						logger.Warningf("could not print event: %s", err)
					}
				}
				return nil
			},
			func(_ error) {
				hub.Unsubscribe(sub)
			},
		)
	}

	logger.Infof("serving jobs from %s (concurrency %d, queue %d)", paths.DataDir(), cfg.Concurrency, cfg.QueueCapacity)

	return g.Run()
}

func (c ServeCommand) applyFlags(cfg *config.Config) {
	if c.concurrency > 0 {
		cfg.Concurrency = c.concurrency
	}
	if c.queueCapacity > 0 {
		cfg.QueueCapacity = c.queueCapacity
	}
	if len(c.allowedDirs) > 0 {
		cfg.AllowedLocalDirs = append([]string{}, c.allowedDirs...)
	}
	if c.jobLogStdout {
		cfg.JobLogEmitStdout = true
	}
	if c.captureErrors {
		cfg.Rclone.CaptureUnknownErrors = true
	}
}
