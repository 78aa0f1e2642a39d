package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/kingpin/v2"
	"github.com/goccy/go-json"

	"github.com/slok/xferd/internal/app/submit"
	"github.com/slok/xferd/internal/model"
	"github.com/slok/xferd/internal/printer"
)

// SubmitCommand queues a new job, a running server executes it.
type SubmitCommand struct {
	Cmd     *kingpin.CmdClause
	rootCmd *RootCommand

	jobType     string
	profile     string
	payload     string
	payloadFile string
	format      string
}

// NewSubmitCommand returns the submit command.
func NewSubmitCommand(rootCmd *RootCommand, app *kingpin.Application) *SubmitCommand {
	c := &SubmitCommand{rootCmd: rootCmd}

	c.Cmd = app.Command("submit", "Submit a new job.")
	c.Cmd.Arg("type", "Job type (e.g. transfer_copy_prefix, s3_zip_prefix).").Required().StringVar(&c.jobType)
	c.Cmd.Flag("profile", "Profile name or ID.").Short('p').Required().StringVar(&c.profile)
	c.Cmd.Flag("payload", "Job payload as a JSON object.").StringVar(&c.payload)
	c.Cmd.Flag("payload-file", "File with the job payload as a JSON object ('-' reads stdin).").StringVar(&c.payloadFile)
	c.Cmd.Flag("format", "Output format (table, json).").Default("table").EnumVar(&c.format, "table", "json")

	return c
}

func (c SubmitCommand) Name() string { return c.Cmd.FullCommand() }

func (c SubmitCommand) Run(ctx context.Context) error {
	logger := c.rootCmd.Logger

	payload, err := c.readPayload()
	if err != nil {
		return err
	}

	repo, err := c.rootCmd.OpenRepository(ctx)
	if err != nil {
		return err
	}
	defer repo.Close()

	svc, err := submit.NewService(submit.ServiceConfig{
		Repository: repo,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("could not create service: %w", err)
	}

	job, err := svc.Run(ctx, submit.Request{
		Profile: c.profile,
		Type:    model.JobType(strings.TrimSpace(c.jobType)),
		Payload: payload,
	})
	if err != nil {
		return fmt.Errorf("could not submit job: %w", err)
	}

	if c.format == "json" {
		return printer.NewJSONPrinter(c.rootCmd.Stdout).PrintJobStatus(printer.JobStatus{Job: *job})
	}

	fmt.Fprintf(c.rootCmd.Stdout, "Job submitted successfully!\n")
	fmt.Fprintf(c.rootCmd.Stdout, "  ID:      %s\n", job.ID)
	fmt.Fprintf(c.rootCmd.Stdout, "  Type:    %s\n", job.Type)
	fmt.Fprintf(c.rootCmd.Stdout, "  Status:  %s\n", job.Status)

	return nil
}

func (c SubmitCommand) readPayload() (map[string]any, error) {
	var data []byte
	switch {
	case c.payload != "" && c.payloadFile != "":
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	case c.payload != "":
		data = []byte(c.payload)
	case c.payloadFile == "-":
		b, err := io.ReadAll(c.rootCmd.Stdin)
		if err != nil {
			return nil, fmt.Errorf("could not read payload from stdin: %w", err)
		}
		data = b
	case c.payloadFile != "":
		b, err := os.ReadFile(c.payloadFile)
		if err != nil {
			return nil, fmt.Errorf("could not read payload file: %w", err)
		}
		data = b
	default:
		return map[string]any{}, nil
	}

	payload := map[string]any{}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}

	return payload, nil
}
