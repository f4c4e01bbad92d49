package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/odvcencio/qaflow/pkg/logging"
	"github.com/odvcencio/qaflow/pkg/runner"
	"github.com/odvcencio/qaflow/pkg/types"
)

type runOptions struct {
	file          string
	projectID     string
	testCaseID    string
	name          string
	renameInPlace bool
}

func runCmd(a *app) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a test case and stream its events",
		Long: `Run a test case definition against the configured server.

With --test-case the stored definition is loaded and, when -f is also given,
replaced by the file. With --project and a name a new test case is created
before the run. Without either the definition runs without being saved.
Ctrl-C cancels the run; the events received so far are kept.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runTest(ctx, a, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Test case definition (YAML or JSON)")
	cmd.Flags().StringVar(&opts.projectID, "project", "", "Project to save a new test case in")
	cmd.Flags().StringVar(&opts.testCaseID, "test-case", "", "Existing test case to run")
	cmd.Flags().StringVar(&opts.name, "name", "", "Name of the test case")
	cmd.Flags().BoolVar(&opts.renameInPlace, "rename-in-place", false, "Save a renamed test case instead of copying it")
	return cmd
}

func runTest(ctx context.Context, a *app, opts runOptions, out io.Writer) error {
	client, err := runner.NewClient(a.cfg.Client.ServerURL, a.cfg.Client.Token, nil)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		printed int
	)
	loc := runner.NewMemoryLocation(runner.Query{ProjectID: opts.projectID, TestCaseID: opts.testCaseID, Name: opts.name})
	session := runner.New(client, loc, runner.Options{
		Logger:        logging.Component(a.logger, "runner"),
		RenameInPlace: opts.renameInPlace,
		OnChange: func(r runner.Result) {
			mu.Lock()
			defer mu.Unlock()
			for ; printed < len(r.Events); printed++ {
				fmt.Fprintln(out, formatEvent(r.Events[printed]))
			}
		},
	})

	def, found := session.Load(ctx)
	if opts.file != "" {
		fromFile, err := loadDefinition(opts.file)
		if err != nil {
			return err
		}
		if fromFile.Name == "" {
			fromFile.Name = def.Name
		}
		def, found = fromFile, true
	}
	if opts.name != "" {
		def.Name = opts.name
	}
	if !found {
		return errors.New("nothing to run: pass -f or an existing --test-case")
	}

	res, err := session.Run(ctx, def)
	if err != nil {
		return err
	}

	if res.TestCaseID != "" {
		fmt.Fprintf(out, "test case: %s\n", res.TestCaseID)
	}
	fmt.Fprintf(out, "status: %s\n", res.Status)
	if res.Status == types.StatusPass {
		return nil
	}
	if res.Status == types.StatusCancelled {
		fmt.Fprintln(out, res.Error)
	}
	return runStatusError{status: res.Status, message: res.Error}
}

// loadDefinition reads a definition file. JSON is accepted as YAML.
func loadDefinition(path string) (types.TestCaseDefinition, error) {
	var def types.TestCaseDefinition
	f, err := os.Open(path)
	if err != nil {
		return def, fmt.Errorf("open definition: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return def, fmt.Errorf("definition %s is empty", path)
		}
		return def, fmt.Errorf("parse definition %s: %w", path, err)
	}
	return def, nil
}

func formatEvent(ev types.RunEvent) string {
	var b strings.Builder
	if !ev.Timestamp.IsZero() {
		b.WriteString(ev.Timestamp.Format("15:04:05") + " ")
	}
	if ev.BrowserID != "" {
		b.WriteString("[" + ev.BrowserID + "] ")
	}
	if log, ok := ev.Log(); ok {
		fmt.Fprintf(&b, "%-7s %s", log.Level, log.Message)
		return b.String()
	}
	if shot, ok := ev.Screenshot(); ok {
		label := shot.Label
		if label == "" {
			label = "(unlabelled)"
		}
		fmt.Fprintf(&b, "%-7s %s", "shot", label)
		return b.String()
	}
	b.WriteString("unknown event")
	return b.String()
}
