package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/qaflow/pkg/config"
	"github.com/odvcencio/qaflow/pkg/logging"
)

// Version information - set via ldflags during build
var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

// app is the state shared by every command once flags are parsed.
type app struct {
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	if err := rootCmd(&app{}).Execute(); err != nil {
		code := exitCodeForError(err)
		if code != exitCancelled {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(code)
	}
}

func rootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "qaflow",
		Short:         "Manage and run browser automation test cases",
		Version:       version + " (" + commit + ")",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (default ~/.qaflow/config.yaml and ./.qaflow/config.yaml)")
	cmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "Enable debug logging")

	cmd.AddCommand(serveCmd(a))
	cmd.AddCommand(runCmd(a))
	cmd.AddCommand(cloneCmd(a))
	cmd.AddCommand(projectCmd(a))
	cmd.AddCommand(tokenCmd(a))
	return cmd
}

func (a *app) load() error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFromPath(a.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.debug {
		cfg.Log.Level = "debug"
	}
	a.cfg = cfg
	a.logger = logging.New(cfg.Log, os.Stderr)
	slog.SetDefault(a.logger)
	return nil
}
