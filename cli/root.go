// Package cli is the devsim command tree.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/samaelod/devsim/config"
	"github.com/samaelod/devsim/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Version    string
	ConfigPath string
	LogLevel   string // overrides log_level from the settings file
	LogFile    string
	LogJSON    bool

	settings *config.Config
}

// NewRootCommand creates the root command for the devsim CLI.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "devsim",
		Short: "devsim - scripted device simulator",
		Long: `Simulate a device on a local socket: accept one peer and answer it
with payload files scheduled by a rule document.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, fmt.Sprintf("load settings %q", opts.ConfigPath), err)
			}
			opts.settings = cfg
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "settings file (default devsim.json, .devsim.json or ~/.config/devsim/config.json)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "append log lines to this file")
	cmd.PersistentFlags().BoolVar(&opts.LogJSON, "log-json", false, "log JSON to stderr")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewUICommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// Settings returns the loaded settings file, or the defaults when the
// command runs without the root.
func (o *RootOptions) Settings() *config.Config {
	if o.settings == nil {
		o.settings = config.Default()
	}
	return o.settings
}

// logger builds the root logger. Console output goes to w unless the
// terminal UI owns the screen.
func (o *RootOptions) logger(w io.Writer, console bool) (zerolog.Logger, *logging.Buffer) {
	cfg := o.Settings()
	level := o.LogLevel
	if level == "" {
		level = cfg.LogLevel
	}
	return logging.New(logging.Config{
		Level:   level,
		Console: console,
		JSON:    o.LogJSON,
		File:    o.LogFile,
		Lines:   cfg.LogLines,
		Out:     w,
	})
}

// NewVersionCommand prints the build version.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the devsim version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "devsim %s\n", opts.Version)
			return err
		},
	}
}
