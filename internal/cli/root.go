// Package cli implements the contactsd command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/contactsd/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	DB      string
	Config  string
	As      string
	Metrics string

	// cfg is loaded before any subcommand runs.
	cfg *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the contactsd CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "contactsd",
		Short: "contactsd - on-device contacts store",
		Long:  "Stores address books, contacts, groups and the phone log in SQLite, with change tracking and per-caller access control.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.load()
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.DB, "db", "", "path to SQLite database (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "config file (default ./"+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "caller label (defaults to the configured admin)")
	cmd.PersistentFlags().StringVar(&opts.Metrics, "metrics-file", "", "write Prometheus metrics to this file on exit (overrides config)")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewInsertCommand(opts))
	cmd.AddCommand(NewQueryCommand(opts))
	cmd.AddCommand(NewChangesCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// load reads the configuration, applies flag overrides and installs the
// default logger.
func (o *RootOptions) load() error {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.DB != "" {
		cfg.DB = o.DB
	}
	if o.Metrics != "" {
		cfg.MetricsFile = o.Metrics
	}

	level, _ := cfg.SlogLevel()
	if o.Verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	o.cfg = cfg
	return nil
}

// caller returns the label commands connect as.
func (o *RootOptions) caller() string {
	if o.As != "" {
		return o.As
	}
	return o.config().Admin
}

// config returns the loaded configuration, loading defaults when a
// subcommand runs without the root pre-run.
func (o *RootOptions) config() *config.Config {
	if o.cfg == nil {
		if err := o.load(); err != nil {
			slog.Warn("using default config", "error", err)
			o.cfg = config.Default()
			if o.DB != "" {
				o.cfg.DB = o.DB
			}
			if o.Metrics != "" {
				o.cfg.MetricsFile = o.Metrics
			}
		}
	}
	return o.cfg
}
