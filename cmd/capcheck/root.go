package main

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/orizon-lang/capsafe/internal/cli"
)

const toolName = "capcheck"

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	LogLevel   string

	config *cli.Config
	logger *slog.Logger
}

// validFormats defines the allowed output formats.
var validFormats = []string{"text", "json"}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   toolName,
		Short: "capcheck - static resource-safety checks",
		Long: `Check ownership, capability lifetimes, thread confinement and proof
obligations for compilation units recorded as YAML traces.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output (debug logging)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "capcheck.yaml", "configuration file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides the config file")

	cmd.AddCommand(newVerifyCommand(opts))
	cmd.AddCommand(newWatchCommand(opts))
	cmd.AddCommand(newSummaryCommand(opts))
	cmd.AddCommand(newVersionCommand(opts))

	return cmd
}

// setup validates the global flags, loads the configuration and builds
// the logger. Logs go to stderr so they never mix with JSON output.
func (o *rootOptions) setup(cmd *cobra.Command) error {
	if !slices.Contains(validFormats, o.Format) {
		return &ExitError{
			Code:    ExitCommandError,
			Message: fmt.Sprintf("invalid format %q: must be one of %v", o.Format, validFormats),
		}
	}

	config, err := cli.LoadConfig(o.ConfigPath)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "load config", Err: err}
	}

	level := config.LogLevel
	if o.LogLevel != "" {
		level = o.LogLevel
	}
	if o.Verbose {
		level = "debug"
	}
	logger, err := cli.NewLogger(cmd.ErrOrStderr(), level)
	if err != nil {
		return &ExitError{Code: ExitCommandError, Message: "configure logging", Err: err}
	}

	o.config = config
	o.logger = logger
	logger.Debug("configuration loaded", "path", o.ConfigPath, "profile", config.Profile, "strict", config.StrictMode)
	return nil
}

func newVersionCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PrintVersion(cmd.OutOrStdout(), toolName, opts.Format == "json")
		},
	}
}
