package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orizon-lang/capsafe/internal/checker"
	"github.com/orizon-lang/capsafe/internal/cli"
	"github.com/orizon-lang/capsafe/internal/metrics"
	"github.com/orizon-lang/capsafe/internal/script"
)

// traceGlob selects the traces under a directory argument.
const traceGlob = "**/*.{yaml,yml}"

// checkOptions are the per-command overrides of the configuration file.
type checkOptions struct {
	Strict           bool
	Profile          string
	TimeoutMS        uint32
	Z3Path           string
	UnknownAsError   bool
	WarningsAsErrors bool
	MaxErrors        int
	Jobs             int
}

func (c *checkOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&c.Strict, "strict", false, "check concurrency eagerly at every access")
	cmd.Flags().StringVar(&c.Profile, "profile", "", "solver profile (fast|thorough)")
	cmd.Flags().Uint32Var(&c.TimeoutMS, "timeout-ms", 0, "per-check solver timeout in milliseconds (0 = profile default)")
	cmd.Flags().StringVar(&c.Z3Path, "z3", "", "path to the z3 binary for the thorough profile")
	cmd.Flags().BoolVar(&c.UnknownAsError, "unknown-as-error", false, "report undecided obligations as errors")
	cmd.Flags().BoolVar(&c.WarningsAsErrors, "warnings-as-errors", false, "treat every warning as an error")
	cmd.Flags().IntVar(&c.MaxErrors, "max-errors", 0, "stop reporting a unit after this many errors (0 = unlimited)")
	cmd.Flags().IntVarP(&c.Jobs, "jobs", "j", runtime.NumCPU(), "units checked in parallel")
}

// apply copies the flags the user set onto config.
func (c *checkOptions) apply(cmd *cobra.Command, config *cli.Config) error {
	flags := cmd.Flags()
	if flags.Changed("strict") {
		config.StrictMode = c.Strict
	}
	if flags.Changed("profile") {
		config.Profile = c.Profile
	}
	if flags.Changed("timeout-ms") {
		config.TimeoutMS = c.TimeoutMS
	}
	if flags.Changed("z3") {
		config.Z3Path = c.Z3Path
	}
	if flags.Changed("unknown-as-error") {
		config.UnknownAsError = c.UnknownAsError
	}
	if flags.Changed("warnings-as-errors") {
		config.WarningsAsErrors = c.WarningsAsErrors
	}
	if flags.Changed("max-errors") {
		config.MaxErrors = c.MaxErrors
	}
	if c.Jobs < 1 {
		return fmt.Errorf("--jobs must be at least 1")
	}
	return config.Validate()
}

func newVerifyCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &checkOptions{}

	cmd := &cobra.Command{
		Use:   "verify <trace|dir|glob>...",
		Short: "Check traces and report diagnostics",
		Long: `Check each trace as an independent compilation unit.

Directories are searched for *.yaml and *.yml traces; patterns may use **.
Units are checked in parallel. The command fails when any unit is rejected.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := *rootOpts.config
			if err := opts.apply(cmd, &config); err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid options", Err: err}
			}

			paths, err := expandPaths(args)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "expand paths", Err: err}
			}
			rootOpts.logger.Debug("verifying traces", "count", len(paths), "jobs", opts.Jobs)

			results, err := verifyPaths(cmd.Context(), paths, config.Checker(), opts.Jobs, rootOpts.logger, nil)
			if err != nil {
				return err
			}
			outcomes := evaluate(results, config.Engine())
			if err := render(cmd, rootOpts.Format, outcomes); err != nil {
				return err
			}
			return verdictError(outcomes)
		},
	}
	opts.register(cmd)

	return cmd
}

func render(cmd *cobra.Command, format string, outcomes []outcome) error {
	if format == "json" {
		return writeJSON(cmd.OutOrStdout(), outcomes)
	}
	return writeText(cmd.OutOrStdout(), outcomes)
}

// containsGlob checks if a pattern contains glob characters.
func containsGlob(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

// expandPaths resolves files, directories and ** patterns to a sorted,
// duplicate-free list of trace files.
func expandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(paths ...string) {
		for _, p := range paths {
			p = filepath.Clean(p)
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}

	for _, pattern := range patterns {
		if containsGlob(pattern) {
			matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("glob error: %w", err)
			}
			if len(matches) == 0 {
				return nil, fmt.Errorf("no traces match pattern: %s", pattern)
			}
			add(matches...)
			continue
		}

		info, err := os.Stat(pattern)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(pattern)
			continue
		}

		matches, err := doublestar.Glob(os.DirFS(pattern), traceGlob, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob error: %w", err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no traces in directory: %s", pattern)
		}
		for _, m := range matches {
			add(filepath.Join(pattern, filepath.FromSlash(m)))
		}
	}

	sort.Strings(out)
	return out, nil
}

// result is the outcome of checking one trace file. Err is set when the
// trace could not be loaded or hit a contract error.
type result struct {
	Path   string
	Script *script.Script
	Report *checker.Report
	Err    error
}

// verifyPaths checks every trace as an independent unit, at most jobs at
// a time. Failures are recorded per unit; only cancellation of ctx aborts
// the run.
func verifyPaths(ctx context.Context, paths []string, cfg checker.Config, jobs int, logger *slog.Logger, m *metrics.Metrics) ([]result, error) {
	results := make([]result, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = verifyOne(gctx, path, cfg, logger, m)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func verifyOne(ctx context.Context, path string, cfg checker.Config, logger *slog.Logger, m *metrics.Metrics) result {
	r := result{Path: path}

	s, err := script.LoadFile(path)
	if err != nil {
		r.Err = err
		return r
	}
	r.Script = s

	unitLogger := logger.With("unit", s.Unit)
	report, err := script.Check(ctx, s, cfg, checker.WithLogger(unitLogger), checker.WithMetrics(m))
	if err != nil {
		unitLogger.Warn("unit failed", "path", path, "error", err)
		r.Err = err
		return r
	}
	r.Report = report
	return r
}
