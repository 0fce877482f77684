package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orizon-lang/capsafe/internal/metrics"
	"github.com/orizon-lang/capsafe/internal/watch"
)

type watchOptions struct {
	checkOptions
	MetricsAddr string
	Debounce    time.Duration
}

func newWatchCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &watchOptions{}

	cmd := &cobra.Command{
		Use:   "watch <trace|dir|glob>...",
		Short: "Re-check traces whenever they change",
		Long: `Check every trace once, then re-check each trace that is created or
modified. With --metrics-addr, Prometheus metrics for obligations, solver
time and violations are served on /metrics.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config := *rootOpts.config
			if err := opts.apply(cmd, &config); err != nil {
				return &ExitError{Code: ExitCommandError, Message: "invalid options", Err: err}
			}
			logger := rootOpts.logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			reg := prometheus.NewRegistry()
			m, err := metrics.New(reg)
			if err != nil {
				return err
			}
			if opts.MetricsAddr != "" {
				srv := serveMetrics(opts.MetricsAddr, reg)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving metrics", "addr", opts.MetricsAddr, "path", "/metrics")
			}

			check := func(paths []string) error {
				results, err := verifyPaths(ctx, paths, config.Checker(), opts.Jobs, logger, m)
				if err != nil {
					return err
				}
				return render(cmd, rootOpts.Format, evaluate(results, config.Engine()))
			}

			paths, err := expandPaths(args)
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "expand paths", Err: err}
			}
			if err := check(paths); err != nil {
				return err
			}

			roots, match := watchTargets(args)
			w, err := watch.New(watch.Config{
				Roots:    roots,
				Match:    match,
				Debounce: opts.Debounce,
				Logger:   logger,
			})
			if err != nil {
				return &ExitError{Code: ExitCommandError, Message: "start watcher", Err: err}
			}

			done := make(chan error, 1)
			go func() { done <- w.Run(ctx) }()
			logger.Info("watching traces", "roots", roots)

			for batch := range w.Batches() {
				var changed []string
				for _, ev := range batch {
					// Editors that save by rename report a removal of a file
					// that exists again.
					if _, err := os.Stat(ev.Path); err != nil {
						logger.Debug("trace removed", "path", ev.Path, "op", ev.Op.String())
						continue
					}
					changed = append(changed, ev.Path)
				}
				if len(changed) == 0 {
					continue
				}
				logger.Debug("re-checking", "count", len(changed))
				if err := check(changed); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("check failed", "error", err)
				}
			}

			if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().DurationVar(&opts.Debounce, "debounce", 200*time.Millisecond, "how long to collect changes before re-checking")

	return cmd
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		_ = srv.ListenAndServe()
	}()
	return srv
}

// watchTargets returns the paths to register with the watcher and a
// matcher accepting the trace files the arguments name.
func watchTargets(args []string) ([]string, func(string) bool) {
	var roots, patterns, dirs []string
	files := make(map[string]bool)

	for _, arg := range args {
		if containsGlob(arg) {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(arg))
			roots = append(roots, filepath.FromSlash(base))
			patterns = append(patterns, filepath.ToSlash(arg))
			continue
		}

		clean := filepath.Clean(arg)
		roots = append(roots, clean)
		if info, err := os.Stat(clean); err == nil && info.IsDir() {
			dirs = append(dirs, clean)
		} else {
			files[clean] = true
		}
	}

	match := func(path string) bool {
		path = filepath.Clean(path)
		if files[path] {
			return true
		}
		slash := filepath.ToSlash(path)
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, slash); ok {
				return true
			}
		}
		if ext := filepath.Ext(path); ext != ".yaml" && ext != ".yml" {
			return false
		}
		for _, dir := range dirs {
			if rel, err := filepath.Rel(dir, path); err == nil && !strings.HasPrefix(rel, "..") {
				return true
			}
		}
		return false
	}
	return roots, match
}
