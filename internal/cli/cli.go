// Package cli builds the eirenewatch command tree with
// github.com/spf13/cobra, the framework ChuLiYu-raft-recovery's
// internal/cli/cli.go uses for its run/status command pair.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/config"
	"github.com/gappylul/eirenewatch/internal/logging"
	"github.com/gappylul/eirenewatch/internal/metrics"
	"github.com/gappylul/eirenewatch/internal/pool"
	"github.com/gappylul/eirenewatch/internal/supervisor"
	"github.com/gappylul/eirenewatch/internal/task"
	"github.com/gappylul/eirenewatch/internal/watch"
)

const defaultScript = "eirenewatch.yaml"
const verboseEnvVar = "EIRENEWATCH_VERBOSE"

var verboseWarned sync.Once

// NewRootCommand builds the root cobra.Command. build is invoked once per
// resolved script path to obtain the TaskTemplate that script's supervisor
// should run; it lets callers (and tests) supply their own task bodies
// without this package knowing about any particular domain.
func NewRootCommand(build func(ctx context.Context, scriptPath string, cfg *config.Config, log *zap.SugaredLogger, events task.EventHandler) (*task.TaskTemplate, error)) *cobra.Command {
	root := &cobra.Command{
		Use:   "eirenewatch [scripts...]",
		Short: "Configuration-driven task supervisor",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := resolveScripts(args)
			if err != nil {
				return err
			}
			return runAll(cmd.Context(), paths, build)
		},
	}

	root.AddCommand(newStatusCommand())
	return root
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status [script]",
		Short: "Print a script's configuration summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "slots: %d\n", len(cfg.Items))
			fmt.Fprintf(cmd.OutOrStdout(), "watch wait: %dms\n", cfg.Watch.WaitMS)
			fmt.Fprintf(cmd.OutOrStdout(), "metrics enabled: %v\n", cfg.Metrics.Enabled)
			return nil
		},
	}
}

// resolveScripts expands glob entries and defaults to defaultScript when no
// positional args were given. Missing scripts are an error (the caller maps
// that to exit code 1).
func resolveScripts(args []string) ([]string, error) {
	if len(args) == 0 {
		args = []string{defaultScript}
	}

	var resolved []string
	for _, a := range args {
		if strings.Contains(a, "*") {
			matches, err := filepath.Glob(a)
			if err != nil {
				return nil, fmt.Errorf("cli: invalid glob %q: %w", a, err)
			}
			resolved = append(resolved, matches...)
			continue
		}
		resolved = append(resolved, a)
	}

	for _, p := range resolved {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("cli: script not found: %s", p)
		}
	}
	return resolved, nil
}

func isVerbose() bool {
	return os.Getenv(verboseEnvVar) != ""
}

func warnIfNotVerbose() {
	if isVerbose() {
		return
	}
	verboseWarned.Do(func() {
		fmt.Fprintf(os.Stderr, "%s is not set; verbose logging disabled\n", verboseEnvVar)
	})
}

// metricsEventHandler maps a task.Manager's lifecycle Events onto reg's
// collectors, the bridge DESIGN.md's internal/metrics section describes
// between the event fan-out and the Prometheus registry.
func metricsEventHandler(reg *metrics.Registry) task.EventHandler {
	return func(e task.Event) {
		switch e.Type {
		case task.TaskStarted:
			reg.RecordLaunch(e.EntryID)
			reg.SetActive(e.EntryID, true)
		case task.TaskRetried:
			reg.RecordRetry(e.EntryID)
		case task.TaskFailed:
			reg.RecordFailure(e.EntryID)
			reg.SetActive(e.EntryID, false)
		case task.TaskSucceeded, task.TaskCancelled:
			reg.SetActive(e.EntryID, false)
		case task.ManagerTornDown:
			reg.RecordTeardown(e.EntryID)
			reg.SetActive(e.EntryID, false)
		}
	}
}

// runAll starts one supervisor per resolved script and blocks until all have
// shut down, via a single shared SIGINT/SIGTERM handler.
func runAll(ctx context.Context, paths []string, build func(context.Context, string, *config.Config, *zap.SugaredLogger, task.EventHandler) (*task.TaskTemplate, error)) error {
	warnIfNotVerbose()

	rootCtx, rootCancel := context.WithCancel(ctx)
	defer rootCancel()

	var sups []*supervisor.Supervisor
	var wg sync.WaitGroup

	for _, path := range paths {
		cfg, err := config.Load(path)
		if err != nil {
			return fmt.Errorf("cli: %w", err)
		}

		logCfg := cfg.Logging
		if isVerbose() {
			logCfg.Level = "debug"
		}
		zapLogger, err := logging.New(logCfg)
		if err != nil {
			return fmt.Errorf("cli: %w", err)
		}
		log := zapLogger.Sugar()

		var events task.EventHandler
		if cfg.Metrics.Enabled {
			reg := metrics.New()
			if err := reg.Serve(cfg.Metrics.Addr, cfg.Metrics.Path); err != nil {
				log.Warnw("failed to start metrics server", "error", err)
			} else {
				defer reg.Shutdown(context.Background())
				events = metricsEventHandler(reg)
			}
		}

		sCtx, sCancel := supervisor.NewCancelContext(rootCtx)

		tmpl, err := build(sCtx, path, cfg, log, events)
		if err != nil {
			sCancel()
			return fmt.Errorf("cli: build template for %s: %w", path, err)
		}

		w, err := watch.New(path)
		if err != nil {
			sCancel()
			return fmt.Errorf("cli: watch %s: %w", path, err)
		}

		p := pool.New(tmpl, log)
		sup := supervisor.New(sCtx, sCancel, path, w, p, cfg.DebounceWait(), log)

		sups = append(sups, sup)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sup.Run()
		}()
	}

	handleSignals(rootCancel)

	wg.Wait()
	return nil
}

// handleSignals registers a one-time SIGINT/SIGTERM handler: the first
// signal cancels rootCancel (which each Supervisor observes and shuts down
// on); subsequent signals are ignored with a warning, per spec.md §6.
func handleSignals(rootCancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var handled bool
	go func() {
		for range sigCh {
			if handled {
				fmt.Fprintln(os.Stderr, "shutdown already in progress, ignoring signal")
				continue
			}
			handled = true
			rootCancel()
		}
	}()
}
