// Command eirenewatch is the CLI entry point: it watches one or more YAML
// scripts and keeps a pool of task managers in sync with each, per spec.md
// §6's CLI surface.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/cli"
	"github.com/gappylul/eirenewatch/internal/config"
	"github.com/gappylul/eirenewatch/internal/spawn"
	"github.com/gappylul/eirenewatch/internal/task"
)

func main() {
	root := cli.NewRootCommand(buildTemplate)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildTemplate constructs the TaskTemplate for a script: its Launch body
// runs the script's task.command with task.args once per slot, the default
// "script" this binary understands without requiring custom Go code per
// watched file. The command is executed directly, not through a shell, and
// the slot's Item is not passed to it.
func buildTemplate(ctx context.Context, scriptPath string, cfg *config.Config, log *zap.SugaredLogger, events task.EventHandler) (*task.TaskTemplate, error) {
	launch := func(ctx context.Context, lc task.LaunchContext) error {
		if cfg.Task.Command == "" {
			return nil
		}
		_, err := lc.Spawn.Run(ctx, cfg.Task.Command, cfg.Task.Args...)
		return err
	}

	opts := []task.TemplateOption{
		task.WithParentCancel(ctx),
		task.WithCWD(cfg.Task.CWD),
		task.WithInitialRun(cfg.Task.InitialRunOrDefault()),
		task.WithInterruptible(cfg.Task.InterruptibleOrDefault()),
		task.WithPersistent(cfg.Task.Persistent),
		task.WithLogger(log),
		task.WithRetry(task.RetryPolicy{
			Retries:    cfg.Retry.Retries,
			Factor:     cfg.Retry.Factor,
			MinTimeout: time.Duration(cfg.Retry.MinTimeout) * time.Millisecond,
			MaxTimeout: time.Duration(cfg.Retry.MaxTimeout) * time.Millisecond,
		}),
		task.WithThrottleOutput(spawn.Throttle{
			MaxLines: cfg.Task.ThrottleLines,
			Interval: time.Duration(cfg.Task.ThrottleWindow) * time.Millisecond,
		}),
	}
	if events != nil {
		opts = append(opts, task.WithEventHandler(events))
	}

	return task.NewTemplate(scriptPath, scriptPath, launch, opts...)
}
