// Package spawn wraps os/exec so that task launch and teardown callbacks get
// a small, pre-bound command-execution helper instead of touching exec.Cmd
// directly. Every Runner is bound to a taskId (for logging), a cancellation
// signal (optional, nil for teardown runs), a working directory, and an
// output throttle policy.
package spawn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"

	"go.uber.org/zap"
)

// Throttle bounds how many output lines a spawned command may emit per
// interval before lines start being dropped. A zero Throttle performs no
// limiting.
type Throttle struct {
	MaxLines int
	Interval time.Duration
}

func (t Throttle) enabled() bool {
	return t.MaxLines > 0 && t.Interval > 0
}

// Result captures the outcome of a Run call.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes commands on behalf of a single task id.
type Runner struct {
	taskID   string
	cwd      string
	throttle Throttle
	cancel   context.Context // nil for teardown runs; Run then honors only the ctx passed to it
	log      *zap.SugaredLogger
}

// New builds a Runner bound to taskID. cancel may be nil (teardown calls pass
// no cancellation signal, per spec).
func New(taskID, cwd string, throttle Throttle, cancel context.Context, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Runner{taskID: taskID, cwd: cwd, throttle: throttle, cancel: cancel, log: log}
}

// Run executes name with args, streaming throttled output, and returns once
// the command exits or ctx (merged with the Runner's own cancellation, if
// any) is done.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	runCtx := ctx
	if r.cancel != nil {
		merged, cancel := mergeContexts(ctx, r.cancel)
		defer cancel()
		runCtx = merged
	}

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = r.cwd

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("spawn: stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("spawn: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("spawn: start %s: %w", name, err)
	}

	var out, errOut string
	done := make(chan struct{}, 2)
	go func() { out = r.drain(stdoutPipe, "stdout"); done <- struct{}{} }()
	go func() { errOut = r.drain(stderrPipe, "stderr"); done <- struct{}{} }()
	<-done
	<-done

	waitErr := cmd.Wait()
	res := Result{Stdout: out, Stderr: errOut}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if waitErr != nil {
		return res, fmt.Errorf("spawn: %s: %w", name, waitErr)
	}
	return res, nil
}

// TaskID returns the task id this Runner is bound to.
func (r *Runner) TaskID() string { return r.taskID }

func (r *Runner) drain(rc io.ReadCloser, stream string) string {
	defer rc.Close()
	var lines int
	var windowStart time.Time
	var buf []byte
	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := scanner.Bytes()
		if r.throttle.enabled() {
			now := time.Now()
			if windowStart.IsZero() || now.Sub(windowStart) > r.throttle.Interval {
				windowStart = now
				lines = 0
			}
			lines++
			if lines > r.throttle.MaxLines {
				r.log.Debugw("spawn: output throttled", "taskId", r.taskID, "stream", stream)
				continue
			}
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return string(buf)
}

func mergeContexts(a, b context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(a)
	stop := make(chan struct{})
	go func() {
		select {
		case <-b.Done():
			cancel()
		case <-stop:
		}
	}()
	return ctx, func() {
		close(stop)
		cancel()
	}
}
