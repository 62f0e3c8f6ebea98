package task

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/spawn"
)

// RetryPolicy bounds the exponential backoff applied between failed launch
// attempts in non-persistent mode.
type RetryPolicy struct {
	// Retries is the number of retries after the first attempt (0 means a
	// single attempt with no retry).
	Retries int
	// Factor multiplies the attempt number when computing a delay. Defaults
	// to 2.
	Factor float64
	// MinTimeout is the base unit of the backoff delay. Defaults to 1s.
	MinTimeout time.Duration
	// MaxTimeout caps the computed delay. Defaults to 30s.
	MaxTimeout time.Duration
	// Jitter adds symmetric randomness to the computed delay: 0 means none,
	// 1 means the delay may vary by up to ±100%. Defaults to 0.
	Jitter float64
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.Factor < 1 {
		r.Factor = 2
	}
	if r.MinTimeout <= 0 {
		r.MinTimeout = time.Second
	}
	if r.MaxTimeout <= 0 {
		r.MaxTimeout = 30 * time.Second
	}
	if r.Jitter < 0 {
		r.Jitter = 0
	}
	if r.Jitter > 1 {
		r.Jitter = 1
	}
	return r
}

// delay returns the k-th inter-attempt delay (k >= 1), per spec.md's
// retry-arithmetic law: min(k * factor * minTimeout, maxTimeout), then
// perturbed by Jitter to avoid synchronized retries across slots.
func (r RetryPolicy) delay(attempt int) time.Duration {
	d := time.Duration(float64(attempt) * r.Factor * float64(r.MinTimeout))
	if d > r.MaxTimeout {
		d = r.MaxTimeout
	}
	if r.Jitter == 0 {
		return d
	}
	spread := float64(d) * r.Jitter * (rand.Float64()*2 - 1)
	d += time.Duration(spread)
	if d < 0 {
		d = 0
	}
	return d
}

// TaskTemplate is an immutable description of a task, shared by reference
// across every TaskManager of a pool. Once constructed it is never mutated.
type TaskTemplate struct {
	Name     string
	ID       string
	Launch   LaunchFunc
	Teardown TeardownFunc

	ParentCancel context.Context // cancelled to cancel every task spawned by this template

	CWD            string
	ThrottleOutput spawn.Throttle
	Retry          RetryPolicy

	InitialRun    bool
	Interruptible bool
	Persistent    bool

	Log *zap.SugaredLogger

	eventHandlers []EventHandler
}

// TemplateOption configures a TaskTemplate during construction.
type TemplateOption func(*TaskTemplate)

// WithTeardown attaches a cleanup hook invoked once the manager tears down.
func WithTeardown(fn TeardownFunc) TemplateOption {
	return func(t *TaskTemplate) { t.Teardown = fn }
}

// WithCWD sets the working directory passed to spawn.
func WithCWD(dir string) TemplateOption {
	return func(t *TaskTemplate) { t.CWD = dir }
}

// WithThrottleOutput sets the output-rate policy passed to spawn.
func WithThrottleOutput(th spawn.Throttle) TemplateOption {
	return func(t *TaskTemplate) { t.ThrottleOutput = th }
}

// WithRetry sets the retry policy. Unset fields take their documented
// defaults.
func WithRetry(r RetryPolicy) TemplateOption {
	return func(t *TaskTemplate) { t.Retry = r.withDefaults() }
}

// WithInitialRun overrides the default (true): whether the first event fed
// to a manager fires a run.
func WithInitialRun(v bool) TemplateOption {
	return func(t *TaskTemplate) { t.InitialRun = v }
}

// WithInterruptible overrides the default (true): whether a new event
// cancels an in-flight task instead of waiting for it.
func WithInterruptible(v bool) TemplateOption {
	return func(t *TaskTemplate) { t.Interruptible = v }
}

// WithPersistent marks the task as persistent: after Launch returns (success
// or failure), it is immediately re-launched forever until cancelled.
// Requires InitialRun = true; NewTemplate rejects any other combination.
func WithPersistent(v bool) TemplateOption {
	return func(t *TaskTemplate) { t.Persistent = v }
}

// WithParentCancel threads a cancellation signal inherited from the
// supervisor; when it is cancelled, every task spawned by this template is
// cancelled.
func WithParentCancel(parent context.Context) TemplateOption {
	return func(t *TaskTemplate) { t.ParentCancel = parent }
}

// WithLogger attaches a structured logger. Defaults to a no-op logger.
func WithLogger(log *zap.SugaredLogger) TemplateOption {
	return func(t *TaskTemplate) { t.Log = log }
}

// WithEventHandler registers a handler to receive TaskManager lifecycle
// Events. Multiple handlers may be registered by calling this option more
// than once.
func WithEventHandler(h EventHandler) TemplateOption {
	return func(t *TaskTemplate) { t.eventHandlers = append(t.eventHandlers, h) }
}

// NewTemplate builds a TaskTemplate with the documented defaults
// (InitialRun=true, Interruptible=true, Persistent=false, retry factor=2,
// minTimeout=1s, maxTimeout=30s), applies opts, and validates the result.
//
// Returns ErrInvalidTemplate if Persistent is set without InitialRun: a
// persistent task that never fires on its first event can never start,
// which spec.md §3 calls a configuration error detected at construction.
func NewTemplate(name string, id string, launch LaunchFunc, opts ...TemplateOption) (*TaskTemplate, error) {
	t := &TaskTemplate{
		Name:          name,
		ID:            id,
		Launch:        launch,
		InitialRun:    true,
		Interruptible: true,
		Persistent:    false,
		Retry:         RetryPolicy{}.withDefaults(),
		Log:           zap.NewNop().Sugar(),
		ParentCancel:  context.Background(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.Persistent && !t.InitialRun {
		return nil, fmt.Errorf("%w: persistent requires initialRun", ErrInvalidTemplate)
	}
	return t, nil
}
