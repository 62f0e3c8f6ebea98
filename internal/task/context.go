package task

import (
	"context"

	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/spawn"
)

// LaunchContext is passed to a TaskTemplate's Launch callback on every
// attempt, including retries.
type LaunchContext struct {
	EntryID string
	TaskID  string
	Attempt int
	First   bool
	Config  any
	Data    any
	Cancel  context.Context
	Log     *zap.SugaredLogger
	Spawn   *spawn.Runner
}

// TeardownContext is passed to a TaskTemplate's Teardown callback. It carries
// no cancellation signal, per spec.
type TeardownContext struct {
	TaskID string
	Log    *zap.SugaredLogger
	Spawn  *spawn.Runner
}

// LaunchFunc is the user-supplied task body.
type LaunchFunc func(ctx context.Context, lc LaunchContext) error

// TeardownFunc is the user-supplied cleanup hook, run once per manager when
// its slot disappears.
type TeardownFunc func(ctx context.Context, tc TeardownContext) error
