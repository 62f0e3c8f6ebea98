// Package task implements the per-slot task lifecycle engine: the
// TaskTemplate, the ActiveTaskRecord, and the TaskManager state machine that
// coordinates at-most-one active task, interrupt-vs-wait semantics, a
// single queued update, retry with exponential backoff, persistent
// re-execution, and orderly teardown.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/spawn"
)

// Manager owns at most one ActiveTaskRecord for a given slot. It serializes
// updates, implements the interrupt/wait/persistent policy, runs the retry
// loop, and performs teardown.
type Manager struct {
	template *TaskTemplate
	entryID  string
	log      *zap.SugaredLogger

	mu                sync.Mutex
	active            *activeTaskRecord
	teardownInitiated bool
	firstEvent        bool
}

// NewManager creates a Manager for one slot. entryID is the opaque string
// tag attached to every launch from this manager (typically the slot index).
func NewManager(template *TaskTemplate, entryID string) *Manager {
	return &Manager{
		template:   template,
		entryID:    entryID,
		log:        template.Log,
		firstEvent: true,
	}
}

// Update requests that the slot reflect the given (config, data) pair. It
// returns once the pending work has either started or been intentionally
// dropped. It never returns an error for routine task failures; those are
// only logged.
func (m *Manager) Update(ctx context.Context, config, data any) error {
	m.mu.Lock()
	isFirst := m.firstEvent
	if isFirst {
		m.firstEvent = false
	}
	active := m.active
	m.mu.Unlock()

	if active != nil {
		if m.template.Interruptible {
			active.cancel()
			if drained := m.drainOrDrop(active); !drained {
				return nil
			}
		} else if m.template.Persistent {
			m.log.Debugw("ignoring update on non-interruptible persistent task", "entryId", m.entryID)
			return nil
		} else {
			if drained := m.drainOrDrop(active); !drained {
				return nil
			}
		}
	}

	if isFirst && !m.template.InitialRun {
		// spec.md §3: InitialRun (default true) governs whether the very
		// first event fed to a manager fires a run at all.
		return nil
	}

	m.mu.Lock()
	if m.teardownInitiated {
		m.mu.Unlock()
		return nil
	}

	rec := newActiveTaskRecord(m.template.ParentCancel)
	m.active = rec
	m.mu.Unlock()

	go m.run(rec, config, data, isFirst)
	return nil
}

// drainOrDrop attempts to become the single queued updater for active. It
// returns true if it won the race and has drained active to completion,
// false if another updater already holds the queued slot (in which case the
// caller must return without effect).
func (m *Manager) drainOrDrop(active *activeTaskRecord) bool {
	if !active.queued.CompareAndSwap(false, true) {
		return false
	}
	<-active.done
	return true
}

// run executes the retry loop for rec and, once it resolves, clears
// m.active if it still points at rec.
func (m *Manager) run(rec *activeTaskRecord, config, data any, first bool) {
	err := m.retryLoop(rec, config, data, first)
	rec.finish(err)

	m.mu.Lock()
	if m.active == rec {
		m.active = nil
	}
	m.mu.Unlock()

	if err != nil && !errors.Is(err, ErrCancelled) {
		m.log.Errorw("task failed after exhausting retries", "entryId", m.entryID, "taskId", rec.id, "error", err)
	}
}

func (m *Manager) retryLoop(rec *activeTaskRecord, config, data any, first bool) error {
	policy := m.template.Retry
	attempt := 0

	for {
		if rec.ctx.Err() != nil {
			return ErrCancelled
		}

		if attempt > 0 {
			select {
			case <-time.After(policy.delay(attempt)):
			case <-rec.ctx.Done():
				return ErrCancelled
			}
		}

		lc := LaunchContext{
			EntryID: m.entryID,
			TaskID:  rec.id,
			Attempt: attempt,
			First:   first,
			Config:  config,
			Data:    data,
			Cancel:  rec.ctx,
			Log:     m.log,
			Spawn:   spawn.New(rec.id, m.template.CWD, m.template.ThrottleOutput, rec.ctx, m.log),
		}

		m.emit(Event{TaskID: rec.id, Attempt: attempt, Type: TaskStarted})
		launchErr := m.callLaunch(rec, lc)

		if launchErr == nil {
			if m.template.Persistent {
				m.log.Debugw("persistent task completed a cycle, relaunching", "entryId", m.entryID, "taskId", rec.id)
				continue
			}
			m.emit(Event{TaskID: rec.id, Attempt: attempt, Type: TaskSucceeded})
			return nil
		}

		if isCancelled(launchErr) {
			m.emit(Event{TaskID: rec.id, Attempt: attempt, Type: TaskCancelled, Err: launchErr})
			return ErrCancelled
		}

		if m.template.Persistent {
			m.log.Warnw("persistent task failed, relaunching", "entryId", m.entryID, "taskId", rec.id, "error", launchErr)
			continue
		}

		retriesLeft := policy.Retries - attempt
		if retriesLeft > 0 {
			attempt++
			m.emit(Event{TaskID: rec.id, Attempt: attempt, Type: TaskRetried, Err: launchErr})
			continue
		}

		m.emit(Event{TaskID: rec.id, Attempt: attempt, Type: TaskFailed, Err: launchErr})
		return errors.Join(ErrRetriesExhausted, launchErr)
	}
}

// callLaunch invokes the template's Launch function, converting a panic into
// an error instead of taking the manager's goroutine down with it.
func (m *Manager) callLaunch(rec *activeTaskRecord, lc LaunchContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Errorw("launch panicked", "entryId", m.entryID, "taskId", rec.id, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("launch panicked: %v", r)
		}
	}()
	return m.template.Launch(rec.ctx, lc)
}

// Teardown requests graceful shutdown. It is idempotent: a second call is a
// no-op. It cancels the active task, then runs the template's teardown hook
// if present. It does not await the active task's completion; the Pool
// guarantees that ordering (spec.md §4.2, §9).
func (m *Manager) Teardown(ctx context.Context) {
	m.mu.Lock()
	if m.teardownInitiated {
		m.mu.Unlock()
		return
	}
	m.teardownInitiated = true
	active := m.active
	m.mu.Unlock()

	if active != nil {
		active.cancel()
	}

	defer m.emit(Event{Type: ManagerTornDown})

	if m.template.Teardown == nil {
		return
	}

	taskID := newShortID()
	tc := TeardownContext{
		TaskID: taskID,
		Log:    m.log,
		Spawn:  spawn.New(taskID, m.template.CWD, m.template.ThrottleOutput, nil, m.log),
	}
	if err := m.template.Teardown(ctx, tc); err != nil {
		m.log.Errorw("teardown failed", "entryId", m.entryID, "taskId", taskID, "error", err)
	}
}

// AwaitActive blocks until the manager's current active task (if any, as of
// the call) has resolved, swallowing its error. Used by Pool.Teardown to
// guarantee the happens-before ordering the manager alone does not provide.
func (m *Manager) AwaitActive() {
	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if active != nil {
		<-active.done
	}
}

// EntryID returns the slot tag this manager was created with.
func (m *Manager) EntryID() string { return m.entryID }

func isCancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled)
}
