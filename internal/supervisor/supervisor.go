// Package supervisor wires a watch.Watcher to a pool.Pool: on debounced
// change it reads and parses the configuration file, derives the data
// vector, and invokes the pool's trigger; on shutdown it runs pool
// teardown. This is the "Supervisor (glue)" component of spec.md §2.
package supervisor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/config"
	"github.com/gappylul/eirenewatch/internal/pool"
)

// Watcher is the interface the Supervisor consumes (spec.md §6). watch.Watcher
// satisfies it; tests may substitute a fake.
type Watcher interface {
	Ready() <-chan struct{}
	Change() <-chan struct{}
	Err() <-chan error
	Close() error
}

// Supervisor drives one supervised script: it watches configPath and feeds
// a pool.Pool from it until shut down.
type Supervisor struct {
	configPath string
	debounce   time.Duration
	watcher    Watcher
	pool       *pool.Pool
	log        *zap.SugaredLogger

	rootCtx    context.Context
	rootCancel context.CancelFunc

	shutdown bool
	mu       sync.Mutex

	done chan struct{}
}

// New builds a Supervisor driven by ctx/cancel. ctx is also the parent
// cancellation signal the caller should thread into p's shared template
// (task.WithParentCancel) so that cancelling it — via Shutdown or a parent
// signal — cancels every in-flight task at the same moment the supervisor
// loop itself exits. Use NewCancelContext to derive ctx/cancel from an
// outer context shared by multiple supervisors.
func New(ctx context.Context, cancel context.CancelFunc, configPath string, w Watcher, p *pool.Pool, debounce time.Duration, log *zap.SugaredLogger) *Supervisor {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{
		configPath: configPath,
		debounce:   debounce,
		watcher:    w,
		pool:       p,
		log:        log,
		rootCtx:    ctx,
		rootCancel: cancel,
		done:       make(chan struct{}),
	}
}

// NewCancelContext derives a cancellable context from parent, suitable for
// passing to both New and task.WithParentCancel so a single script's task
// template and its Supervisor observe the same cancellation.
func NewCancelContext(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(parent)
}

// Run blocks, driving the watcher-to-pool glue, until Shutdown is called or
// the supervisor's root context is cancelled. It always tears the pool down
// before returning.
func (s *Supervisor) Run() {
	defer close(s.done)
	defer s.pool.Teardown(context.Background())

	readyCh := s.watcher.Ready()
	changeCh := s.watcher.Change()
	errCh := s.watcher.Err()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-readyCh:
			readyCh = nil
			s.reload()

		case <-changeCh:
			if timer == nil {
				timer = time.NewTimer(s.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.debounce)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			s.reload()

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			s.log.Errorw("watcher error, initiating shutdown", "error", err)
			s.Shutdown()

		case <-s.rootCtx.Done():
			if err := s.watcher.Close(); err != nil {
				s.log.Warnw("error closing watcher", "error", err)
			}
			return
		}
	}
}

// reload reads, parses, and derives the data vector from configPath, then
// triggers the pool. Parse failures are logged and do not crash the
// process (spec.md §6).
func (s *Supervisor) reload() {
	cfg, err := config.Load(s.configPath)
	if err != nil {
		s.log.Errorw("failed to load config", "path", s.configPath, "error", err)
		return
	}
	data := config.ParseProcessData(cfg)
	s.pool.Trigger(s.rootCtx, cfg, data)
}

// Shutdown initiates graceful shutdown exactly once: closes the watcher,
// cancels the root signal, and lets Run's deferred pool teardown run.
// Subsequent calls are ignored with a warning, per spec.md §6.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		s.log.Warnw("shutdown already in progress, ignoring")
		return
	}
	s.shutdown = true
	s.mu.Unlock()

	if err := s.watcher.Close(); err != nil {
		s.log.Warnw("error closing watcher", "error", err)
	}
	s.rootCancel()
}

// Done is closed once Run has returned (after pool teardown completes).
func (s *Supervisor) Done() <-chan struct{} { return s.done }
