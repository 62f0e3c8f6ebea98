package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gappylul/eirenewatch/internal/pool"
	"github.com/gappylul/eirenewatch/internal/task"
)

type fakeWatcher struct {
	ready  chan struct{}
	change chan struct{}
	errs   chan error
	closed atomic.Bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{
		ready:  make(chan struct{}),
		change: make(chan struct{}, 1),
		errs:   make(chan error, 1),
	}
}

func (f *fakeWatcher) Ready() <-chan struct{}  { return f.ready }
func (f *fakeWatcher) Change() <-chan struct{} { return f.change }
func (f *fakeWatcher) Err() <-chan error       { return f.errs }
func (f *fakeWatcher) Close() error {
	f.closed.Store(true)
	return nil
}

func writeConfig(t *testing.T, dir string, items int) string {
	t.Helper()
	path := filepath.Join(dir, "eirenewatch.yaml")
	doc := "items:\n"
	for i := 0; i < items; i++ {
		doc += "  - name: item\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func newNopTemplate(t *testing.T, launches *int32) *task.TaskTemplate {
	t.Helper()
	tmpl, err := task.NewTemplate("test", "id", func(ctx context.Context, lc task.LaunchContext) error {
		atomic.AddInt32(launches, 1)
		return nil
	})
	require.NoError(t, err)
	return tmpl
}

func TestSupervisorReadyTriggersInitialPass(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, 2)

	var launches int32
	tmpl := newNopTemplate(t, &launches)
	p := pool.New(tmpl, zap.NewNop().Sugar())
	w := newFakeWatcher()

	ctx, cancel := NewCancelContext(context.Background())
	sup := New(ctx, cancel, path, w, p, 10*time.Millisecond, zap.NewNop().Sugar())

	go sup.Run()
	close(w.ready)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Len() < 2 {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, 2, p.Len())

	sup.Shutdown()
	<-sup.Done()
	assert.True(t, w.closed.Load())
}

func TestSupervisorDebouncesChangeEvents(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, 1)

	var launches int32
	tmpl := newNopTemplate(t, &launches)
	p := pool.New(tmpl, zap.NewNop().Sugar())
	w := newFakeWatcher()

	ctx, cancel := NewCancelContext(context.Background())
	sup := New(ctx, cancel, path, w, p, 30*time.Millisecond, zap.NewNop().Sugar())

	go sup.Run()
	close(w.ready)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && p.Len() < 1 {
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 1, p.Len())

	for i := 0; i < 5; i++ {
		w.change <- struct{}{}
		time.Sleep(2 * time.Millisecond)
	}
	time.Sleep(80 * time.Millisecond)

	// One launch from the ready pass, one from the single debounced reload.
	assert.EqualValues(t, 2, atomic.LoadInt32(&launches))

	sup.Shutdown()
	<-sup.Done()
}

func TestSupervisorShutdownIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, 0)

	var launches int32
	tmpl := newNopTemplate(t, &launches)
	p := pool.New(tmpl, zap.NewNop().Sugar())
	w := newFakeWatcher()

	ctx, cancel := NewCancelContext(context.Background())
	sup := New(ctx, cancel, path, w, p, 10*time.Millisecond, zap.NewNop().Sugar())

	go sup.Run()
	close(w.ready)

	sup.Shutdown()
	sup.Shutdown()
	<-sup.Done()
}
