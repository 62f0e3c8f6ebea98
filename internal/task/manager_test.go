package task

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTemplate(t *testing.T, launch LaunchFunc, opts ...TemplateOption) *TaskTemplate {
	t.Helper()
	tmpl, err := NewTemplate("test", "test-id", launch, opts...)
	require.NoError(t, err)
	return tmpl
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestInitialRun(t *testing.T) {
	var calls int32
	var gotFirst atomic.Bool
	var gotEntryID atomic.Value
	var gotData atomic.Value

	launch := func(ctx context.Context, lc LaunchContext) error {
		atomic.AddInt32(&calls, 1)
		gotFirst.Store(lc.First)
		gotEntryID.Store(lc.EntryID)
		gotData.Store(lc.Data)
		return nil
	}

	tmpl := newTestTemplate(t, launch, WithRetry(RetryPolicy{Retries: 3, Factor: 1, MinTimeout: 10 * time.Millisecond, MaxTimeout: 100 * time.Millisecond}))
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&calls) == 1 })
	assert.True(t, gotFirst.Load())
	assert.Equal(t, "0", gotEntryID.Load().(string))
	assert.Equal(t, "a", gotData.Load().(string))
}

func TestInterruptAndReplace(t *testing.T) {
	var launches int32
	release := make(chan struct{})
	firstStarted := make(chan struct{})

	launch := func(ctx context.Context, lc LaunchContext) error {
		n := atomic.AddInt32(&launches, 1)
		if n == 1 {
			close(firstStarted)
			select {
			case <-ctx.Done():
				return ErrCancelled
			case <-release:
				return nil
			}
		}
		return nil
	}

	tmpl := newTestTemplate(t, launch)
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))
	<-firstStarted

	done := make(chan struct{})
	go func() {
		_ = mgr.Update(context.Background(), nil, "b")
		close(done)
	}()

	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&launches) == 2 })
	close(release)
	<-done

	assert.EqualValues(t, 2, atomic.LoadInt32(&launches))
}

func TestRetryWithBackoff(t *testing.T) {
	var launches int32
	var timestamps []time.Time
	var mu sync.Mutex

	launch := func(ctx context.Context, lc LaunchContext) error {
		mu.Lock()
		timestamps = append(timestamps, time.Now())
		mu.Unlock()
		atomic.AddInt32(&launches, 1)
		return errors.New("boom")
	}

	tmpl := newTestTemplate(t, launch, WithRetry(RetryPolicy{Retries: 2, Factor: 2, MinTimeout: 50 * time.Millisecond, MaxTimeout: time.Second}))
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))

	waitFor(t, 2*time.Second, func() bool { return atomic.LoadInt32(&launches) == 3 })

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, timestamps, 3)
	d1 := timestamps[1].Sub(timestamps[0])
	d2 := timestamps[2].Sub(timestamps[1])
	assert.InDelta(t, 100*time.Millisecond, d1, float64(60*time.Millisecond))
	assert.InDelta(t, 200*time.Millisecond, d2, float64(80*time.Millisecond))
}

func TestRetriesZeroMeansSingleLaunch(t *testing.T) {
	var launches int32
	launch := func(ctx context.Context, lc LaunchContext) error {
		atomic.AddInt32(&launches, 1)
		return errors.New("boom")
	}

	tmpl := newTestTemplate(t, launch, WithRetry(RetryPolicy{Retries: 0, Factor: 1, MinTimeout: time.Millisecond, MaxTimeout: time.Millisecond}))
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&launches) == 1 })
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt32(&launches))
}

func TestPersistentRepeatsUntilCancelled(t *testing.T) {
	var launches int32
	launch := func(ctx context.Context, lc LaunchContext) error {
		atomic.AddInt32(&launches, 1)
		select {
		case <-ctx.Done():
			return ErrCancelled
		case <-time.After(20 * time.Millisecond):
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	tmpl := newTestTemplate(t, launch, WithPersistent(true), WithInitialRun(true), WithParentCancel(ctx))
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&launches) >= 3 })

	cancel()
	waitFor(t, time.Second, func() bool {
		n1 := atomic.LoadInt32(&launches)
		time.Sleep(50 * time.Millisecond)
		return atomic.LoadInt32(&launches) == n1
	})
}

func TestPersistentRequiresInitialRun(t *testing.T) {
	_, err := NewTemplate("test", "id", func(context.Context, LaunchContext) error { return nil },
		WithPersistent(true), WithInitialRun(false))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTemplate)
}

func TestTeardownIdempotent(t *testing.T) {
	var teardownCalls int32
	launch := func(ctx context.Context, lc LaunchContext) error {
		<-ctx.Done()
		return ErrCancelled
	}
	teardown := func(ctx context.Context, tc TeardownContext) error {
		atomic.AddInt32(&teardownCalls, 1)
		return nil
	}

	tmpl := newTestTemplate(t, launch, WithTeardown(teardown))
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))
	time.Sleep(20 * time.Millisecond)

	mgr.Teardown(context.Background())
	mgr.AwaitActive()
	mgr.Teardown(context.Background())

	assert.EqualValues(t, 1, atomic.LoadInt32(&teardownCalls))
}

func TestNoLaunchAfterTeardown(t *testing.T) {
	var launches int32
	launch := func(ctx context.Context, lc LaunchContext) error {
		atomic.AddInt32(&launches, 1)
		return nil
	}

	tmpl := newTestTemplate(t, launch)
	mgr := NewManager(tmpl, "0")

	mgr.Teardown(context.Background())
	require.NoError(t, mgr.Update(context.Background(), nil, "a"))
	time.Sleep(20 * time.Millisecond)

	assert.EqualValues(t, 0, atomic.LoadInt32(&launches))
}

func TestInitialRunFalseSkipsFirstEvent(t *testing.T) {
	var launches int32
	launch := func(ctx context.Context, lc LaunchContext) error {
		atomic.AddInt32(&launches, 1)
		return nil
	}

	tmpl := newTestTemplate(t, launch, WithInitialRun(false))
	mgr := NewManager(tmpl, "0")

	require.NoError(t, mgr.Update(context.Background(), nil, "a"))
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&launches))

	require.NoError(t, mgr.Update(context.Background(), nil, "b"))
	waitFor(t, time.Second, func() bool { return atomic.LoadInt32(&launches) == 1 })
}
