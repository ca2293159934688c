package task

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/willow-notes/willow/internal/domain"
	"github.com/willow-notes/willow/internal/store"
)

func testWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval:          10 * time.Millisecond,
		BatchSize:             5,
		MaxAttempts:           3,
		StaleTimeout:          5 * time.Minute,
		StaleRecoveryInterval: time.Minute,
	}
}

func newTestWorker(t *testing.T, tasks store.TaskStore, registry *Registry, config WorkerConfig) *Worker {
	t.Helper()

	executor := NewExecutor(tasks, registry, nil, discardLogger())
	worker := NewWorker(NewScheduler(tasks), executor, config, discardLogger())
	t.Cleanup(func() { worker.Shutdown(2 * time.Second) })
	return worker
}

func TestWorkerLifecycle(t *testing.T) {
	tasks, _ := newTestStores(t)
	worker := newTestWorker(t, tasks, NewRegistry(discardLogger()), testWorkerConfig())

	assert.Equal(t, WorkerStopped, worker.State())

	worker.Start()
	assert.Equal(t, WorkerRunning, worker.State())

	// Start is idempotent.
	worker.Start()
	assert.Equal(t, WorkerRunning, worker.State())

	worker.Pause()
	assert.Equal(t, WorkerPaused, worker.State())

	// Start while paused does not reset the pause.
	worker.Start()
	assert.Equal(t, WorkerPaused, worker.State())

	worker.Resume()
	assert.Equal(t, WorkerRunning, worker.State())

	// Resume while running is a no-op.
	worker.Resume()
	assert.Equal(t, WorkerRunning, worker.State())

	worker.Stop()
	assert.Equal(t, WorkerStopped, worker.State())

	// Stop twice is safe.
	worker.Stop()
	assert.Equal(t, WorkerStopped, worker.State())
}

func TestWorkerExecutesEnqueuedTask(t *testing.T) {
	tasks, _ := newTestStores(t)
	ctx := context.Background()

	registry := NewRegistry(discardLogger())
	registry.Register("test.echo", func(_ context.Context, input json.RawMessage) (any, error) {
		var in struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, err
		}
		return map[string]string{"echoed": in.Value}, nil
	})

	worker := newTestWorker(t, tasks, registry, testWorkerConfig())
	worker.Start()

	created := enqueue(t, tasks, "test.echo", `{"value":"hi"}`)

	require.Eventually(t, func() bool {
		got, err := tasks.GetByID(ctx, created.ID)
		return err == nil && got.Status == domain.TaskStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)

	got, err := tasks.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"echoed":"hi"}`, string(got.Output))
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, 3, got.Version)
}

func TestWorkerExecutesBatchConcurrently(t *testing.T) {
	tasks, _ := newTestStores(t)
	ctx := context.Background()

	var running, peak atomic.Int32
	registry := NewRegistry(discardLogger())
	registry.Register("test.slow", func(_ context.Context, _ json.RawMessage) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	})

	var created []*domain.Task
	for i := 0; i < 3; i++ {
		created = append(created, enqueue(t, tasks, "test.slow", ""))
	}

	worker := newTestWorker(t, tasks, registry, testWorkerConfig())
	worker.Start()

	require.Eventually(t, func() bool {
		for _, c := range created {
			got, err := tasks.GetByID(ctx, c.ID)
			if err != nil || got.Status != domain.TaskStatusSuccess {
				return false
			}
		}
		return true
	}, 3*time.Second, 10*time.Millisecond)

	assert.Greater(t, peak.Load(), int32(1), "batch tasks run concurrently")
}

func TestWorkerPauseStopsPolling(t *testing.T) {
	tasks, _ := newTestStores(t)
	ctx := context.Background()

	registry := NewRegistry(discardLogger())
	registry.Register("test.echo", func(_ context.Context, _ json.RawMessage) (any, error) {
		return "done", nil
	})

	worker := newTestWorker(t, tasks, registry, testWorkerConfig())
	worker.Start()
	worker.Pause()

	created := enqueue(t, tasks, "test.echo", "")

	// Long enough for several poll intervals to pass.
	time.Sleep(100 * time.Millisecond)
	got, err := tasks.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusToDo, got.Status, "paused worker must not claim tasks")

	worker.Resume()
	require.Eventually(t, func() bool {
		got, err := tasks.GetByID(ctx, created.ID)
		return err == nil && got.Status == domain.TaskStatusSuccess
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerShutdownDrainsInFlight(t *testing.T) {
	tasks, _ := newTestStores(t)
	ctx := context.Background()

	started := make(chan struct{})
	registry := NewRegistry(discardLogger())
	registry.Register("test.slow", func(_ context.Context, _ json.RawMessage) (any, error) {
		close(started)
		time.Sleep(150 * time.Millisecond)
		return "done", nil
	})

	worker := newTestWorker(t, tasks, registry, testWorkerConfig())
	worker.Start()

	created := enqueue(t, tasks, "test.slow", "")

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	worker.Shutdown(2 * time.Second)
	assert.Equal(t, WorkerStopped, worker.State())

	got, err := tasks.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusSuccess, got.Status, "in-flight task finishes before shutdown returns")
}

func TestWorkerStartDuringShutdownIsRefused(t *testing.T) {
	tasks, _ := newTestStores(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	registry := NewRegistry(discardLogger())
	registry.Register("test.slow", func(_ context.Context, _ json.RawMessage) (any, error) {
		close(started)
		<-release
		return "done", nil
	})

	worker := newTestWorker(t, tasks, registry, testWorkerConfig())
	worker.Start()

	enqueue(t, tasks, "test.slow", "")

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("task never started")
	}

	done := make(chan struct{})
	go func() {
		worker.Shutdown(2 * time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return worker.State() == WorkerStopping
	}, time.Second, time.Millisecond)

	// Start while the drain is in flight must not relaunch the loops; a
	// loop started here would outlive the shutdown with no way to stop it.
	worker.Start()
	assert.Equal(t, WorkerStopping, worker.State())

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never finished")
	}
	assert.Equal(t, WorkerStopped, worker.State())

	// A stopped worker no longer polls, so new work stays queued.
	late := enqueue(t, tasks, "test.slow", "")
	time.Sleep(50 * time.Millisecond)
	got, err := tasks.GetByID(ctx, late.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusToDo, got.Status)
}

func TestWorkerStaleSweepRecoversAbandonedTask(t *testing.T) {
	tasks, _ := newTestStores(t)
	ctx := context.Background()

	config := testWorkerConfig()
	config.StaleTimeout = time.Minute
	config.StaleRecoveryInterval = 20 * time.Millisecond

	worker := newTestWorker(t, tasks, NewRegistry(discardLogger()), config)

	// Simulate a task claimed by a worker that died on its last attempt,
	// so recovery leaves it failed rather than re-queueing it.
	created := enqueue(t, tasks, "test.orphan", "")
	inProgress := domain.TaskStatusInProgress
	three := 3
	old := store.NowUTC().Add(-10 * time.Minute)
	require.NoError(t, tasks.Update(ctx, created.ID, 1, store.TaskUpdate{
		Status:        &inProgress,
		Attempts:      &three,
		LastAttemptAt: &old,
	}))

	worker.Start()

	require.Eventually(t, func() bool {
		got, err := tasks.GetByID(ctx, created.ID)
		return err == nil && got.Status == domain.TaskStatusFailed
	}, 2*time.Second, 10*time.Millisecond)

	got, err := tasks.GetByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, "timed out", *got.Error)
}
