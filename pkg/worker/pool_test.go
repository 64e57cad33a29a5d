package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360/flexpoint/metric"
)

type testTask struct {
	id      int
	fail    bool
	panics  bool
	release chan struct{}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestNewPool_Defaults(t *testing.T) {
	processor := func(_ context.Context, _ testTask) error { return nil }

	pool := NewPool(5, 100, processor)
	if pool.workers != 5 || pool.maxWorkers != 5 {
		t.Errorf("Expected 5 core and max workers, got %d/%d", pool.workers, pool.maxWorkers)
	}

	pool = NewPool(0, 0, processor)
	if pool.workers != 10 {
		t.Errorf("Expected default 10 workers, got %d", pool.workers)
	}
	if pool.queueSize != 1000 {
		t.Errorf("Expected default queue size 1000, got %d", pool.queueSize)
	}

	// Max below core is ignored.
	pool = NewPool(4, 10, processor, WithMaxWorkers[testTask](2), WithKeepAlive[testTask](time.Second))
	if pool.maxWorkers != 4 {
		t.Errorf("Expected max workers clamped to 4, got %d", pool.maxWorkers)
	}
	if pool.keepAlive != time.Second {
		t.Errorf("Expected keep alive 1s, got %v", pool.keepAlive)
	}
}

func TestPool_SentinelErrors(t *testing.T) {
	processor := func(_ context.Context, _ testTask) error { return nil }

	t.Run("not started", func(t *testing.T) {
		pool := NewPool(1, 1, processor)
		if err := pool.Submit(testTask{}); err != ErrPoolNotStarted {
			t.Errorf("Expected ErrPoolNotStarted, got %v", err)
		}
		if err := pool.SubmitOrRun(testTask{}); err != ErrPoolNotStarted {
			t.Errorf("Expected ErrPoolNotStarted from SubmitOrRun, got %v", err)
		}
	})

	t.Run("already started", func(t *testing.T) {
		pool := NewPool(1, 1, processor)
		if err := pool.Start(context.Background()); err != nil {
			t.Fatalf("Failed to start pool: %v", err)
		}
		defer pool.Stop(time.Second)
		if err := pool.Start(context.Background()); !errors.Is(err, ErrPoolAlreadyStarted) {
			t.Errorf("Expected ErrPoolAlreadyStarted, got %v", err)
		}
	})

	t.Run("stopped", func(t *testing.T) {
		pool := NewPool(1, 1, processor)
		_ = pool.Start(context.Background())
		if err := pool.Stop(time.Second); err != nil {
			t.Fatalf("Failed to stop pool: %v", err)
		}
		if err := pool.Submit(testTask{}); !errors.Is(err, ErrPoolStopped) {
			t.Errorf("Expected ErrPoolStopped, got %v", err)
		}
		// Stopping twice is a no-op.
		if err := pool.Stop(time.Second); err != nil {
			t.Errorf("Expected nil on second stop, got %v", err)
		}
	})

	t.Run("nil processor", func(t *testing.T) {
		defer func() {
			r := recover()
			if err, ok := r.(error); !ok || !errors.Is(err, ErrNilProcessor) {
				t.Errorf("Expected panic with ErrNilProcessor, got %v", r)
			}
		}()
		NewPool[testTask](1, 1, nil)
	})
}

func TestPool_ProcessesAndCountsFailures(t *testing.T) {
	var success atomic.Int64
	processor := func(_ context.Context, task testTask) error {
		if task.panics {
			panic("boom")
		}
		if task.fail {
			return errors.New("simulated error")
		}
		success.Add(1)
		return nil
	}

	pool := NewPool(2, 20, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	for i := 0; i < 10; i++ {
		task := testTask{id: i, fail: i%2 == 0, panics: i == 1}
		if err := pool.Submit(task); err != nil {
			t.Errorf("Failed to submit task %d: %v", i, err)
		}
	}

	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	stats := pool.Stats()
	if stats.Processed != 10 {
		t.Errorf("Expected 10 processed, got %d", stats.Processed)
	}
	if stats.Failed != 6 {
		t.Errorf("Expected 6 failed (5 errors, 1 panic), got %d", stats.Failed)
	}
	if success.Load() != 4 {
		t.Errorf("Expected 4 successes, got %d", success.Load())
	}
}

func TestPool_QueueFullWithoutSurge(t *testing.T) {
	release := make(chan struct{})
	processor := func(_ context.Context, task testTask) error {
		<-task.release
		return nil
	}

	pool := NewPool(1, 1, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	// First occupies the worker, second fills the queue.
	_ = pool.Submit(testTask{id: 0, release: release})
	waitFor(t, func() bool { return len(pool.workChan) == 0 })
	_ = pool.Submit(testTask{id: 1, release: release})

	if err := pool.Submit(testTask{id: 2, release: release}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	if pool.Stats().Dropped != 1 {
		t.Errorf("Expected 1 rejected item, got %d", pool.Stats().Dropped)
	}

	close(release)
	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}
}

func TestPool_SurgeWorkers(t *testing.T) {
	release := make(chan struct{})
	var running atomic.Int32
	processor := func(_ context.Context, task testTask) error {
		running.Add(1)
		<-task.release
		return nil
	}

	pool := NewPool(1, 1, processor,
		WithMaxWorkers[testTask](3),
		WithKeepAlive[testTask](20*time.Millisecond),
	)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	_ = pool.Submit(testTask{release: release})
	waitFor(t, func() bool { return running.Load() == 1 })
	_ = pool.Submit(testTask{release: release}) // queued

	// Queue full: two surge workers take the next items directly.
	for i := 0; i < 2; i++ {
		if err := pool.Submit(testTask{release: release}); err != nil {
			t.Fatalf("Expected surge worker to accept task %d: %v", i, err)
		}
	}
	if live := pool.Stats().LiveWorkers; live != 3 {
		t.Errorf("Expected 3 live workers, got %d", live)
	}
	if err := pool.Submit(testTask{release: release}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull at max workers, got %v", err)
	}

	close(release)
	waitFor(t, func() bool { return pool.Stats().Processed == 4 })

	// Surge workers retire after keep-alive; the core worker stays.
	waitFor(t, func() bool { return pool.Stats().LiveWorkers == 1 })

	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}
}

// Every submitted task runs exactly once, whether pooled or on the caller.
func TestPool_SubmitOrRunNeverDrops(t *testing.T) {
	const tasks = 200
	var counts [tasks]atomic.Int32

	processor := func(_ context.Context, task testTask) error {
		time.Sleep(100 * time.Microsecond)
		counts[task.id].Add(1)
		return nil
	}

	pool := NewPool(1, 1, processor)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pool: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := pool.SubmitOrRun(testTask{id: id}); err != nil {
				t.Errorf("SubmitOrRun %d: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if err := pool.Stop(5 * time.Second); err != nil {
		t.Fatalf("Failed to stop pool: %v", err)
	}

	for i := range counts {
		if got := counts[i].Load(); got != 1 {
			t.Errorf("Task %d executed %d times", i, got)
		}
	}

	stats := pool.Stats()
	if stats.CallerRuns == 0 {
		t.Error("Expected some tasks to run on the caller")
	}
	if stats.Submitted+stats.CallerRuns != tasks {
		t.Errorf("Expected %d pooled+inline tasks, got %d+%d", tasks, stats.Submitted, stats.CallerRuns)
	}
	if stats.Dropped != 0 {
		t.Errorf("Caller-run tasks must not count as dropped, got %d", stats.Dropped)
	}
}

func TestPool_StopTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	processor := func(_ context.Context, _ testTask) error {
		<-block
		return nil
	}

	pool := NewPool(1, 10, processor)
	_ = pool.Start(context.Background())
	_ = pool.Submit(testTask{})
	waitFor(t, func() bool { return len(pool.workChan) == 0 })

	if err := pool.Stop(20 * time.Millisecond); !errors.Is(err, ErrStopTimeout) {
		t.Errorf("Expected ErrStopTimeout, got %v", err)
	}
	// Pool refuses work even though workers have not finished.
	if err := pool.Submit(testTask{}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Expected ErrPoolStopped after timed out stop, got %v", err)
	}
}

func TestPool_ContextCancellation(t *testing.T) {
	processor := func(ctx context.Context, _ testTask) error {
		<-ctx.Done()
		return ctx.Err()
	}

	pool := NewPool(2, 10, processor)
	ctx, cancel := context.WithCancel(context.Background())
	_ = pool.Start(ctx)
	_ = pool.Submit(testTask{})
	cancel()

	if err := pool.Stop(2 * time.Second); err != nil {
		t.Fatalf("Expected workers to exit on cancel, got %v", err)
	}
}

func TestPool_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	processor := func(_ context.Context, _ testTask) error { return nil }

	pool := NewPool(2, 10, processor, WithMetricsRegistry[testTask](registry, "test_pool"))
	if pool.metrics == nil {
		t.Fatal("Expected metrics to be initialized")
	}
	_ = pool.Start(context.Background())
	for i := 0; i < 3; i++ {
		_ = pool.Submit(testTask{id: i})
	}
	_ = pool.Stop(2 * time.Second)

	if got := testutil.ToFloat64(pool.metrics.submitted); got != 3 {
		t.Errorf("Expected submitted counter 3, got %v", got)
	}
	if got := testutil.ToFloat64(pool.metrics.processed); got != 3 {
		t.Errorf("Expected processed counter 3, got %v", got)
	}

	// Second pool with the same prefix cannot register and runs without metrics.
	dup := NewPool(1, 1, processor, WithMetricsRegistry[testTask](registry, "test_pool"))
	if dup.metrics != nil {
		t.Error("Expected duplicate prefix to leave metrics disabled")
	}
}
