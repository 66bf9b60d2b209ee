package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/config"
)

type handlerFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

type fakeImpl struct {
	fn handlerFunc
}

func (f *fakeImpl) Init(context.Context, capability.Env, map[string]any) error { return nil }
func (f *fakeImpl) Close(context.Context) error                                { return nil }
func (f *fakeImpl) Process(ctx context.Context, params map[string]any) (map[string]any, error) {
	return f.fn(ctx, params)
}

type fakeResolver struct {
	mu       sync.Mutex
	handlers map[string]handlerFunc
	resolves atomic.Int64
	releases atomic.Int64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{handlers: make(map[string]handlerFunc)}
}

func (f *fakeResolver) register(capName string, fn handlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[capName] = fn
}

func (f *fakeResolver) ResolveCapability(capName string) (capability.Implementation, capability.Kind, func(), error) {
	f.mu.Lock()
	fn, ok := f.handlers[capName]
	f.mu.Unlock()
	if !ok {
		return nil, "", nil, fmt.Errorf("no enabled plugin provides capability %q", capName)
	}
	f.resolves.Add(1)
	var once sync.Once
	release := func() { once.Do(func() { f.releases.Add(1) }) }
	return &fakeImpl{fn: fn}, capability.KindProcessor, release, nil
}

func testConfig(workers int) config.OrchestratorConfig {
	return config.OrchestratorConfig{
		MaxWorkers:        workers,
		QueueCapacity:     64,
		DefaultMaxRetries: 3,
		BackoffBase:       time.Millisecond,
		BackoffCap:        5 * time.Millisecond,
		DefaultTimeout:    time.Second,
		DrainTimeout:      time.Second,
	}
}

func mustAwait(t *testing.T, o *Orchestrator, id string) *Result {
	t.Helper()
	res, err := o.Await(context.Background(), id, 5*time.Second)
	require.NoError(t, err)
	return res
}

func TestSubmitAndSucceed(t *testing.T) {
	r := newFakeResolver()
	r.register("echo", func(_ context.Context, params map[string]any) (map[string]any, error) {
		return map[string]any{"echo": params["msg"]}, nil
	})
	o := New(testConfig(2), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "echo", Payload: map[string]any{"msg": "hi"}, Priority: PriorityMedium})
	require.NoError(t, err)

	res := mustAwait(t, o, id)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, "hi", res.Output["echo"])
	require.Len(t, res.Attempts, 1)
	assert.Empty(t, res.Attempts[0].Error)
}

func TestSubmitUnknownCapability(t *testing.T) {
	o := New(testConfig(1), newFakeResolver(), nil, nil, nil)

	_, err := o.Submit(context.Background(), Request{Capability: "ghost", Priority: PriorityLow})
	var ite *InvalidTaskError
	require.True(t, errors.As(err, &ite))
}

func TestSubmitInvalidPriority(t *testing.T) {
	r := newFakeResolver()
	r.register("echo", func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })
	o := New(testConfig(1), r, nil, nil, nil)

	_, err := o.Submit(context.Background(), Request{Capability: "echo", Priority: Priority(9)})
	var ite *InvalidTaskError
	require.True(t, errors.As(err, &ite))
}

func TestQueueFull(t *testing.T) {
	r := newFakeResolver()
	r.register("work", func(context.Context, map[string]any) (map[string]any, error) { return nil, nil })
	cfg := testConfig(1)
	cfg.QueueCapacity = 1
	o := New(cfg, r, nil, nil, nil) // workers never started: tasks stay queued

	_, err := o.Submit(context.Background(), Request{Capability: "work", Priority: PriorityLow})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), Request{Capability: "work", Priority: PriorityLow})
	var qfe *QueueFullError
	require.True(t, errors.As(err, &qfe))
	assert.Equal(t, 1, qfe.Capacity)
}

func TestPriorityPreemptsQueuedWork(t *testing.T) {
	r := newFakeResolver()
	var mu sync.Mutex
	var order []string
	r.register("record", func(_ context.Context, params map[string]any) (map[string]any, error) {
		mu.Lock()
		order = append(order, params["tag"].(string))
		mu.Unlock()
		return nil, nil
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Queue before starting the single worker so ordering is decided
	// purely by the heap: [low, high, low] must run [high, low1, low2].
	submit := func(tag string, p Priority) string {
		id, err := o.Submit(ctx, Request{Capability: "record", Payload: map[string]any{"tag": tag}, Priority: p})
		require.NoError(t, err)
		return id
	}
	low1 := submit("low1", PriorityLow)
	high := submit("high", PriorityHigh)
	low2 := submit("low2", PriorityLow)

	o.Start(ctx)
	for _, id := range []string{low1, high, low2} {
		mustAwait(t, o, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low1", "low2"}, order)
}

func TestSamePriorityFIFO(t *testing.T) {
	r := newFakeResolver()
	var mu sync.Mutex
	var order []string
	r.register("record", func(_ context.Context, params map[string]any) (map[string]any, error) {
		mu.Lock()
		order = append(order, params["tag"].(string))
		mu.Unlock()
		return nil, nil
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	want := []string{"a", "b", "c", "d"}
	for _, tag := range want {
		id, err := o.Submit(ctx, Request{Capability: "record", Payload: map[string]any{"tag": tag}, Priority: PriorityMedium})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	o.Start(ctx)
	for _, id := range ids {
		mustAwait(t, o, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, order)
}

func TestTransientErrorRetriesWithFullHistory(t *testing.T) {
	r := newFakeResolver()
	var calls atomic.Int64
	r.register("flaky", func(context.Context, map[string]any) (map[string]any, error) {
		if calls.Add(1) < 3 {
			return nil, capability.Transient(errors.New("upstream 503"))
		}
		return map[string]any{"ok": true}, nil
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "flaky", Priority: PriorityHigh})
	require.NoError(t, err)

	res := mustAwait(t, o, id)
	assert.Equal(t, StateSucceeded, res.State)
	require.Len(t, res.Attempts, 3)
	assert.Contains(t, res.Attempts[0].Error, "upstream 503")
	assert.Contains(t, res.Attempts[1].Error, "upstream 503")
	assert.Empty(t, res.Attempts[2].Error)
}

func TestPermanentErrorDoesNotRetry(t *testing.T) {
	r := newFakeResolver()
	var calls atomic.Int64
	r.register("broken", func(context.Context, map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, errors.New("bad input schema")
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "broken", Priority: PriorityLow})
	require.NoError(t, err)

	res := mustAwait(t, o, id)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "bad input schema")
	assert.Equal(t, int64(1), calls.Load())
}

func TestRetriesBoundedByMaxRetries(t *testing.T) {
	r := newFakeResolver()
	var calls atomic.Int64
	r.register("always_down", func(context.Context, map[string]any) (map[string]any, error) {
		calls.Add(1)
		return nil, capability.Transient(errors.New("still down"))
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "always_down", Priority: PriorityLow, MaxRetries: 2})
	require.NoError(t, err)

	res := mustAwait(t, o, id)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, int64(3), calls.Load(), "max_retries+1 attempts")
	require.Len(t, res.Attempts, 3)
	assert.Contains(t, res.Error, "still down")
}

func TestHandlerPanicIsFailedAttempt(t *testing.T) {
	r := newFakeResolver()
	var calls atomic.Int64
	r.register("panicky", func(context.Context, map[string]any) (map[string]any, error) {
		if calls.Add(1) == 1 {
			panic("nil map write")
		}
		return map[string]any{"recovered": true}, nil
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "panicky", Priority: PriorityMedium})
	require.NoError(t, err)

	res := mustAwait(t, o, id)
	assert.Equal(t, StateSucceeded, res.State)
	require.Len(t, res.Attempts, 2)
	assert.Contains(t, res.Attempts[0].Error, "handler panic")
}

func TestAttemptTimeoutReclaimsWorkerSlot(t *testing.T) {
	r := newFakeResolver()
	release := make(chan struct{})
	r.register("stuck", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-release // ignores ctx on purpose: a badly written handler
		return nil, nil
	})
	r.register("quick", func(context.Context, map[string]any) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})
	defer close(release)

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	stuckID, err := o.Submit(ctx, Request{Capability: "stuck", Priority: PriorityHigh, MaxRetries: 0, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	res := mustAwait(t, o, stuckID)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "timed out")

	// The single worker slot must be free even though the stuck handler
	// goroutine is still blocked.
	quickID, err := o.Submit(ctx, Request{Capability: "quick", Priority: PriorityLow})
	require.NoError(t, err)
	res = mustAwait(t, o, quickID)
	assert.Equal(t, StateSucceeded, res.State)
}

func TestCancelQueuedTask(t *testing.T) {
	r := newFakeResolver()
	r.register("never_runs", func(context.Context, map[string]any) (map[string]any, error) {
		t.Error("cancelled queued task must not execute")
		return nil, nil
	})

	o := New(testConfig(1), r, nil, nil, nil) // no workers yet

	id, err := o.Submit(context.Background(), Request{Capability: "never_runs", Priority: PriorityLow})
	require.NoError(t, err)
	assert.True(t, o.Cancel(id))
	assert.False(t, o.Cancel(id), "already terminal")

	res := mustAwait(t, o, id)
	assert.Equal(t, StateCancelled, res.State)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)
	time.Sleep(20 * time.Millisecond) // give the worker a chance to misbehave
}

func TestCancelRunningTaskIsCooperative(t *testing.T) {
	r := newFakeResolver()
	started := make(chan struct{})
	r.register("cooperative", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "cooperative", Priority: PriorityCritical})
	require.NoError(t, err)

	<-started
	assert.True(t, o.Cancel(id))

	res := mustAwait(t, o, id)
	assert.Equal(t, StateCancelled, res.State)
}

func TestAwaitTimeoutDoesNotCancel(t *testing.T) {
	r := newFakeResolver()
	proceed := make(chan struct{})
	r.register("slow", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-proceed:
			return map[string]any{"done": true}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	o := New(testConfig(1), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	id, err := o.Submit(ctx, Request{Capability: "slow", Priority: PriorityMedium})
	require.NoError(t, err)

	_, err = o.Await(ctx, id, 20*time.Millisecond)
	assert.True(t, errors.Is(err, ErrAwaitTimeout))

	close(proceed)
	res := mustAwait(t, o, id)
	assert.Equal(t, StateSucceeded, res.State)
}

func TestAwaitUnknownTask(t *testing.T) {
	o := New(testConfig(1), newFakeResolver(), nil, nil, nil)
	_, err := o.Await(context.Background(), "nope", time.Second)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestTerminalTasksEvictedAfterRetention(t *testing.T) {
	r := newFakeResolver()
	r.register("echo", func(_ context.Context, params map[string]any) (map[string]any, error) {
		return params, nil
	})
	cfg := testConfig(2)
	cfg.ResultRetention = 20 * time.Millisecond
	o := New(cfg, r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	var ids []string
	for i := 0; i < 10; i++ {
		id, err := o.Submit(ctx, Request{Capability: "echo", Priority: PriorityMedium})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		mustAwait(t, o, id)
	}

	// The task table must drain once the retention window passes, or every
	// submission leaks one record for the life of the process.
	deadline := time.Now().Add(2 * time.Second)
	for {
		o.mu.Lock()
		n := len(o.tasks)
		o.mu.Unlock()
		if n == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d terminal tasks still retained past the retention window", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Evicted ids behave like unknown ones; the history store covers them.
	_, _, ok := o.Get(ids[0])
	assert.False(t, ok)
	_, err := o.Await(ctx, ids[0], time.Second)
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestPluginReferencesAlwaysReleased(t *testing.T) {
	r := newFakeResolver()
	var calls atomic.Int64
	r.register("mixed", func(context.Context, map[string]any) (map[string]any, error) {
		switch calls.Add(1) % 3 {
		case 0:
			panic("boom")
		case 1:
			return nil, capability.Transient(errors.New("flap"))
		default:
			return nil, nil
		}
	})

	o := New(testConfig(2), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	var ids []string
	for i := 0; i < 8; i++ {
		id, err := o.Submit(ctx, Request{Capability: "mixed", Priority: PriorityMedium})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		mustAwait(t, o, id)
	}

	require.True(t, o.Drain(time.Second))
	assert.Equal(t, r.resolves.Load(), r.releases.Load(),
		"every resolve must be paired with a release")
}

func TestDrainFinishesQueuedWork(t *testing.T) {
	r := newFakeResolver()
	var done atomic.Int64
	r.register("count", func(context.Context, map[string]any) (map[string]any, error) {
		done.Add(1)
		return nil, nil
	})

	o := New(testConfig(2), r, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 10; i++ {
		_, err := o.Submit(ctx, Request{Capability: "count", Priority: PriorityLow})
		require.NoError(t, err)
	}
	o.Start(ctx)

	require.True(t, o.Drain(2*time.Second))
	assert.Equal(t, int64(10), done.Load())

	_, err := o.Submit(ctx, Request{Capability: "count", Priority: PriorityLow})
	var ite *InvalidTaskError
	assert.True(t, errors.As(err, &ite))
}
