// Package orchestrator runs submitted tasks on a fixed worker pool with
// priority scheduling, capped-backoff retries, per-attempt timeouts and
// cooperative cancellation. Plugin instances are pinned by reference count
// for exactly the duration of each attempt.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/capability"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/config"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/events"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/history"
	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/metrics"
)

// Resolver hands out a live capability implementation, pinned against
// unload until release is called.
type Resolver interface {
	ResolveCapability(capName string) (capability.Implementation, capability.Kind, func(), error)
}

// Recorder persists attempt and terminal records. A nil Recorder disables
// persistence; results are still delivered in-process.
type Recorder interface {
	RecordAttempt(ctx context.Context, a history.Attempt) error
	RecordFinal(ctx context.Context, rec history.TaskRecord) error
}

// Orchestrator owns the task table and the worker pool.
type Orchestrator struct {
	cfg      config.OrchestratorConfig
	resolver Resolver
	recorder Recorder
	hub      *events.Hub
	logger   *slog.Logger

	mu      sync.Mutex
	queue   taskHeap
	tasks   map[string]*task
	nextSeq uint64
	wake    chan struct{}
	closed  bool

	runCtx context.Context
	wg     sync.WaitGroup
}

// New builds an orchestrator. Call Start before submitting work that should
// actually run; Submit itself only needs the queue.
func New(cfg config.OrchestratorConfig, resolver Resolver, recorder Recorder, hub *events.Hub, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ResultRetention <= 0 {
		cfg.ResultRetention = 5 * time.Minute
	}
	return &Orchestrator{
		cfg:      cfg,
		resolver: resolver,
		recorder: recorder,
		hub:      hub,
		logger:   logger,
		tasks:    make(map[string]*task),
		wake:     make(chan struct{}, cfg.QueueCapacity+cfg.MaxWorkers),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.runCtx != nil {
		o.mu.Unlock()
		return
	}
	o.runCtx = ctx
	o.mu.Unlock()

	for i := 0; i < o.cfg.MaxWorkers; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}
	o.logger.Info("worker pool started", "workers", o.cfg.MaxWorkers)
}

// Drain stops accepting submissions and waits up to timeout for in-flight
// and queued work to finish. The caller cancels the Start context after a
// clean drain, or immediately when the deadline hits.
func (o *Orchestrator) Drain(timeout time.Duration) bool {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	for i := 0; i < o.cfg.MaxWorkers; i++ {
		select {
		case o.wake <- struct{}{}:
		default:
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		o.logger.Warn("drain deadline reached with tasks in flight", "timeout", timeout)
		return false
	}
}

// Submit validates and queues a task, returning its id. The capability must
// resolve to an Enabled plugin at submission time.
func (o *Orchestrator) Submit(ctx context.Context, req Request) (string, error) {
	if req.Capability == "" {
		return "", &InvalidTaskError{Reason: "capability is required"}
	}
	if !req.Priority.Valid() {
		return "", &InvalidTaskError{Reason: fmt.Sprintf("priority %d out of range", req.Priority)}
	}
	_, _, release, err := o.resolver.ResolveCapability(req.Capability)
	if err != nil {
		return "", &InvalidTaskError{Reason: err.Error()}
	}
	release()

	if req.MaxRetries < 0 {
		req.MaxRetries = o.cfg.DefaultMaxRetries
	}
	if req.Timeout <= 0 {
		req.Timeout = o.cfg.DefaultTimeout
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return "", &InvalidTaskError{Reason: "orchestrator is shutting down"}
	}
	if len(o.queue) >= o.cfg.QueueCapacity {
		o.mu.Unlock()
		return "", &QueueFullError{Capacity: o.cfg.QueueCapacity}
	}

	o.nextSeq++
	t := &task{
		id:        uuid.NewString(),
		req:       req,
		seq:       o.nextSeq,
		createdAt: time.Now(),
		state:     StateQueued,
		done:      make(chan struct{}),
	}
	o.tasks[t.id] = t
	pushTask(&o.queue, t)
	metrics.QueueDepth.Set(float64(len(o.queue)))
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}

	o.publish(events.TypeTaskSubmitted, t)
	o.logger.Info("task submitted",
		"task_id", t.id, "capability", req.Capability, "priority", req.Priority.String())
	return t.id, nil
}

// Await blocks until the task reaches a terminal state, the timeout passes
// (ErrAwaitTimeout), or ctx is cancelled. Await never cancels the task.
func (o *Orchestrator) Await(ctx context.Context, id string, timeout time.Duration) (*Result, error) {
	o.mu.Lock()
	t, ok := o.tasks[id]
	o.mu.Unlock()
	if !ok {
		return nil, ErrTaskNotFound
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		o.mu.Lock()
		res := t.result
		o.mu.Unlock()
		return res, nil
	case <-timer.C:
		return nil, ErrAwaitTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation. A queued task goes terminal immediately; a
// running task gets a cooperative context cancel and reports true without
// waiting. Terminal and unknown tasks report false.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	t, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return false
	}
	switch t.state {
	case StateQueued:
		t.state = StateCancelled
		o.mu.Unlock()
		o.finalize(t, StateCancelled, nil, "cancelled before execution")
		return true
	case StateRunning:
		cancel := t.cancel
		o.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return true
	default:
		o.mu.Unlock()
		return false
	}
}

// Get returns the result of a terminal task, or nil with the current state
// for a live one.
func (o *Orchestrator) Get(id string) (*Result, State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	if !ok {
		return nil, "", false
	}
	return t.result, t.state, true
}

// QueueDepth reports how many tasks are waiting for a worker.
func (o *Orchestrator) QueueDepth() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}

func (o *Orchestrator) worker(ctx context.Context, n int) {
	defer o.wg.Done()
	log := o.logger.With("worker", n)
	for {
		t := o.next(ctx)
		if t == nil {
			return
		}
		o.run(ctx, t, log)
	}
}

// next pops the highest-priority queued task, blocking until one is
// available or ctx is cancelled. Tasks cancelled while queued are already
// terminal and are skipped on pop.
func (o *Orchestrator) next(ctx context.Context) *task {
	for {
		o.mu.Lock()
		for len(o.queue) > 0 {
			t := popTask(&o.queue)
			metrics.QueueDepth.Set(float64(len(o.queue)))
			if t.state != StateQueued {
				continue
			}
			t.state = StateRunning
			o.mu.Unlock()
			return t
		}
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-o.wake:
		}
	}
}

// run executes a task's attempts inline on the worker slot. Each attempt
// resolves the capability fresh, so retries route to a hot-reloaded plugin
// version once it is enabled.
func (o *Orchestrator) run(ctx context.Context, t *task, log *slog.Logger) {
	taskCtx, taskCancel := context.WithCancel(ctx)
	defer taskCancel()

	o.mu.Lock()
	t.cancel = taskCancel
	o.mu.Unlock()

	maxAttempts := t.req.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if taskCtx.Err() != nil {
			o.finalize(t, StateCancelled, nil, "cancelled")
			return
		}

		start := time.Now()
		out, err := o.attempt(taskCtx, t)
		duration := time.Since(start)

		info := AttemptInfo{Attempt: attempt, StartedAt: start, Duration: duration}
		if err != nil {
			info.Error = err.Error()
		}
		o.mu.Lock()
		t.attempts = append(t.attempts, info)
		o.mu.Unlock()
		o.recordAttempt(t, info)

		if err == nil {
			metrics.TaskDuration.WithLabelValues(t.req.Capability).Observe(duration.Seconds())
			o.finalize(t, StateSucceeded, out, "")
			return
		}
		lastErr = err

		if taskCtx.Err() != nil {
			o.finalize(t, StateCancelled, nil, "cancelled")
			return
		}
		if !retryable(err) {
			break
		}
		if attempt == maxAttempts {
			break
		}

		backoff := backoffFor(attempt, o.cfg.BackoffBase, o.cfg.BackoffCap)
		log.Warn("task attempt failed, retrying",
			"task_id", t.id, "attempt", attempt, "backoff", backoff, "error", err)
		metrics.TaskRetries.WithLabelValues(t.req.Capability).Inc()
		o.publish(events.TypeTaskRetried, t)

		select {
		case <-taskCtx.Done():
			o.finalize(t, StateCancelled, nil, "cancelled")
			return
		case <-time.After(backoff):
		}
	}

	o.finalize(t, StateFailed, nil, lastErr.Error())
}

// attempt runs one try with the task timeout. The handler runs in its own
// goroutine with a buffered result channel: when the timeout fires first,
// the worker slot is reclaimed and the late result has nowhere to land.
// The plugin reference is released in that goroutine on every exit path,
// including panics.
func (o *Orchestrator) attempt(taskCtx context.Context, t *task) (map[string]any, error) {
	impl, kind, release, err := o.resolver.ResolveCapability(t.req.Capability)
	if err != nil {
		return nil, &InvalidTaskError{Reason: err.Error()}
	}

	attemptCtx, cancel := context.WithTimeout(taskCtx, t.req.Timeout)
	defer cancel()

	type outcome struct {
		out map[string]any
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer release()
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: capability.Transient(fmt.Errorf("handler panic: %v", r))}
			}
		}()
		out, err := capability.Invoke(attemptCtx, impl, kind, t.req.Payload)
		ch <- outcome{out: out, err: err}
	}()

	select {
	case res := <-ch:
		return res.out, res.err
	case <-attemptCtx.Done():
		if taskCtx.Err() != nil {
			return nil, taskCtx.Err()
		}
		return nil, &TimeoutError{TaskID: t.id, Timeout: t.req.Timeout}
	}
}

func (o *Orchestrator) finalize(t *task, state State, out map[string]any, errMsg string) {
	now := time.Now()
	o.mu.Lock()
	if t.result != nil {
		o.mu.Unlock()
		return
	}
	t.state = state
	t.result = &Result{
		TaskID:     t.id,
		Capability: t.req.Capability,
		State:      state,
		Output:     out,
		Error:      errMsg,
		Attempts:   append([]AttemptInfo(nil), t.attempts...),
		CreatedAt:  t.createdAt,
		FinishedAt: now,
	}
	attempts := len(t.attempts)
	o.mu.Unlock()

	close(t.done)
	// The result stays queryable for the retention window, then the entry is
	// evicted; older lookups fall through to the history store.
	time.AfterFunc(o.cfg.ResultRetention, func() {
		o.mu.Lock()
		delete(o.tasks, t.id)
		o.mu.Unlock()
	})
	metrics.TasksTotal.WithLabelValues(string(state), t.req.Capability).Inc()
	o.publish(events.TypeTaskCompleted, t)
	o.logger.Info("task finished",
		"task_id", t.id, "capability", t.req.Capability, "state", string(state),
		"attempts", attempts, "error", errMsg)

	if o.recorder != nil {
		rec := history.TaskRecord{
			ID:          t.id,
			Capability:  t.req.Capability,
			Priority:    int(t.req.Priority),
			State:       string(state),
			Attempts:    attempts,
			CreatedAt:   t.createdAt,
			CompletedAt: &now,
			LastError:   errMsg,
		}
		if err := o.recorder.RecordFinal(context.Background(), rec); err != nil {
			o.logger.Warn("persist task record failed", "task_id", t.id, "error", err)
		}
	}
}

func (o *Orchestrator) recordAttempt(t *task, info AttemptInfo) {
	if o.recorder == nil {
		return
	}
	err := o.recorder.RecordAttempt(context.Background(), history.Attempt{
		TaskID:    t.id,
		Attempt:   info.Attempt,
		StartedAt: info.StartedAt,
		Duration:  info.Duration,
		Error:     info.Error,
	})
	if err != nil {
		o.logger.Warn("persist task attempt failed", "task_id", t.id, "error", err)
	}
}

func (o *Orchestrator) publish(eventType string, t *task) {
	if o.hub == nil {
		return
	}
	o.hub.Publish(eventType, map[string]any{
		"task_id":    t.id,
		"capability": t.req.Capability,
		"priority":   t.req.Priority.String(),
	})
}

// retryable: transient marks and attempt timeouts retry; everything else is
// a permanent failure surfaced after the first attempt.
func retryable(err error) bool {
	if capability.IsTransient(err) {
		return true
	}
	var te *TimeoutError
	return errors.As(err, &te)
}

func backoffFor(attempt int, base, limit time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base << (attempt - 1)
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
