package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrTaskNotFound is returned for ids the orchestrator has never seen.
	ErrTaskNotFound = errors.New("task not found")
	// ErrAwaitTimeout means the wait expired; the task keeps running.
	ErrAwaitTimeout = errors.New("await timed out")
)

// Priority orders queued tasks; higher values run first.
type Priority int

const (
	PriorityLow      Priority = 0
	PriorityMedium   Priority = 1
	PriorityHigh     Priority = 2
	PriorityCritical Priority = 3
)

func (p Priority) Valid() bool {
	return p >= PriorityLow && p <= PriorityCritical
}

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority accepts the name or the numeric form.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "0":
		return PriorityLow, nil
	case "medium", "1":
		return PriorityMedium, nil
	case "high", "2":
		return PriorityHigh, nil
	case "critical", "3":
		return PriorityCritical, nil
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// State is a task lifecycle stage.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Request describes a unit of work to submit.
type Request struct {
	Capability string         `json:"capability"`
	Payload    map[string]any `json:"payload"`
	Priority   Priority       `json:"priority"`
	// MaxRetries < 0 uses the configured default. 0 means a single attempt.
	MaxRetries int           `json:"max_retries"`
	Timeout    time.Duration `json:"timeout"`
}

// AttemptInfo is one execution try, kept with the result so callers see the
// full failure history, not just the last error.
type AttemptInfo struct {
	Attempt   int           `json:"attempt"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Result is the terminal outcome of a task.
type Result struct {
	TaskID     string         `json:"task_id"`
	Capability string         `json:"capability"`
	State      State          `json:"state"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Attempts   []AttemptInfo  `json:"attempts"`
	CreatedAt  time.Time      `json:"created_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// task is the orchestrator's private task record. State, cancel and result
// are guarded by the orchestrator mutex.
type task struct {
	id        string
	req       Request
	seq       uint64
	createdAt time.Time

	state    State
	cancel   context.CancelFunc // set while running
	attempts []AttemptInfo
	result   *Result
	done     chan struct{}
}

// InvalidTaskError rejects a submission before it is queued.
type InvalidTaskError struct {
	Reason string
}

func (e *InvalidTaskError) Error() string {
	return fmt.Sprintf("invalid task: %s", e.Reason)
}

// QueueFullError reports a submission bouncing off the queue capacity bound.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("task queue full (capacity %d)", e.Capacity)
}

// TimeoutError marks one attempt exceeding the task timeout. Timeouts are
// retried like any transient failure.
type TimeoutError struct {
	TaskID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s attempt timed out after %s", e.TaskID, e.Timeout)
}
