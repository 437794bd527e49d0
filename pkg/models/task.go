package models

import "time"

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

// Task status values. "completed" is the only accepted spelling for the
// terminal success state; "complete" is rejected at the boundary.
const (
	TaskStatusQueued     TaskStatus = "queued"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusBlocked    TaskStatus = "blocked"
	TaskStatusKilled     TaskStatus = "killed"
)

// IsValid checks if the task status is a known value.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusInProgress, TaskStatusCompleted,
		TaskStatusFailed, TaskStatusBlocked, TaskStatusKilled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final state. A failed task is
// terminal only once its retries are exhausted; that bookkeeping lives in the
// store, which re-queues retryable failures.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusBlocked, TaskStatusKilled:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the state machine permits moving from s to
// next. Retry (failed → queued) and restart (terminal non-completed → queued)
// are included; the store layers retry-count enforcement on top.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusInProgress || next == TaskStatusBlocked
	case TaskStatusInProgress:
		return next == TaskStatusCompleted || next == TaskStatusFailed ||
			next == TaskStatusBlocked || next == TaskStatusKilled
	case TaskStatusFailed, TaskStatusBlocked, TaskStatusKilled:
		return next == TaskStatusQueued
	case TaskStatusCompleted:
		return false
	default:
		return false
	}
}

// Task is a single executable step within a goal, with optional dependencies
// on other tasks of the same goal.
type Task struct {
	TaskID      string     `json:"task_id"`
	GoalID      string     `json:"goal_id"`
	Description string     `json:"description"`
	Status      TaskStatus `json:"status"`

	// AssignedAgent is the agent-type tag; empty until set at creation or by
	// the router.
	AssignedAgent string `json:"assigned_agent,omitempty"`

	// Kind selects the execution policy (timeout, retries, breaker) for the
	// task. Empty means the default policy.
	Kind string `json:"kind,omitempty"`

	// Priority orders the ready set; higher is more urgent.
	Priority int `json:"priority"`

	// Dependencies holds task IDs within the same goal that must complete
	// before this task may start.
	Dependencies []string `json:"dependencies,omitempty"`

	RetryCount int `json:"retry_count"`
	MaxRetries int `json:"max_retries"`

	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastHeartbeatAt *time.Time `json:"last_heartbeat_at,omitempty"`

	// Result is set only on completed; Error only on failed or killed.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Metadata carries routing hints and escalation flags.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the task. Store reads hand out clones so
// callers never observe concurrent mutation.
func (t *Task) Clone() *Task {
	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.Metadata != nil {
		cp.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			cp.Metadata[k] = v
		}
	}
	if t.StartedAt != nil {
		started := *t.StartedAt
		cp.StartedAt = &started
	}
	if t.CompletedAt != nil {
		completed := *t.CompletedAt
		cp.CompletedAt = &completed
	}
	if t.LastHeartbeatAt != nil {
		hb := *t.LastHeartbeatAt
		cp.LastHeartbeatAt = &hb
	}
	return &cp
}

// Metadata keys set by the coordinator on escalation.
const (
	MetaEscalated        = "escalated"
	MetaEscalationReason = "escalation_reason"
	MetaEscalationAt     = "escalation_at"
)

// CreateTaskRequest contains fields for creating a new task.
type CreateTaskRequest struct {
	TaskID        string            `json:"task_id"`
	GoalID        string            `json:"goal_id"`
	Description   string            `json:"description"`
	AssignedAgent string            `json:"assigned_agent,omitempty"`
	Kind          string            `json:"kind,omitempty"`
	Priority      int               `json:"priority"`
	Dependencies  []string          `json:"dependencies,omitempty"`
	MaxRetries    int               `json:"max_retries"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
