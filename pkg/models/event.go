package models

import "time"

// EventKind identifies the type of a goal event.
type EventKind string

// Event kinds recorded by the engine.
const (
	EventGoalCreated   EventKind = "goal_created"
	EventTaskCreated   EventKind = "task_created"
	EventTaskAssigned  EventKind = "task_assigned"
	EventTaskStarted   EventKind = "task_started"
	EventTaskCompleted EventKind = "task_completed"
	EventTaskFailed    EventKind = "task_failed"
	EventTaskRetry     EventKind = "task_retry"
	EventTaskBlocked   EventKind = "task_blocked"
	EventTaskKilled    EventKind = "task_killed"
	EventTaskEscalated EventKind = "task_escalated"
	EventSafetyFinding EventKind = "safety_finding"
	EventGoalCompleted EventKind = "goal_completed"
	EventGoalFailed    EventKind = "goal_failed"
	EventInternalError EventKind = "internal_error"
)

// Event is one append-only record in a goal's history.
type Event struct {
	// Seq is the per-goal monotonic sequence number, assigned by the log.
	Seq int64 `json:"seq"`

	Timestamp time.Time      `json:"timestamp"`
	GoalID    string         `json:"goal_id"`
	TaskID    string         `json:"task_id,omitempty"`
	Kind      EventKind      `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}
