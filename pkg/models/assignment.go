package models

import "time"

// AssignmentStatus represents the state of a single execution attempt.
type AssignmentStatus string

// Assignment status values.
const (
	AssignmentStatusAssigned  AssignmentStatus = "assigned"
	AssignmentStatusWorking   AssignmentStatus = "working"
	AssignmentStatusCompleted AssignmentStatus = "completed"
	AssignmentStatusFailed    AssignmentStatus = "failed"
)

// Assignment binds a task to a worker-agent instance for one attempt. It is
// owned by the coordinator and discarded once the task reaches a terminal
// state; a retry creates a fresh Assignment.
type Assignment struct {
	AgentID    string           `json:"agent_id"`
	AgentType  string           `json:"agent_type"`
	TaskID     string           `json:"task_id"`
	AssignedAt time.Time        `json:"assigned_at"`
	Status     AssignmentStatus `json:"status"`
}

// TaskSnapshot combines persistent task state with the in-flight assignment,
// if any. Returned by MonitorTask.
type TaskSnapshot struct {
	Task       *Task       `json:"task"`
	Assignment *Assignment `json:"assignment,omitempty"`
}
