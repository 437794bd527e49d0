package models

import "time"

// GoalStatus represents the lifecycle state of a goal.
type GoalStatus string

// Goal status values.
const (
	GoalStatusPending    GoalStatus = "pending"
	GoalStatusInProgress GoalStatus = "in_progress"
	GoalStatusCompleted  GoalStatus = "completed"
	GoalStatusFailed     GoalStatus = "failed"
	GoalStatusCancelled  GoalStatus = "cancelled"
)

// IsValid checks if the goal status is a known value.
func (s GoalStatus) IsValid() bool {
	switch s {
	case GoalStatusPending, GoalStatusInProgress, GoalStatusCompleted,
		GoalStatusFailed, GoalStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether the status is a final state.
func (s GoalStatus) IsTerminal() bool {
	switch s {
	case GoalStatusCompleted, GoalStatusFailed, GoalStatusCancelled:
		return true
	default:
		return false
	}
}

// Goal is a top-level unit of work supplied by an embedder, decomposed into
// tasks. CompletedAt is set iff the status is terminal.
type Goal struct {
	GoalID      string     `json:"goal_id"`
	Description string     `json:"description"`
	Status      GoalStatus `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of the goal.
func (g *Goal) Clone() *Goal {
	cp := *g
	if g.CompletedAt != nil {
		completed := *g.CompletedAt
		cp.CompletedAt = &completed
	}
	return &cp
}

// SubtaskSpec is one entry of a decomposition. Dependencies reference other
// specs in the same list by index.
type SubtaskSpec struct {
	Description   string   `json:"description"`
	Dependencies  []int    `json:"dependencies,omitempty"`
	AssignedAgent string   `json:"assigned_agent,omitempty"`
	Kind          string   `json:"kind,omitempty"`
	Priority      *int     `json:"priority,omitempty"`
	Capabilities  []string `json:"capabilities,omitempty"`
}

// GoalProgress summarizes task state counts for a goal.
type GoalProgress struct {
	GoalID            string             `json:"goal_id"`
	Status            GoalStatus         `json:"status"`
	Counts            map[TaskStatus]int `json:"counts"`
	TotalTasks        int                `json:"total_tasks"`
	CompletionPercent float64            `json:"completion_percent"`
}

// TaskReport is the per-task slice of a final goal report.
type TaskReport struct {
	TaskID     string     `json:"task_id"`
	Status     TaskStatus `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	RetryCount int        `json:"retry_count"`
}

// GoalResult is the final report produced when a goal reaches a terminal
// state, enumerating per-task status, last error, and total retries.
type GoalResult struct {
	GoalID       string       `json:"goal_id"`
	Status       GoalStatus   `json:"status"`
	Tasks        []TaskReport `json:"tasks"`
	TotalRetries int          `json:"total_retries"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}
