// Package store is the single source of truth for goal and task state. All
// mutation passes through it; it enforces the task state machine and keeps
// every operation atomic with respect to a single task or goal.
package store

import (
	"context"
	"sort"
	"time"

	"github.com/planloom/planloom/pkg/models"
)

// Store persists goals and tasks. Implementations must serialize concurrent
// updates to the same task; readers may observe any committed state. Reads
// return copies, never internal pointers.
type Store interface {
	// CreateGoal creates a goal in status pending. Returns ErrDuplicateID if
	// the goal ID exists.
	CreateGoal(ctx context.Context, goalID, description string) (*models.Goal, error)

	// GetGoal returns a goal by ID.
	GetGoal(ctx context.Context, goalID string) (*models.Goal, error)

	// ListGoals returns all goals ordered by creation time.
	ListGoals(ctx context.Context) ([]*models.Goal, error)

	// UpdateGoalStatus moves a goal to the given status. Terminal statuses
	// record completed_at; a terminal goal cannot change status again.
	UpdateGoalStatus(ctx context.Context, goalID string, status models.GoalStatus) (*models.Goal, error)

	// CreateTask creates a task in status queued. Dependencies must name
	// existing tasks of the same goal (ErrInvalidDependency) and must not
	// close a cycle (ErrCyclicDependency).
	CreateTask(ctx context.Context, req *models.CreateTaskRequest) (*models.Task, error)

	// GetTask returns a task by ID.
	GetTask(ctx context.Context, taskID string) (*models.Task, error)

	// GoalTasks returns all tasks of a goal ordered by creation time.
	GoalTasks(ctx context.Context, goalID string) ([]*models.Task, error)

	// AgentTasks returns tasks assigned to an agent type, optionally
	// filtered by status.
	AgentTasks(ctx context.Context, agentType string, status *models.TaskStatus) ([]*models.Task, error)

	// StalledTasks returns in_progress tasks whose last heartbeat (or start
	// time, if never heartbeated) is older than the given age.
	StalledTasks(ctx context.Context, olderThan time.Duration) ([]*models.Task, error)

	// ReadyTasks returns queued tasks of the goal whose dependencies are all
	// completed, ordered by descending priority then ascending created_at.
	ReadyTasks(ctx context.Context, goalID string) ([]*models.Task, error)

	// UpdateTaskStatus validates and applies a status transition. result is
	// required when moving to completed, errMsg when moving to failed or
	// killed. Re-applying the current status is a no-op.
	UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, result, errMsg string) (*models.Task, error)

	// UpdateTaskMetadata merges the patch into the task's metadata.
	UpdateTaskMetadata(ctx context.Context, taskID string, patch map[string]string) (*models.Task, error)

	// UpdateTaskDependencies replaces a task's dependency set. Only permitted
	// while the task is queued; the same validation as CreateTask applies.
	UpdateTaskDependencies(ctx context.Context, taskID string, dependencies []string) (*models.Task, error)

	// SetTaskAgent records the routed agent type on a queued task.
	SetTaskAgent(ctx context.Context, taskID, agentType string) (*models.Task, error)

	// RecordHeartbeat stamps an in_progress task's last heartbeat.
	RecordHeartbeat(ctx context.Context, taskID string) error

	// RetryTask re-queues a failed task and increments retry_count. Returns
	// ErrRetriesExhausted when retry_count has reached max_retries.
	RetryTask(ctx context.Context, taskID string) (*models.Task, error)

	// RestartTask re-queues a task from any terminal state except completed,
	// resetting its retry budget and prior result.
	RestartTask(ctx context.Context, taskID string) (*models.Task, error)

	// Close releases the store's resources.
	Close() error
}

// sortReady orders a ready set by descending priority, then ascending
// created_at. The sort is stable so equal keys keep creation order.
func sortReady(tasks []*models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}
