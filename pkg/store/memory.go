package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/planloom/planloom/pkg/depgraph"
	"github.com/planloom/planloom/pkg/models"
)

// Memory is an in-memory Store. It backs unit tests and single-process
// embeddings that do not need durability; the postgres store implements the
// same semantics.
type Memory struct {
	mu        sync.RWMutex
	goals     map[string]*models.Goal
	goalOrder []string
	tasks     map[string]*models.Task
	taskOrder map[string][]string // goal ID -> task IDs in creation order

	now func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		goals:     make(map[string]*models.Goal),
		tasks:     make(map[string]*models.Task),
		taskOrder: make(map[string][]string),
		now:       time.Now,
	}
}

// CreateGoal creates a goal in status pending.
func (s *Memory) CreateGoal(_ context.Context, goalID, description string) (*models.Goal, error) {
	if goalID == "" {
		return nil, fmt.Errorf("%w: goal id is required", ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.goals[goalID]; exists {
		return nil, fmt.Errorf("%w: goal %s", ErrDuplicateID, goalID)
	}

	goal := &models.Goal{
		GoalID:      goalID,
		Description: description,
		Status:      models.GoalStatusPending,
		CreatedAt:   s.now(),
	}
	s.goals[goalID] = goal
	s.goalOrder = append(s.goalOrder, goalID)
	return goal.Clone(), nil
}

// GetGoal returns a goal by ID.
func (s *Memory) GetGoal(_ context.Context, goalID string) (*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goal, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	return goal.Clone(), nil
}

// ListGoals returns all goals ordered by creation time.
func (s *Memory) ListGoals(_ context.Context) ([]*models.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	goals := make([]*models.Goal, 0, len(s.goalOrder))
	for _, id := range s.goalOrder {
		goals = append(goals, s.goals[id].Clone())
	}
	return goals, nil
}

// UpdateGoalStatus moves a goal to the given status.
func (s *Memory) UpdateGoalStatus(_ context.Context, goalID string, status models.GoalStatus) (*models.Goal, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown goal status %q", ErrInvalidState, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	goal, ok := s.goals[goalID]
	if !ok {
		return nil, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	if goal.Status == status {
		return goal.Clone(), nil
	}
	if goal.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: goal %s is %s", ErrInvalidState, goalID, goal.Status)
	}

	goal.Status = status
	if status.IsTerminal() {
		now := s.now()
		goal.CompletedAt = &now
	}
	return goal.Clone(), nil
}

// CreateTask creates a task in status queued, validating its dependencies.
func (s *Memory) CreateTask(_ context.Context, req *models.CreateTaskRequest) (*models.Task, error) {
	if req.TaskID == "" || req.GoalID == "" {
		return nil, fmt.Errorf("%w: task id and goal id are required", ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.goals[req.GoalID]; !exists {
		return nil, fmt.Errorf("%w: goal %s", ErrNotFound, req.GoalID)
	}
	if _, exists := s.tasks[req.TaskID]; exists {
		return nil, fmt.Errorf("%w: task %s", ErrDuplicateID, req.TaskID)
	}

	task := &models.Task{
		TaskID:        req.TaskID,
		GoalID:        req.GoalID,
		Description:   req.Description,
		Status:        models.TaskStatusQueued,
		AssignedAgent: req.AssignedAgent,
		Kind:          req.Kind,
		Priority:      req.Priority,
		Dependencies:  append([]string(nil), req.Dependencies...),
		MaxRetries:    req.MaxRetries,
		CreatedAt:     s.now(),
	}
	if req.Metadata != nil {
		task.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			task.Metadata[k] = v
		}
	}

	if err := s.validateDependenciesLocked(task, task.Dependencies); err != nil {
		return nil, err
	}

	s.tasks[task.TaskID] = task
	s.taskOrder[task.GoalID] = append(s.taskOrder[task.GoalID], task.TaskID)
	return task.Clone(), nil
}

// validateDependenciesLocked checks that deps exist within the task's goal
// and that the goal graph plus this task stays acyclic.
func (s *Memory) validateDependenciesLocked(task *models.Task, deps []string) error {
	for _, dep := range deps {
		other, ok := s.tasks[dep]
		if !ok {
			return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidDependency, task.TaskID, dep)
		}
		if other.GoalID != task.GoalID {
			return fmt.Errorf("%w: task %s depends on %s of goal %s", ErrInvalidDependency, task.TaskID, dep, other.GoalID)
		}
	}

	snapshot := make([]*models.Task, 0, len(s.taskOrder[task.GoalID])+1)
	for _, id := range s.taskOrder[task.GoalID] {
		if id == task.TaskID {
			continue
		}
		snapshot = append(snapshot, s.tasks[id])
	}
	candidate := task.Clone()
	candidate.Dependencies = append([]string(nil), deps...)
	snapshot = append(snapshot, candidate)

	if err := depgraph.New(snapshot).Validate(); err != nil {
		var cycleErr *depgraph.CycleError
		if errors.As(err, &cycleErr) {
			return fmt.Errorf("%w: %v", ErrCyclicDependency, cycleErr)
		}
		return fmt.Errorf("%w: %v", ErrInvalidDependency, err)
	}
	return nil
}

// GetTask returns a task by ID.
func (s *Memory) GetTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return task.Clone(), nil
}

// GoalTasks returns all tasks of a goal ordered by creation time.
func (s *Memory) GoalTasks(_ context.Context, goalID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.goals[goalID]; !ok {
		return nil, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}

	tasks := make([]*models.Task, 0, len(s.taskOrder[goalID]))
	for _, id := range s.taskOrder[goalID] {
		tasks = append(tasks, s.tasks[id].Clone())
	}
	return tasks, nil
}

// AgentTasks returns tasks assigned to an agent type, optionally filtered
// by status.
func (s *Memory) AgentTasks(_ context.Context, agentType string, status *models.TaskStatus) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var tasks []*models.Task
	for _, goalID := range s.goalOrder {
		for _, id := range s.taskOrder[goalID] {
			task := s.tasks[id]
			if task.AssignedAgent != agentType {
				continue
			}
			if status != nil && task.Status != *status {
				continue
			}
			tasks = append(tasks, task.Clone())
		}
	}
	return tasks, nil
}

// StalledTasks returns in_progress tasks with no heartbeat within olderThan.
func (s *Memory) StalledTasks(_ context.Context, olderThan time.Duration) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-olderThan)
	var tasks []*models.Task
	for _, goalID := range s.goalOrder {
		for _, id := range s.taskOrder[goalID] {
			task := s.tasks[id]
			if task.Status != models.TaskStatusInProgress {
				continue
			}
			last := task.StartedAt
			if task.LastHeartbeatAt != nil {
				last = task.LastHeartbeatAt
			}
			if last != nil && last.Before(cutoff) {
				tasks = append(tasks, task.Clone())
			}
		}
	}
	return tasks, nil
}

// ReadyTasks returns queued tasks whose dependencies are all completed,
// ordered by descending priority then ascending created_at.
func (s *Memory) ReadyTasks(_ context.Context, goalID string) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.goals[goalID]; !ok {
		return nil, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}

	var ready []*models.Task
	for _, id := range s.taskOrder[goalID] {
		task := s.tasks[id]
		if task.Status != models.TaskStatusQueued {
			continue
		}
		if s.dependenciesCompletedLocked(task) {
			ready = append(ready, task.Clone())
		}
	}

	sortReady(ready)
	return ready, nil
}

func (s *Memory) dependenciesCompletedLocked(task *models.Task) bool {
	for _, dep := range task.Dependencies {
		other, ok := s.tasks[dep]
		if !ok || other.Status != models.TaskStatusCompleted {
			return false
		}
	}
	return true
}

// UpdateTaskStatus validates and applies a status transition.
func (s *Memory) UpdateTaskStatus(_ context.Context, taskID string, status models.TaskStatus, result, errMsg string) (*models.Task, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown task status %q", ErrInvalidState, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Status == status {
		// Idempotent re-apply
		return task.Clone(), nil
	}
	if !task.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: task %s cannot move %s -> %s", ErrInvalidState, taskID, task.Status, status)
	}
	if status == models.TaskStatusQueued {
		// Requeue goes through RetryTask or RestartTask so retry accounting
		// stays in one place.
		return nil, fmt.Errorf("%w: task %s requeue requires retry or restart", ErrInvalidState, taskID)
	}

	now := s.now()
	switch status {
	case models.TaskStatusInProgress:
		if !s.dependenciesCompletedLocked(task) {
			return nil, fmt.Errorf("%w: task %s has incomplete dependencies", ErrInvalidState, taskID)
		}
		if task.StartedAt == nil {
			started := now
			task.StartedAt = &started
		}
		hb := now
		task.LastHeartbeatAt = &hb
	case models.TaskStatusCompleted:
		if result == "" {
			return nil, fmt.Errorf("%w: task %s completion requires a result", ErrInvalidState, taskID)
		}
		task.Result = result
	case models.TaskStatusFailed:
		if errMsg == "" {
			return nil, fmt.Errorf("%w: task %s failure requires an error", ErrInvalidState, taskID)
		}
		task.Error = errMsg
	case models.TaskStatusKilled:
		if errMsg == "" {
			errMsg = "killed"
		}
		task.Error = errMsg
	}

	task.Status = status
	if status.IsTerminal() {
		completed := now
		task.CompletedAt = &completed
	}
	return task.Clone(), nil
}

// UpdateTaskMetadata merges the patch into the task's metadata.
func (s *Memory) UpdateTaskMetadata(_ context.Context, taskID string, patch map[string]string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Metadata == nil {
		task.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		task.Metadata[k] = v
	}
	return task.Clone(), nil
}

// UpdateTaskDependencies replaces a queued task's dependency set.
func (s *Memory) UpdateTaskDependencies(_ context.Context, taskID string, dependencies []string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Status != models.TaskStatusQueued {
		return nil, fmt.Errorf("%w: task %s is %s, dependencies are frozen", ErrInvalidState, taskID, task.Status)
	}
	if err := s.validateDependenciesLocked(task, dependencies); err != nil {
		return nil, err
	}

	task.Dependencies = append([]string(nil), dependencies...)
	return task.Clone(), nil
}

// SetTaskAgent records the routed agent type on a queued task.
func (s *Memory) SetTaskAgent(_ context.Context, taskID, agentType string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Status != models.TaskStatusQueued {
		return nil, fmt.Errorf("%w: task %s is %s, cannot reassign", ErrInvalidState, taskID, task.Status)
	}

	task.AssignedAgent = agentType
	return task.Clone(), nil
}

// RecordHeartbeat stamps an in_progress task's last heartbeat.
func (s *Memory) RecordHeartbeat(_ context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Status != models.TaskStatusInProgress {
		return fmt.Errorf("%w: task %s is %s", ErrInvalidState, taskID, task.Status)
	}

	now := s.now()
	task.LastHeartbeatAt = &now
	return nil
}

// RetryTask re-queues a failed task and increments retry_count.
func (s *Memory) RetryTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if task.Status != models.TaskStatusFailed {
		return nil, fmt.Errorf("%w: task %s is %s, only failed tasks retry", ErrInvalidState, taskID, task.Status)
	}
	if task.RetryCount >= task.MaxRetries {
		return nil, fmt.Errorf("%w: task %s used %d of %d retries", ErrRetriesExhausted, taskID, task.RetryCount, task.MaxRetries)
	}

	task.RetryCount++
	task.Status = models.TaskStatusQueued
	task.CompletedAt = nil
	task.LastHeartbeatAt = nil
	// Error stays as the last observed error until the next attempt overwrites it
	return task.Clone(), nil
}

// RestartTask re-queues a task from any terminal state except completed.
func (s *Memory) RestartTask(_ context.Context, taskID string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if !task.Status.IsTerminal() || task.Status == models.TaskStatusCompleted {
		return nil, fmt.Errorf("%w: task %s is %s, restart requires a terminal non-completed state", ErrInvalidState, taskID, task.Status)
	}

	task.Status = models.TaskStatusQueued
	task.RetryCount = 0
	task.Result = ""
	task.Error = ""
	task.CompletedAt = nil
	task.LastHeartbeatAt = nil
	return task.Clone(), nil
}

// Close releases the store's resources.
func (s *Memory) Close() error {
	return nil
}
