package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/planloom/planloom/pkg/depgraph"
	"github.com/planloom/planloom/pkg/models"
)

// Postgres is the durable Store backed by PostgreSQL. Row locks (SELECT FOR
// UPDATE) serialize concurrent updates to the same task; every mutation runs
// in a transaction so it is fully applied or not at all.
type Postgres struct {
	db *sql.DB
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a store on an existing database handle. The handle is
// not closed by Close; its owner (the database client) closes it.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

const taskColumns = `task_id, goal_id, description, status, assigned_agent, kind, priority,
	dependencies, retry_count, max_retries, created_at, started_at, completed_at,
	last_heartbeat_at, result, error, metadata`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var status string
	var depsJSON, metaJSON []byte
	err := row.Scan(
		&t.TaskID, &t.GoalID, &t.Description, &status, &t.AssignedAgent, &t.Kind, &t.Priority,
		&depsJSON, &t.RetryCount, &t.MaxRetries, &t.CreatedAt, &t.StartedAt, &t.CompletedAt,
		&t.LastHeartbeatAt, &t.Result, &t.Error, &metaJSON,
	)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if err := json.Unmarshal(depsJSON, &t.Dependencies); err != nil {
		return nil, fmt.Errorf("failed to decode dependencies of task %s: %w", t.TaskID, err)
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &t.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of task %s: %w", t.TaskID, err)
		}
	}
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}
	if len(t.Dependencies) == 0 {
		t.Dependencies = nil
	}
	return &t, nil
}

func scanGoal(row rowScanner) (*models.Goal, error) {
	var g models.Goal
	var status string
	if err := row.Scan(&g.GoalID, &g.Description, &status, &g.CreatedAt, &g.CompletedAt); err != nil {
		return nil, err
	}
	g.Status = models.GoalStatus(status)
	return &g, nil
}

// withTx runs fn inside a transaction, committing on nil error.
func (s *Postgres) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// lockTask loads a task row FOR UPDATE inside a transaction.
func lockTask(ctx context.Context, tx *sql.Tx, taskID string) (*models.Task, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1 FOR UPDATE`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return task, nil
}

func saveTask(ctx context.Context, tx *sql.Tx, t *models.Task) error {
	depsJSON, err := json.Marshal(depsOrEmpty(t.Dependencies))
	if err != nil {
		return fmt.Errorf("failed to encode dependencies: %w", err)
	}
	metaJSON, err := json.Marshal(metaOrEmpty(t.Metadata))
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET
			status = $2, assigned_agent = $3, priority = $4, dependencies = $5,
			retry_count = $6, started_at = $7, completed_at = $8,
			last_heartbeat_at = $9, result = $10, error = $11, metadata = $12
		WHERE task_id = $1`,
		t.TaskID, string(t.Status), t.AssignedAgent, t.Priority, depsJSON,
		t.RetryCount, t.StartedAt, t.CompletedAt,
		t.LastHeartbeatAt, t.Result, t.Error, metaJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.TaskID, err)
	}
	return nil
}

func depsOrEmpty(deps []string) []string {
	if deps == nil {
		return []string{}
	}
	return deps
}

func metaOrEmpty(meta map[string]string) map[string]string {
	if meta == nil {
		return map[string]string{}
	}
	return meta
}

// CreateGoal creates a goal in status pending.
func (s *Postgres) CreateGoal(ctx context.Context, goalID, description string) (*models.Goal, error) {
	if goalID == "" {
		return nil, fmt.Errorf("%w: goal id is required", ErrInvalidState)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO goals (goal_id, description, status)
		VALUES ($1, $2, $3)
		RETURNING goal_id, description, status, created_at, completed_at`,
		goalID, description, string(models.GoalStatusPending))
	goal, err := scanGoal(row)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: goal %s", ErrDuplicateID, goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create goal %s: %w", goalID, err)
	}
	return goal, nil
}

// GetGoal returns a goal by ID.
func (s *Postgres) GetGoal(ctx context.Context, goalID string) (*models.Goal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT goal_id, description, status, created_at, completed_at FROM goals WHERE goal_id = $1`,
		goalID)
	goal, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load goal %s: %w", goalID, err)
	}
	return goal, nil
}

// ListGoals returns all goals ordered by creation time.
func (s *Postgres) ListGoals(ctx context.Context) ([]*models.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT goal_id, description, status, created_at, completed_at FROM goals ORDER BY created_at, goal_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals: %w", err)
	}
	defer rows.Close()

	var goals []*models.Goal
	for rows.Next() {
		goal, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		goals = append(goals, goal)
	}
	return goals, rows.Err()
}

// UpdateGoalStatus moves a goal to the given status.
func (s *Postgres) UpdateGoalStatus(ctx context.Context, goalID string, status models.GoalStatus) (*models.Goal, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown goal status %q", ErrInvalidState, status)
	}

	var goal *models.Goal
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT goal_id, description, status, created_at, completed_at FROM goals WHERE goal_id = $1 FOR UPDATE`,
			goalID)
		current, err := scanGoal(row)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: goal %s", ErrNotFound, goalID)
		}
		if err != nil {
			return fmt.Errorf("failed to load goal %s: %w", goalID, err)
		}

		if current.Status == status {
			goal = current
			return nil
		}
		if current.Status.IsTerminal() {
			return fmt.Errorf("%w: goal %s is %s", ErrInvalidState, goalID, current.Status)
		}

		current.Status = status
		if status.IsTerminal() {
			now := time.Now()
			current.CompletedAt = &now
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE goals SET status = $2, completed_at = $3 WHERE goal_id = $1`,
			goalID, string(current.Status), current.CompletedAt)
		if err != nil {
			return fmt.Errorf("failed to update goal %s: %w", goalID, err)
		}
		goal = current
		return nil
	})
	return goal, err
}

// CreateTask creates a task in status queued, validating its dependencies.
func (s *Postgres) CreateTask(ctx context.Context, req *models.CreateTaskRequest) (*models.Task, error) {
	if req.TaskID == "" || req.GoalID == "" {
		return nil, fmt.Errorf("%w: task id and goal id are required", ErrInvalidState)
	}

	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Lock the goal row so concurrent task creation within a goal
		// serializes; cycle validation needs a stable snapshot.
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT true FROM goals WHERE goal_id = $1 FOR UPDATE`, req.GoalID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: goal %s", ErrNotFound, req.GoalID)
		}
		if err != nil {
			return fmt.Errorf("failed to lock goal %s: %w", req.GoalID, err)
		}

		siblings, err := goalTasksTx(ctx, tx, req.GoalID)
		if err != nil {
			return err
		}

		candidate := &models.Task{
			TaskID:       req.TaskID,
			GoalID:       req.GoalID,
			Dependencies: req.Dependencies,
		}
		if err := validateDependencies(candidate, req.Dependencies, siblings); err != nil {
			return err
		}

		depsJSON, err := json.Marshal(depsOrEmpty(req.Dependencies))
		if err != nil {
			return fmt.Errorf("failed to encode dependencies: %w", err)
		}
		metaJSON, err := json.Marshal(metaOrEmpty(req.Metadata))
		if err != nil {
			return fmt.Errorf("failed to encode metadata: %w", err)
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO tasks (task_id, goal_id, description, status, assigned_agent, kind,
				priority, dependencies, max_retries, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+taskColumns,
			req.TaskID, req.GoalID, req.Description, string(models.TaskStatusQueued),
			req.AssignedAgent, req.Kind, req.Priority, depsJSON, req.MaxRetries, metaJSON)
		task, err = scanTask(row)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: task %s", ErrDuplicateID, req.TaskID)
		}
		if err != nil {
			return fmt.Errorf("failed to create task %s: %w", req.TaskID, err)
		}
		return nil
	})
	return task, err
}

// validateDependencies checks existence, goal locality, and acyclicity of a
// task's dependency set against a snapshot of its goal's tasks.
func validateDependencies(task *models.Task, deps []string, siblings []*models.Task) error {
	byID := make(map[string]*models.Task, len(siblings))
	for _, t := range siblings {
		byID[t.TaskID] = t
	}
	for _, dep := range deps {
		if dep == task.TaskID {
			return fmt.Errorf("%w: task %s depends on itself", ErrInvalidDependency, task.TaskID)
		}
		if _, ok := byID[dep]; !ok {
			return fmt.Errorf("%w: task %s depends on unknown task %s", ErrInvalidDependency, task.TaskID, dep)
		}
	}

	snapshot := make([]*models.Task, 0, len(siblings)+1)
	for _, t := range siblings {
		if t.TaskID == task.TaskID {
			continue
		}
		snapshot = append(snapshot, t)
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

func goalTasksTx(ctx context.Context, tx *sql.Tx, goalID string) ([]*models.Task, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE goal_id = $1 ORDER BY created_at, task_id`, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks of goal %s: %w", goalID, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// GetTask returns a task by ID.
func (s *Postgres) GetTask(ctx context.Context, taskID string) (*models.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	return task, nil
}

// GoalTasks returns all tasks of a goal ordered by creation time.
func (s *Postgres) GoalTasks(ctx context.Context, goalID string) ([]*models.Task, error) {
	if _, err := s.GetGoal(ctx, goalID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE goal_id = $1 ORDER BY created_at, task_id`, goalID)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks of goal %s: %w", goalID, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// AgentTasks returns tasks assigned to an agent type, optionally filtered
// by status.
func (s *Postgres) AgentTasks(ctx context.Context, agentType string, status *models.TaskStatus) ([]*models.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE assigned_agent = $1`
	args := []any{agentType}
	if status != nil {
		query += ` AND status = $2`
		args = append(args, string(*status))
	}
	query += ` ORDER BY created_at, task_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks of agent %s: %w", agentType, err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// StalledTasks returns in_progress tasks with no heartbeat within olderThan.
func (s *Postgres) StalledTasks(ctx context.Context, olderThan time.Duration) ([]*models.Task, error) {
	cutoff := time.Now().Add(-olderThan)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		WHERE status = $1 AND COALESCE(last_heartbeat_at, started_at) < $2
		ORDER BY created_at, task_id`,
		string(models.TaskStatusInProgress), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to load stalled tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// ReadyTasks returns queued tasks whose dependencies are all completed,
// ordered by descending priority then ascending created_at. Dependency
// completion is checked in Go against one consistent read of the goal's
// tasks; dependencies live in a JSONB array, not a join table.
func (s *Postgres) ReadyTasks(ctx context.Context, goalID string) ([]*models.Task, error) {
	tasks, err := s.GoalTasks(ctx, goalID)
	if err != nil {
		return nil, err
	}

	statusByID := make(map[string]models.TaskStatus, len(tasks))
	for _, t := range tasks {
		statusByID[t.TaskID] = t.Status
	}

	var ready []*models.Task
	for _, t := range tasks {
		if t.Status != models.TaskStatusQueued {
			continue
		}
		ok := true
		for _, dep := range t.Dependencies {
			if statusByID[dep] != models.TaskStatusCompleted {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, t)
		}
	}

	// tasks arrive ordered by created_at; a stable sort by priority keeps
	// the created_at tie-break
	sortReady(ready)
	return ready, nil
}

// UpdateTaskStatus validates and applies a status transition.
func (s *Postgres) UpdateTaskStatus(ctx context.Context, taskID string, status models.TaskStatus, result, errMsg string) (*models.Task, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown task status %q", ErrInvalidState, status)
	}

	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status == status {
			task = current
			return nil
		}
		if !current.Status.CanTransitionTo(status) {
			return fmt.Errorf("%w: task %s cannot move %s -> %s", ErrInvalidState, taskID, current.Status, status)
		}
		if status == models.TaskStatusQueued {
			return fmt.Errorf("%w: task %s requeue requires retry or restart", ErrInvalidState, taskID)
		}

		now := time.Now()
		switch status {
		case models.TaskStatusInProgress:
			if err := dependenciesCompletedTx(ctx, tx, current); err != nil {
				return err
			}
			if current.StartedAt == nil {
				started := now
				current.StartedAt = &started
			}
			hb := now
			current.LastHeartbeatAt = &hb
		case models.TaskStatusCompleted:
			if result == "" {
				return fmt.Errorf("%w: task %s completion requires a result", ErrInvalidState, taskID)
			}
			current.Result = result
		case models.TaskStatusFailed:
			if errMsg == "" {
				return fmt.Errorf("%w: task %s failure requires an error", ErrInvalidState, taskID)
			}
			current.Error = errMsg
		case models.TaskStatusKilled:
			if errMsg == "" {
				errMsg = "killed"
			}
			current.Error = errMsg
		}

		current.Status = status
		if status.IsTerminal() {
			completed := now
			current.CompletedAt = &completed
		}
		if err := saveTask(ctx, tx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	return task, err
}

func dependenciesCompletedTx(ctx context.Context, tx *sql.Tx, task *models.Task) error {
	for _, dep := range task.Dependencies {
		var status string
		err := tx.QueryRowContext(ctx,
			`SELECT status FROM tasks WHERE task_id = $1`, dep).Scan(&status)
		if err != nil || models.TaskStatus(status) != models.TaskStatusCompleted {
			return fmt.Errorf("%w: task %s has incomplete dependencies", ErrInvalidState, task.TaskID)
		}
	}
	return nil
}

// UpdateTaskMetadata merges the patch into the task's metadata.
func (s *Postgres) UpdateTaskMetadata(ctx context.Context, taskID string, patch map[string]string) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Metadata == nil {
			current.Metadata = make(map[string]string, len(patch))
		}
		for k, v := range patch {
			current.Metadata[k] = v
		}
		if err := saveTask(ctx, tx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	return task, err
}

// UpdateTaskDependencies replaces a queued task's dependency set.
func (s *Postgres) UpdateTaskDependencies(ctx context.Context, taskID string, dependencies []string) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status != models.TaskStatusQueued {
			return fmt.Errorf("%w: task %s is %s, dependencies are frozen", ErrInvalidState, taskID, current.Status)
		}

		siblings, err := goalTasksTx(ctx, tx, current.GoalID)
		if err != nil {
			return err
		}
		if err := validateDependencies(current, dependencies, siblings); err != nil {
			return err
		}

		current.Dependencies = append([]string(nil), dependencies...)
		if err := saveTask(ctx, tx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	return task, err
}

// SetTaskAgent records the routed agent type on a queued task.
func (s *Postgres) SetTaskAgent(ctx context.Context, taskID, agentType string) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status != models.TaskStatusQueued {
			return fmt.Errorf("%w: task %s is %s, cannot reassign", ErrInvalidState, taskID, current.Status)
		}
		current.AssignedAgent = agentType
		if err := saveTask(ctx, tx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	return task, err
}

// RecordHeartbeat stamps an in_progress task's last heartbeat.
func (s *Postgres) RecordHeartbeat(ctx context.Context, taskID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET last_heartbeat_at = now() WHERE task_id = $1 AND status = $2`,
		taskID, string(models.TaskStatusInProgress))
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for task %s: %w", taskID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record heartbeat for task %s: %w", taskID, err)
	}
	if affected == 0 {
		// Either the task is unknown or it is not running
		if _, err := s.GetTask(ctx, taskID); err != nil {
			return err
		}
		return fmt.Errorf("%w: task %s is not in progress", ErrInvalidState, taskID)
	}
	return nil
}

// RetryTask re-queues a failed task and increments retry_count.
func (s *Postgres) RetryTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if current.Status != models.TaskStatusFailed {
			return fmt.Errorf("%w: task %s is %s, only failed tasks retry", ErrInvalidState, taskID, current.Status)
		}
		if current.RetryCount >= current.MaxRetries {
			return fmt.Errorf("%w: task %s used %d of %d retries", ErrRetriesExhausted, taskID, current.RetryCount, current.MaxRetries)
		}

		current.RetryCount++
		current.Status = models.TaskStatusQueued
		current.CompletedAt = nil
		current.LastHeartbeatAt = nil
		if err := saveTask(ctx, tx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	return task, err
}

// RestartTask re-queues a task from any terminal state except completed.
func (s *Postgres) RestartTask(ctx context.Context, taskID string) (*models.Task, error) {
	var task *models.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := lockTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if !current.Status.IsTerminal() || current.Status == models.TaskStatusCompleted {
			return fmt.Errorf("%w: task %s is %s, restart requires a terminal non-completed state", ErrInvalidState, taskID, current.Status)
		}

		current.Status = models.TaskStatusQueued
		current.RetryCount = 0
		current.Result = ""
		current.Error = ""
		current.CompletedAt = nil
		current.LastHeartbeatAt = nil
		if err := saveTask(ctx, tx, current); err != nil {
			return err
		}
		task = current
		return nil
	})
	return task, err
}

// Close is a no-op; the database client owns the connection pool.
func (s *Postgres) Close() error {
	return nil
}
