// Package coordinator drives a single task through one execution attempt:
// assignment, safety screening, worker invocation, and the resulting
// completion, retry, or escalation.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/events"
	"github.com/planloom/planloom/pkg/models"
	"github.com/planloom/planloom/pkg/router"
	"github.com/planloom/planloom/pkg/safety"
	"github.com/planloom/planloom/pkg/store"
)

// metaSafetyRetry marks a task already re-attempted after an output block.
// The second block is terminal.
const metaSafetyRetry = "safety_retry"

// WorkerAgent executes one task attempt. Implementations are supplied by
// embedders; Run must honor ctx cancellation, the coordinator enforces the
// policy deadline through it.
type WorkerAgent interface {
	Run(ctx context.Context, prompt, goalID, taskID string) (string, error)
}

// AttemptOutcome reports how one execution attempt ended. Status is the
// task's state after the attempt; Retried means it was re-queued with
// RetryDelay to wait before the next dispatch.
type AttemptOutcome struct {
	TaskID     string
	Status     models.TaskStatus
	Retried    bool
	RetryDelay time.Duration
}

// Coordinator owns the per-task attempt lifecycle. It is safe for use from
// the orchestrator's parallel attempt goroutines.
type Coordinator struct {
	store     store.Store
	log       events.EventLog
	router    *router.Router
	pipeline  *safety.Pipeline
	policies  *config.PolicyTable
	scheduler *config.SchedulerConfig
	worker    WorkerAgent
	logger    *slog.Logger

	mu          sync.Mutex
	assignments map[string]*models.Assignment
	backoffs    map[string]backoff.BackOff
}

// New creates a coordinator. All collaborators are required.
func New(
	st store.Store,
	log events.EventLog,
	rt *router.Router,
	pipeline *safety.Pipeline,
	policies *config.PolicyTable,
	scheduler *config.SchedulerConfig,
	worker WorkerAgent,
	logger *slog.Logger,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		store:       st,
		log:         log,
		router:      rt,
		pipeline:    pipeline,
		policies:    policies,
		scheduler:   scheduler,
		worker:      worker,
		logger:      logger.With("component", "coordinator"),
		assignments: make(map[string]*models.Assignment),
		backoffs:    make(map[string]backoff.BackOff),
	}
}

// AssignTask routes the task (unless it already carries an agent), creates a
// fresh Assignment, and moves the task to in_progress. The router increments
// the chosen agent's workload; the coordinator releases it when the attempt
// reaches a terminal state.
func (c *Coordinator) AssignTask(ctx context.Context, taskID string) (*models.Assignment, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	req := router.RequestFromTask(task)
	if task.AssignedAgent != "" {
		req.PreferredAgent = task.AssignedAgent
	}
	decision, err := c.router.Route(req)
	if err != nil {
		return nil, fmt.Errorf("routing task %s: %w", taskID, err)
	}

	if task.AssignedAgent != decision.AgentType {
		if _, err := c.store.SetTaskAgent(ctx, taskID, decision.AgentType); err != nil {
			c.router.Release(decision.AgentType)
			return nil, err
		}
	}

	if _, err := c.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusInProgress, "", ""); err != nil {
		c.router.Release(decision.AgentType)
		return nil, err
	}

	assignment := &models.Assignment{
		AgentID:    uuid.NewString(),
		AgentType:  decision.AgentType,
		TaskID:     taskID,
		AssignedAt: time.Now(),
		Status:     models.AssignmentStatusAssigned,
	}
	c.mu.Lock()
	c.assignments[taskID] = assignment
	c.mu.Unlock()

	c.appendEvent(ctx, task.GoalID, taskID, models.EventTaskAssigned, map[string]any{
		"agent_type": decision.AgentType,
		"agent_id":   assignment.AgentID,
		"confidence": decision.Confidence,
		"reason":     decision.Reason,
	})
	c.appendEvent(ctx, task.GoalID, taskID, models.EventTaskStarted, nil)

	c.logger.Info("Task assigned",
		"task_id", taskID,
		"agent_type", decision.AgentType,
		"confidence", decision.Confidence)
	return assignment, nil
}

// MonitorTask returns the task's persistent state combined with its in-flight
// assignment, if one exists.
func (c *Coordinator) MonitorTask(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	assignment := c.assignments[taskID]
	c.mu.Unlock()

	snapshot := &models.TaskSnapshot{Task: task}
	if assignment != nil {
		cp := *assignment
		snapshot.Assignment = &cp
	}
	return snapshot, nil
}

// ExecuteTask runs one full attempt: assign, screen the prompt, invoke the
// worker under the policy deadline, screen the output, and settle the task.
func (c *Coordinator) ExecuteTask(ctx context.Context, taskID string) (*AttemptOutcome, error) {
	task, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	assignment, err := c.AssignTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	promptVerdict := c.pipeline.CheckPrompt(task.Description, nil, taskID)
	c.recordFindings(ctx, task.GoalID, taskID, promptVerdict)
	if promptVerdict.Blocked() {
		// The description cannot change between attempts, so a prompt
		// block fails the task without consuming the retry budget.
		blockErr := &SafetyBlockError{Verdict: promptVerdict}
		return c.failTerminal(ctx, task, assignment.AgentType, blockErr.Error())
	}

	policy := c.policies.Lookup(task.Kind)
	attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
	defer cancel()

	c.setAssignmentStatus(taskID, models.AssignmentStatusWorking)
	stopHeartbeat := c.startHeartbeat(ctx, taskID)
	result, workerErr := c.worker.Run(attemptCtx, promptVerdict.SanitizedText, task.GoalID, taskID)
	stopHeartbeat()

	// A kill while the worker ran wins; the late result is dropped.
	if current, err := c.store.GetTask(ctx, taskID); err == nil && current.Status == models.TaskStatusKilled {
		c.clearBackoff(taskID)
		c.release(taskID, assignment.AgentType)
		c.logger.Info("Dropping result of killed task", "task_id", taskID)
		return &AttemptOutcome{TaskID: taskID, Status: models.TaskStatusKilled}, nil
	}

	if workerErr != nil {
		errMsg := (&WorkerError{Reason: workerErr.Error()}).Error()
		if errors.Is(workerErr, context.DeadlineExceeded) || attemptCtx.Err() == context.DeadlineExceeded {
			errMsg = "timeout"
		}
		return c.HandleFailure(ctx, taskID, errMsg)
	}

	outputVerdict := c.pipeline.CheckOutput(result, nil, taskID)
	c.recordFindings(ctx, task.GoalID, taskID, outputVerdict)
	if outputVerdict.Blocked() {
		blockErr := &SafetyBlockError{Verdict: outputVerdict}
		if task.Metadata[metaSafetyRetry] == "true" {
			return c.failTerminal(ctx, task, assignment.AgentType, blockErr.Error())
		}
		if _, err := c.store.UpdateTaskMetadata(ctx, taskID, map[string]string{metaSafetyRetry: "true"}); err != nil {
			return nil, err
		}
		return c.retryAfterOutputBlock(ctx, task, assignment.AgentType, blockErr.Error())
	}
	if outputVerdict.Action == models.ActionRewrite {
		result = outputVerdict.SanitizedText
	}

	if err := c.HandleCompletion(ctx, taskID, result); err != nil {
		return nil, err
	}
	return &AttemptOutcome{TaskID: taskID, Status: models.TaskStatusCompleted}, nil
}

// HandleCompletion stores the result, marks the task completed, and releases
// the agent workload. A completion racing a kill is dropped.
func (c *Coordinator) HandleCompletion(ctx context.Context, taskID, result string) error {
	agentType := c.assignmentAgent(taskID)

	task, err := c.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusCompleted, result, "")
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			c.release(taskID, agentType)
			c.logger.Info("Dropping completion for task no longer in progress", "task_id", taskID)
			return nil
		}
		return err
	}

	c.setAssignmentStatus(taskID, models.AssignmentStatusCompleted)
	c.clearBackoff(taskID)
	c.release(taskID, agentType)
	c.appendEvent(ctx, task.GoalID, taskID, models.EventTaskCompleted, map[string]any{
		"retry_count": task.RetryCount,
	})
	c.logger.Info("Task completed", "task_id", taskID, "retry_count", task.RetryCount)
	return nil
}

// HandleFailure records the failure, then either re-queues the task with a
// backoff delay or leaves it failed and escalates high-priority work.
func (c *Coordinator) HandleFailure(ctx context.Context, taskID, errMsg string) (*AttemptOutcome, error) {
	agentType := c.assignmentAgent(taskID)

	task, err := c.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusFailed, "", errMsg)
	if err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			c.release(taskID, agentType)
			c.logger.Info("Dropping failure for task no longer in progress", "task_id", taskID)
			return &AttemptOutcome{TaskID: taskID, Status: models.TaskStatusKilled}, nil
		}
		return nil, err
	}

	c.setAssignmentStatus(taskID, models.AssignmentStatusFailed)
	c.release(taskID, agentType)

	retried, err := c.store.RetryTask(ctx, taskID)
	if err == nil {
		delay := c.nextRetryDelay(taskID, task.Kind)
		c.appendEvent(ctx, task.GoalID, taskID, models.EventTaskRetry, map[string]any{
			"retry_count": retried.RetryCount,
			"error":       errMsg,
			"delay_ms":    delay.Milliseconds(),
		})
		c.logger.Warn("Task re-queued for retry",
			"task_id", taskID,
			"retry_count", retried.RetryCount,
			"delay", delay,
			"error", errMsg)
		return &AttemptOutcome{TaskID: taskID, Status: models.TaskStatusQueued, Retried: true, RetryDelay: delay}, nil
	}
	if !errors.Is(err, store.ErrRetriesExhausted) {
		return nil, err
	}

	c.clearBackoff(taskID)
	c.escalateIfUrgent(ctx, task, errMsg)
	c.appendEvent(ctx, task.GoalID, taskID, models.EventTaskFailed, map[string]any{
		"error":       errMsg,
		"retry_count": task.RetryCount,
	})
	c.logger.Error("Task failed terminally", "task_id", taskID, "error", errMsg)
	return &AttemptOutcome{TaskID: taskID, Status: models.TaskStatusFailed}, nil
}

// FinalizeGoal settles a goal once every task is terminal and returns the
// final report. Calling it on an already-terminal goal is idempotent.
func (c *Coordinator) FinalizeGoal(ctx context.Context, goalID string) (*models.GoalResult, error) {
	goal, err := c.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	tasks, err := c.store.GoalTasks(ctx, goalID)
	if err != nil {
		return nil, err
	}

	allCompleted := true
	totalRetries := 0
	reports := make([]models.TaskReport, 0, len(tasks))
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			return nil, fmt.Errorf("%w: task %s is %s", ErrGoalNotTerminal, task.TaskID, task.Status)
		}
		if task.Status != models.TaskStatusCompleted {
			allCompleted = false
		}
		totalRetries += task.RetryCount
		reports = append(reports, models.TaskReport{
			TaskID:     task.TaskID,
			Status:     task.Status,
			LastError:  task.Error,
			RetryCount: task.RetryCount,
		})
	}

	// An empty plan has nothing left to do; the goal completes vacuously.
	status := models.GoalStatusCompleted
	kind := models.EventGoalCompleted
	if !allCompleted {
		status = models.GoalStatusFailed
		kind = models.EventGoalFailed
	}

	if !goal.Status.IsTerminal() {
		goal, err = c.store.UpdateGoalStatus(ctx, goalID, status)
		if err != nil {
			return nil, err
		}
		c.appendEvent(ctx, goalID, "", kind, map[string]any{
			"total_tasks":   len(tasks),
			"total_retries": totalRetries,
		})
		c.logger.Info("Goal finalized", "goal_id", goalID, "status", status)
	}

	return &models.GoalResult{
		GoalID:       goalID,
		Status:       goal.Status,
		Tasks:        reports,
		TotalRetries: totalRetries,
		CompletedAt:  goal.CompletedAt,
	}, nil
}

// ReleaseAssignment drops bookkeeping for a task killed outside an attempt.
func (c *Coordinator) ReleaseAssignment(taskID string) {
	c.release(taskID, c.assignmentAgent(taskID))
}

// failTerminal fails the task without consuming retry budget.
func (c *Coordinator) failTerminal(ctx context.Context, task *models.Task, agentType, errMsg string) (*AttemptOutcome, error) {
	if _, err := c.store.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusFailed, "", errMsg); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			c.release(task.TaskID, agentType)
			return &AttemptOutcome{TaskID: task.TaskID, Status: models.TaskStatusKilled}, nil
		}
		return nil, err
	}

	c.setAssignmentStatus(task.TaskID, models.AssignmentStatusFailed)
	c.clearBackoff(task.TaskID)
	c.release(task.TaskID, agentType)
	c.escalateIfUrgent(ctx, task, errMsg)
	c.appendEvent(ctx, task.GoalID, task.TaskID, models.EventTaskFailed, map[string]any{
		"error": errMsg,
	})
	c.logger.Warn("Task failed without retry", "task_id", task.TaskID, "error", errMsg)
	return &AttemptOutcome{TaskID: task.TaskID, Status: models.TaskStatusFailed}, nil
}

// retryAfterOutputBlock re-queues the task for its single clean re-attempt
// after a blocked output. The blocked result is discarded and the retry is
// granted even when the normal budget is spent, so a max_retries=0 task
// still gets one. A second block ends the task through failTerminal.
func (c *Coordinator) retryAfterOutputBlock(ctx context.Context, task *models.Task, agentType, errMsg string) (*AttemptOutcome, error) {
	if _, err := c.store.UpdateTaskStatus(ctx, task.TaskID, models.TaskStatusFailed, "", errMsg); err != nil {
		if errors.Is(err, store.ErrInvalidState) {
			c.release(task.TaskID, agentType)
			return &AttemptOutcome{TaskID: task.TaskID, Status: models.TaskStatusKilled}, nil
		}
		return nil, err
	}

	c.setAssignmentStatus(task.TaskID, models.AssignmentStatusFailed)
	c.release(task.TaskID, agentType)

	requeued, err := c.store.RetryTask(ctx, task.TaskID)
	if errors.Is(err, store.ErrRetriesExhausted) {
		requeued, err = c.store.RestartTask(ctx, task.TaskID)
	}
	if err != nil {
		return nil, err
	}

	delay := c.nextRetryDelay(task.TaskID, task.Kind)
	c.appendEvent(ctx, task.GoalID, task.TaskID, models.EventTaskRetry, map[string]any{
		"retry_count": requeued.RetryCount,
		"error":       errMsg,
		"delay_ms":    delay.Milliseconds(),
	})
	c.logger.Warn("Task re-queued after output block",
		"task_id", task.TaskID,
		"delay", delay,
		"error", errMsg)
	return &AttemptOutcome{TaskID: task.TaskID, Status: models.TaskStatusQueued, Retried: true, RetryDelay: delay}, nil
}

// escalateIfUrgent flags high-priority terminal failures and emits the
// escalation event. Event emission is the only side effect; delivery to
// reviewers is external.
func (c *Coordinator) escalateIfUrgent(ctx context.Context, task *models.Task, reason string) {
	if task.Priority < c.scheduler.EscalationPriorityThreshold {
		return
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if _, err := c.store.UpdateTaskMetadata(ctx, task.TaskID, map[string]string{
		models.MetaEscalated:        "true",
		models.MetaEscalationReason: reason,
		models.MetaEscalationAt:     now,
	}); err != nil {
		c.logger.Error("Failed to record escalation metadata", "task_id", task.TaskID, "error", err)
	}
	c.appendEvent(ctx, task.GoalID, task.TaskID, models.EventTaskEscalated, map[string]any{
		"reason":   reason,
		"priority": task.Priority,
	})
	c.logger.Warn("Task escalated", "task_id", task.TaskID, "priority", task.Priority, "reason", reason)
}

// recordFindings appends one safety_finding event per screener finding.
func (c *Coordinator) recordFindings(ctx context.Context, goalID, taskID string, verdict *models.SafetyVerdict) {
	for _, finding := range verdict.Findings {
		c.appendEvent(ctx, goalID, taskID, models.EventSafetyFinding, map[string]any{
			"kind":     finding.Kind,
			"severity": finding.Severity,
			"tags":     finding.Tags,
			"score":    finding.Score,
			"action":   verdict.Action,
		})
	}
}

// startHeartbeat stamps the task at the configured interval until the
// returned stop function is called.
func (c *Coordinator) startHeartbeat(ctx context.Context, taskID string) func() {
	interval := c.scheduler.HeartbeatInterval
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.store.RecordHeartbeat(ctx, taskID); err != nil {
					c.logger.Debug("Heartbeat failed", "task_id", taskID, "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// nextRetryDelay advances the task's backoff schedule from the policy table.
// State persists across attempts and is cleared on any terminal outcome.
func (c *Coordinator) nextRetryDelay(taskID, kind string) time.Duration {
	policy := c.policies.Lookup(kind)

	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.backoffs[taskID]
	if !ok {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = policy.RetryDelay
		exp.RandomizationFactor = 0
		exp.Multiplier = 2
		if !policy.ExponentialBackoff {
			exp.Multiplier = 1
		}
		exp.MaxElapsedTime = 0
		exp.Reset()
		b = exp
		c.backoffs[taskID] = b
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop || delay < 0 {
		delay = policy.RetryDelay
	}
	return delay
}

func (c *Coordinator) clearBackoff(taskID string) {
	c.mu.Lock()
	delete(c.backoffs, taskID)
	c.mu.Unlock()
}

// release returns the agent's workload slot and drops attempt bookkeeping.
func (c *Coordinator) release(taskID, agentType string) {
	if agentType != "" {
		c.router.Release(agentType)
	}
	c.mu.Lock()
	delete(c.assignments, taskID)
	c.mu.Unlock()
}

func (c *Coordinator) assignmentAgent(taskID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.assignments[taskID]; ok {
		return a.AgentType
	}
	return ""
}

func (c *Coordinator) setAssignmentStatus(taskID string, status models.AssignmentStatus) {
	c.mu.Lock()
	if a, ok := c.assignments[taskID]; ok {
		a.Status = status
	}
	c.mu.Unlock()
}

func (c *Coordinator) appendEvent(ctx context.Context, goalID, taskID string, kind models.EventKind, payload map[string]any) {
	if _, err := c.log.Append(ctx, goalID, taskID, kind, payload); err != nil {
		c.logger.Error("Failed to append event", "goal_id", goalID, "kind", kind, "error", err)
	}
}
