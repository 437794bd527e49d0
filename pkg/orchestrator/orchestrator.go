// Package orchestrator drives goals end to end: decomposition into tasks,
// parallel scheduling of the ready set, retry pacing, circuit breaking per
// task kind, kill handling, and final goal reports.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/coordinator"
	"github.com/planloom/planloom/pkg/depgraph"
	"github.com/planloom/planloom/pkg/events"
	"github.com/planloom/planloom/pkg/models"
	"github.com/planloom/planloom/pkg/router"
	"github.com/planloom/planloom/pkg/store"
)

// ErrGoalHasTasks is returned by ProcessGoal when the goal already has tasks
// and auto_resume is disabled.
var ErrGoalHasTasks = errors.New("goal already has tasks")

// errAttemptFailed feeds failed and retried attempts into the kind's circuit
// breaker as failures. It never leaves the orchestrator.
var errAttemptFailed = errors.New("attempt did not complete")

// idleRecheck paces the scheduling loop when nothing is running and nothing
// is ready but the goal is not yet terminal.
const idleRecheck = 50 * time.Millisecond

// Orchestrator owns goal-level scheduling. One scheduling loop runs per
// ProcessGoal or ResumeGoal call; attempts within it run in parallel up to
// the configured cap.
type Orchestrator struct {
	store      store.Store
	log        events.EventLog
	coord      *coordinator.Coordinator
	router     *router.Router
	policies   *config.PolicyTable
	scheduler  *config.SchedulerConfig
	decomposer Decomposer
	weights    PriorityWeights
	logger     *slog.Logger

	mu       sync.Mutex
	attempts map[string]context.CancelFunc
	breakers map[string]*gobreaker.CircuitBreaker

	wg          sync.WaitGroup
	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds an orchestrator. A nil logger falls back to slog.Default.
func New(
	st store.Store,
	log events.EventLog,
	coord *coordinator.Coordinator,
	rt *router.Router,
	policies *config.PolicyTable,
	scheduler *config.SchedulerConfig,
	decomposer Decomposer,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		log:        log,
		coord:      coord,
		router:     rt,
		policies:   policies,
		scheduler:  scheduler,
		decomposer: decomposer,
		weights:    DefaultPriorityWeights(),
		logger:     logger.With("component", "orchestrator"),
		attempts:   make(map[string]context.CancelFunc),
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
}

// ProcessGoal creates the goal if needed, decomposes it into tasks, and runs
// the scheduling loop until every task is terminal. Calling it again for a
// goal that already has tasks resumes scheduling when auto_resume is set.
// It blocks until the goal reaches a terminal state and returns the report.
func (o *Orchestrator) ProcessGoal(ctx context.Context, goalID, description string) (*models.GoalResult, error) {
	return o.processGoal(ctx, goalID, description, o.decomposer)
}

// ProcessGoalWithPlan is ProcessGoal with an explicit plan, bypassing the
// configured decomposer. Used when the embedder planned the goal itself.
func (o *Orchestrator) ProcessGoalWithPlan(ctx context.Context, goalID, description string, specs []models.SubtaskSpec) (*models.GoalResult, error) {
	return o.processGoal(ctx, goalID, description, &StaticDecomposer{Specs: specs})
}

func (o *Orchestrator) processGoal(ctx context.Context, goalID, description string, decomposer Decomposer) (*models.GoalResult, error) {
	goal, err := o.store.GetGoal(ctx, goalID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		goal, err = o.store.CreateGoal(ctx, goalID, description)
		if err != nil {
			return nil, err
		}
		o.appendEvent(ctx, goalID, "", models.EventGoalCreated, map[string]any{
			"description": description,
		})
	case err != nil:
		return nil, err
	}

	if goal.Status.IsTerminal() {
		return o.coord.FinalizeGoal(ctx, goalID)
	}

	tasks, err := o.store.GoalTasks(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		if err := o.decomposeGoal(ctx, goal, decomposer); err != nil {
			return nil, err
		}
	} else if !o.scheduler.AutoResume {
		return nil, fmt.Errorf("%w: %s", ErrGoalHasTasks, goalID)
	}

	return o.runGoal(ctx, goalID)
}

// ResumeGoal restarts scheduling for an existing goal, picking up queued and
// retryable tasks where a previous run left off.
func (o *Orchestrator) ResumeGoal(ctx context.Context, goalID string) (*models.GoalResult, error) {
	goal, err := o.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.Status.IsTerminal() {
		return o.coord.FinalizeGoal(ctx, goalID)
	}
	return o.runGoal(ctx, goalID)
}

// KillTask terminates an in_progress task. The in-flight attempt is
// cancelled and its late result dropped. Killing an already-killed task is
// a no-op; any other status is rejected.
func (o *Orchestrator) KillTask(ctx context.Context, taskID, reason string) error {
	if reason == "" {
		reason = "killed by operator"
	}
	current, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if current.Status == models.TaskStatusKilled {
		// Idempotent
		return nil
	}
	task, err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusKilled, "", reason)
	if err != nil {
		return err
	}

	o.mu.Lock()
	cancel, inFlight := o.attempts[taskID]
	o.mu.Unlock()
	if inFlight {
		cancel()
	}

	o.appendEvent(ctx, task.GoalID, taskID, models.EventTaskKilled, map[string]any{
		"reason": reason,
	})
	o.logger.Info("Task killed", "task_id", taskID, "reason", reason, "in_flight", inFlight)
	return nil
}

// MonitorTask returns the task's current state plus its live assignment, if
// an attempt is in flight.
func (o *Orchestrator) MonitorTask(ctx context.Context, taskID string) (*models.TaskSnapshot, error) {
	return o.coord.MonitorTask(ctx, taskID)
}

// ReplayHistory returns the goal's events with sequence numbers greater than
// afterSeq, in order. afterSeq 0 replays from the beginning.
func (o *Orchestrator) ReplayHistory(ctx context.Context, goalID string, afterSeq int64) ([]*models.Event, error) {
	return o.log.Replay(ctx, goalID, afterSeq)
}

// Start launches the stalled-task sweeper. The sweeper fails in_progress
// tasks whose heartbeat is older than the configured threshold, which sends
// them through normal retry accounting.
func (o *Orchestrator) Start(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	o.sweepCancel = cancel
	o.sweepDone = make(chan struct{})
	go o.sweepLoop(sweepCtx)
	o.logger.Info("Stalled-task sweeper started",
		"interval", o.scheduler.StalledSweepInterval,
		"threshold", o.scheduler.StalledThreshold)
}

// Stop halts the sweeper and waits for in-flight attempts, bounded by the
// graceful shutdown timeout.
func (o *Orchestrator) Stop() error {
	if o.sweepCancel != nil {
		o.sweepCancel()
		<-o.sweepDone
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(o.scheduler.GracefulShutdownTimeout):
		return errors.New("shutdown timed out waiting for in-flight attempts")
	}
}

// decomposeGoal turns the goal description into tasks. Spec dependencies are
// index-based and may reference later entries, so tasks are created first and
// wired afterwards.
func (o *Orchestrator) decomposeGoal(ctx context.Context, goal *models.Goal, decomposer Decomposer) error {
	specs, err := decomposer.Decompose(ctx, goal.Description, goal.GoalID)
	if err != nil {
		return fmt.Errorf("decomposing goal %s: %w", goal.GoalID, err)
	}

	ids := make([]string, len(specs))
	for i := range specs {
		ids[i] = fmt.Sprintf("%s-t%d", goal.GoalID, i+1)
	}

	for i, spec := range specs {
		for _, dep := range spec.Dependencies {
			if dep < 0 || dep >= len(specs) {
				return fmt.Errorf("%w: spec %d references index %d", store.ErrInvalidDependency, i, dep)
			}
			if dep == i {
				return fmt.Errorf("%w: spec %d depends on itself", store.ErrCyclicDependency, i)
			}
		}

		req := &models.CreateTaskRequest{
			TaskID:        ids[i],
			GoalID:        goal.GoalID,
			Description:   spec.Description,
			AssignedAgent: spec.AssignedAgent,
			Kind:          spec.Kind,
			MaxRetries:    o.scheduler.DefaultMaxRetries,
		}
		if spec.Priority != nil {
			req.Priority = *spec.Priority
		}
		if len(spec.Capabilities) > 0 {
			req.Metadata = map[string]string{
				router.MetaRequiredCapabilities: strings.Join(spec.Capabilities, ","),
			}
		}
		task, err := o.store.CreateTask(ctx, req)
		if err != nil {
			return fmt.Errorf("creating task %s: %w", ids[i], err)
		}
		o.appendEvent(ctx, goal.GoalID, task.TaskID, models.EventTaskCreated, map[string]any{
			"description": task.Description,
			"priority":    task.Priority,
		})
	}

	for i, spec := range specs {
		if len(spec.Dependencies) == 0 {
			continue
		}
		deps := make([]string, len(spec.Dependencies))
		for j, dep := range spec.Dependencies {
			deps[j] = ids[dep]
		}
		if _, err := o.store.UpdateTaskDependencies(ctx, ids[i], deps); err != nil {
			return fmt.Errorf("wiring dependencies of %s: %w", ids[i], err)
		}
	}

	o.logger.Info("Goal decomposed", "goal_id", goal.GoalID, "tasks", len(specs))
	return nil
}

type attemptResult struct {
	taskID  string
	outcome *coordinator.AttemptOutcome
	err     error
}

// runGoal is the scheduling loop. It keeps up to max_parallel attempts in
// flight, holds retried tasks out of dispatch until their backoff delay
// passes, blocks dependents of terminally failed tasks, and finalizes the
// goal once every task is terminal.
func (o *Orchestrator) runGoal(ctx context.Context, goalID string) (*models.GoalResult, error) {
	goal, err := o.store.GetGoal(ctx, goalID)
	if err != nil {
		return nil, err
	}
	if goal.Status == models.GoalStatusPending {
		if _, err := o.store.UpdateGoalStatus(ctx, goalID, models.GoalStatusInProgress); err != nil {
			return nil, err
		}
	}

	// Buffered so a finishing attempt never blocks after the loop exits.
	results := make(chan attemptResult, o.scheduler.MaxParallel)
	running := make(map[string]struct{})
	notBefore := make(map[string]time.Time)

	// Tasks already terminal when the loop starts gate their dependents the
	// same as tasks failing during this run.
	terminal, err := o.seedTerminal(ctx, goalID)
	if err != nil {
		return nil, err
	}

	for {
		if err := o.blockUnrunnable(ctx, goalID, terminal); err != nil {
			return nil, err
		}

		ready, err := o.store.ReadyTasks(ctx, goalID)
		if err != nil {
			return nil, err
		}

		now := time.Now()
		var nextWake time.Time
		for _, task := range ready {
			if len(running) >= o.scheduler.MaxParallel {
				break
			}
			if _, inFlight := running[task.TaskID]; inFlight {
				continue
			}
			if nb, held := notBefore[task.TaskID]; held && now.Before(nb) {
				if nextWake.IsZero() || nb.Before(nextWake) {
					nextWake = nb
				}
				continue
			}
			delete(notBefore, task.TaskID)
			running[task.TaskID] = struct{}{}
			o.spawnAttempt(ctx, task, results)
		}

		if len(running) == 0 {
			// With no attempts in flight the store is quiescent, so it is
			// safe to pick up tasks settled from outside the loop.
			fresh, err := o.seedTerminal(ctx, goalID)
			if err != nil {
				return nil, err
			}
			for id := range fresh {
				terminal[id] = true
			}
			done, err := o.allTerminal(ctx, goalID)
			if err != nil {
				return nil, err
			}
			if done {
				break
			}
			wait := idleRecheck
			if !nextWake.IsZero() {
				wait = time.Until(nextWake)
				if wait < 0 {
					wait = 0
				}
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-results:
			delete(running, res.taskID)
			if res.err != nil {
				o.logger.Error("Attempt error", "task_id", res.taskID, "error", res.err)
				continue
			}
			if res.outcome == nil {
				continue
			}
			switch {
			case res.outcome.Retried:
				notBefore[res.taskID] = time.Now().Add(res.outcome.RetryDelay)
			case res.outcome.Status == models.TaskStatusFailed,
				res.outcome.Status == models.TaskStatusKilled:
				terminal[res.taskID] = true
			}
		}
	}

	return o.coord.FinalizeGoal(ctx, goalID)
}

// spawnAttempt runs one attempt in its own goroutine and registers its
// cancel func so KillTask can interrupt it.
func (o *Orchestrator) spawnAttempt(ctx context.Context, task *models.Task, results chan<- attemptResult) {
	attemptCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.attempts[task.TaskID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			o.mu.Lock()
			delete(o.attempts, task.TaskID)
			o.mu.Unlock()
			cancel()
		}()
		outcome, err := o.executeWithBreaker(attemptCtx, task)
		results <- attemptResult{taskID: task.TaskID, outcome: outcome, err: err}
	}()
}

// executeWithBreaker routes the attempt through the kind's circuit breaker.
// An open breaker defers dispatch for the reset period instead of failing
// the task; the task stays queued and keeps its retry budget.
func (o *Orchestrator) executeWithBreaker(ctx context.Context, task *models.Task) (*coordinator.AttemptOutcome, error) {
	policy := o.policies.Lookup(task.Kind)
	if policy.BreakerFailureThreshold <= 0 {
		return o.coord.ExecuteTask(ctx, task.TaskID)
	}

	cb := o.breaker(task.Kind, policy)
	v, err := cb.Execute(func() (any, error) {
		outcome, execErr := o.coord.ExecuteTask(ctx, task.TaskID)
		if execErr != nil {
			return nil, execErr
		}
		if outcome.Retried || outcome.Status == models.TaskStatusFailed {
			return outcome, errAttemptFailed
		}
		return outcome, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		o.logger.Warn("Circuit breaker open, deferring dispatch",
			"task_id", task.TaskID, "kind", task.Kind, "reset_period", policy.BreakerResetPeriod)
		return &coordinator.AttemptOutcome{
			TaskID:     task.TaskID,
			Status:     models.TaskStatusQueued,
			Retried:    true,
			RetryDelay: policy.BreakerResetPeriod,
		}, nil
	}

	outcome, _ := v.(*coordinator.AttemptOutcome)
	if errors.Is(err, errAttemptFailed) {
		return outcome, nil
	}
	return outcome, err
}

// breaker returns the kind's circuit breaker, creating it on first use.
func (o *Orchestrator) breaker(kind string, policy *config.ExecutionPolicy) *gobreaker.CircuitBreaker {
	if kind == "" {
		kind = config.DefaultPolicyKind
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[kind]; ok {
		return cb
	}
	threshold := uint32(policy.BreakerFailureThreshold)
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    kind,
		Timeout: policy.BreakerResetPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			o.logger.Warn("Circuit breaker state change",
				"kind", name, "from", from.String(), "to", to.String())
		},
	})
	o.breakers[kind] = cb
	return cb
}

// seedTerminal collects tasks already in a terminal non-completed state so a
// resumed goal blocks their dependents on the first pass.
func (o *Orchestrator) seedTerminal(ctx context.Context, goalID string) (map[string]bool, error) {
	tasks, err := o.store.GoalTasks(ctx, goalID)
	if err != nil {
		return nil, err
	}
	terminal := make(map[string]bool)
	for _, task := range tasks {
		switch task.Status {
		case models.TaskStatusFailed, models.TaskStatusKilled, models.TaskStatusBlocked:
			terminal[task.TaskID] = true
		}
	}
	return terminal, nil
}

// blockUnrunnable marks queued dependents of terminally failed tasks as
// blocked so the goal can finish instead of waiting on them forever.
func (o *Orchestrator) blockUnrunnable(ctx context.Context, goalID string, terminal map[string]bool) error {
	if len(terminal) == 0 {
		return nil
	}
	tasks, err := o.store.GoalTasks(ctx, goalID)
	if err != nil {
		return err
	}
	byID := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		byID[task.TaskID] = task
	}

	graph := depgraph.New(tasks)
	for id := range terminal {
		for _, dep := range graph.Dependents(id) {
			task, ok := byID[dep]
			if !ok || task.Status != models.TaskStatusQueued {
				continue
			}
			if _, err := o.store.UpdateTaskStatus(ctx, dep, models.TaskStatusBlocked, "", ""); err != nil {
				if errors.Is(err, store.ErrInvalidState) {
					continue
				}
				return err
			}
			task.Status = models.TaskStatusBlocked
			terminal[dep] = true
			o.appendEvent(ctx, goalID, dep, models.EventTaskBlocked, map[string]any{
				"blocked_on": id,
			})
			o.logger.Info("Task blocked by failed dependency", "task_id", dep, "dependency", id)
		}
	}
	return nil
}

func (o *Orchestrator) allTerminal(ctx context.Context, goalID string) (bool, error) {
	tasks, err := o.store.GoalTasks(ctx, goalID)
	if err != nil {
		return false, err
	}
	for _, task := range tasks {
		if !task.Status.IsTerminal() {
			return false, nil
		}
	}
	return true, nil
}

func (o *Orchestrator) sweepLoop(ctx context.Context) {
	defer close(o.sweepDone)
	ticker := time.NewTicker(o.scheduler.StalledSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweepStalled(ctx)
		}
	}
}

// sweepStalled fails in_progress tasks with no recent heartbeat. Tasks with
// an attempt in flight in this process are skipped; their own heartbeat
// goroutine keeps them fresh.
func (o *Orchestrator) sweepStalled(ctx context.Context) {
	stalled, err := o.store.StalledTasks(ctx, o.scheduler.StalledThreshold)
	if err != nil {
		o.logger.Error("Stalled sweep failed", "error", err)
		return
	}
	for _, task := range stalled {
		o.mu.Lock()
		_, inFlight := o.attempts[task.TaskID]
		o.mu.Unlock()
		if inFlight {
			continue
		}
		o.logger.Warn("Failing stalled task", "task_id", task.TaskID,
			"last_heartbeat", task.LastHeartbeatAt)
		if _, err := o.coord.HandleFailure(ctx, task.TaskID, "stalled: no heartbeat within threshold"); err != nil {
			o.logger.Error("Failed to fail stalled task", "task_id", task.TaskID, "error", err)
		}
	}
}

func (o *Orchestrator) appendEvent(ctx context.Context, goalID, taskID string, kind models.EventKind, payload map[string]any) {
	if _, err := o.log.Append(ctx, goalID, taskID, kind, payload); err != nil {
		o.logger.Error("Failed to append event", "goal_id", goalID, "kind", kind, "error", err)
	}
}
