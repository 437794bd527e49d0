package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/coordinator"
	"github.com/planloom/planloom/pkg/events"
	"github.com/planloom/planloom/pkg/models"
	"github.com/planloom/planloom/pkg/router"
	"github.com/planloom/planloom/pkg/safety"
	"github.com/planloom/planloom/pkg/store"
)

// fakeWorker scripts per-task behavior and tracks call and concurrency
// counts.
type fakeWorker struct {
	mu        sync.Mutex
	calls     map[string]int
	inFlight  int
	peak      int
	run       func(ctx context.Context, prompt, goalID, taskID string, call int) (string, error)
	perWorker time.Duration
}

func (w *fakeWorker) Run(ctx context.Context, prompt, goalID, taskID string) (string, error) {
	w.mu.Lock()
	if w.calls == nil {
		w.calls = make(map[string]int)
	}
	w.calls[taskID]++
	call := w.calls[taskID]
	w.inFlight++
	if w.inFlight > w.peak {
		w.peak = w.inFlight
	}
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.inFlight--
		w.mu.Unlock()
	}()

	if w.perWorker > 0 {
		select {
		case <-time.After(w.perWorker):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return w.run(ctx, prompt, goalID, taskID, call)
}

func (w *fakeWorker) callCount(taskID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[taskID]
}

func (w *fakeWorker) peakInFlight() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.peak
}

type fixture struct {
	store     *store.Memory
	log       *events.MemoryLog
	router    *router.Router
	coord     *coordinator.Coordinator
	orch      *Orchestrator
	worker    *fakeWorker
	scheduler *config.SchedulerConfig
}

// fastPolicies keeps retry pacing in the millisecond range so scheduling
// tests finish quickly.
func fastPolicies() *config.PolicyTable {
	return config.NewPolicyTable(map[string]*config.ExecutionPolicy{
		config.DefaultPolicyKind: {
			Timeout:            time.Minute,
			MaxRetries:         3,
			RetryDelay:         5 * time.Millisecond,
			ExponentialBackoff: true,
		},
	})
}

func newFixture(t *testing.T, worker *fakeWorker, policies *config.PolicyTable, specs []models.SubtaskSpec) *fixture {
	t.Helper()
	builtin := config.GetBuiltinConfig()
	registry := config.NewAgentRegistry(builtin.AgentProfileOrder, builtin.AgentProfiles)
	rt := router.New(registry, nil)
	st := store.NewMemory()
	log := events.NewMemoryLog(nil)
	if policies == nil {
		policies = fastPolicies()
	}
	scheduler := config.DefaultSchedulerConfig()
	scheduler.HeartbeatInterval = 0
	scheduler.DefaultMaxRetries = 1

	coord := coordinator.New(st, log, rt, safety.NewPipeline(builtin.Safety), policies, scheduler, worker, nil)
	orch := New(st, log, coord, rt, policies, scheduler, &StaticDecomposer{Specs: specs}, nil)
	return &fixture{store: st, log: log, router: rt, coord: coord, orch: orch, worker: worker, scheduler: scheduler}
}

func (f *fixture) eventKinds(t *testing.T, goalID string) []models.EventKind {
	t.Helper()
	replayed, err := f.log.Replay(context.Background(), goalID, 0)
	require.NoError(t, err)
	kinds := make([]models.EventKind, 0, len(replayed))
	for _, e := range replayed {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func countKind(kinds []models.EventKind, kind models.EventKind) int {
	n := 0
	for _, k := range kinds {
		if k == kind {
			n++
		}
	}
	return n
}

// fanOutSpecs is a diamond: one root, three parallel middles, one join.
func fanOutSpecs() []models.SubtaskSpec {
	return []models.SubtaskSpec{
		{Description: "gather the source material"},
		{Description: "summarize section one", Dependencies: []int{0}},
		{Description: "summarize section two", Dependencies: []int{0}},
		{Description: "summarize section three", Dependencies: []int{0}},
		{Description: "merge the summaries into a final report", Dependencies: []int{1, 2, 3}},
	}
}

func TestProcessGoalFanOutFanIn(t *testing.T) {
	worker := &fakeWorker{
		perWorker: 10 * time.Millisecond,
		run: func(_ context.Context, _, _, taskID string, _ int) (string, error) {
			return "done: " + taskID, nil
		},
	}
	f := newFixture(t, worker, nil, fanOutSpecs())

	result, err := f.orch.ProcessGoal(context.Background(), "g1", "produce the quarterly report")
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusCompleted, result.Status)
	require.Len(t, result.Tasks, 5)
	for _, report := range result.Tasks {
		assert.Equal(t, models.TaskStatusCompleted, report.Status)
	}

	// The join task runs only after every middle task completed.
	join, err := f.store.GetTask(context.Background(), "g1-t5")
	require.NoError(t, err)
	assert.Equal(t, "done: g1-t5", join.Result)
	for _, id := range []string{"g1-t2", "g1-t3", "g1-t4"} {
		mid, err := f.store.GetTask(context.Background(), id)
		require.NoError(t, err)
		require.NotNil(t, mid.CompletedAt)
		require.NotNil(t, join.StartedAt)
		assert.False(t, join.StartedAt.Before(*mid.CompletedAt))
	}

	assert.LessOrEqual(t, worker.peakInFlight(), f.scheduler.MaxParallel)

	kinds := f.eventKinds(t, "g1")
	assert.Equal(t, 1, countKind(kinds, models.EventGoalCreated))
	assert.Equal(t, 5, countKind(kinds, models.EventTaskCreated))
	assert.Equal(t, 5, countKind(kinds, models.EventTaskCompleted))
	assert.Equal(t, 1, countKind(kinds, models.EventGoalCompleted))
}

func TestProcessGoalRetryThenSuccess(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, taskID string, call int) (string, error) {
		if taskID == "g1-t1" && call == 1 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}}
	f := newFixture(t, worker, nil, []models.SubtaskSpec{
		{Description: "flaky step"},
	})

	start := time.Now()
	result, err := f.orch.ProcessGoal(context.Background(), "g1", "flaky goal")
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusCompleted, result.Status)
	assert.Equal(t, 1, result.TotalRetries)
	// The second attempt waits out the retry delay.
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
	assert.Equal(t, 2, worker.callCount("g1-t1"))

	kinds := f.eventKinds(t, "g1")
	assert.Equal(t, 1, countKind(kinds, models.EventTaskRetry))
	assert.Equal(t, 0, countKind(kinds, models.EventTaskFailed))
}

func TestProcessGoalBlocksDependentsOfFailedTask(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, taskID string, _ int) (string, error) {
		if taskID == "g1-t1" {
			return "", errors.New("unrecoverable")
		}
		return "ok", nil
	}}
	f := newFixture(t, worker, nil, []models.SubtaskSpec{
		{Description: "doomed root"},
		{Description: "dependent step", Dependencies: []int{0}},
		{Description: "independent step"},
	})
	f.scheduler.DefaultMaxRetries = 0

	result, err := f.orch.ProcessGoal(context.Background(), "g1", "partially doomed goal")
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusFailed, result.Status)

	statuses := make(map[string]models.TaskStatus)
	for _, report := range result.Tasks {
		statuses[report.TaskID] = report.Status
	}
	assert.Equal(t, models.TaskStatusFailed, statuses["g1-t1"])
	assert.Equal(t, models.TaskStatusBlocked, statuses["g1-t2"])
	assert.Equal(t, models.TaskStatusCompleted, statuses["g1-t3"])

	assert.Equal(t, 0, worker.callCount("g1-t2"))
	kinds := f.eventKinds(t, "g1")
	assert.Equal(t, 1, countKind(kinds, models.EventTaskBlocked))
	assert.Equal(t, 1, countKind(kinds, models.EventGoalFailed))
}

func TestKillTaskDuringExecution(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	worker := &fakeWorker{run: func(ctx context.Context, _, _, _ string, _ int) (string, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return "", ctx.Err()
	}}
	f := newFixture(t, worker, nil, []models.SubtaskSpec{
		{Description: "long running analysis"},
	})

	done := make(chan *models.GoalResult, 1)
	go func() {
		result, err := f.orch.ProcessGoal(context.Background(), "g1", "kill me")
		require.NoError(t, err)
		done <- result
	}()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started")
	}
	require.NoError(t, f.orch.KillTask(context.Background(), "g1-t1", "operator abort"))

	result := <-done
	assert.Equal(t, models.GoalStatusFailed, result.Status)

	task, err := f.store.GetTask(context.Background(), "g1-t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusKilled, task.Status)
	assert.Empty(t, task.Result)
	assert.Equal(t, "operator abort", task.Error)

	kinds := f.eventKinds(t, "g1")
	assert.Equal(t, 1, countKind(kinds, models.EventTaskKilled))
	assert.Equal(t, 0, countKind(kinds, models.EventTaskCompleted))
}

func TestKillTaskRejectsCompleted(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		return "ok", nil
	}}
	f := newFixture(t, worker, nil, []models.SubtaskSpec{
		{Description: "quick step"},
	})

	_, err := f.orch.ProcessGoal(context.Background(), "g1", "quick goal")
	require.NoError(t, err)

	err = f.orch.KillTask(context.Background(), "g1-t1", "too late")
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestKillTaskRejectsQueued(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		return "ok", nil
	}}
	f := newFixture(t, worker, nil, nil)

	_, err := f.store.CreateGoal(context.Background(), "g1", "idle goal")
	require.NoError(t, err)
	_, err = f.store.CreateTask(context.Background(), &models.CreateTaskRequest{
		TaskID: "t1", GoalID: "g1", Description: "waiting step", MaxRetries: 1,
	})
	require.NoError(t, err)

	err = f.orch.KillTask(context.Background(), "t1", "not started yet")
	assert.ErrorIs(t, err, store.ErrInvalidState)

	task, err := f.store.GetTask(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Equal(t, 0, countKind(f.eventKinds(t, "g1"), models.EventTaskKilled))
}

func TestProcessGoalEmptyPlanCompletes(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		t.Fatal("worker must not run for an empty plan")
		return "", nil
	}}
	f := newFixture(t, worker, nil, nil)

	result, err := f.orch.ProcessGoal(context.Background(), "g1", "nothing to do")
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusCompleted, result.Status)
	assert.Empty(t, result.Tasks)

	kinds := f.eventKinds(t, "g1")
	assert.Equal(t, 0, countKind(kinds, models.EventTaskCreated))
	assert.Equal(t, 1, countKind(kinds, models.EventGoalCompleted))
}

func TestKillTaskUnknownTask(t *testing.T) {
	f := newFixture(t, &fakeWorker{}, nil, nil)
	err := f.orch.KillTask(context.Background(), "nope", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessGoalAutoResumeDisabled(t *testing.T) {
	f := newFixture(t, &fakeWorker{}, nil, nil)
	f.scheduler.AutoResume = false

	ctx := context.Background()
	_, err := f.store.CreateGoal(ctx, "g1", "pre-existing goal")
	require.NoError(t, err)
	_, err = f.store.CreateTask(ctx, &models.CreateTaskRequest{TaskID: "t1", GoalID: "g1", Description: "leftover"})
	require.NoError(t, err)

	_, err = f.orch.ProcessGoal(ctx, "g1", "pre-existing goal")
	assert.ErrorIs(t, err, ErrGoalHasTasks)
}

func TestResumeGoalFinishesRemainingTasks(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		return "resumed result", nil
	}}
	f := newFixture(t, worker, nil, nil)

	ctx := context.Background()
	_, err := f.store.CreateGoal(ctx, "g1", "interrupted goal")
	require.NoError(t, err)
	_, err = f.store.CreateTask(ctx, &models.CreateTaskRequest{TaskID: "t1", GoalID: "g1", Description: "already done"})
	require.NoError(t, err)
	_, err = f.store.UpdateTaskStatus(ctx, "t1", models.TaskStatusInProgress, "", "")
	require.NoError(t, err)
	_, err = f.store.UpdateTaskStatus(ctx, "t1", models.TaskStatusCompleted, "earlier result", "")
	require.NoError(t, err)
	_, err = f.store.CreateTask(ctx, &models.CreateTaskRequest{TaskID: "t2", GoalID: "g1", Description: "still pending"})
	require.NoError(t, err)

	result, err := f.orch.ResumeGoal(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, models.GoalStatusCompleted, result.Status)
	assert.Equal(t, 1, worker.callCount("t2"))

	task, err := f.store.GetTask(ctx, "t2")
	require.NoError(t, err)
	assert.Equal(t, "resumed result", task.Result)
}

func TestProcessGoalIdempotentAfterCompletion(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		return "ok", nil
	}}
	f := newFixture(t, worker, nil, []models.SubtaskSpec{
		{Description: "single step"},
	})

	first, err := f.orch.ProcessGoal(context.Background(), "g1", "one shot goal")
	require.NoError(t, err)
	again, err := f.orch.ProcessGoal(context.Background(), "g1", "one shot goal")
	require.NoError(t, err)

	assert.Equal(t, first.Status, again.Status)
	assert.Equal(t, 1, worker.callCount("g1-t1"))
	assert.Equal(t, 1, countKind(f.eventKinds(t, "g1"), models.EventGoalCompleted))
}

func TestCircuitBreakerDefersDispatch(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		return "", errors.New("downstream outage")
	}}
	policies := config.NewPolicyTable(map[string]*config.ExecutionPolicy{
		"brittle": {
			Timeout:                 time.Minute,
			MaxRetries:              5,
			RetryDelay:              time.Millisecond,
			BreakerFailureThreshold: 2,
			BreakerResetPeriod:      200 * time.Millisecond,
		},
	})
	f := newFixture(t, worker, policies, nil)

	ctx := context.Background()
	_, err := f.store.CreateGoal(ctx, "g1", "breaker goal")
	require.NoError(t, err)
	_, err = f.store.CreateTask(ctx, &models.CreateTaskRequest{
		TaskID: "t1", GoalID: "g1", Description: "calls a flaky dependency",
		Kind: "brittle", MaxRetries: 5,
	})
	require.NoError(t, err)

	task, err := f.store.GetTask(ctx, "t1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		outcome, err := f.orch.executeWithBreaker(ctx, task)
		require.NoError(t, err)
		assert.True(t, outcome.Retried)
	}
	require.Equal(t, 2, worker.callCount("t1"))

	// Breaker is open now: the dispatch is deferred, not failed, and the
	// worker is not invoked.
	outcome, err := f.orch.executeWithBreaker(ctx, task)
	require.NoError(t, err)
	assert.True(t, outcome.Retried)
	assert.Equal(t, models.TaskStatusQueued, outcome.Status)
	assert.Equal(t, 200*time.Millisecond, outcome.RetryDelay)
	assert.Equal(t, 2, worker.callCount("t1"))

	task, err = f.store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, task.Status)
	assert.Equal(t, 2, task.RetryCount)
}

func TestPrioritizeTasks(t *testing.T) {
	f := newFixture(t, &fakeWorker{}, nil, nil)

	ctx := context.Background()
	_, err := f.store.CreateGoal(ctx, "g1", "ranking goal")
	require.NoError(t, err)
	mk := func(id, desc string, deps ...string) {
		_, err := f.store.CreateTask(ctx, &models.CreateTaskRequest{
			TaskID: id, GoalID: "g1", Description: desc, Dependencies: deps,
		})
		require.NoError(t, err)
	}
	mk("root", "unblock everything")
	mk("left", "analyze the left branch of the collected data", "root")
	mk("right", "analyze the right branch", "root")
	mk("leaf", "final touch", "left")
	mk("solo", "independent chore")
	_, err = f.store.UpdateTaskStatus(ctx, "solo", models.TaskStatusInProgress, "", "")
	require.NoError(t, err)
	_, err = f.store.UpdateTaskStatus(ctx, "solo", models.TaskStatusCompleted, "done", "")
	require.NoError(t, err)

	ranked, err := f.orch.PrioritizeTasks(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, ranked, 4)

	// The root unblocks three tasks and ranks first; completed tasks are
	// excluded.
	assert.Equal(t, "root", ranked[0].Task.TaskID)
	for i := 1; i < len(ranked); i++ {
		assert.LessOrEqual(t, ranked[i].Score, ranked[i-1].Score)
		assert.NotEqual(t, "solo", ranked[i].Task.TaskID)
	}
}

func TestReplayHistory(t *testing.T) {
	worker := &fakeWorker{run: func(_ context.Context, _, _, _ string, _ int) (string, error) {
		return "ok", nil
	}}
	f := newFixture(t, worker, nil, []models.SubtaskSpec{
		{Description: "only step"},
	})

	_, err := f.orch.ProcessGoal(context.Background(), "g1", "history goal")
	require.NoError(t, err)

	all, err := f.orch.ReplayHistory(context.Background(), "g1", 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, models.EventGoalCreated, all[0].Kind)
	assert.Equal(t, models.EventGoalCompleted, all[len(all)-1].Kind)

	checkpoint := all[1].Seq
	tail, err := f.orch.ReplayHistory(context.Background(), "g1", checkpoint)
	require.NoError(t, err)
	require.Len(t, tail, len(all)-2)
	for _, e := range tail {
		assert.Greater(t, e.Seq, checkpoint)
	}
}

func TestSweepStalledFailsSilentTask(t *testing.T) {
	f := newFixture(t, &fakeWorker{}, nil, nil)
	f.scheduler.StalledThreshold = time.Millisecond

	ctx := context.Background()
	_, err := f.store.CreateGoal(ctx, "g1", "stalled goal")
	require.NoError(t, err)
	_, err = f.store.CreateTask(ctx, &models.CreateTaskRequest{
		TaskID: "t1", GoalID: "g1", Description: "silent worker", MaxRetries: 0,
	})
	require.NoError(t, err)
	_, err = f.store.UpdateTaskStatus(ctx, "t1", models.TaskStatusInProgress, "", "")
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	f.orch.sweepStalled(ctx)

	task, err := f.store.GetTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusFailed, task.Status)
	assert.Contains(t, task.Error, "stalled")
}

func TestStopWaitsForSweeper(t *testing.T) {
	f := newFixture(t, &fakeWorker{}, nil, nil)
	f.scheduler.StalledSweepInterval = 10 * time.Millisecond
	f.scheduler.GracefulShutdownTimeout = time.Second

	f.orch.Start(context.Background())
	time.Sleep(25 * time.Millisecond)
	require.NoError(t, f.orch.Stop())
}

func TestDecomposeRejectsBadIndices(t *testing.T) {
	f := newFixture(t, &fakeWorker{}, nil, []models.SubtaskSpec{
		{Description: "broken", Dependencies: []int{5}},
	})
	_, err := f.orch.ProcessGoal(context.Background(), "g1", "bad plan")
	assert.ErrorIs(t, err, store.ErrInvalidDependency)

	f = newFixture(t, &fakeWorker{}, nil, []models.SubtaskSpec{
		{Description: "self dependent", Dependencies: []int{0}},
	})
	_, err = f.orch.ProcessGoal(context.Background(), "g2", "self plan")
	assert.ErrorIs(t, err, store.ErrCyclicDependency)
}
