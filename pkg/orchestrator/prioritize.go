package orchestrator

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/planloom/planloom/pkg/depgraph"
	"github.com/planloom/planloom/pkg/models"
)

// PriorityWeights controls the dynamic ranking of a goal's pending tasks.
// The weights should sum to 1.0; each component is normalized to [0, 1].
type PriorityWeights struct {
	// Dependents weighs how many downstream tasks wait on this one.
	Dependents float64

	// Complexity weighs description length as a proxy for effort.
	Complexity float64

	// Availability weighs how loaded the task's assigned agent is.
	Availability float64

	// Age weighs how long the task has been waiting.
	Age float64
}

// DefaultPriorityWeights returns the built-in ranking weights.
func DefaultPriorityWeights() PriorityWeights {
	return PriorityWeights{
		Dependents:   0.35,
		Complexity:   0.25,
		Availability: 0.20,
		Age:          0.20,
	}
}

// complexityFullAt is the description word count at which the complexity
// component saturates.
const complexityFullAt = 40

// ageFullAt is the waiting time at which the age component saturates.
const ageFullAt = 24 * time.Hour

// RankedTask pairs a task with its computed priority score.
type RankedTask struct {
	Task  *models.Task
	Score float64
}

// PrioritizeTasks ranks the goal's non-terminal tasks by unblocking value:
// tasks with many dependents, heavier descriptions, idle agents, and longer
// waits sort first. Ties keep creation order.
func (o *Orchestrator) PrioritizeTasks(ctx context.Context, goalID string) ([]RankedTask, error) {
	tasks, err := o.store.GoalTasks(ctx, goalID)
	if err != nil {
		return nil, err
	}

	graph := depgraph.New(tasks)
	total := len(tasks)

	now := time.Now()
	ranked := make([]RankedTask, 0, total)
	for _, task := range tasks {
		if task.Status.IsTerminal() {
			continue
		}
		score := o.weights.Dependents*dependentsComponent(graph, task.TaskID, total) +
			o.weights.Complexity*complexityComponent(task.Description) +
			o.weights.Availability*o.availabilityComponent(task.AssignedAgent) +
			o.weights.Age*ageComponent(now, task.CreatedAt)
		ranked = append(ranked, RankedTask{Task: task, Score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Task.CreatedAt.Before(ranked[j].Task.CreatedAt)
	})
	return ranked, nil
}

func dependentsComponent(graph *depgraph.Graph, taskID string, total int) float64 {
	if total <= 1 {
		return 0
	}
	return float64(len(graph.Dependents(taskID))) / float64(total-1)
}

func complexityComponent(description string) float64 {
	words := len(strings.Fields(description))
	return math.Min(float64(words)/complexityFullAt, 1)
}

// availabilityComponent is 1 for an idle or unassigned agent and decays as
// the agent's workload grows.
func (o *Orchestrator) availabilityComponent(agent string) float64 {
	if agent == "" {
		return 1
	}
	return 1 / float64(1+o.router.Workload(agent))
}

func ageComponent(now time.Time, created time.Time) float64 {
	age := now.Sub(created)
	if age <= 0 {
		return 0
	}
	return math.Min(float64(age)/float64(ageFullAt), 1)
}
