package coordinator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/planloom/planloom/pkg/models"
)

// Sentinel errors for attempt outcomes.
var (
	// ErrSafetyBlocked marks a task failed by the safety pipeline.
	ErrSafetyBlocked = errors.New("blocked by safety pipeline")

	// ErrAttemptTimeout marks an attempt that exceeded its policy deadline.
	ErrAttemptTimeout = errors.New("attempt timed out")

	// ErrGoalNotTerminal is returned by FinalizeGoal while tasks still run.
	ErrGoalNotTerminal = errors.New("goal has non-terminal tasks")
)

// SafetyBlockError carries the blocking verdict. Its message is the task's
// recorded failure reason, prefixed so callers can classify it.
type SafetyBlockError struct {
	Verdict *models.SafetyVerdict
}

func (e *SafetyBlockError) Error() string {
	var labels []string
	seen := make(map[string]bool)
	for _, f := range e.Verdict.Findings {
		if !seen[string(f.Kind)] {
			seen[string(f.Kind)] = true
			labels = append(labels, string(f.Kind))
		}
	}
	for _, tag := range e.Verdict.Tags() {
		if !seen[tag] {
			seen[tag] = true
			labels = append(labels, tag)
		}
	}
	return "safety_block:" + strings.Join(labels, ",")
}

func (e *SafetyBlockError) Unwrap() error {
	return ErrSafetyBlocked
}

// WorkerError wraps a failure reported by the worker agent.
type WorkerError struct {
	Reason string
	Err    error
}

func (e *WorkerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker failed: %s: %v", e.Reason, e.Err)
	}
	return "worker failed: " + e.Reason
}

func (e *WorkerError) Unwrap() error {
	return e.Err
}
