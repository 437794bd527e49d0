package orchestrator

import (
	"context"

	"github.com/planloom/planloom/pkg/models"
)

// Decomposer breaks a goal description into subtask specs. Implementations
// are supplied by embedders; specs reference their dependencies by index
// into the returned list.
type Decomposer interface {
	Decompose(ctx context.Context, goalDescription, goalID string) ([]models.SubtaskSpec, error)
}

// DecomposeFunc adapts a function to the Decomposer interface.
type DecomposeFunc func(ctx context.Context, goalDescription, goalID string) ([]models.SubtaskSpec, error)

// Decompose calls f.
func (f DecomposeFunc) Decompose(ctx context.Context, goalDescription, goalID string) ([]models.SubtaskSpec, error) {
	return f(ctx, goalDescription, goalID)
}

// StaticDecomposer returns a fixed plan regardless of the goal description.
// Used by embedders that plan externally, and by tests.
type StaticDecomposer struct {
	Specs []models.SubtaskSpec
}

// Decompose returns the configured specs.
func (d *StaticDecomposer) Decompose(context.Context, string, string) ([]models.SubtaskSpec, error) {
	return d.Specs, nil
}
