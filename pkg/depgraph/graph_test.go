package depgraph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloom/planloom/pkg/models"
)

func task(id string, deps ...string) *models.Task {
	return &models.Task{TaskID: id, Dependencies: deps}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		tasks    []*models.Task
		wantErr  bool
		wantPath []string
	}{
		{
			name:  "empty graph",
			tasks: nil,
		},
		{
			name:  "linear chain",
			tasks: []*models.Task{task("a"), task("b", "a"), task("c", "b")},
		},
		{
			name:  "diamond",
			tasks: []*models.Task{task("a"), task("b", "a"), task("c", "a"), task("d", "b", "c")},
		},
		{
			name:     "two node cycle",
			tasks:    []*models.Task{task("a", "b"), task("b", "a")},
			wantErr:  true,
			wantPath: []string{"a", "b", "a"},
		},
		{
			name:     "self dependency",
			tasks:    []*models.Task{task("a", "a")},
			wantErr:  true,
			wantPath: []string{"a", "a"},
		},
		{
			name:    "cycle behind a chain",
			tasks:   []*models.Task{task("a"), task("b", "a", "d"), task("c", "b"), task("d", "c")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.tasks).Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			var cycleErr *CycleError
			require.ErrorAs(t, err, &cycleErr)
			require.NotEmpty(t, cycleErr.Path)
			// The path closes on itself
			assert.Equal(t, cycleErr.Path[0], cycleErr.Path[len(cycleErr.Path)-1])
			if tt.wantPath != nil {
				assert.Equal(t, tt.wantPath, cycleErr.Path)
			}
		})
	}
}

func TestValidate_UnknownDependency(t *testing.T) {
	err := New([]*models.Task{task("a", "ghost")}).Validate()
	var unknownErr *UnknownDependencyError
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, "a", unknownErr.TaskID)
	assert.Equal(t, "ghost", unknownErr.Dependency)
}

func TestTopologicalOrder(t *testing.T) {
	g := New([]*models.Task{
		task("t5", "t3", "t4"),
		task("t1"),
		task("t2"),
		task("t3", "t1"),
		task("t4", "t2"),
	})

	order, err := g.TopologicalOrder()
	require.NoError(t, err)
	require.Len(t, order, 5)

	pos := make(map[string]int)
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["t1"], pos["t3"])
	assert.Less(t, pos["t2"], pos["t4"])
	assert.Less(t, pos["t3"], pos["t5"])
	assert.Less(t, pos["t4"], pos["t5"])

	// Insertion order breaks ties: t1 was inserted before t2
	assert.Less(t, pos["t1"], pos["t2"])
}

func TestReady(t *testing.T) {
	g := New([]*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "a", "b"),
	})

	statuses := map[string]models.TaskStatus{
		"a": models.TaskStatusCompleted,
		"b": models.TaskStatusQueued,
		"c": models.TaskStatusQueued,
	}
	lookup := func(id string) models.TaskStatus { return statuses[id] }

	// a has no deps, b's dep is completed, c waits on b
	assert.Equal(t, []string{"a", "b"}, g.Ready(lookup))

	statuses["b"] = models.TaskStatusCompleted
	assert.Equal(t, []string{"a", "b", "c"}, g.Ready(lookup))
}

func TestDependents(t *testing.T) {
	g := New([]*models.Task{
		task("a"),
		task("b", "a"),
		task("c", "b"),
		task("d", "a"),
		task("e"),
	})

	assert.Equal(t, []string{"b", "c", "d"}, g.Dependents("a"))
	assert.Equal(t, []string{"c"}, g.Dependents("b"))
	assert.Empty(t, g.Dependents("e"))

	// Memoized result is stable
	assert.Equal(t, g.Dependents("a"), g.Dependents("a"))
}
