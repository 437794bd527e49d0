package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	builtin := config.GetBuiltinConfig()
	registry := config.NewAgentRegistry(builtin.AgentProfileOrder, builtin.AgentProfiles)
	return New(registry, nil)
}

func TestRoutePreferredAgentShortCircuits(t *testing.T) {
	r := newTestRouter(t)

	decision, err := r.Route(Request{
		Description:    "Store results for later recall",
		PreferredAgent: "builder",
	})
	require.NoError(t, err)

	assert.Equal(t, "builder", decision.AgentType)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Equal(t, 1, r.Workload("builder"))
}

func TestRouteUnknownPreferredFallsBack(t *testing.T) {
	r := newTestRouter(t)

	decision, err := r.Route(Request{
		Description:    "research and compare three options",
		PreferredAgent: "nonexistent",
	})
	require.NoError(t, err)

	assert.Equal(t, "researcher", decision.AgentType)
	assert.NotEqual(t, 1.0, decision.Confidence)
}

func TestRouteSpecialtyKeywords(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name        string
		description string
		want        string
	}{
		{"builder", "implement the storage layer and fix the build", "builder"},
		{"researcher", "research recent papers and gather sources", "researcher"},
		{"analyst", "analyze the benchmark results and assess tradeoffs", "analyst"},
		{"writer", "write documentation and draft the announcement", "writer"},
		{"reviewer", "review the report and validate its claims", "reviewer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := r.Route(Request{Description: tt.description})
			require.NoError(t, err)
			assert.Equal(t, tt.want, decision.AgentType)
			assert.NotEmpty(t, decision.Reason)
		})
	}
}

func TestRouteTaskTypeSpecialtyBonus(t *testing.T) {
	r := newTestRouter(t)

	decision, err := r.Route(Request{
		Description: "something entirely unrelated",
		TaskType:    "research",
	})
	require.NoError(t, err)

	assert.Equal(t, "researcher", decision.AgentType)
	// 2.0 of a 5.0 maximum
	assert.InDelta(t, 0.4, decision.Confidence, 1e-9)
}

func TestRouteRequiredCapabilities(t *testing.T) {
	r := newTestRouter(t)

	decision, err := r.Route(Request{
		Description:          "no keyword overlap here",
		RequiredCapabilities: []string{"data_analysis", "statistics"},
	})
	require.NoError(t, err)

	assert.Equal(t, "analyst", decision.AgentType)
	// 0.9 + 0.8 over 5.0
	assert.InDelta(t, 0.34, decision.Confidence, 1e-9)
}

func TestRouteTieBreaksByInsertionOrder(t *testing.T) {
	r := newTestRouter(t)

	// No profile matches anything; every score is zero, so the first
	// registered profile wins.
	decision, err := r.Route(Request{Description: "zzzz qqqq"})
	require.NoError(t, err)

	assert.Equal(t, "builder", decision.AgentType)
	assert.Equal(t, 0.0, decision.Confidence)
}

func TestRouteWorkloadPenaltyShiftsChoice(t *testing.T) {
	r := newTestRouter(t)

	// Saturate builder with in-flight work; a neutral description then
	// routes elsewhere once the penalty outweighs the zero-signal tie.
	for i := 0; i < 6; i++ {
		_, err := r.Route(Request{PreferredAgent: "builder"})
		require.NoError(t, err)
	}
	require.Equal(t, 6, r.Workload("builder"))

	decision, err := r.Route(Request{Description: "zzzz qqqq"})
	require.NoError(t, err)
	assert.NotEqual(t, "builder", decision.AgentType)
	assert.Equal(t, "researcher", decision.AgentType)
}

func TestReleaseNeverGoesNegative(t *testing.T) {
	r := newTestRouter(t)

	r.Release("builder")
	assert.Equal(t, 0, r.Workload("builder"))

	_, err := r.Route(Request{PreferredAgent: "builder"})
	require.NoError(t, err)
	r.Release("builder")
	r.Release("builder")
	assert.Equal(t, 0, r.Workload("builder"))
}

func TestWorkloadsSnapshot(t *testing.T) {
	r := newTestRouter(t)

	_, err := r.Route(Request{PreferredAgent: "builder"})
	require.NoError(t, err)
	_, err = r.Route(Request{PreferredAgent: "writer"})
	require.NoError(t, err)
	r.Release("writer")

	assert.Equal(t, map[string]int{"builder": 1}, r.Workloads())
}

func TestRequestFromTask(t *testing.T) {
	task := &models.Task{
		Description: "analyze the data",
		Metadata: map[string]string{
			MetaTaskType:             "analyze",
			MetaRequiredCapabilities: "data_analysis, statistics,,",
			MetaPreferredAgent:       "analyst",
		},
	}

	req := RequestFromTask(task)
	assert.Equal(t, "analyze the data", req.Description)
	assert.Equal(t, "analyze", req.TaskType)
	assert.Equal(t, []string{"data_analysis", "statistics"}, req.RequiredCapabilities)
	assert.Equal(t, "analyst", req.PreferredAgent)

	empty := RequestFromTask(&models.Task{Description: "plain"})
	assert.Empty(t, empty.TaskType)
	assert.Nil(t, empty.RequiredCapabilities)
}
