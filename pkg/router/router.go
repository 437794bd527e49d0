// Package router scores worker-agent profiles against tasks and owns the
// per-agent in-flight workload counters.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

// Task metadata keys carrying routing hints.
const (
	MetaTaskType             = "task_type"
	MetaRequiredCapabilities = "required_capabilities"
	MetaPreferredAgent       = "preferred_agent"
)

// Scoring weights. Confidence is the raw score over maxScore, clamped.
const (
	specialtyTypeWeight    = 2.0
	specialtyKeywordWeight = 1.0
	capabilityKeyword      = 0.5
	workloadPenaltyStep    = 0.1
	workloadPenaltyCap     = 0.5
	maxScore               = 5.0
)

// Request carries the routing inputs extracted from a task.
type Request struct {
	Description          string
	TaskType             string
	RequiredCapabilities []string
	PreferredAgent       string
}

// RequestFromTask builds a routing request from a task's description and
// metadata hints.
func RequestFromTask(task *models.Task) Request {
	req := Request{
		Description:    task.Description,
		TaskType:       task.Metadata[MetaTaskType],
		PreferredAgent: task.Metadata[MetaPreferredAgent],
	}
	if raw, ok := task.Metadata[MetaRequiredCapabilities]; ok {
		for _, capability := range strings.Split(raw, ",") {
			capability = strings.TrimSpace(capability)
			if capability != "" {
				req.RequiredCapabilities = append(req.RequiredCapabilities, capability)
			}
		}
	}
	return req
}

// Decision is the routing outcome for one task.
type Decision struct {
	AgentType  string   `json:"agent_type"`
	Confidence float64  `json:"confidence"`
	Reason     []string `json:"reason"`
}

// Router selects an agent type for each task. It owns the workload counters;
// only Route increments them and only Release decrements them.
type Router struct {
	registry *config.AgentRegistry
	logger   *slog.Logger

	mu       sync.Mutex
	workload map[string]int
}

// New creates a router over the given agent registry.
func New(registry *config.AgentRegistry, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: registry,
		logger:   logger.With("component", "router"),
		workload: make(map[string]int),
	}
}

// Route picks the best agent type for the request and increments its
// workload. A preferred agent naming a known profile short-circuits scoring.
func (r *Router) Route(req Request) (*Decision, error) {
	if req.PreferredAgent != "" {
		if r.registry.Has(req.PreferredAgent) {
			r.acquire(req.PreferredAgent)
			return &Decision{
				AgentType:  req.PreferredAgent,
				Confidence: 1.0,
				Reason:     []string{fmt.Sprintf("preferred agent '%s'", req.PreferredAgent)},
			}, nil
		}
		r.logger.Warn("Preferred agent unknown, falling back to scoring",
			"preferred_agent", req.PreferredAgent)
	}

	names := r.registry.Names()
	if len(names) == 0 {
		return nil, fmt.Errorf("no agent profiles registered")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	best := ""
	bestScore := 0.0
	var bestReason []string
	for _, name := range names {
		profile, _ := r.registry.Get(name)
		score, reason := r.score(req, name, profile)
		// Strictly greater keeps the earliest profile on ties
		if best == "" || score > bestScore {
			best, bestScore, bestReason = name, score, reason
		}
	}

	r.workload[best]++
	confidence := bestScore / maxScore
	if confidence > 1.0 {
		confidence = 1.0
	}
	if confidence < 0 {
		confidence = 0
	}

	r.logger.Debug("Task routed",
		"agent_type", best,
		"score", bestScore,
		"confidence", confidence,
		"workload", r.workload[best])
	return &Decision{AgentType: best, Confidence: confidence, Reason: bestReason}, nil
}

// score computes one profile's fit. Caller holds r.mu.
func (r *Router) score(req Request, name string, profile *config.AgentProfile) (float64, []string) {
	score := 0.0
	var reason []string
	description := strings.ToLower(req.Description)

	if req.TaskType != "" {
		for _, specialty := range profile.Specialties {
			if strings.EqualFold(req.TaskType, specialty) {
				score += specialtyTypeWeight
				reason = append(reason, fmt.Sprintf("task type '%s' is a specialty", req.TaskType))
				break
			}
		}
	}

	for _, capability := range req.RequiredCapabilities {
		if confidence, ok := profile.Capabilities[capability]; ok {
			score += confidence
			reason = append(reason, fmt.Sprintf("capability '%s' at %.2f", capability, confidence))
		}
	}

	for _, specialty := range profile.Specialties {
		if strings.Contains(description, strings.ToLower(specialty)) {
			score += specialtyKeywordWeight
			reason = append(reason, fmt.Sprintf("specialty '%s' in description", specialty))
		}
	}

	// Capability names iterate in sorted order so reasons are stable
	capabilities := make([]string, 0, len(profile.Capabilities))
	for capability := range profile.Capabilities {
		capabilities = append(capabilities, capability)
	}
	sort.Strings(capabilities)
	for _, capability := range capabilities {
		if strings.Contains(description, strings.ToLower(capability)) {
			score += capabilityKeyword
			reason = append(reason, fmt.Sprintf("capability keyword '%s' in description", capability))
		}
	}

	penalty := float64(r.workload[name]) * workloadPenaltyStep
	if penalty > workloadPenaltyCap {
		penalty = workloadPenaltyCap
	}
	if penalty > 0 {
		score -= penalty
		reason = append(reason, fmt.Sprintf("workload penalty %.2f", penalty))
	}

	if len(reason) == 0 {
		reason = append(reason, "no signal, base score")
	}
	return score, reason
}

func (r *Router) acquire(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workload[agent]++
}

// Release decrements an agent's workload when its task reaches a terminal
// status. Counters never go negative.
func (r *Router) Release(agent string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.workload[agent] > 0 {
		r.workload[agent]--
	}
}

// Workload returns the in-flight task count for an agent type.
func (r *Router) Workload(agent string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workload[agent]
}

// Workloads returns a copy of all non-zero workload counters.
func (r *Router) Workloads() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.workload))
	for agent, n := range r.workload {
		if n > 0 {
			out[agent] = n
		}
	}
	return out
}
