package config

import (
	"fmt"
	"time"
)

// ExecutionPolicy controls one task kind's timeout, retry, and circuit
// breaker behavior.
type ExecutionPolicy struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the per-task retry budget for this kind. A task-level
	// value set at creation wins over the policy value.
	MaxRetries int `yaml:"max_retries"`

	// RetryDelay is the base delay before a retry.
	RetryDelay time.Duration `yaml:"retry_delay"`

	// ExponentialBackoff doubles the delay per attempt when set.
	ExponentialBackoff bool `yaml:"exponential_backoff"`

	// BreakerFailureThreshold is the number of consecutive failures that
	// trips the kind's circuit breaker. Zero disables the breaker.
	BreakerFailureThreshold int `yaml:"breaker_failure_threshold"`

	// BreakerResetPeriod is how long the breaker stays open before probing.
	BreakerResetPeriod time.Duration `yaml:"breaker_reset_period"`
}

// PolicyTable maps task kinds to execution policies. The "default" entry is
// mandatory and backs every kind without an explicit row.
type PolicyTable struct {
	policies map[string]*ExecutionPolicy
}

// DefaultPolicyKind is the fallback entry every table must contain.
const DefaultPolicyKind = "default"

// NewPolicyTable builds a table from kind → policy entries. The default
// entry is added if missing.
func NewPolicyTable(policies map[string]*ExecutionPolicy) *PolicyTable {
	if policies == nil {
		policies = make(map[string]*ExecutionPolicy)
	}
	if _, ok := policies[DefaultPolicyKind]; !ok {
		policies[DefaultPolicyKind] = DefaultExecutionPolicy()
	}
	return &PolicyTable{policies: policies}
}

// DefaultExecutionPolicy returns the built-in fallback policy.
func DefaultExecutionPolicy() *ExecutionPolicy {
	return &ExecutionPolicy{
		Timeout:                 5 * time.Minute,
		MaxRetries:              3,
		RetryDelay:              2 * time.Second,
		ExponentialBackoff:      true,
		BreakerFailureThreshold: 5,
		BreakerResetPeriod:      30 * time.Second,
	}
}

// Lookup returns the policy for a task kind, falling back to default.
func (t *PolicyTable) Lookup(kind string) *ExecutionPolicy {
	if p, ok := t.policies[kind]; ok {
		return p
	}
	return t.policies[DefaultPolicyKind]
}

// Get returns the policy for an exact kind, or ErrPolicyNotFound.
func (t *PolicyTable) Get(kind string) (*ExecutionPolicy, error) {
	p, ok := t.policies[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotFound, kind)
	}
	return p, nil
}

// Kinds returns all configured kinds.
func (t *PolicyTable) Kinds() []string {
	kinds := make([]string, 0, len(t.policies))
	for k := range t.policies {
		kinds = append(kinds, k)
	}
	return kinds
}
