// Package config loads, merges, and validates engine configuration.
//
// Configuration comes from three layers: built-in defaults, an optional
// planloom.yaml in the config directory, and environment variables expanded
// inside the YAML. User values override built-ins; unset fields keep their
// defaults.
package config

import "time"

// Config is the fully resolved engine configuration.
type Config struct {
	configDir string

	Scheduler *SchedulerConfig
	Safety    *SafetyConfig
	Policies  *PolicyTable
	Agents    *AgentRegistry
}

// ConfigDir returns the directory configuration was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// Stats summarizes loaded configuration for startup logging.
type Stats struct {
	AgentProfiles  int
	PolicyKinds    int
	SafetyPatterns int
}

// Stats returns configuration counts for startup logging.
func (c *Config) Stats() Stats {
	return Stats{
		AgentProfiles:  len(c.Agents.GetAll()),
		PolicyKinds:    len(c.Policies.Kinds()),
		SafetyPatterns: c.Safety.PatternCount(),
	}
}

// SchedulerConfig contains orchestrator and coordinator settings.
type SchedulerConfig struct {
	// MaxParallel caps in-flight task attempts per goal.
	MaxParallel int `yaml:"max_parallel"`

	// DefaultMaxRetries applies to tasks created without an explicit limit.
	DefaultMaxRetries int `yaml:"default_max_retries"`

	// EscalationPriorityThreshold is the minimum priority at which a
	// terminally failed task raises an escalation event.
	EscalationPriorityThreshold int `yaml:"escalation_priority_threshold"`

	// StalledThreshold is how long an in_progress task can go without a
	// heartbeat before the sweeper fails it.
	StalledThreshold time.Duration `yaml:"stalled_threshold"`

	// StalledSweepInterval is how often the sweeper scans for stalled tasks.
	StalledSweepInterval time.Duration `yaml:"stalled_sweep_interval"`

	// HeartbeatInterval is how often running attempts record a heartbeat.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// GracefulShutdownTimeout bounds how long Stop waits for in-flight
	// attempts to finish.
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`

	// AutoResume makes ProcessGoal continue scheduling an existing goal with
	// tasks instead of re-decomposing it.
	AutoResume bool `yaml:"auto_resume"`
}

// DefaultSchedulerConfig returns the built-in scheduler defaults.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		MaxParallel:                 3,
		DefaultMaxRetries:           3,
		EscalationPriorityThreshold: 4,
		StalledThreshold:            24 * time.Hour,
		StalledSweepInterval:        5 * time.Minute,
		HeartbeatInterval:           30 * time.Second,
		GracefulShutdownTimeout:     5 * time.Minute,
		AutoResume:                  true,
	}
}
