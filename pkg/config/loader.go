package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// PlanloomYAMLConfig represents the complete planloom.yaml file structure
type PlanloomYAMLConfig struct {
	Scheduler *SchedulerConfig            `yaml:"scheduler"`
	Safety    *SafetyConfig               `yaml:"safety"`
	Policies  map[string]*ExecutionPolicy `yaml:"policies"`
	Agents    map[string]*AgentProfile    `yaml:"agents"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load planloom.yaml from configDir (optional; built-ins apply when absent)
//  2. Expand environment variables
//  3. Parse YAML into structs
//  4. Merge built-in + user-defined configurations
//  5. Build in-memory registries
//  6. Validate all configuration
//  7. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agent_profiles", stats.AgentProfiles,
		"policy_kinds", stats.PolicyKinds,
		"safety_patterns", stats.SafetyPatterns)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load planloom.yaml (scheduler, safety, policies, agents)
	userCfg, err := loader.loadPlanloomYAML()
	if err != nil {
		return nil, NewLoadError("planloom.yaml", err)
	}

	// 2. Get built-in configuration
	builtin := GetBuiltinConfig()

	// 3. Merge built-in + user-defined components (user overrides built-in)
	order, profiles := mergeAgentProfiles(builtin.AgentProfileOrder, builtin.AgentProfiles, userCfg.Agents)
	policies := mergePolicies(builtin.Policies, userCfg.Policies)
	safety := mergeSafety(builtin.Safety, userCfg.Safety)

	// 4. Resolve scheduler config (merge user YAML with built-in defaults)
	scheduler := DefaultSchedulerConfig()
	if userCfg.Scheduler != nil {
		if err := mergo.Merge(scheduler, userCfg.Scheduler, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge scheduler config: %w", err)
		}
	}

	return &Config{
		configDir: configDir,
		Scheduler: scheduler,
		Safety:    safety,
		Policies:  NewPolicyTable(policies),
		Agents:    NewAgentRegistry(order, profiles),
	}, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadPlanloomYAML reads planloom.yaml. A missing file is not an error: the
// engine runs on built-ins alone.
func (l *configLoader) loadPlanloomYAML() (*PlanloomYAMLConfig, error) {
	var config PlanloomYAMLConfig

	// Initialize maps to avoid nil maps
	config.Policies = make(map[string]*ExecutionPolicy)
	config.Agents = make(map[string]*AgentProfile)

	if err := l.loadYAML("planloom.yaml", &config); err != nil {
		if isConfigNotFound(err) {
			slog.Info("No planloom.yaml found, using built-in configuration",
				"config_dir", l.configDir)
			return &config, nil
		}
		return nil, err
	}

	return &config, nil
}
