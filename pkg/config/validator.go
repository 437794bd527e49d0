package config

import (
	"fmt"
	"regexp"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler validation failed: %w", err)
	}

	if err := v.validateAgents(); err != nil {
		return fmt.Errorf("agent profile validation failed: %w", err)
	}

	if err := v.validatePolicies(); err != nil {
		return fmt.Errorf("policy validation failed: %w", err)
	}

	if err := v.validateSafety(); err != nil {
		return fmt.Errorf("safety validation failed: %w", err)
	}

	return nil
}

func (v *ConfigValidator) validateScheduler() error {
	s := v.cfg.Scheduler

	if s.MaxParallel < 1 {
		return NewValidationError("scheduler", "scheduler", "max_parallel", fmt.Errorf("must be at least 1"))
	}
	if s.DefaultMaxRetries < 0 {
		return NewValidationError("scheduler", "scheduler", "default_max_retries", fmt.Errorf("must not be negative"))
	}
	if s.EscalationPriorityThreshold < 1 || s.EscalationPriorityThreshold > 5 {
		return NewValidationError("scheduler", "scheduler", "escalation_priority_threshold", fmt.Errorf("must be between 1 and 5"))
	}
	if s.StalledThreshold <= 0 {
		return NewValidationError("scheduler", "scheduler", "stalled_threshold", fmt.Errorf("must be positive"))
	}
	if s.StalledSweepInterval <= 0 {
		return NewValidationError("scheduler", "scheduler", "stalled_sweep_interval", fmt.Errorf("must be positive"))
	}
	if s.HeartbeatInterval <= 0 {
		return NewValidationError("scheduler", "scheduler", "heartbeat_interval", fmt.Errorf("must be positive"))
	}

	return nil
}

func (v *ConfigValidator) validateAgents() error {
	if len(v.cfg.Agents.GetAll()) == 0 {
		return NewValidationError("agent", "registry", "", fmt.Errorf("at least one agent profile required"))
	}

	for name, profile := range v.cfg.Agents.GetAll() {
		if len(profile.Specialties) == 0 && len(profile.Capabilities) == 0 {
			return NewValidationError("agent", name, "", fmt.Errorf("profile needs specialties or capabilities"))
		}

		for capability, confidence := range profile.Capabilities {
			if confidence < 0 || confidence > 1 {
				return NewValidationError("agent", name, "capabilities",
					fmt.Errorf("capability '%s' confidence %.2f outside [0, 1]", capability, confidence))
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validatePolicies() error {
	if _, err := v.cfg.Policies.Get(DefaultPolicyKind); err != nil {
		return NewValidationError("policy", DefaultPolicyKind, "", fmt.Errorf("default policy required"))
	}

	for _, kind := range v.cfg.Policies.Kinds() {
		policy, err := v.cfg.Policies.Get(kind)
		if err != nil {
			return err
		}

		if policy.Timeout <= 0 {
			return NewValidationError("policy", kind, "timeout", fmt.Errorf("must be positive"))
		}
		if policy.MaxRetries < 0 {
			return NewValidationError("policy", kind, "max_retries", fmt.Errorf("must not be negative"))
		}
		if policy.RetryDelay < 0 {
			return NewValidationError("policy", kind, "retry_delay", fmt.Errorf("must not be negative"))
		}
		if policy.BreakerFailureThreshold < 0 {
			return NewValidationError("policy", kind, "breaker_failure_threshold", fmt.Errorf("must not be negative"))
		}
		if policy.BreakerFailureThreshold > 0 && policy.BreakerResetPeriod <= 0 {
			return NewValidationError("policy", kind, "breaker_reset_period", fmt.Errorf("must be positive when breaker is enabled"))
		}
	}

	return nil
}

// validateSafety compiles every configured pattern so bad regexes fail at
// startup instead of at screening time.
func (v *ConfigValidator) validateSafety() error {
	s := v.cfg.Safety

	if s.SyntheticIdentity != nil {
		if err := v.validatePatterns("synthetic_identity", "impersonation_patterns", s.SyntheticIdentity.ImpersonationPatterns); err != nil {
			return err
		}
		if err := v.validatePatterns("synthetic_identity", "jailbreak_patterns", s.SyntheticIdentity.JailbreakPatterns); err != nil {
			return err
		}
	}

	if s.PromptInjection != nil {
		for field, patterns := range map[string][]SafetyPattern{
			"override_patterns":   s.PromptInjection.OverridePatterns,
			"escalation_patterns": s.PromptInjection.EscalationPatterns,
			"delimiter_patterns":  s.PromptInjection.DelimiterPatterns,
			"leak_patterns":       s.PromptInjection.LeakPatterns,
		} {
			if err := v.validatePatterns("prompt_injection", field, patterns); err != nil {
				return err
			}
		}
	}

	if s.DomainSensitivity != nil {
		for domain, terms := range s.DomainSensitivity.Domains {
			for _, term := range terms {
				if _, err := regexp.Compile(term.Pattern); err != nil {
					return NewValidationError("safety", "domain_sensitivity", domain, fmt.Errorf("invalid pattern %q: %v", term.Pattern, err))
				}
				if term.Weight < 0 || term.Weight > 1 {
					return NewValidationError("safety", "domain_sensitivity", domain, fmt.Errorf("term weight %.2f outside [0, 1]", term.Weight))
				}
			}
			if threshold, ok := s.DomainSensitivity.Thresholds[domain]; !ok {
				return NewValidationError("safety", "domain_sensitivity", domain, fmt.Errorf("%w: threshold", ErrMissingRequiredField))
			} else if threshold < 0 || threshold > 1 {
				return NewValidationError("safety", "domain_sensitivity", domain, fmt.Errorf("threshold %.2f outside [0, 1]", threshold))
			}
		}
	}

	if s.IPViolation != nil {
		if err := v.validatePatterns("ip_violation", "copyright_patterns", s.IPViolation.CopyrightPatterns); err != nil {
			return err
		}
		if err := v.validatePatterns("ip_violation", "trademark_patterns", s.IPViolation.TrademarkPatterns); err != nil {
			return err
		}
		if err := v.validatePatterns("ip_violation", "proprietary_patterns", s.IPViolation.ProprietaryPatterns); err != nil {
			return err
		}
		if s.IPViolation.BlockScore <= 0 || s.IPViolation.BlockScore > 1 {
			return NewValidationError("safety", "ip_violation", "block_score", fmt.Errorf("must be in (0, 1]"))
		}
	}

	if s.OutputPolicy != nil {
		for category, cat := range s.OutputPolicy.Categories {
			if err := v.validateScoredPatterns("output_policy", category, cat.Patterns); err != nil {
				return err
			}
			if cat.BlockThreshold < cat.WarnThreshold {
				return NewValidationError("safety", "output_policy", category, fmt.Errorf("block_threshold below warn_threshold"))
			}
		}
		for language, patterns := range s.OutputPolicy.CodePatterns {
			if err := v.validateScoredPatterns("output_policy", "code:"+language, patterns); err != nil {
				return err
			}
		}
	}

	return nil
}

func (v *ConfigValidator) validatePatterns(component, field string, patterns []SafetyPattern) error {
	for _, p := range patterns {
		if p.Name == "" {
			return NewValidationError("safety", component, field, fmt.Errorf("%w: pattern name", ErrMissingRequiredField))
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return NewValidationError("safety", component, field, fmt.Errorf("invalid pattern %q: %v", p.Name, err))
		}
	}
	return nil
}

func (v *ConfigValidator) validateScoredPatterns(component, field string, patterns []ScoredPattern) error {
	for _, p := range patterns {
		if p.Name == "" {
			return NewValidationError("safety", component, field, fmt.Errorf("%w: pattern name", ErrMissingRequiredField))
		}
		if _, err := regexp.Compile(p.Pattern); err != nil {
			return NewValidationError("safety", component, field, fmt.Errorf("invalid pattern %q: %v", p.Name, err))
		}
		if p.Risk < 0 || p.Risk > 1 {
			return NewValidationError("safety", component, field, fmt.Errorf("pattern %q risk %.2f outside [0, 1]", p.Name, p.Risk))
		}
	}
	return nil
}
