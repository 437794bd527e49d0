package config

import (
	"errors"
	"sort"
)

func isConfigNotFound(err error) bool {
	return errors.Is(err, ErrConfigNotFound)
}

// mergeAgentProfiles merges built-in and user-defined agent profiles.
// User-defined profiles override built-in profiles with the same name.
// New user profiles are appended after the built-in order, sorted by name,
// so the resulting order is deterministic.
func mergeAgentProfiles(builtinOrder []string, builtinProfiles map[string]*AgentProfile, userProfiles map[string]*AgentProfile) ([]string, map[string]*AgentProfile) {
	result := make(map[string]*AgentProfile)
	order := make([]string, 0, len(builtinProfiles)+len(userProfiles))

	// First, copy built-in profiles in their fixed order
	for _, name := range builtinOrder {
		builtin, ok := builtinProfiles[name]
		if !ok {
			continue
		}
		specCopy := make([]string, len(builtin.Specialties))
		copy(specCopy, builtin.Specialties)
		capCopy := make(map[string]float64, len(builtin.Capabilities))
		for k, v := range builtin.Capabilities {
			capCopy[k] = v
		}
		result[name] = &AgentProfile{
			Description:  builtin.Description,
			Specialties:  specCopy,
			Capabilities: capCopy,
		}
		order = append(order, name)
	}

	// Then, override with user-defined profiles (or add new ones)
	added := make([]string, 0, len(userProfiles))
	for name, profile := range userProfiles {
		if _, exists := result[name]; !exists {
			added = append(added, name)
		}
		result[name] = profile
	}
	sort.Strings(added)
	order = append(order, added...)

	return order, result
}

// mergePolicies merges built-in and user-defined execution policies.
// User-defined policies override built-in policies with the same kind.
func mergePolicies(builtinPolicies map[string]*ExecutionPolicy, userPolicies map[string]*ExecutionPolicy) map[string]*ExecutionPolicy {
	result := make(map[string]*ExecutionPolicy)

	for kind, policy := range builtinPolicies {
		policyCopy := *policy
		result[kind] = &policyCopy
	}

	for kind, policy := range userPolicies {
		result[kind] = policy
	}

	return result
}

// mergeSafety merges built-in and user-defined safety configuration at the
// screener-section level: a user-provided section replaces the built-in one
// wholesale, an absent section keeps the built-in tables.
func mergeSafety(builtin *SafetyConfig, user *SafetyConfig) *SafetyConfig {
	result := *builtin
	if user == nil {
		return &result
	}

	if user.SyntheticIdentity != nil {
		result.SyntheticIdentity = user.SyntheticIdentity
	}
	if user.PromptInjection != nil {
		result.PromptInjection = user.PromptInjection
	}
	if user.DomainSensitivity != nil {
		result.DomainSensitivity = user.DomainSensitivity
	}
	if user.IPViolation != nil {
		result.IPViolation = user.IPViolation
	}
	if user.OutputPolicy != nil {
		result.OutputPolicy = user.OutputPolicy
	}
	if len(user.EscalationReviewers) > 0 {
		result.EscalationReviewers = user.EscalationReviewers
	}

	return &result
}
