package config

// SafetyPattern is one regex rule in a screener table. Patterns are compiled
// once at screener construction; invalid patterns are logged and skipped.
type SafetyPattern struct {
	Name     string   `yaml:"name"`
	Pattern  string   `yaml:"pattern"`
	Severity string   `yaml:"severity,omitempty"` // low | medium | high
	Tags     []string `yaml:"tags,omitempty"`
}

// ScoredPattern is a regex rule carrying a 0.0–1.0 risk weight.
type ScoredPattern struct {
	Name    string   `yaml:"name"`
	Pattern string   `yaml:"pattern"`
	Risk    float64  `yaml:"risk"`
	Tags    []string `yaml:"tags,omitempty"`
}

// SyntheticIdentityConfig configures the impersonation/jailbreak screener.
type SyntheticIdentityConfig struct {
	// ImpersonationPatterns match "pretend you are X" shapes. Each pattern
	// must expose the target entity as its first capture group.
	ImpersonationPatterns []SafetyPattern `yaml:"impersonation_patterns"`

	// JailbreakPatterns are always graded high.
	JailbreakPatterns []SafetyPattern `yaml:"jailbreak_patterns"`

	// HighRiskEntities raise impersonation severity to high when the
	// captured target matches one (substring, case-insensitive).
	HighRiskEntities []string `yaml:"high_risk_entities"`
}

// PromptInjectionConfig configures the injection screener.
type PromptInjectionConfig struct {
	OverridePatterns   []SafetyPattern `yaml:"override_patterns"`   // high → halt
	EscalationPatterns []SafetyPattern `yaml:"escalation_patterns"` // high → halt
	DelimiterPatterns  []SafetyPattern `yaml:"delimiter_patterns"`  // medium
	LeakPatterns       []SafetyPattern `yaml:"leak_patterns"`       // medium
}

// DomainTerm is one weighted term of a sensitive domain vocabulary.
type DomainTerm struct {
	Pattern string  `yaml:"pattern"`
	Weight  float64 `yaml:"weight"`
}

// DomainSensitivityConfig configures the domain screener. A domain is
// flagged when the maximum matched term weight reaches its threshold.
type DomainSensitivityConfig struct {
	Domains    map[string][]DomainTerm `yaml:"domains"`
	Thresholds map[string]float64      `yaml:"thresholds"`

	// Reviewers maps a flagged domain to the reviewer tags a rerun requires.
	Reviewers map[string][]string `yaml:"reviewers"`
}

// IPViolationConfig configures the intellectual-property screener.
type IPViolationConfig struct {
	CopyrightPatterns   []SafetyPattern `yaml:"copyright_patterns"`
	TrademarkPatterns   []SafetyPattern `yaml:"trademark_patterns"`
	ProprietaryPatterns []SafetyPattern `yaml:"proprietary_patterns"`

	// HighRiskEntities is a catalog of well-known brands/works whose
	// co-occurrence with a matched pattern raises the score.
	HighRiskEntities []string `yaml:"high_risk_entities"`

	// BlockScore is the combined score at which the pipeline blocks.
	BlockScore float64 `yaml:"block_score"`
}

// OutputCategoryConfig is one output policy category with its thresholds.
type OutputCategoryConfig struct {
	Patterns       []ScoredPattern `yaml:"patterns"`
	WarnThreshold  float64         `yaml:"warn_threshold"`
	BlockThreshold float64         `yaml:"block_threshold"`
}

// OutputPolicyConfig configures the output screener. CodePatterns holds
// language-specific code-safety rules keyed by language marker.
type OutputPolicyConfig struct {
	Categories   map[string]OutputCategoryConfig `yaml:"categories"`
	CodePatterns map[string][]ScoredPattern      `yaml:"code_patterns"`
}

// SafetyConfig aggregates all screener tables and pipeline policy.
type SafetyConfig struct {
	SyntheticIdentity *SyntheticIdentityConfig `yaml:"synthetic_identity"`
	PromptInjection   *PromptInjectionConfig   `yaml:"prompt_injection"`
	DomainSensitivity *DomainSensitivityConfig `yaml:"domain_sensitivity"`
	IPViolation       *IPViolationConfig       `yaml:"ip_violation"`
	OutputPolicy      *OutputPolicyConfig      `yaml:"output_policy"`

	// EscalationReviewers maps a blocking finding kind to reviewer tags for
	// the rerun directive.
	EscalationReviewers map[string][]string `yaml:"escalation_reviewers"`
}

// PatternCount returns the total number of configured patterns, for startup
// logging.
func (c *SafetyConfig) PatternCount() int {
	n := 0
	if c.SyntheticIdentity != nil {
		n += len(c.SyntheticIdentity.ImpersonationPatterns) + len(c.SyntheticIdentity.JailbreakPatterns)
	}
	if c.PromptInjection != nil {
		n += len(c.PromptInjection.OverridePatterns) + len(c.PromptInjection.EscalationPatterns) +
			len(c.PromptInjection.DelimiterPatterns) + len(c.PromptInjection.LeakPatterns)
	}
	if c.DomainSensitivity != nil {
		for _, terms := range c.DomainSensitivity.Domains {
			n += len(terms)
		}
	}
	if c.IPViolation != nil {
		n += len(c.IPViolation.CopyrightPatterns) + len(c.IPViolation.TrademarkPatterns) +
			len(c.IPViolation.ProprietaryPatterns)
	}
	if c.OutputPolicy != nil {
		for _, cat := range c.OutputPolicy.Categories {
			n += len(cat.Patterns)
		}
		for _, patterns := range c.OutputPolicy.CodePatterns {
			n += len(patterns)
		}
	}
	return n
}
