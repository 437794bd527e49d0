package models

// FindingKind identifies which screener produced a finding.
type FindingKind string

// Screener kinds.
const (
	FindingSyntheticIdentity FindingKind = "synthetic_identity"
	FindingPromptInjection   FindingKind = "prompt_injection"
	FindingDomainSensitivity FindingKind = "domain_sensitivity"
	FindingIPViolation       FindingKind = "ip_violation"
	FindingOutputPolicy      FindingKind = "output_policy"
)

// IsValid checks if the finding kind is a known value.
func (k FindingKind) IsValid() bool {
	switch k {
	case FindingSyntheticIdentity, FindingPromptInjection, FindingDomainSensitivity,
		FindingIPViolation, FindingOutputPolicy:
		return true
	default:
		return false
	}
}

// Severity grades a finding.
type Severity string

// Severity levels, ordered low < medium < high.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// rank maps severities to a comparable order.
func (s Severity) rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether s is at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// Max returns the higher of two severities. Used when overlapping rules
// grade the same span differently.
func (s Severity) Max(other Severity) Severity {
	if other.rank() > s.rank() {
		return other
	}
	return s
}

// Span marks a region of the screened text by byte offset into the original
// input, regardless of any later replacement.
type Span struct {
	Offset  int    `json:"offset"`
	Length  int    `json:"length"`
	Snippet string `json:"snippet"`
}

// SafetyFinding is one screener hit. Immutable once produced.
type SafetyFinding struct {
	Kind         FindingKind `json:"kind"`
	Severity     Severity    `json:"severity"`
	Tags         []string    `json:"tags,omitempty"`
	MatchedSpans []Span      `json:"matched_spans,omitempty"`

	// Score is 0.0–1.0 where the screener computes one (domain sensitivity,
	// IP violation, output policy); zero otherwise.
	Score float64 `json:"score,omitempty"`
}

// VerdictAction is the pipeline's combined decision.
type VerdictAction string

// Verdict actions.
const (
	ActionAllow   VerdictAction = "allow"
	ActionWarn    VerdictAction = "warn"
	ActionRewrite VerdictAction = "rewrite"
	ActionBlock   VerdictAction = "block"
)

// RerunDirective asks the orchestrator to re-execute with specific reviewer
// tags and deeper analysis depth.
type RerunDirective struct {
	Depth             int      `json:"depth"`
	RequiredReviewers []string `json:"required_reviewers,omitempty"`
	Reason            string   `json:"reason"`
	Triggers          []string `json:"triggers,omitempty"`
}

// SafetyVerdict aggregates screener findings into a decision, the sanitized
// text, and an optional rerun directive. Immutable once produced.
type SafetyVerdict struct {
	Action            VerdictAction   `json:"action"`
	SanitizedText     string          `json:"sanitized_text"`
	Findings          []SafetyFinding `json:"findings,omitempty"`
	RequiredReviewers []string        `json:"required_reviewers,omitempty"`
	RerunDirective    *RerunDirective `json:"rerun_directive,omitempty"`
}

// Blocked reports whether the verdict blocks the text.
func (v *SafetyVerdict) Blocked() bool {
	return v.Action == ActionBlock
}

// Tags returns the union of finding tags, in first-seen order.
func (v *SafetyVerdict) Tags() []string {
	seen := make(map[string]bool)
	var tags []string
	for _, f := range v.Findings {
		for _, tag := range f.Tags {
			if !seen[tag] {
				seen[tag] = true
				tags = append(tags, tag)
			}
		}
	}
	return tags
}
