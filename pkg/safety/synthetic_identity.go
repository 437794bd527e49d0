package safety

import (
	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

// SyntheticIdentityScreener detects impersonation ("pretend you are X") and
// jailbreak phrasing. Impersonation severity is high when the target entity
// matches the configured high-risk list, otherwise medium. Jailbreak hits
// are always high.
type SyntheticIdentityScreener struct {
	impersonation []compiledRule
	jailbreak     []compiledRule
	highRisk      []string
}

// NewSyntheticIdentityScreener compiles the screener's pattern tables.
func NewSyntheticIdentityScreener(cfg *config.SyntheticIdentityConfig) *SyntheticIdentityScreener {
	return &SyntheticIdentityScreener{
		impersonation: compileRules(cfg.ImpersonationPatterns, models.SeverityMedium),
		jailbreak:     compileRules(cfg.JailbreakPatterns, models.SeverityHigh),
		highRisk:      cfg.HighRiskEntities,
	}
}

// Kind returns the screener's finding kind.
func (s *SyntheticIdentityScreener) Kind() models.FindingKind {
	return models.FindingSyntheticIdentity
}

// Screen scans the text against both pattern families.
func (s *SyntheticIdentityScreener) Screen(text, _ string) []models.SafetyFinding {
	var findings []models.SafetyFinding

	for _, rule := range s.impersonation {
		matches := rule.Regex.FindAllStringSubmatchIndex(text, -1)
		if matches == nil {
			continue
		}

		severity := models.SeverityMedium
		var spans []models.Span
		for _, m := range matches {
			spans = append(spans, models.Span{
				Offset:  m[0],
				Length:  m[1] - m[0],
				Snippet: text[m[0]:m[1]],
			})
			// First capture group is the impersonation target
			if len(m) >= 4 && m[2] >= 0 {
				target := text[m[2]:m[3]]
				if _, risky := containsEntity(target, s.highRisk); risky {
					severity = severity.Max(models.SeverityHigh)
				}
			}
		}

		findings = append(findings, models.SafetyFinding{
			Kind:         models.FindingSyntheticIdentity,
			Severity:     severity,
			Tags:         rule.Tags,
			MatchedSpans: spans,
		})
	}

	for _, rule := range s.jailbreak {
		spans := matchSpans(rule.Regex, text)
		if spans == nil {
			continue
		}
		findings = append(findings, models.SafetyFinding{
			Kind:         models.FindingSyntheticIdentity,
			Severity:     models.SeverityHigh,
			Tags:         rule.Tags,
			MatchedSpans: spans,
		})
	}

	return findings
}
