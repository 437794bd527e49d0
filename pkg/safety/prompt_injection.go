package safety

import (
	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

// PromptInjectionScreener detects instruction override, role escalation,
// delimiter exploitation, and prompt-leak requests. Override and escalation
// hits are high (the pipeline halts the prompt); delimiter and leak hits
// are medium.
type PromptInjectionScreener struct {
	override   []compiledRule
	escalation []compiledRule
	delimiter  []compiledRule
	leak       []compiledRule
}

// NewPromptInjectionScreener compiles the screener's pattern tables.
func NewPromptInjectionScreener(cfg *config.PromptInjectionConfig) *PromptInjectionScreener {
	return &PromptInjectionScreener{
		override:   compileRules(cfg.OverridePatterns, models.SeverityHigh),
		escalation: compileRules(cfg.EscalationPatterns, models.SeverityHigh),
		delimiter:  compileRules(cfg.DelimiterPatterns, models.SeverityMedium),
		leak:       compileRules(cfg.LeakPatterns, models.SeverityMedium),
	}
}

// Kind returns the screener's finding kind.
func (s *PromptInjectionScreener) Kind() models.FindingKind {
	return models.FindingPromptInjection
}

// Screen scans the text against all four pattern families.
func (s *PromptInjectionScreener) Screen(text, _ string) []models.SafetyFinding {
	var findings []models.SafetyFinding
	for _, family := range [][]compiledRule{s.override, s.escalation, s.delimiter, s.leak} {
		for _, rule := range family {
			spans := matchSpans(rule.Regex, text)
			if spans == nil {
				continue
			}
			findings = append(findings, models.SafetyFinding{
				Kind:         models.FindingPromptInjection,
				Severity:     rule.Severity,
				Tags:         rule.Tags,
				MatchedSpans: spans,
			})
		}
	}
	return findings
}
