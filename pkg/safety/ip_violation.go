package safety

import (
	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

// IPViolationScreener detects copyright-verbatim, trademark, and
// proprietary-content requests. The finding score starts at 0.5 for any
// pattern hit, gains 0.1 when more than one family matches, and gains 0.3
// when a high-risk entity (well-known brand or work) co-occurs in the text.
// The pipeline blocks at the configured block score.
type IPViolationScreener struct {
	copyright   []compiledRule
	trademark   []compiledRule
	proprietary []compiledRule
	highRisk    []string
}

// NewIPViolationScreener compiles the screener's pattern tables.
func NewIPViolationScreener(cfg *config.IPViolationConfig) *IPViolationScreener {
	return &IPViolationScreener{
		copyright:   compileRules(cfg.CopyrightPatterns, models.SeverityMedium),
		trademark:   compileRules(cfg.TrademarkPatterns, models.SeverityMedium),
		proprietary: compileRules(cfg.ProprietaryPatterns, models.SeverityMedium),
		highRisk:    cfg.HighRiskEntities,
	}
}

// Kind returns the screener's finding kind.
func (s *IPViolationScreener) Kind() models.FindingKind {
	return models.FindingIPViolation
}

// Tags identifying the pattern family of an IP finding; the pipeline picks
// redaction markers by them.
const (
	TagCopyright   = "copyright_verbatim"
	TagTrademark   = "trademark"
	TagProprietary = "proprietary"
)

// Screen scans all three families. Each matched family yields one finding;
// all findings of a screening carry the same combined score so the pipeline
// reads the overall risk from any of them.
func (s *IPViolationScreener) Screen(text, _ string) []models.SafetyFinding {
	type family struct {
		tag   string
		rules []compiledRule
	}
	families := []family{
		{TagCopyright, s.copyright},
		{TagTrademark, s.trademark},
		{TagProprietary, s.proprietary},
	}

	var findings []models.SafetyFinding
	for _, f := range families {
		var spans []models.Span
		tags := []string{f.tag}
		for _, rule := range f.rules {
			ruleSpans := matchSpans(rule.Regex, text)
			if ruleSpans == nil {
				continue
			}
			spans = append(spans, ruleSpans...)
			for _, tag := range rule.Tags {
				tags = appendUnique(tags, tag)
			}
		}
		if spans == nil {
			continue
		}
		findings = append(findings, models.SafetyFinding{
			Kind:         models.FindingIPViolation,
			Tags:         tags,
			MatchedSpans: spans,
		})
	}

	if findings == nil {
		return nil
	}

	score := 0.5
	if len(findings) > 1 {
		score += 0.1
	}
	if _, risky := containsEntity(text, s.highRisk); risky {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}

	severity := models.SeverityMedium
	if score >= 0.7 {
		severity = models.SeverityHigh
	}
	for i := range findings {
		findings[i].Score = score
		findings[i].Severity = severity
		if score >= 0.7 {
			findings[i].Tags = appendUnique(findings[i].Tags, "high_risk_entity")
		}
	}
	return findings
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}
