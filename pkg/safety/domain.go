package safety

import (
	"log/slog"
	"regexp"
	"sort"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

type domainTerm struct {
	regex  *regexp.Regexp
	weight float64
}

// DomainSensitivityScreener scans for sensitive-domain vocabulary (medical,
// legal, financial, mental health, political). A domain produces a finding
// when the maximum matched term weight reaches its threshold; the finding
// carries the domain name as its tag and the max weight as its score.
type DomainSensitivityScreener struct {
	domains    map[string][]domainTerm
	order      []string // domain names, sorted for deterministic output
	thresholds map[string]float64
}

// NewDomainSensitivityScreener compiles the domain vocabularies.
func NewDomainSensitivityScreener(cfg *config.DomainSensitivityConfig) *DomainSensitivityScreener {
	s := &DomainSensitivityScreener{
		domains:    make(map[string][]domainTerm, len(cfg.Domains)),
		thresholds: cfg.Thresholds,
	}
	for domain, terms := range cfg.Domains {
		compiled := make([]domainTerm, 0, len(terms))
		for _, term := range terms {
			re, err := regexp.Compile(term.Pattern)
			if err != nil {
				slog.Error("Failed to compile domain term, skipping",
					"domain", domain, "pattern", term.Pattern, "error", err)
				continue
			}
			compiled = append(compiled, domainTerm{regex: re, weight: term.Weight})
		}
		s.domains[domain] = compiled
		s.order = append(s.order, domain)
	}
	sort.Strings(s.order)
	return s
}

// Kind returns the screener's finding kind.
func (s *DomainSensitivityScreener) Kind() models.FindingKind {
	return models.FindingDomainSensitivity
}

// Screen computes per-domain max sensitivity and reports domains at or above
// their threshold.
func (s *DomainSensitivityScreener) Screen(text, _ string) []models.SafetyFinding {
	var findings []models.SafetyFinding
	for _, domain := range s.order {
		maxWeight := 0.0
		var spans []models.Span
		for _, term := range s.domains[domain] {
			termSpans := matchSpans(term.regex, text)
			if termSpans == nil {
				continue
			}
			spans = append(spans, termSpans...)
			if term.weight > maxWeight {
				maxWeight = term.weight
			}
		}

		threshold, ok := s.thresholds[domain]
		if !ok || maxWeight < threshold {
			continue
		}

		severity := models.SeverityMedium
		if maxWeight >= 0.9 {
			severity = models.SeverityHigh
		}
		findings = append(findings, models.SafetyFinding{
			Kind:         models.FindingDomainSensitivity,
			Severity:     severity,
			Tags:         []string{domain},
			MatchedSpans: spans,
			Score:        maxWeight,
		})
	}
	return findings
}
