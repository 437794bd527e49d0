package safety

import (
	"regexp"
	"sort"
	"strings"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

var codeFenceRe = regexp.MustCompile("```([a-zA-Z0-9_+-]*)")

// outputCategory is one compiled policy category with its thresholds.
type outputCategory struct {
	rules []compiledRule
	warn  float64
	block float64
}

// OutputPolicyScreener scans agent output for harmful, inappropriate,
// misinformation, malicious-code, and plagiarism content, plus
// language-specific code-safety patterns inside fenced code blocks. The
// maximum observed risk per category drives the category action: at or
// above the block threshold the finding is high (pipeline blocks), at or
// above the warn threshold it is medium (pipeline rewrites).
type OutputPolicyScreener struct {
	categories map[string]outputCategory
	order      []string
	code       map[string][]compiledRule
}

// languageAliases maps fence markers to the code pattern table key.
var languageAliases = map[string]string{
	"py": "python",
	"js": "javascript",
	"ts": "javascript",
}

// NewOutputPolicyScreener compiles the category and code pattern tables.
func NewOutputPolicyScreener(cfg *config.OutputPolicyConfig) *OutputPolicyScreener {
	s := &OutputPolicyScreener{
		categories: make(map[string]outputCategory, len(cfg.Categories)),
		code:       make(map[string][]compiledRule, len(cfg.CodePatterns)),
	}
	for name, cat := range cfg.Categories {
		s.categories[name] = outputCategory{
			rules: compileScored(cat.Patterns),
			warn:  cat.WarnThreshold,
			block: cat.BlockThreshold,
		}
		s.order = append(s.order, name)
	}
	sort.Strings(s.order)
	for language, patterns := range cfg.CodePatterns {
		s.code[language] = compileScored(patterns)
	}
	return s
}

// Kind returns the screener's finding kind.
func (s *OutputPolicyScreener) Kind() models.FindingKind {
	return models.FindingOutputPolicy
}

// Screen computes per-category max risk across prose patterns and, for
// languages named by code fence markers, the code-safety patterns.
func (s *OutputPolicyScreener) Screen(text, _ string) []models.SafetyFinding {
	type hit struct {
		risk  float64
		spans []models.Span
		tags  []string
	}
	hits := make(map[string]*hit)

	record := func(category string, risk float64, spans []models.Span, tags []string) {
		h, ok := hits[category]
		if !ok {
			h = &hit{}
			hits[category] = h
		}
		if risk > h.risk {
			h.risk = risk
		}
		h.spans = append(h.spans, spans...)
		for _, tag := range tags {
			h.tags = appendUnique(h.tags, tag)
		}
	}

	for _, name := range s.order {
		for _, rule := range s.categories[name].rules {
			spans := matchSpans(rule.Regex, text)
			if spans == nil {
				continue
			}
			record(name, rule.Risk, spans, rule.Tags)
		}
	}

	// Code-safety patterns apply per detected language; they feed the
	// category named by their first tag (malicious_code for the builtins).
	for _, language := range s.detectLanguages(text) {
		for _, rule := range s.code[language] {
			spans := matchSpans(rule.Regex, text)
			if spans == nil {
				continue
			}
			category := "malicious_code"
			if len(rule.Tags) > 0 {
				category = rule.Tags[0]
			}
			record(category, rule.Risk, spans, rule.Tags)
		}
	}

	var findings []models.SafetyFinding
	for _, name := range s.order {
		h, ok := hits[name]
		if !ok {
			continue
		}
		cat := s.categories[name]
		if h.risk < cat.warn {
			continue
		}
		severity := models.SeverityMedium
		if h.risk >= cat.block {
			severity = models.SeverityHigh
		}
		tags := append([]string{name}, h.tags...)
		findings = append(findings, models.SafetyFinding{
			Kind:         models.FindingOutputPolicy,
			Severity:     severity,
			Tags:         dedupe(tags),
			MatchedSpans: h.spans,
			Score:        h.risk,
		})
	}
	return findings
}

// detectLanguages returns the code pattern table keys named by fence markers
// in the text. An anonymous fence enables every configured table.
func (s *OutputPolicyScreener) detectLanguages(text string) []string {
	if !strings.Contains(text, "```") {
		return nil
	}

	seen := make(map[string]bool)
	var languages []string
	anonymous := false
	for i, m := range codeFenceRe.FindAllStringSubmatch(text, -1) {
		// Fences alternate opener and closer; only openers carry a marker.
		if i%2 == 1 {
			continue
		}
		marker := strings.ToLower(m[1])
		if marker == "" {
			anonymous = true
			continue
		}
		if alias, ok := languageAliases[marker]; ok {
			marker = alias
		}
		if !seen[marker] {
			seen[marker] = true
			languages = append(languages, marker)
		}
	}
	if anonymous {
		languages = languages[:0]
		for language := range s.code {
			languages = append(languages, language)
		}
	}
	sort.Strings(languages)
	return languages
}

func dedupe(list []string) []string {
	var out []string
	for _, item := range list {
		out = appendUnique(out, item)
	}
	return out
}
