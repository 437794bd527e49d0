// Package safety implements the content screeners and the pipeline that
// combines their findings into allow/warn/rewrite/block verdicts for prompts
// and agent outputs.
package safety

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

// Screener detects one family of content risk. Screeners are stateless,
// deterministic on their input and pattern tables, and safe for concurrent
// use. loopID is a correlation tag for logging only.
type Screener interface {
	Kind() models.FindingKind
	Screen(text, loopID string) []models.SafetyFinding
}

// compiledRule is one pre-compiled regex rule of a screener table.
type compiledRule struct {
	Name     string
	Regex    *regexp.Regexp
	Severity models.Severity
	Tags     []string
	Risk     float64
}

// compileRules compiles a pattern table, forcing the given severity where the
// pattern carries none. Invalid patterns are logged and skipped; the config
// validator rejects them at startup, so this only fires for tables built in
// code.
func compileRules(patterns []config.SafetyPattern, fallback models.Severity) []compiledRule {
	rules := make([]compiledRule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile safety pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		severity := fallback
		if s := models.Severity(p.Severity); s.AtLeast(models.SeverityLow) {
			severity = s
		}
		rules = append(rules, compiledRule{
			Name:     p.Name,
			Regex:    re,
			Severity: severity,
			Tags:     p.Tags,
		})
	}
	return rules
}

// compileScored compiles a risk-weighted pattern table.
func compileScored(patterns []config.ScoredPattern) []compiledRule {
	rules := make([]compiledRule, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			slog.Error("Failed to compile safety pattern, skipping",
				"pattern", p.Name, "error", err)
			continue
		}
		rules = append(rules, compiledRule{
			Name:  p.Name,
			Regex: re,
			Tags:  p.Tags,
			Risk:  p.Risk,
		})
	}
	return rules
}

// matchSpans returns every match of the rule as byte-offset spans into text.
func matchSpans(re *regexp.Regexp, text string) []models.Span {
	var spans []models.Span
	for _, loc := range re.FindAllStringIndex(text, -1) {
		spans = append(spans, models.Span{
			Offset:  loc[0],
			Length:  loc[1] - loc[0],
			Snippet: text[loc[0]:loc[1]],
		})
	}
	return spans
}

// containsEntity reports which configured entity occurs in the text
// (case-insensitive substring), if any.
func containsEntity(text string, entities []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, entity := range entities {
		if strings.Contains(lower, strings.ToLower(entity)) {
			return entity, true
		}
	}
	return "", false
}

// collapseWhitespace squeezes runs of spaces and tabs left behind by span
// deletion and trims the result.
func collapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	space := false
	for _, r := range text {
		if r == ' ' || r == '\t' {
			space = true
			continue
		}
		if space && b.Len() > 0 && r != '\n' {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
