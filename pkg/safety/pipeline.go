package safety

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/planloom/planloom/pkg/config"
	"github.com/planloom/planloom/pkg/models"
)

// neutralQuery replaces a prompt the injection screener halted.
const neutralQuery = "Please provide general information about this topic."

// impersonationOpener replaces impersonation spans during prompt sanitation.
const impersonationOpener = "Please provide information about"

// redactionNotice is appended once to output carrying IP redactions.
const redactionNotice = "[Notice: content referencing protected material was redacted]"

// disclaimerText is appended to output flagged at warn level by the output
// policy; its presence marks already-reviewed output.
const disclaimerText = "Note: this content was flagged by automated output review; verify before use."

// redactionMarkers maps IP finding families to their replacement text.
var redactionMarkers = map[string]string{
	TagCopyright:   "[Reference to copyrighted material]",
	TagTrademark:   "[Trademark reference]",
	TagProprietary: "[Proprietary information redacted]",
}

// DefaultPromptChecks are the screeners CheckPrompt runs when the caller
// passes none.
var DefaultPromptChecks = []models.FindingKind{
	models.FindingSyntheticIdentity,
	models.FindingPromptInjection,
	models.FindingDomainSensitivity,
	models.FindingIPViolation,
}

// DefaultOutputChecks are the screeners CheckOutput runs when the caller
// passes none.
var DefaultOutputChecks = []models.FindingKind{
	models.FindingOutputPolicy,
	models.FindingIPViolation,
	models.FindingDomainSensitivity,
}

// Pipeline composes the screeners and combines their findings into a
// SafetyVerdict. It is stateless aside from compiled pattern tables and safe
// for concurrent use.
type Pipeline struct {
	screeners           map[models.FindingKind]Screener
	ipBlockScore        float64
	domainReviewers     map[string][]string
	escalationReviewers map[string][]string
}

// NewPipeline builds a pipeline with all five screeners compiled from the
// safety configuration.
func NewPipeline(cfg *config.SafetyConfig) *Pipeline {
	p := &Pipeline{
		screeners:           make(map[models.FindingKind]Screener, 5),
		ipBlockScore:        0.7,
		escalationReviewers: cfg.EscalationReviewers,
	}
	if cfg.SyntheticIdentity != nil {
		p.register(NewSyntheticIdentityScreener(cfg.SyntheticIdentity))
	}
	if cfg.PromptInjection != nil {
		p.register(NewPromptInjectionScreener(cfg.PromptInjection))
	}
	if cfg.DomainSensitivity != nil {
		p.register(NewDomainSensitivityScreener(cfg.DomainSensitivity))
		p.domainReviewers = cfg.DomainSensitivity.Reviewers
	}
	if cfg.IPViolation != nil {
		p.register(NewIPViolationScreener(cfg.IPViolation))
		if cfg.IPViolation.BlockScore > 0 {
			p.ipBlockScore = cfg.IPViolation.BlockScore
		}
	}
	if cfg.OutputPolicy != nil {
		p.register(NewOutputPolicyScreener(cfg.OutputPolicy))
	}

	slog.Info("Safety pipeline initialized",
		"screeners", len(p.screeners),
		"patterns", cfg.PatternCount())
	return p
}

func (p *Pipeline) register(s Screener) {
	p.screeners[s.Kind()] = s
}

func (p *Pipeline) screen(text string, checks []models.FindingKind, loopID string) []models.SafetyFinding {
	var findings []models.SafetyFinding
	for _, kind := range checks {
		screener, ok := p.screeners[kind]
		if !ok {
			continue
		}
		findings = append(findings, screener.Screen(text, loopID)...)
	}
	return findings
}

// CheckPrompt screens inbound text before it reaches a worker. A nil checks
// list runs the default prompt screeners.
func (p *Pipeline) CheckPrompt(text string, checks []models.FindingKind, loopID string) *models.SafetyVerdict {
	if checks == nil {
		checks = DefaultPromptChecks
	}
	findings := p.screen(text, checks, loopID)

	verdict := &models.SafetyVerdict{
		Action:        models.ActionAllow,
		SanitizedText: text,
		Findings:      findings,
	}
	if len(findings) == 0 {
		return verdict
	}

	halted := hasSeverity(findings, models.FindingPromptInjection, models.SeverityHigh)
	blocked := halted ||
		hasSeverity(findings, models.FindingSyntheticIdentity, models.SeverityHigh) ||
		p.ipBlocked(findings)

	if blocked {
		verdict.Action = models.ActionBlock
	} else {
		verdict.Action = models.ActionWarn
	}

	verdict.SanitizedText = p.sanitizePrompt(text, findings, halted)
	p.attachRerunDirective(verdict, findings, blocked)
	return verdict
}

// CheckOutput screens a worker's result. A nil checks list runs the default
// output screeners.
func (p *Pipeline) CheckOutput(text string, checks []models.FindingKind, loopID string) *models.SafetyVerdict {
	if checks == nil {
		checks = DefaultOutputChecks
	}
	findings := p.screen(text, checks, loopID)

	// Output carrying the review disclaimer already went through the policy
	// screener; its patterns would match the same spans forever.
	if strings.Contains(text, disclaimerText) {
		kept := make([]models.SafetyFinding, 0, len(findings))
		for _, f := range findings {
			if f.Kind != models.FindingOutputPolicy {
				kept = append(kept, f)
			}
		}
		findings = kept
	}

	verdict := &models.SafetyVerdict{
		Action:        models.ActionAllow,
		SanitizedText: text,
		Findings:      findings,
	}
	if len(findings) == 0 {
		return verdict
	}

	blocked := hasSeverity(findings, models.FindingOutputPolicy, models.SeverityHigh) ||
		p.ipBlocked(findings)
	if blocked {
		verdict.Action = models.ActionBlock
		p.attachRerunDirective(verdict, findings, true)
		return verdict
	}

	rewritten := p.rewriteOutput(text, findings)
	if rewritten != text {
		verdict.Action = models.ActionRewrite
		verdict.SanitizedText = rewritten
	} else {
		verdict.Action = models.ActionWarn
	}
	p.attachRerunDirective(verdict, findings, false)
	return verdict
}

func (p *Pipeline) ipBlocked(findings []models.SafetyFinding) bool {
	for _, f := range findings {
		if f.Kind == models.FindingIPViolation && f.Score >= p.ipBlockScore {
			return true
		}
	}
	return false
}

func hasSeverity(findings []models.SafetyFinding, kind models.FindingKind, severity models.Severity) bool {
	for _, f := range findings {
		if f.Kind == kind && f.Severity.AtLeast(severity) {
			return true
		}
	}
	return false
}

// spanEdit is one pending text replacement.
type spanEdit struct {
	span        models.Span
	replacement string
	severity    models.Severity
}

// applyEdits replaces spans back-to-front, longest first so nested matches
// never substitute inside an already-replaced region. Overlapping spans keep
// the higher-severity edit.
func applyEdits(text string, edits []spanEdit) string {
	if len(edits) == 0 {
		return text
	}

	sort.SliceStable(edits, func(i, j int) bool {
		if edits[i].span.Length != edits[j].span.Length {
			return edits[i].span.Length > edits[j].span.Length
		}
		return edits[i].severity.AtLeast(edits[j].severity) && edits[i].severity != edits[j].severity
	})

	type interval struct{ start, end int }
	var taken []interval
	overlaps := func(start, end int) bool {
		for _, iv := range taken {
			if start < iv.end && end > iv.start {
				return true
			}
		}
		return false
	}

	var selected []spanEdit
	for _, e := range edits {
		start, end := e.span.Offset, e.span.Offset+e.span.Length
		if start < 0 || end > len(text) || overlaps(start, end) {
			continue
		}
		taken = append(taken, interval{start, end})
		selected = append(selected, e)
	}

	// Back to front keeps earlier offsets valid
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].span.Offset > selected[j].span.Offset
	})
	for _, e := range selected {
		start, end := e.span.Offset, e.span.Offset+e.span.Length
		text = text[:start] + e.replacement + text[end:]
	}
	return text
}

// sanitizePrompt neutralizes impersonation spans, deletes jailbreak and
// injection spans, and collapses the leftover whitespace. A halted prompt is
// replaced wholesale with a neutral query.
func (p *Pipeline) sanitizePrompt(text string, findings []models.SafetyFinding, halted bool) string {
	if halted {
		return neutralQuery
	}

	var edits []spanEdit
	for _, f := range findings {
		switch f.Kind {
		case models.FindingSyntheticIdentity:
			replacement := ""
			if hasTag(f, "impersonation") {
				replacement = impersonationOpener
			}
			for _, span := range f.MatchedSpans {
				edits = append(edits, spanEdit{span: span, replacement: replacement, severity: f.Severity})
			}
		case models.FindingPromptInjection:
			for _, span := range f.MatchedSpans {
				edits = append(edits, spanEdit{span: span, severity: f.Severity})
			}
		}
	}
	return collapseWhitespace(applyEdits(text, edits))
}

// rewriteOutput redacts IP violation spans with family markers (longest
// matches first) and appends a language-appropriate disclaimer for warn-level
// output policy findings. Already-annotated output is not re-annotated.
func (p *Pipeline) rewriteOutput(text string, findings []models.SafetyFinding) string {
	var edits []spanEdit
	redacted := false
	policyWarn := false
	for _, f := range findings {
		switch f.Kind {
		case models.FindingIPViolation:
			marker := redactionMarkers[TagCopyright]
			for _, tag := range []string{TagCopyright, TagTrademark, TagProprietary} {
				if hasTag(f, tag) {
					marker = redactionMarkers[tag]
					break
				}
			}
			for _, span := range f.MatchedSpans {
				edits = append(edits, spanEdit{span: span, replacement: marker, severity: f.Severity})
			}
			redacted = true
		case models.FindingOutputPolicy:
			policyWarn = true
		}
	}

	result := text
	if redacted {
		result = collapseWhitespace(applyEdits(result, edits))
		if !strings.Contains(result, redactionNotice) {
			result += "\n\n" + redactionNotice
		}
	}
	if policyWarn && !strings.Contains(result, disclaimerText) {
		result += "\n" + disclaimerComment(text)
	}
	return result
}

// disclaimerComment formats the disclaimer for the detected content type.
func disclaimerComment(text string) string {
	switch {
	case strings.Contains(text, "```python") || strings.Contains(text, "```py"):
		return "# " + disclaimerText
	case strings.Contains(text, "```javascript") || strings.Contains(text, "```js") || strings.Contains(text, "```ts"):
		return "// " + disclaimerText
	case strings.Contains(text, "```sql"):
		return "-- " + disclaimerText
	default:
		return disclaimerText
	}
}

// attachRerunDirective adds reviewer requirements when the verdict blocks or
// a sensitive domain was flagged.
func (p *Pipeline) attachRerunDirective(verdict *models.SafetyVerdict, findings []models.SafetyFinding, blocked bool) {
	var reviewers []string
	var triggers []string

	for _, f := range findings {
		if f.Kind == models.FindingDomainSensitivity {
			for _, domain := range f.Tags {
				for _, r := range p.domainReviewers[domain] {
					reviewers = appendUnique(reviewers, r)
				}
				triggers = appendUnique(triggers, domain)
			}
		}
	}
	if blocked {
		for _, f := range findings {
			if !f.Severity.AtLeast(models.SeverityHigh) && !(f.Kind == models.FindingIPViolation && f.Score >= p.ipBlockScore) {
				continue
			}
			for _, r := range p.escalationReviewers[string(f.Kind)] {
				reviewers = appendUnique(reviewers, r)
			}
			for _, tag := range f.Tags {
				triggers = appendUnique(triggers, tag)
			}
		}
	}

	if len(reviewers) == 0 && !blocked {
		return
	}

	depth := 1
	reason := "sensitive domain flagged"
	if blocked {
		depth = 2
		reason = fmt.Sprintf("content blocked: %s", strings.Join(triggers, ", "))
	}
	verdict.RequiredReviewers = reviewers
	verdict.RerunDirective = &models.RerunDirective{
		Depth:             depth,
		RequiredReviewers: reviewers,
		Reason:            reason,
		Triggers:          triggers,
	}
}

func hasTag(f models.SafetyFinding, tag string) bool {
	for _, t := range f.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
