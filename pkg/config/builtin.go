package config

import (
	"sync"
	"time"
)

// BuiltinConfig holds all built-in configuration data: default agent
// profiles, execution policies, and the safety pattern tables.
type BuiltinConfig struct {
	AgentProfileOrder []string
	AgentProfiles     map[string]*AgentProfile
	Policies          map[string]*ExecutionPolicy
	Safety            *SafetyConfig
}

var (
	builtinConfig     *BuiltinConfig
	builtinConfigOnce sync.Once
)

// GetBuiltinConfig returns the singleton built-in configuration (thread-safe,
// lazy-initialized).
func GetBuiltinConfig() *BuiltinConfig {
	builtinConfigOnce.Do(initBuiltinConfig)
	return builtinConfig
}

func initBuiltinConfig() {
	builtinConfig = &BuiltinConfig{
		AgentProfileOrder: builtinAgentProfileOrder(),
		AgentProfiles:     initBuiltinAgentProfiles(),
		Policies:          initBuiltinPolicies(),
		Safety:            initBuiltinSafety(),
	}
}

// builtinAgentProfileOrder fixes profile iteration order; routing ties break
// by this order.
func builtinAgentProfileOrder() []string {
	return []string{"builder", "researcher", "analyst", "writer", "reviewer"}
}

func initBuiltinAgentProfiles() map[string]*AgentProfile {
	return map[string]*AgentProfile{
		"builder": {
			Description: "Implements, builds, and wires code or artifacts",
			Specialties: []string{"build", "implement", "create", "code", "fix", "deploy", "store"},
			Capabilities: map[string]float64{
				"code_generation": 0.9,
				"refactoring":     0.8,
				"tooling":         0.7,
				"persistence":     0.6,
			},
		},
		"researcher": {
			Description: "Gathers, compares, and summarizes information",
			Specialties: []string{"research", "investigate", "find", "search", "compare", "gather"},
			Capabilities: map[string]float64{
				"web_search":    0.9,
				"summarization": 0.8,
				"citation":      0.7,
			},
		},
		"analyst": {
			Description: "Evaluates data, metrics, and tradeoffs",
			Specialties: []string{"analyze", "evaluate", "measure", "metric", "assess", "benchmark"},
			Capabilities: map[string]float64{
				"data_analysis": 0.9,
				"statistics":    0.8,
				"reporting":     0.6,
			},
		},
		"writer": {
			Description: "Produces prose: docs, reports, announcements",
			Specialties: []string{"write", "draft", "document", "describe", "explain"},
			Capabilities: map[string]float64{
				"drafting": 0.9,
				"editing":  0.8,
				"tone":     0.7,
			},
		},
		"reviewer": {
			Description: "Critiques and validates the output of other agents",
			Specialties: []string{"review", "critique", "validate", "verify", "audit"},
			Capabilities: map[string]float64{
				"critique":    0.9,
				"fact_check":  0.7,
				"consistency": 0.7,
			},
		},
	}
}

func initBuiltinPolicies() map[string]*ExecutionPolicy {
	return map[string]*ExecutionPolicy{
		DefaultPolicyKind: DefaultExecutionPolicy(),
		"long_running": {
			Timeout:                 30 * time.Minute,
			MaxRetries:              1,
			RetryDelay:              10 * time.Second,
			ExponentialBackoff:      true,
			BreakerFailureThreshold: 3,
			BreakerResetPeriod:      2 * time.Minute,
		},
		"network": {
			Timeout:                 2 * time.Minute,
			MaxRetries:              5,
			RetryDelay:              time.Second,
			ExponentialBackoff:      true,
			BreakerFailureThreshold: 5,
			BreakerResetPeriod:      30 * time.Second,
		},
		"interactive": {
			Timeout:                 30 * time.Second,
			MaxRetries:              2,
			RetryDelay:              500 * time.Millisecond,
			ExponentialBackoff:      false,
			BreakerFailureThreshold: 0, // breaker disabled
			BreakerResetPeriod:      0,
		},
	}
}

func initBuiltinSafety() *SafetyConfig {
	return &SafetyConfig{
		SyntheticIdentity: &SyntheticIdentityConfig{
			ImpersonationPatterns: []SafetyPattern{
				{
					Name:    "pretend_you_are",
					Pattern: `(?i)pretend\s+(?:that\s+)?you(?:'re|\s+are)\s+([^\n.,!?]{1,80})`,
					Tags:    []string{"impersonation"},
				},
				{
					Name:    "act_as",
					Pattern: `(?i)\bact\s+as\s+(?:an?\s+|the\s+)?([^\n.,!?]{1,80})`,
					Tags:    []string{"impersonation"},
				},
				{
					Name:    "roleplay_as",
					Pattern: `(?i)\brole[- ]?play\s+as\s+([^\n.,!?]{1,80})`,
					Tags:    []string{"impersonation"},
				},
				{
					Name:    "you_are_now",
					Pattern: `(?i)\byou\s+are\s+now\s+([^\n.,!?]{1,80})`,
					Tags:    []string{"impersonation"},
				},
			},
			JailbreakPatterns: []SafetyPattern{
				{
					Name:    "ignore_instructions",
					Pattern: `(?i)ignore\s+(?:all\s+)?(?:previous|prior|above)\s+instructions`,
					Tags:    []string{"jailbreak"},
				},
				{
					Name:    "dan_mode",
					Pattern: `(?i)\b(?:DAN|do\s+anything\s+now)\b`,
					Tags:    []string{"jailbreak"},
				},
				{
					Name:    "no_restrictions",
					Pattern: `(?i)\bwithout\s+(?:any\s+)?(?:restrictions|limitations|filters|guidelines)\b`,
					Tags:    []string{"jailbreak"},
				},
				{
					Name:    "developer_mode",
					Pattern: `(?i)\bdeveloper\s+mode\b`,
					Tags:    []string{"jailbreak"},
				},
			},
			HighRiskEntities: []string{
				"gpt", "chatgpt", "claude", "gemini", "copilot",
				"president", "senator", "prime minister", "governor",
				"doctor", "physician", "lawyer", "attorney", "judge",
				"police officer", "federal agent",
			},
		},
		PromptInjection: &PromptInjectionConfig{
			OverridePatterns: []SafetyPattern{
				{
					Name:    "instruction_override",
					Pattern: `(?i)(?:ignore|disregard|forget)\s+(?:all\s+)?(?:previous|prior|above|earlier)\s+(?:instructions|prompts|rules|context)`,
					Tags:    []string{"instruction_override"},
				},
				{
					Name:    "new_instructions",
					Pattern: `(?i)(?:new|updated|real)\s+instructions\s*:`,
					Tags:    []string{"instruction_override"},
				},
			},
			EscalationPatterns: []SafetyPattern{
				{
					Name:    "privileged_mode",
					Pattern: `(?i)\b(?:enable|enter|activate|switch\s+to)\s+(?:admin|root|sudo|god|unrestricted|jailbroken?)\s+mode\b`,
					Tags:    []string{"role_escalation"},
				},
				{
					Name:    "you_are_now_unrestricted",
					Pattern: `(?i)\byou\s+are\s+now\s+(?:an?\s+)?(?:unrestricted|unfiltered|jailbroken|DAN)\b`,
					Tags:    []string{"role_escalation"},
				},
			},
			DelimiterPatterns: []SafetyPattern{
				{
					Name:    "system_tag",
					Pattern: `(?i)</?\s*(?:system|assistant|instructions?)\s*>`,
					Tags:    []string{"delimiter_exploit"},
				},
				{
					Name:    "role_prefix",
					Pattern: `(?im)^\s*(?:system|user|assistant)\s*:`,
					Tags:    []string{"delimiter_exploit"},
				},
				{
					Name:    "fence_injection",
					Pattern: "(?i)```\\s*system",
					Tags:    []string{"delimiter_exploit"},
				},
			},
			LeakPatterns: []SafetyPattern{
				{
					Name:    "prompt_leak",
					Pattern: `(?i)(?:reveal|show|print|repeat|output)\s+(?:your\s+)?(?:system\s+prompt|initial\s+instructions|hidden\s+rules)`,
					Tags:    []string{"prompt_leak"},
				},
			},
		},
		DomainSensitivity: &DomainSensitivityConfig{
			Domains: map[string][]DomainTerm{
				"medical": {
					{Pattern: `(?i)\b(?:diagnos(?:is|e)|prescri(?:be|ption)|dosage|chemotherapy|oncology)\b`, Weight: 0.9},
					{Pattern: `(?i)\b(?:symptom|treatment|medication|disease|tumor|cancer)\b`, Weight: 0.8},
					{Pattern: `(?i)\b(?:health|clinic|hospital|patient)\b`, Weight: 0.5},
				},
				"legal": {
					{Pattern: `(?i)\b(?:lawsuit|litigation|indictment|felony|subpoena)\b`, Weight: 0.9},
					{Pattern: `(?i)\b(?:legal\s+advice|contract\s+dispute|liability|custody)\b`, Weight: 0.8},
					{Pattern: `(?i)\b(?:law|court|attorney|statute)\b`, Weight: 0.5},
				},
				"financial": {
					{Pattern: `(?i)\b(?:insider\s+trading|money\s+launder|tax\s+evasion)\b`, Weight: 0.95},
					{Pattern: `(?i)\b(?:investment\s+advice|stock\s+tip|portfolio\s+allocation)\b`, Weight: 0.8},
					{Pattern: `(?i)\b(?:loan|mortgage|credit|invest)\b`, Weight: 0.5},
				},
				"mental_health": {
					{Pattern: `(?i)\b(?:suicid(?:e|al)|self[- ]harm|overdose)\b`, Weight: 1.0},
					{Pattern: `(?i)\b(?:depress(?:ion|ed)|anxiety\s+attack|panic\s+attack)\b`, Weight: 0.85},
					{Pattern: `(?i)\b(?:therapy|counseling|mental\s+health)\b`, Weight: 0.5},
				},
				"political": {
					{Pattern: `(?i)\b(?:election\s+fraud|voter\s+suppression|rig(?:ged)?\s+election)\b`, Weight: 0.95},
					{Pattern: `(?i)\b(?:propaganda|disinformation\s+campaign)\b`, Weight: 0.85},
					{Pattern: `(?i)\b(?:election|campaign|ballot|partisan|congress)\b`, Weight: 0.65},
				},
			},
			Thresholds: map[string]float64{
				"medical":       0.7,
				"legal":         0.7,
				"financial":     0.7,
				"mental_health": 0.8,
				"political":     0.6,
			},
			Reviewers: map[string][]string{
				"medical":       {"SAGE"},
				"legal":         {"SAGE", "CEO"},
				"financial":     {"PESSIMIST", "CEO"},
				"mental_health": {"SAGE", "GUARDIAN"},
				"political":     {"PESSIMIST", "SAGE", "CEO"},
			},
		},
		IPViolation: &IPViolationConfig{
			CopyrightPatterns: []SafetyPattern{
				{
					Name:    "verbatim_request",
					Pattern: `(?i)(?:full|complete|entire|verbatim)\s+(?:text|lyrics|script|chapter|book)\s+of`,
					Tags:    []string{"copyright_verbatim"},
				},
				{
					Name:    "reproduce_work",
					Pattern: `(?i)(?:reproduce|copy|transcribe)\s+(?:the\s+)?(?:book|song|movie|article|novel)`,
					Tags:    []string{"copyright_verbatim"},
				},
				{
					Name:    "heres_full_text",
					Pattern: `(?i)here(?:'s| is)\s+the\s+(?:full|complete|entire)\s+text\s+of\s+([^\n:]{1,120})`,
					Tags:    []string{"copyright_verbatim"},
				},
			},
			TrademarkPatterns: []SafetyPattern{
				{
					Name:    "logo_recreation",
					Pattern: `(?i)(?:recreate|clone|copy)\s+(?:the\s+)?(?:logo|trademark|brand(?:ing)?)\s+(?:of|for)`,
					Tags:    []string{"trademark"},
				},
			},
			ProprietaryPatterns: []SafetyPattern{
				{
					Name:    "proprietary_code",
					Pattern: `(?i)(?:leaked|internal|proprietary|confidential)\s+(?:source\s+code|codebase|algorithm|documents?)`,
					Tags:    []string{"proprietary"},
				},
			},
			HighRiskEntities: []string{
				"harry potter", "star wars", "marvel", "disney", "pokemon",
				"mickey mouse", "game of thrones", "lord of the rings",
				"coca-cola", "nike", "apple", "google", "microsoft",
				"windows", "photoshop", "netflix",
			},
			BlockScore: 0.7,
		},
		OutputPolicy: &OutputPolicyConfig{
			Categories: map[string]OutputCategoryConfig{
				"harmful": {
					Patterns: []ScoredPattern{
						{Name: "weapon_instructions", Pattern: `(?i)how\s+to\s+(?:build|make|assemble)\s+(?:a\s+)?(?:bomb|weapon|explosive)`, Risk: 1.0, Tags: []string{"harmful"}},
						{Name: "violence_incitement", Pattern: `(?i)\b(?:kill|hurt|attack)\s+(?:them|him|her|people)\b`, Risk: 0.8, Tags: []string{"harmful"}},
					},
					WarnThreshold:  0.5,
					BlockThreshold: 0.8,
				},
				"inappropriate": {
					Patterns: []ScoredPattern{
						{Name: "explicit_content", Pattern: `(?i)\bexplicit\s+(?:sexual\s+)?content\b`, Risk: 0.7, Tags: []string{"inappropriate"}},
						{Name: "slur_pattern", Pattern: `(?i)\b(?:racial|ethnic)\s+slur`, Risk: 0.8, Tags: []string{"inappropriate"}},
					},
					WarnThreshold:  0.5,
					BlockThreshold: 0.85,
				},
				"misinformation": {
					Patterns: []ScoredPattern{
						{Name: "fabricated_fact", Pattern: `(?i)\b(?:scientists|studies)\s+(?:have\s+)?proven?\s+that\b`, Risk: 0.5, Tags: []string{"misinformation"}},
						{Name: "miracle_cure", Pattern: `(?i)\b(?:miracle|guaranteed)\s+(?:cure|treatment|remedy)\b`, Risk: 0.8, Tags: []string{"misinformation"}},
					},
					WarnThreshold:  0.5,
					BlockThreshold: 0.9,
				},
				"malicious_code": {
					Patterns: []ScoredPattern{
						{Name: "shell_destroy", Pattern: `(?i)rm\s+-rf\s+[/~]`, Risk: 0.9, Tags: []string{"malicious_code"}},
						{Name: "fork_bomb", Pattern: `:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`, Risk: 1.0, Tags: []string{"malicious_code"}},
						{Name: "credential_exfil", Pattern: `(?i)(?:curl|wget)\s+[^\n]*(?:\.ssh/id_rsa|/etc/passwd|\.aws/credentials)`, Risk: 0.95, Tags: []string{"malicious_code"}},
					},
					WarnThreshold:  0.4,
					BlockThreshold: 0.8,
				},
				"plagiarism": {
					Patterns: []ScoredPattern{
						{Name: "uncredited_copy", Pattern: `(?i)\bcopied\s+(?:directly\s+)?from\b`, Risk: 0.6, Tags: []string{"plagiarism"}},
					},
					WarnThreshold:  0.5,
					BlockThreshold: 0.95,
				},
			},
			CodePatterns: map[string][]ScoredPattern{
				"python": {
					{Name: "eval_call", Pattern: `\beval\s*\(`, Risk: 0.6, Tags: []string{"malicious_code"}},
					{Name: "exec_call", Pattern: `\bexec\s*\(`, Risk: 0.6, Tags: []string{"malicious_code"}},
					{Name: "os_system", Pattern: `\bos\.system\s*\(`, Risk: 0.5, Tags: []string{"malicious_code"}},
					{Name: "pickle_loads", Pattern: `\bpickle\.loads?\s*\(`, Risk: 0.5, Tags: []string{"malicious_code"}},
				},
				"javascript": {
					{Name: "eval_call", Pattern: `\beval\s*\(`, Risk: 0.6, Tags: []string{"malicious_code"}},
					{Name: "function_ctor", Pattern: `new\s+Function\s*\(`, Risk: 0.6, Tags: []string{"malicious_code"}},
					{Name: "doc_write", Pattern: `document\.write\s*\(`, Risk: 0.4, Tags: []string{"malicious_code"}},
				},
				"sql": {
					{Name: "or_true", Pattern: `(?i)'\s*or\s+'?1'?\s*=\s*'?1`, Risk: 0.9, Tags: []string{"malicious_code", "sql_injection"}},
					{Name: "stacked_drop", Pattern: `(?i);\s*drop\s+table`, Risk: 0.9, Tags: []string{"malicious_code", "sql_injection"}},
					{Name: "comment_bypass", Pattern: `(?i)--\s*$|/\*.*\*/`, Risk: 0.4, Tags: []string{"sql_injection"}},
				},
			},
		},
		EscalationReviewers: map[string][]string{
			"synthetic_identity": {"GUARDIAN"},
			"prompt_injection":   {"GUARDIAN", "PESSIMIST"},
			"ip_violation":       {"SAGE", "CEO"},
			"output_policy":      {"GUARDIAN", "SAGE"},
		},
	}
}
