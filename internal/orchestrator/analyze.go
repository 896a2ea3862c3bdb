package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/tarsy-labs/agentrun/internal/modelprovider"
)

// Analysis is the result of the Analyze stage (SPEC_FULL.md §4.G step 1,
// §3 Analysis Record).
type Analysis struct {
	Intent       string
	Domains      []string
	Complexity   int // 1-10
	Entities     []string
	Urgent       bool
	BusinessHint bool
	RuleBased    bool // true when the model's structured output could not be parsed
}

var intentKeywords = map[string][]string{
	"research":   {"research", "find out", "look up", "investigate", "compare"},
	"code":       {"code", "function", "bug", "implement", "refactor", "compile"},
	"data":       {"data", "extract", "csv", "table", "parse", "field"},
	"extraction": {"extract", "pull out", "summarize", "key points"},
	"chat":       {"hi", "hello", "thanks", "chat"},
}

var urgentKeywords = []string{"urgent", "asap", "immediately", "right now", "emergency"}
var businessKeywords = []string{"price", "quote", "buy", "purchase", "vendor", "contract"}

// analyzeStructured is the shape the model is asked to return via a
// constrained decoding hint.
type analyzeStructured struct {
	Intent       string   `json:"intent"`
	Domains      []string `json:"domains"`
	Complexity   int      `json:"complexity"`
	Entities     []string `json:"entities"`
	Urgent       bool     `json:"urgent"`
	BusinessHint bool     `json:"businessHint"`
}

// Analyze classifies userText. It always returns a valid Analysis; a model
// call that fails or returns unparsable JSON falls back to the rule-based
// classifier rather than failing the request (SPEC_FULL.md §4.G step 1).
func (o *Orchestrator) Analyze(ctx context.Context, userText string) Analysis {
	prompt := "Return a compact JSON object {intent, domains, complexity, entities, urgent, businessHint} " +
		"classifying the following user request. intent is one of research|code|data|extraction|chat. " +
		"complexity is an integer 1-10.\n\nRequest:\n" + userText

	res, err := o.provider.Generate(ctx, prompt, modelprovider.Params{Model: o.cfg.Model.Default, Temperature: 0, MaxOutputTokens: 256})
	if err == nil {
		if a, ok := parseAnalysis(res.Text); ok {
			return a
		}
	}
	return ruleBasedAnalysis(userText)
}

func parseAnalysis(text string) (Analysis, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return Analysis{}, false
	}
	var s analyzeStructured
	if err := json.Unmarshal([]byte(text[start:end+1]), &s); err != nil {
		return Analysis{}, false
	}
	if s.Intent == "" || s.Complexity < 1 {
		return Analysis{}, false
	}
	if s.Complexity > 10 {
		s.Complexity = 10
	}
	return Analysis{
		Intent: s.Intent, Domains: s.Domains, Complexity: s.Complexity,
		Entities: s.Entities, Urgent: s.Urgent, BusinessHint: s.BusinessHint,
	}, true
}

// ruleBasedAnalysis is the deterministic fallback classifier: keyword
// heuristics over intent, urgency, and business signals, with a fixed
// complexity heuristic based on input length.
func ruleBasedAnalysis(userText string) Analysis {
	lower := strings.ToLower(userText)

	intent := "chat"
	bestHits := 0
	for candidate, words := range intentKeywords {
		hits := 0
		for _, w := range words {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			intent = candidate
		}
	}

	complexity := 2
	switch {
	case len(userText) > 600:
		complexity = 8
	case len(userText) > 300:
		complexity = 6
	case len(userText) > 120:
		complexity = 4
	}

	return Analysis{
		Intent:       intent,
		Domains:      []string{intent},
		Complexity:   complexity,
		Entities:     extractEntities(userText),
		Urgent:       containsAny(lower, urgentKeywords),
		BusinessHint: containsAny(lower, businessKeywords),
		RuleBased:    true,
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// extractEntities is a minimal capitalized-word heuristic; good enough for
// the fallback path, which only needs to surface plausible candidates for
// routing and plan-step inputs, not a precise NER result.
func extractEntities(text string) []string {
	var out []string
	for _, word := range strings.Fields(text) {
		trimmed := strings.Trim(word, ".,!?;:\"'()")
		if len(trimmed) > 1 && strings.ToUpper(trimmed[:1]) == trimmed[:1] && strings.ToLower(trimmed) != trimmed {
			out = append(out, trimmed)
		}
		if len(out) >= 8 {
			break
		}
	}
	return out
}
