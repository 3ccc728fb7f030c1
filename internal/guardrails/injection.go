// Package guardrails screens user input before it reaches a generative model.
package guardrails

import "strings"

// Result is the outcome of a screen. Score is the weight of the strongest
// matched pattern.
type Result struct {
	Allowed bool     `json:"allowed"`
	Flags   []string `json:"flags,omitempty"`
	Score   float64  `json:"score"`
}

type pattern struct {
	text   string
	weight float64
	flag   string
}

var injectionPatterns = []pattern{
	{"ignore previous instructions", 0.9, "override_attempt"},
	{"ignore all previous", 0.9, "override_attempt"},
	{"disregard your instructions", 0.9, "override_attempt"},
	{"forget your instructions", 0.85, "override_attempt"},
	{"you are now", 0.7, "role_hijack"},
	{"pretend you are", 0.7, "role_hijack"},
	{"act as if you", 0.6, "role_hijack"},
	{"system prompt:", 0.8, "system_leak"},
	{"reveal your system", 0.8, "system_leak"},
	{"show me your prompt", 0.8, "system_leak"},
	{"what are your instructions", 0.7, "system_leak"},
	{"ignore safety", 0.9, "safety_bypass"},
	{"bypass your filters", 0.9, "safety_bypass"},
	{"jailbreak", 0.9, "jailbreak"},
	{"dan mode", 0.9, "jailbreak"},
	{"do anything now", 0.85, "jailbreak"},
	{"</system>", 0.8, "tag_injection"},
	{"<system>", 0.8, "tag_injection"},
	{"[system]", 0.7, "tag_injection"},
	{"### instruction", 0.6, "format_injection"},
	{"```system", 0.7, "format_injection"},
}

// InjectionScreen flags text containing known prompt injection phrasing.
// It is a pure heuristic and makes no model calls.
type InjectionScreen struct {
	threshold float64
}

// NewInjectionScreen blocks text whose strongest pattern weight exceeds 0.7.
func NewInjectionScreen() *InjectionScreen {
	return &InjectionScreen{threshold: 0.7}
}

func (d *InjectionScreen) Check(text string) Result {
	lower := strings.ToLower(text)
	res := Result{Allowed: true}
	for _, p := range injectionPatterns {
		if !strings.Contains(lower, p.text) {
			continue
		}
		res.Score = max(res.Score, p.weight)
		res.Flags = append(res.Flags, p.flag)
	}
	res.Allowed = res.Score <= d.threshold
	return res
}

// Screen reports whether question must be kept from the generative backend.
func (d *InjectionScreen) Screen(question string) ([]string, bool) {
	r := d.Check(question)
	return r.Flags, !r.Allowed
}
