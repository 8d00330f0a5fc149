package provider

import (
	"context"
	"encoding/json"
	"strings"
)

// Offline is a Generator for development and load testing. It never leaves
// the process and answers with a fixed report skeleton.
type Offline struct{}

func (Offline) Generate(ctx context.Context, p Prompt, _ int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &Error{Message: "canceled", Err: err}
	}
	out, _ := json.Marshal(map[string]any{
		"executive_summary": "Offline draft generated without a model call.",
		"market_analysis":   firstLine(p.User),
		"financials":        map[string]any{},
		"risks":             []string{},
		"swot":              map[string][]string{"strengths": {}, "weaknesses": {}, "opportunities": {}, "threats": {}},
		"recommendation":    "Configure ANTHROPIC_API_KEY for a full report.",
	})
	return string(out), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
