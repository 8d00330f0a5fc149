package report

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/reportledger/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		want     string
		degraded bool
	}{
		{"plain json", `{"summary":"ok"}`, `{"summary":"ok"}`, false},
		{"fenced json", "```json\n{\"summary\":\"ok\"}\n```", `{"summary":"ok"}`, false},
		{"bare fence", "```\n{\"summary\":\"ok\"}\n```", `{"summary":"ok"}`, false},
		{"prose around json", "Here is your report:\n{\"summary\":\"ok\"}\nGood luck!", `{"summary":"ok"}`, false},
		{"prose only", "I think this business is viable.", `{"raw_text":"I think this business is viable."}`, true},
		{"broken json", `{"summary": "ok"`, `{"raw_text":"{\"summary\": \"ok\""}`, true},
		{"array is not a report", `[1,2,3]`, `{"raw_text":"[1,2,3]"}`, true},
		{"null is not a report", `null`, `{"raw_text":"null"}`, true},
		{"fenced null", "```json\nnull\n```", "{\"raw_text\":\"```json\\nnull\\n```\"}", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got.Payload))
			assert.Equal(t, tt.degraded, got.Degraded)
		})
	}
}

func TestParse_Empty(t *testing.T) {
	for _, in := range []string{"", "   \n", "```\n```"} {
		_, err := Parse(in)
		require.ErrorIs(t, err, domain.ErrEmptyOutput, "input %q", in)
	}
}

func TestParse_PayloadIsValidJSON(t *testing.T) {
	got, err := Parse("```json\n{\"a\": [1, 2]}\n```")
	require.NoError(t, err)
	require.True(t, json.Valid(got.Payload))
}

func TestBuildPrompt(t *testing.T) {
	idea := domain.BusinessIdea{Title: "Mobile coffee cart", Description: "Espresso at the beach", Region: "Lisbon"}

	free := BuildPrompt(idea, domain.ReportFree)
	premium := BuildPrompt(idea, domain.ReportPremium)

	assert.Contains(t, free.User, "Mobile coffee cart")
	assert.Contains(t, free.User, "Region: Lisbon")
	assert.NotContains(t, free.User, "Industry:")
	assert.NotContains(t, free.User, "swot")
	assert.Contains(t, premium.User, "swot")
	assert.True(t, strings.HasPrefix(premium.User, "Business idea:"))
	assert.NotEmpty(t, premium.System)
}
