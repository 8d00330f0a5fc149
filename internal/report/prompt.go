// Package report builds the generation prompt for a business idea and turns
// provider output into a stored payload.
package report

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/reportledger/internal/domain"
	"github.com/punchamoorthee/reportledger/internal/provider"
)

const systemPrompt = `You are a business analyst writing feasibility reports.
Respond with a single JSON object and nothing else.`

// Sections requested from the model. Premium reports ask for the full set.
var (
	freeSections    = []string{"executive_summary", "market_analysis", "risks", "recommendation"}
	premiumSections = []string{"executive_summary", "market_analysis", "competitors", "financials", "risks", "swot", "go_to_market", "recommendation"}
)

// BuildPrompt renders the idea into a provider prompt sized by report type.
func BuildPrompt(idea domain.BusinessIdea, reportType domain.ReportType) provider.Prompt {
	sections := freeSections
	if reportType == domain.ReportPremium {
		sections = premiumSections
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Business idea: %s\n\n", idea.Title)
	fmt.Fprintf(&b, "Description:\n%s\n\n", idea.Description)
	if idea.Industry != "" {
		fmt.Fprintf(&b, "Industry: %s\n", idea.Industry)
	}
	if idea.Region != "" {
		fmt.Fprintf(&b, "Region: %s\n", idea.Region)
	}
	if idea.Budget != "" {
		fmt.Fprintf(&b, "Budget: %s\n", idea.Budget)
	}
	if idea.Audience != "" {
		fmt.Fprintf(&b, "Target audience: %s\n", idea.Audience)
	}
	fmt.Fprintf(&b, "\nReturn ONLY valid JSON with these keys: %s.\n", strings.Join(sections, ", "))
	if reportType == domain.ReportPremium {
		b.WriteString(`"swot" holds "strengths", "weaknesses", "opportunities" and "threats" arrays. `)
		b.WriteString(`"financials" holds startup cost, monthly burn and break-even estimates.` + "\n")
	}

	return provider.Prompt{System: systemPrompt, User: b.String()}
}
