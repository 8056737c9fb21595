package customer

import (
	"fmt"
	"strings"

	"policyvoice/app/model"

	"github.com/dustin/go-humanize"
)

// Summarize renders the one-paragraph briefing handed to the response stage.
func Summarize(c model.CustomerContext) string {
	if !c.Found {
		if c.IsGuest {
			return model.GuestContext().Summary
		}
		return model.NotFoundContext().Summary
	}

	name := c.Profile.Name
	if name == "" {
		name = "User"
	}
	tier := c.Profile.Tier
	if tier == "" {
		tier = defaultTier
	}

	parts := []string{fmt.Sprintf("%s is a %s tier user", name, tier)}

	if c.Profile.Item1Sum > 0 {
		parts = append(parts, fmt.Sprintf("with $%s item_1 cover", humanize.Comma(c.Profile.Item1Sum)))
	}
	if c.Profile.ExtraExcess > 0 {
		parts = append(parts, fmt.Sprintf("Extra excess: $%s", humanize.Comma(c.Profile.ExtraExcess)))
	}

	if c.HasPriorInteractions {
		if c.TotalPriorCalls > 1 {
			parts = append(parts, fmt.Sprintf("Returning user (%d previous calls)", c.TotalPriorCalls))
		}
		if c.LastTopic != "" {
			parts = append(parts, "Last discussed: "+c.LastTopic)
		}
		if len(c.UnresolvedIssues) > 0 {
			parts = append(parts, "Unresolved issues: "+strings.Join(c.UnresolvedIssues, ", "))
		}
		if c.SentimentTrend == model.TrendDeclining {
			parts = append(parts, "Sentiment declining - handle with care")
		}
	} else {
		parts = append(parts, "This appears to be their first call")
	}

	return strings.Join(parts, ". ") + "."
}
