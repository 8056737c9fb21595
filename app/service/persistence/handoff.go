package persistence

import (
	"fmt"
	"strings"

	"policyvoice/app/model"
	"policyvoice/app/service/history"
	"policyvoice/app/service/turn"
)

const (
	frequentCallerThreshold = 3
	premiumTier             = "Premium"
)

// BuildHandoff prepares what a live agent sees when the call is transferred.
func BuildHandoff(done *turn.Completed) model.Handoff {
	d := done.Decision()
	resp := done.Response()

	handoff := model.Handoff{
		CustomerName:     d.CallerName,
		SentimentTrend:   model.TrendUnknown,
		CurrentQuery:     history.Truncate(done.Query(), history.MaxQueryLength),
		EscalationReason: resp.EscalationReason,
	}

	customer, ok := done.Customer()
	if !ok || !customer.Found {
		return handoff
	}

	if customer.Profile.Name != "" {
		handoff.CustomerName = customer.Profile.Name
	}
	handoff.Tier = customer.Profile.Tier
	handoff.TotalPriorCalls = customer.TotalPriorCalls
	handoff.SentimentTrend = customer.SentimentTrend
	handoff.UnresolvedIssues = customer.UnresolvedIssues
	handoff.AgentNotes = agentNotes(customer)

	return handoff
}

func agentNotes(c model.CustomerContext) []string {
	var notes []string

	if c.SentimentTrend == model.TrendDeclining {
		notes = append(notes, "Customer sentiment declining, approach with empathy")
	}
	if c.TotalPriorCalls > frequentCallerThreshold {
		notes = append(notes, fmt.Sprintf("Frequent caller (%d calls), consider priority handling", c.TotalPriorCalls))
	}
	if len(c.UnresolvedIssues) > 0 {
		notes = append(notes, "Has unresolved issues: "+strings.Join(c.UnresolvedIssues, ", "))
	}
	if c.Profile.Tier == premiumTier {
		notes = append(notes, "Premium tier customer")
	}

	return notes
}
