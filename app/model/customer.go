package model

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
	TrendUnknown   Trend = "unknown"
)

type CustomerProfile struct {
	CustomerID        string   `json:"customer_id"`
	Name              string   `json:"name"`
	Tier              string   `json:"tier"`
	Item1Sum          int64    `json:"item_1_sum"`
	Item2Sum          int64    `json:"item_2_sum"`
	StandardExcess    int64    `json:"standard_excess"`
	ExtraExcess       int64    `json:"extra_excess"`
	AddOns            []string `json:"add_ons,omitempty"`
	SpecialConditions []string `json:"special_conditions,omitempty"`
}

// TierLimits maps a limit name to its amount for a policy tier.
type TierLimits map[string]int64

type HistorySnapshot struct {
	HasHistory        bool          `json:"has_history"`
	TotalCalls        int           `json:"total_calls"`
	Recent            []Interaction `json:"recent,omitempty"`
	LastTopic         string        `json:"last_topic,omitempty"`
	LastInteractionAt time.Time     `json:"last_interaction_at,omitzero"`
	UnresolvedIssues  []string      `json:"unresolved_issues,omitempty"`
	SentimentTrend    Trend         `json:"sentiment_trend"`
	Summary           string        `json:"summary,omitempty"`
}

// CustomerContext is the enrichment attached to a turn. A context with
// Found=false carries no profile, limits or history.
type CustomerContext struct {
	Found   bool `json:"found"`
	IsGuest bool `json:"is_guest"`

	Profile CustomerProfile `json:"profile"`
	Limits  TierLimits      `json:"tier_limits,omitempty"`

	HasPriorInteractions bool      `json:"has_prior_interactions"`
	TotalPriorCalls      int       `json:"total_prior_calls"`
	LastTopic            string    `json:"last_topic,omitempty"`
	LastInteractionAt    time.Time `json:"last_interaction_at,omitzero"`
	UnresolvedIssues     []string  `json:"unresolved_issues,omitempty"`
	SentimentTrend       Trend     `json:"sentiment_trend"`
	ConversationSummary  string    `json:"conversation_summary,omitempty"`

	Summary string `json:"summary"`
}

func NotFoundContext() CustomerContext {
	return CustomerContext{
		SentimentTrend: TrendUnknown,
		Summary:        "Customer not found",
	}
}

func GuestContext() CustomerContext {
	return CustomerContext{
		IsGuest:        true,
		SentimentTrend: TrendUnknown,
		Summary:        "Guest user - provide generic information",
	}
}
