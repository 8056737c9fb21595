package model

import "strings"

type Category string

const (
	CategoryUserQuestion  Category = "user_question"
	CategoryClaimsInquiry Category = "claims_inquiry"
	CategoryComplaint     Category = "complaint"
	CategoryUrgentLegal   Category = "urgent_legal"
	CategoryOutOfScope    Category = "out_of_scope"
	CategorySecurityRisk  Category = "security_risk"
	CategoryGreeting      Category = "greeting"
	CategoryThanks        Category = "thanks"
	CategoryGoodbye       Category = "goodbye"
)

// IsSimple reports whether the category is answered with a canned reply.
func (c Category) IsSimple() bool {
	return c == CategoryGreeting || c == CategoryThanks || c == CategoryGoodbye
}

type Action string

const (
	ActionAllow    Action = "allow"
	ActionEscalate Action = "escalate"
	ActionBlock    Action = "block"
)

type Sentiment string

const (
	SentimentPositive   Sentiment = "positive"
	SentimentNeutral    Sentiment = "neutral"
	SentimentNegative   Sentiment = "negative"
	SentimentFrustrated Sentiment = "frustrated"
)

func ParseSentiment(s string) Sentiment {
	switch v := Sentiment(strings.ToLower(strings.TrimSpace(s))); v {
	case SentimentPositive, SentimentNeutral, SentimentNegative, SentimentFrustrated:
		return v
	default:
		return SentimentNeutral
	}
}

type Priority string

const (
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) Priority {
	switch v := Priority(strings.ToLower(strings.TrimSpace(s))); v {
	case PriorityNormal, PriorityHigh, PriorityUrgent:
		return v
	default:
		return PriorityNormal
	}
}

// Decision is the classification result of a single turn.
type Decision struct {
	Category           Category  `json:"category"`
	Action             Action    `json:"action"`
	Sentiment          Sentiment `json:"sentiment"`
	IsAuthenticated    bool      `json:"is_authenticated"`
	CustomerID         string    `json:"customer_id,omitempty"`
	CallerName         string    `json:"caller_name,omitempty"`
	PhoneNumber        string    `json:"phone_number,omitempty"`
	Reason             string    `json:"reason,omitempty"`
	EscalationPriority Priority  `json:"escalation_priority"`
	Confidence         float64   `json:"confidence"`
	DetectedIssues     []string  `json:"detected_issues,omitempty"`
}

// SafeDecision is used whenever the classifier output cannot be trusted.
func SafeDecision(reason string) Decision {
	return Decision{
		Category:           CategoryOutOfScope,
		Action:             ActionEscalate,
		Sentiment:          SentimentNeutral,
		IsAuthenticated:    false,
		Reason:             reason,
		EscalationPriority: PriorityNormal,
	}
}
