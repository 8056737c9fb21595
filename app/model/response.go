package model

import "time"

type ResponseDecision string

const (
	ResponseRespond  ResponseDecision = "respond"
	ResponseEscalate ResponseDecision = "escalate"
	ResponseClarify  ResponseDecision = "clarify"
)

type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Answer is the search stage result.
type Answer struct {
	Text       string   `json:"text"`
	Sources    []Source `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`
}

type FinalResponse struct {
	Decision         ResponseDecision `json:"decision"`
	SpeechText       string           `json:"speech_text"`
	ShouldEscalate   bool             `json:"should_escalate"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
	FollowUpPrompt   string           `json:"follow_up_prompt,omitempty"`
}

type ResolutionStatus string

const (
	ResolutionResolved  ResolutionStatus = "resolved"
	ResolutionPending   ResolutionStatus = "pending"
	ResolutionEscalated ResolutionStatus = "escalated"
)

// Interaction is one stored exchange in a customer's history.
type Interaction struct {
	Timestamp        time.Time        `json:"timestamp"`
	SessionID        string           `json:"session_id"`
	Query            string           `json:"query"`
	Response         string           `json:"response"`
	Topic            string           `json:"topic"`
	Sentiment        Sentiment        `json:"sentiment"`
	WasEscalated     bool             `json:"was_escalated"`
	EscalationReason string           `json:"escalation_reason,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolution_status"`
}

// HistoryDocument is the per-customer record held by stores.
type HistoryDocument struct {
	Interactions     []Interaction `json:"interactions"`
	UnresolvedIssues []string      `json:"unresolved_issues"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

type Latency struct {
	ClassifyMs int64 `json:"classify_ms"`
	ContextMs  int64 `json:"context_ms"`
	SearchMs   int64 `json:"search_ms"`
	ResponseMs int64 `json:"response_ms"`
	TotalMs    int64 `json:"total_ms"`
}

type TelemetryRecord struct {
	ID               string            `json:"id"`
	Timestamp        time.Time         `json:"timestamp"`
	SessionID        string            `json:"session_id"`
	CustomerID       string            `json:"customer_id,omitempty"`
	IsAuthenticated  bool              `json:"is_authenticated"`
	Category         Category          `json:"category"`
	Sentiment        Sentiment         `json:"sentiment"`
	Topic            string            `json:"topic"`
	ActionTaken      ResponseDecision  `json:"action_taken"`
	WasEscalated     bool              `json:"was_escalated"`
	EscalationReason string            `json:"escalation_reason,omitempty"`
	ResolutionStatus ResolutionStatus  `json:"resolution_status"`
	Route            string            `json:"route"`
	FlowType         string            `json:"flow_type"`
	Latency          Latency           `json:"latency"`
	Confidence       float64           `json:"confidence"`
	SourceCount      int               `json:"source_count"`
	QueryLength      int               `json:"query_length"`
	ResponseLength   int               `json:"response_length"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// Handoff is the context passed to a live agent on escalation.
type Handoff struct {
	CustomerName     string   `json:"customer_name"`
	Tier             string   `json:"tier"`
	TotalPriorCalls  int      `json:"total_prior_calls"`
	SentimentTrend   Trend    `json:"sentiment_trend"`
	UnresolvedIssues []string `json:"unresolved_issues,omitempty"`
	CurrentQuery     string   `json:"current_query"`
	EscalationReason string   `json:"escalation_reason,omitempty"`
	AgentNotes       []string `json:"agent_notes,omitempty"`
}
