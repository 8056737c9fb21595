package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	sourceVirtualAgent = "VIRTUAL_AGENT"
	liveAgentPage      = "projects/-/locations/-/agents/-/flows/-/pages/LIVE_AGENT_HANDOFF"
	paramEscalate      = "escalate_to_agent"
	errorSession       = "error"
	testSession        = "test-session-123"
)

// Request is the subset of a Dialogflow CX WebhookRequest the assistant reads.
type Request struct {
	Text            string          `json:"text"`
	Transcript      string          `json:"transcript"`
	FulfillmentInfo FulfillmentInfo `json:"fulfillmentInfo"`
	IntentInfo      json.RawMessage `json:"intentInfo,omitempty"`
	Messages        []Message       `json:"messages"`
	SessionInfo     SessionInfo     `json:"sessionInfo"`
}

type FulfillmentInfo struct {
	Tag string `json:"tag"`
}

type Message struct {
	Source string      `json:"source,omitempty"`
	Text   MessageText `json:"text"`
}

type MessageText struct {
	Text []string `json:"text"`
}

type SessionInfo struct {
	Session    string         `json:"session"`
	Parameters map[string]any `json:"parameters"`
}

type Response struct {
	FulfillmentResponse FulfillmentResponse `json:"fulfillmentResponse"`
	SessionInfo         SessionInfo         `json:"sessionInfo"`
	TargetPage          string              `json:"targetPage,omitempty"`
}

type FulfillmentResponse struct {
	Messages []Message `json:"messages"`
}

type TestRequest struct {
	Text       string         `json:"text"`
	Parameters map[string]any `json:"parameters"`
}

// Query returns the caller utterance: text, transcript or fulfillment tag,
// falling back to the last message not produced by the virtual agent when
// intent info is present.
func (r Request) Query() string {
	for _, candidate := range []string{r.Text, r.Transcript, r.FulfillmentInfo.Tag} {
		if q := strings.TrimSpace(candidate); q != "" {
			return q
		}
	}

	if len(r.IntentInfo) == 0 {
		return ""
	}

	for i := len(r.Messages) - 1; i >= 0; i-- {
		msg := r.Messages[i]
		if msg.Source == sourceVirtualAgent || len(msg.Text.Text) == 0 {
			continue
		}
		if q := strings.TrimSpace(msg.Text.Text[0]); q != "" {
			return q
		}
	}

	return ""
}

// SessionID is the last path segment of the CX session name.
func (r Request) SessionID() string {
	session := r.SessionInfo.Session
	if session == "" {
		return ""
	}

	if idx := strings.LastIndex(session, "/"); idx >= 0 {
		return session[idx+1:]
	}

	return session
}

// StringParams flattens scalar session parameters.
func StringParams(params map[string]any) map[string]string {
	result := make(map[string]string, len(params))
	for key, value := range params {
		switch v := value.(type) {
		case nil:
		case string:
			result[key] = v
		case map[string]any, []any:
		default:
			result[key] = fmt.Sprint(v)
		}
	}

	return result
}

func buildResponse(texts []string, session string, params map[string]any, escalate bool) Response {
	if params == nil {
		params = map[string]any{}
	}

	resp := Response{
		SessionInfo: SessionInfo{
			Session:    session,
			Parameters: params,
		},
	}

	for _, text := range texts {
		if text == "" {
			continue
		}
		resp.FulfillmentResponse.Messages = append(resp.FulfillmentResponse.Messages, Message{
			Text: MessageText{Text: []string{text}},
		})
	}

	if escalate {
		params[paramEscalate] = true
		resp.TargetPage = liveAgentPage
	}

	return resp
}
