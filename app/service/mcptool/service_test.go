package mcptool

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"policyvoice/app/model"
	"policyvoice/app/service/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	query  string
	params map[string]string
}

func (r *fakeRunner) RunTurn(_ context.Context, query string, params map[string]string) model.FinalResponse {
	r.query = query
	r.params = params

	return model.FinalResponse{
		Decision:   model.ResponseRespond,
		SpeechText: "Your excess is $250.",
	}
}

type toolResult struct {
	Result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		IsError bool `json:"isError"`
	} `json:"result"`
}

func callTool(t *testing.T, s *Service, args map[string]any) toolResult {
	t.Helper()

	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      ToolAsk,
			"arguments": args,
		},
	})
	require.NoError(t, err)

	resp := s.MCPServer().HandleMessage(context.Background(), msg)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var result toolResult
	require.NoError(t, json.Unmarshal(data, &result), string(data))

	return result
}

func TestAsk(t *testing.T) {
	runner := &fakeRunner{}
	s := NewService(runner)

	result := callTool(t, s, map[string]any{
		"query":       "what is my excess",
		"session_id":  "sess-1",
		"customer_id": "CUST-1",
	})

	require.False(t, result.Result.IsError)
	require.NotEmpty(t, result.Result.Content)

	var resp model.FinalResponse
	require.NoError(t, json.Unmarshal([]byte(result.Result.Content[0].Text), &resp))
	assert.Equal(t, "Your excess is $250.", resp.SpeechText)

	assert.Equal(t, "what is my excess", runner.query)
	assert.Equal(t, "sess-1", runner.params[turn.ParamSessionID])
	assert.Equal(t, "CUST-1", runner.params["customer_id"])
	assert.NotContains(t, runner.params, "caller_name")
}

func TestAsk_GeneratesSession(t *testing.T) {
	runner := &fakeRunner{}

	callTool(t, NewService(runner), map[string]any{"query": "hello"})

	assert.True(t, strings.HasPrefix(runner.params[turn.ParamSessionID], "mcp-"))
}

func TestAsk_MissingQuery(t *testing.T) {
	runner := &fakeRunner{}

	result := callTool(t, NewService(runner), map[string]any{"query": "  "})

	assert.True(t, result.Result.IsError)
	assert.Empty(t, runner.query)
}
