package mcptool

import (
	"context"
	"strings"

	"policyvoice/app/model"
	"policyvoice/app/service/flow"
	"policyvoice/app/service/guardrails"
	"policyvoice/app/service/turn"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/samber/do"
)

const (
	serverName    = "policyvoice"
	serverVersion = "1.0.0"

	ToolAsk = "ask_policyvoice"
)

type TurnRunner interface {
	RunTurn(ctx context.Context, query string, params map[string]string) model.FinalResponse
}

// Service exposes the turn engine as an MCP tool over stdio.
type Service struct {
	runner TurnRunner
	server *server.MCPServer
}

func New(di *do.Injector) (*Service, error) {
	return NewService(do.MustInvoke[*flow.Router](di)), nil
}

func NewService(runner TurnRunner) *Service {
	s := &Service{
		runner: runner,
		server: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(false)),
	}

	s.server.AddTool(
		mcp.NewTool(ToolAsk,
			mcp.WithDescription("Ask the insurance voice assistant a question as a caller would. Returns the spoken reply and whether the call should go to a live agent."),
			mcp.WithString("query", mcp.Required(), mcp.Description("Caller utterance")),
			mcp.WithString("session_id", mcp.Description("Reuse to keep one conversation")),
			mcp.WithString(guardrails.ParamCustomerID, mcp.Description("Known customer id, makes the caller authenticated")),
			mcp.WithString(guardrails.ParamCallerName, mcp.Description("Caller name")),
			mcp.WithString(guardrails.ParamPhoneNumber, mcp.Description("Caller phone number")),
		),
		s.ask,
	)

	return s
}

func (s *Service) MCPServer() *server.MCPServer {
	return s.server
}

func (s *Service) Serve() error {
	return server.ServeStdio(s.server)
}

func (s *Service) ask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil || strings.TrimSpace(query) == "" {
		return mcp.NewToolResultError("query is required"), nil
	}

	params := map[string]string{
		turn.ParamSessionID: req.GetString("session_id", "mcp-"+uuid.NewString()),
	}
	for _, key := range []string{guardrails.ParamCustomerID, guardrails.ParamCallerName, guardrails.ParamPhoneNumber} {
		if v := req.GetString(key, ""); v != "" {
			params[key] = v
		}
	}

	resp := s.runner.RunTurn(ctx, query, params)

	return mcp.NewToolResultJSON(resp)
}
