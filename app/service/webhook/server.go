package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"policyvoice/app/config"
	"policyvoice/app/model"
	"policyvoice/app/service/flow"
	"policyvoice/app/service/response"
	"policyvoice/app/service/turn"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

const (
	shutdownTimeout = 10 * time.Second
	readTimeout     = 30 * time.Second
)

type TurnRunner interface {
	RunTurn(ctx context.Context, query string, params map[string]string) model.FinalResponse
}

// Replies are the fixed answers given without running a turn.
type Replies interface {
	Clarify() model.FinalResponse
	TechnicalIssue() model.FinalResponse
}

var _ do.Shutdownable = (*Server)(nil)

type Server struct {
	app      *fiber.App
	runner   TurnRunner
	replies  Replies
	sessions *Sessions
	addr     string
}

func New(di *do.Injector) (*Server, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewServer(
		do.MustInvoke[*flow.Router](di),
		do.MustInvoke[*response.Assembler](di),
		NewSessions(sessionTTL),
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
	), nil
}

func NewServer(runner TurnRunner, replies Replies, sessions *Sessions, addr string) *Server {
	s := &Server{
		runner:   runner,
		replies:  replies,
		sessions: sessions,
		addr:     addr,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "policyvoice",
		DisableStartupMessage: true,
		ReadTimeout:           readTimeout,
		ErrorHandler:          s.handleError,
	})
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))

	s.app.Get("/health", s.health)
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	s.app.Post("/webhook", s.webhook)
	s.app.Post("/", s.webhook)
	s.app.Post("/test", s.test)

	return s
}

func (s *Server) App() *fiber.App {
	return s.app
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Webhook server starting", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(shutdownTimeout)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "healthy", "agent": "policyvoice"})
}

func (s *Server) webhook(c *fiber.Ctx) error {
	var req Request
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		slog.Warn("Malformed webhook request", "error", err)
		return c.JSON(s.technicalIssue())
	}

	return c.JSON(s.handle(c.UserContext(), req))
}

func (s *Server) test(c *fiber.Ctx) error {
	var body TestRequest
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid JSON body")
	}

	if body.Text == "" {
		body.Text = "Hello"
	}

	return c.JSON(s.handle(c.UserContext(), Request{
		Text: body.Text,
		SessionInfo: SessionInfo{
			Session:    testSession,
			Parameters: body.Parameters,
		},
	}))
}

func (s *Server) handle(ctx context.Context, req Request) Response {
	session := req.SessionInfo.Session
	if session == "" {
		session = "unknown-session"
	}

	query := req.Query()
	if query == "" {
		slog.WarnContext(ctx, "No user query found in request", "session", session)
		clarify := s.replies.Clarify()
		return buildResponse([]string{clarify.SpeechText}, session, req.SessionInfo.Parameters, clarify.ShouldEscalate)
	}

	sessionID := req.SessionID()
	if sessionID == "" {
		sessionID = session
	}

	params, release := s.sessions.Acquire(sessionID, StringParams(req.SessionInfo.Parameters))
	defer release()
	params[turn.ParamSessionID] = sessionID

	slog.DebugContext(ctx, "Processing query", "session_id", sessionID, "query_length", len(query))

	resp := s.runner.RunTurn(ctx, query, params)

	return buildResponse(
		[]string{resp.SpeechText, resp.FollowUpPrompt},
		session,
		req.SessionInfo.Parameters,
		resp.ShouldEscalate,
	)
}

// handleError answers with a technical issue handoff so the caller is never
// left without a reply, panics included.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	var e *fiber.Error
	if errors.As(err, &e) && e.Code < fiber.StatusInternalServerError {
		return c.Status(e.Code).JSON(fiber.Map{"error": e.Message})
	}

	slog.Error("Webhook error", "path", c.Path(), "error", err)

	return c.Status(fiber.StatusOK).JSON(s.technicalIssue())
}

func (s *Server) technicalIssue() Response {
	resp := s.replies.TechnicalIssue()

	return buildResponse([]string{resp.SpeechText}, errorSession, nil, resp.ShouldEscalate)
}
