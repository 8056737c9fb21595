package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"policyvoice/app/model"
	"policyvoice/app/service/customer"
	"policyvoice/app/service/guardrails"
	"policyvoice/app/service/history"
	"policyvoice/app/service/persistence"
	"policyvoice/app/service/queue"
	"policyvoice/app/service/response"
	"policyvoice/app/service/turn"
	"policyvoice/app/util/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClassifier struct {
	decision model.Decision
	onCall   func()
}

func (s *stubClassifier) Classify(context.Context, string, map[string]string) model.Decision {
	if s.onCall != nil {
		s.onCall()
	}
	return s.decision
}

type stubResolver struct {
	contexts map[string]model.CustomerContext
	calls    int
}

func (s *stubResolver) Resolve(_ context.Context, id string) model.CustomerContext {
	s.calls++
	if c, ok := s.contexts[id]; ok {
		return c
	}
	return model.NotFoundContext()
}

type stubSearcher struct {
	answer model.Answer
	err    error
	calls  int
}

func (s *stubSearcher) Answer(context.Context, string, model.Decision) (model.Answer, error) {
	s.calls++
	return s.answer, s.err
}

type stubFormatter struct {
	calls int
	last  response.Input
}

func (s *stubFormatter) Format(_ context.Context, in response.Input) (model.FinalResponse, error) {
	s.calls++
	s.last = in
	return model.FinalResponse{Decision: model.ResponseRespond, SpeechText: "formatted: " + in.Answer.Text}, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	done []*turn.Completed
}

func (d *recordingDispatcher) Submit(done *turn.Completed) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = append(d.done, done)
}

type harness struct {
	classifier *stubClassifier
	resolver   *stubResolver
	searcher   *stubSearcher
	formatter  *stubFormatter
	dispatcher *recordingDispatcher
	router     *Router
}

func newHarness(t *testing.T, decision model.Decision) *harness {
	t.Helper()

	catalog, err := response.DefaultCatalog()
	require.NoError(t, err)

	h := &harness{
		classifier: &stubClassifier{decision: decision},
		resolver: &stubResolver{contexts: map[string]model.CustomerContext{
			"C-1": {Found: true, Profile: model.CustomerProfile{CustomerID: "C-1", Name: "Ana", Tier: "Premium"}, Summary: "Ana is a Premium tier user."},
		}},
		searcher:   &stubSearcher{answer: model.Answer{Text: "Your excess is $500."}},
		formatter:  &stubFormatter{},
		dispatcher: &recordingDispatcher{},
	}
	h.router = NewRouter(h.classifier, h.resolver, h.searcher, response.NewAssembler(h.formatter, catalog, response.FirstPicker), h.dispatcher)

	return h
}

func TestSelectRoute_Precedence(t *testing.T) {
	tests := []struct {
		name     string
		decision model.Decision
		want     turn.Route
	}{
		{"block beats everything", model.Decision{Action: model.ActionBlock, Category: model.CategoryGreeting, IsAuthenticated: true}, turn.RouteBlocked},
		{"escalate beats simple", model.Decision{Action: model.ActionEscalate, Category: model.CategoryGreeting}, turn.RouteEscalated},
		{"simple beats auth", model.Decision{Action: model.ActionAllow, Category: model.CategoryThanks, IsAuthenticated: true}, turn.RouteSimpleReply},
		{"auth", model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion, IsAuthenticated: true}, turn.RouteAuth},
		{"guest", model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion}, turn.RouteGuest},
		{"unknown action", model.Decision{Action: "shrug", Category: model.CategoryUserQuestion}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectRoute(tt.decision))
		})
	}
}

func TestRun_Greeting(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryGreeting, Sentiment: model.SentimentPositive})

	done := h.router.Run(context.Background(), "hello", nil)

	assert.Equal(t, turn.RouteSimpleReply, done.Route())
	assert.Equal(t, model.ResponseRespond, done.Response().Decision)
	assert.Equal(t, "How can I help you today?", done.Response().FollowUpPrompt)
	assert.Zero(t, h.resolver.calls)
	assert.Zero(t, h.searcher.calls)
	assert.Zero(t, h.formatter.calls)
	assert.Len(t, h.dispatcher.done, 1)
}

func TestRun_BlockedNeverEscalates(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionBlock, Category: model.CategoryOutOfScope, IsAuthenticated: true, CustomerID: "C-1"})

	resp := h.router.RunTurn(context.Background(), "what's the weather", nil)

	assert.False(t, resp.ShouldEscalate)
	assert.Equal(t, model.ResponseRespond, resp.Decision)
	assert.Equal(t, "How can I assist you today?", resp.FollowUpPrompt)
	assert.Zero(t, h.resolver.calls)
	assert.Zero(t, h.searcher.calls)
}

func TestRun_EscalationShortCircuits(t *testing.T) {
	h := newHarness(t, model.Decision{
		Action:    model.ActionEscalate,
		Category:  model.CategoryUrgentLegal,
		Sentiment: model.SentimentFrustrated,
		Reason:    "legal threat",
	})

	resp := h.router.RunTurn(context.Background(), "I'm calling my lawyer", nil)

	assert.Equal(t, model.ResponseEscalate, resp.Decision)
	assert.True(t, resp.ShouldEscalate)
	assert.Equal(t, "legal threat", resp.EscalationReason)
	assert.Contains(t, resp.SpeechText, "senior member of our team")
	assert.Zero(t, h.searcher.calls)
	assert.Len(t, h.dispatcher.done, 1)
}

func TestRun_AuthenticatedFlow(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion, IsAuthenticated: true, CustomerID: "C-1"})

	done := h.router.Run(context.Background(), "what's my excess?", nil)

	assert.Equal(t, turn.RouteAuth, done.Route())
	assert.Equal(t, "formatted: Your excess is $500.", done.Response().SpeechText)
	assert.True(t, h.formatter.last.Personalize)
	assert.Equal(t, "Ana", h.formatter.last.Customer.Profile.Name)
	assert.Equal(t, 1, h.resolver.calls)
	assert.Equal(t, 1, h.searcher.calls)
	assert.Len(t, h.dispatcher.done, 1)
}

func TestRun_UnknownCustomerDemotesToGuest(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion, IsAuthenticated: true, CustomerID: "C-404"})

	done := h.router.Run(context.Background(), "what's my excess?", nil)

	assert.Equal(t, turn.RouteGuest, done.Route())
	assert.False(t, h.formatter.last.Personalize)
	assert.True(t, h.formatter.last.Customer.IsGuest)
	assert.Equal(t, 1, h.searcher.calls)
}

func TestRun_GuestFlow(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion})

	done := h.router.Run(context.Background(), "what does contents insurance cover?", nil)

	assert.Equal(t, turn.RouteGuest, done.Route())
	assert.Zero(t, h.resolver.calls)
	assert.False(t, h.formatter.last.Personalize)
	assert.Equal(t, "Guest user - provide generic information", h.formatter.last.Customer.Summary)
}

func TestRun_SearchFailureEscalates(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion})
	h.searcher.err = errors.New("index offline")

	resp := h.router.RunTurn(context.Background(), "what is covered?", nil)

	assert.True(t, resp.ShouldEscalate)
	assert.Equal(t, response.ReasonTechnicalIssue, resp.EscalationReason)
	assert.Zero(t, h.formatter.calls)
	assert.Len(t, h.dispatcher.done, 1)
}

func TestRun_CancelledTurnStillPersists(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryUserQuestion})
	h.classifier.onCall = cancel

	done := h.router.Run(ctx, "what is covered?", nil)

	assert.Equal(t, turn.RouteAbandoned, done.Route())
	assert.True(t, done.Response().ShouldEscalate)
	assert.Zero(t, h.searcher.calls)
	assert.Len(t, h.dispatcher.done, 1)
}

func TestRun_InvalidDecisionPanics(t *testing.T) {
	h := newHarness(t, model.Decision{Action: "shrug", Category: model.CategoryUserQuestion})

	assert.Panics(t, func() {
		h.router.Run(context.Background(), "q", nil)
	})
	assert.Empty(t, h.dispatcher.done)
}

func TestRun_SessionIDPropagates(t *testing.T) {
	h := newHarness(t, model.Decision{Action: model.ActionAllow, Category: model.CategoryGoodbye})

	done := h.router.Run(context.Background(), "bye", map[string]string{turn.ParamSessionID: "sess-42"})

	assert.Equal(t, "sess-42", done.SessionID())
	assert.Empty(t, done.Response().FollowUpPrompt)
}

// memoryStore backs the end-to-end test with real resolver, stage and queue.
type memoryStore struct {
	mu        sync.Mutex
	profiles  map[string]model.CustomerProfile
	docs      map[string]model.HistoryDocument
	telemetry []model.TelemetryRecord
}

func (m *memoryStore) FetchProfile(_ context.Context, id string) (model.CustomerProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return p, model.ErrNotFound
	}
	return p, nil
}

func (m *memoryStore) FetchLimits(context.Context, string) (model.TierLimits, error) {
	return model.TierLimits{"item_1_max": 100000}, nil
}

func (m *memoryStore) FetchHistory(_ context.Context, id string, limit int) (model.HistorySnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return history.Snapshot(m.docs[id], limit), nil
}

func (m *memoryStore) AppendInteraction(_ context.Context, id string, i model.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[id] = history.Apply(m.docs[id], i)
	return nil
}

func (m *memoryStore) LogTelemetry(_ context.Context, r model.TelemetryRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.telemetry = append(m.telemetry, r)
	return nil
}

func TestRun_EndToEnd(t *testing.T) {
	store := &memoryStore{
		profiles: map[string]model.CustomerProfile{"C-1": {CustomerID: "C-1", Name: "Ana", Tier: "Premium"}},
		docs:     map[string]model.HistoryDocument{},
	}
	policy := retry.Policy{MaxAttempts: 2, Backoff: time.Millisecond}

	catalog, err := response.DefaultCatalog()
	require.NoError(t, err)

	classifier := guardrails.NewService(&rawClassifier{raw: `{"category":"claims_inquiry","action":"allow","sentiment":"neutral"}`})
	resolver := customer.NewResolver(store, store, store, policy, 5)
	stage := persistence.NewStage(store, store, policy)
	q := queue.NewService(stage, 8, true)

	formatter := &stubFormatter{}
	router := NewRouter(classifier, resolver, &stubSearcher{answer: model.Answer{Text: "Lodge online."}},
		response.NewAssembler(formatter, catalog, response.FirstPicker), q)

	params := map[string]string{guardrails.ParamCustomerID: "C-1"}
	router.RunTurn(context.Background(), "how do I claim?", params)
	router.RunTurn(context.Background(), "and how long does it take?", params)

	require.NoError(t, q.Shutdown())

	assert.Len(t, store.telemetry, 2)
	assert.Len(t, store.docs["C-1"].Interactions, 2)
	// the second turn saw the first one in its context
	assert.True(t, formatter.last.Customer.HasPriorInteractions)
	assert.Equal(t, "claims_inquiry", formatter.last.Customer.LastTopic)
}

type rawClassifier struct {
	raw string
}

func (r *rawClassifier) Classify(context.Context, string, map[string]string) ([]byte, error) {
	return []byte(r.raw), nil
}
