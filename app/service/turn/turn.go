package turn

import (
	"time"

	"policyvoice/app/model"

	"github.com/google/uuid"
)

type Route string

const (
	RouteBlocked     Route = "blocked"
	RouteEscalated   Route = "escalated"
	RouteSimpleReply Route = "simple_reply"
	RouteAuth        Route = "auth_flow"
	RouteGuest       Route = "guest_flow"
	// RouteAbandoned marks a turn whose caller went away mid-flight.
	RouteAbandoned Route = "abandoned"
)

const ParamSessionID = "session_id"

// Timings collects per-stage latencies.
type Timings struct {
	Classify time.Duration
	Context  time.Duration
	Search   time.Duration
	Response time.Duration
}

// Turn is a freshly received utterance. Later stages are only reachable
// through the transition methods, so each stage value always carries
// everything its predecessors produced.
type Turn struct {
	query     string
	params    map[string]string
	sessionID string
	startedAt time.Time
	timings   Timings
}

func New(query string, params map[string]string) *Turn {
	copied := make(map[string]string, len(params))
	for k, v := range params {
		copied[k] = v
	}

	sessionID := copied[ParamSessionID]
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	return &Turn{
		query:     query,
		params:    copied,
		sessionID: sessionID,
		startedAt: time.Now(),
	}
}

func (t *Turn) Query() string        { return t.query }
func (t *Turn) SessionID() string    { return t.sessionID }
func (t *Turn) StartedAt() time.Time { return t.startedAt }
func (t *Turn) Timings() Timings     { return t.timings }

func (t *Turn) Param(key string) string {
	return t.params[key]
}

// Params returns a copy of the side-channel parameters.
func (t *Turn) Params() map[string]string {
	copied := make(map[string]string, len(t.params))
	for k, v := range t.params {
		copied[k] = v
	}

	return copied
}

func (t *Turn) Classify(decision model.Decision, took time.Duration) *Classified {
	t.timings.Classify = took

	return &Classified{Turn: t, decision: decision}
}

type Classified struct {
	*Turn
	decision model.Decision
}

func (c *Classified) Decision() model.Decision { return c.decision }

func (c *Classified) Enrich(ctx model.CustomerContext, took time.Duration) *Enriched {
	c.timings.Context = took

	return &Enriched{Classified: c, customer: ctx}
}

// Finish completes a turn that never left classification.
func (c *Classified) Finish(route Route, resp model.FinalResponse) *Completed {
	return &Completed{classified: c, route: route, response: resp}
}

type Enriched struct {
	*Classified
	customer model.CustomerContext
}

func (e *Enriched) Customer() model.CustomerContext { return e.customer }

// Personalize is true only when a customer record backs the turn.
func (e *Enriched) Personalize() bool { return e.customer.Found }

// Answer records the search result. A nil answer means search failed.
func (e *Enriched) Answer(answer *model.Answer, took time.Duration) *Answered {
	e.timings.Search = took

	return &Answered{Enriched: e, answer: answer}
}

type Answered struct {
	*Enriched
	answer *model.Answer
}

func (a *Answered) Answer() (model.Answer, bool) {
	if a.answer == nil {
		return model.Answer{}, false
	}

	return *a.answer, true
}

func (a *Answered) Finish(route Route, resp model.FinalResponse, took time.Duration) *Completed {
	a.timings.Response = took

	return &Completed{classified: a.Classified, answered: a, route: route, response: resp}
}

// Completed is a turn with its final response. It has no setters.
type Completed struct {
	classified *Classified
	answered   *Answered
	route      Route
	response   model.FinalResponse
}

func (c *Completed) Route() Route                  { return c.route }
func (c *Completed) Response() model.FinalResponse { return c.response }
func (c *Completed) Decision() model.Decision      { return c.classified.decision }
func (c *Completed) Query() string                 { return c.classified.query }
func (c *Completed) SessionID() string             { return c.classified.sessionID }
func (c *Completed) Param(key string) string       { return c.classified.Param(key) }
func (c *Completed) Timings() Timings              { return c.classified.timings }
func (c *Completed) Elapsed() time.Duration        { return time.Since(c.classified.startedAt) }
func (c *Completed) StartedAt() time.Time          { return c.classified.startedAt }
func (c *Completed) Generated() bool               { return c.answered != nil }

// Customer is the resolved context, zero for short-circuit turns.
func (c *Completed) Customer() (model.CustomerContext, bool) {
	if c.answered == nil {
		return model.CustomerContext{}, false
	}

	return c.answered.customer, true
}

func (c *Completed) Answer() (model.Answer, bool) {
	if c.answered == nil {
		return model.Answer{}, false
	}

	return c.answered.Answer()
}
