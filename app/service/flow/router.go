package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"policyvoice/app/model"
	"policyvoice/app/service/customer"
	"policyvoice/app/service/guardrails"
	"policyvoice/app/service/queue"
	"policyvoice/app/service/response"
	"policyvoice/app/service/turn"

	"github.com/samber/do"
)

type Classifier interface {
	Classify(ctx context.Context, query string, params map[string]string) model.Decision
}

type ContextResolver interface {
	Resolve(ctx context.Context, customerID string) model.CustomerContext
}

type Searcher interface {
	Answer(ctx context.Context, query string, decision model.Decision) (model.Answer, error)
}

type Dispatcher interface {
	Submit(done *turn.Completed)
}

type Router struct {
	classifier Classifier
	resolver   ContextResolver
	searcher   Searcher
	assembler  *response.Assembler
	dispatcher Dispatcher
	metrics    *Metrics
}

func New(di *do.Injector) (*Router, error) {
	return NewRouter(
		do.MustInvoke[*guardrails.Service](di),
		do.MustInvoke[*customer.Resolver](di),
		do.MustInvoke[Searcher](di),
		do.MustInvoke[*response.Assembler](di),
		do.MustInvoke[*queue.Service](di),
	), nil
}

func NewRouter(
	classifier Classifier,
	resolver ContextResolver,
	searcher Searcher,
	assembler *response.Assembler,
	dispatcher Dispatcher,
) *Router {
	return &Router{
		classifier: classifier,
		resolver:   resolver,
		searcher:   searcher,
		assembler:  assembler,
		dispatcher: dispatcher,
		metrics:    NewMetrics(),
	}
}

// RunTurn processes one utterance and returns what should be spoken back.
func (r *Router) RunTurn(ctx context.Context, query string, params map[string]string) model.FinalResponse {
	return r.Run(ctx, query, params).Response()
}

// Run processes one utterance. Persistence is dispatched exactly once per
// turn, including short-circuited and abandoned ones.
func (r *Router) Run(ctx context.Context, query string, params map[string]string) *turn.Completed {
	done := r.route(ctx, turn.New(query, params))

	r.observe(done)
	r.dispatcher.Submit(done)

	slog.InfoContext(ctx, "Turn completed",
		"session_id", done.SessionID(),
		"route", done.Route(),
		"category", done.Decision().Category,
		"decision", done.Response().Decision,
		"escalate", done.Response().ShouldEscalate,
		"elapsed", done.Elapsed(),
	)

	return done
}

func selectRoute(d model.Decision) turn.Route {
	switch {
	case d.Action == model.ActionBlock:
		return turn.RouteBlocked
	case d.Action == model.ActionEscalate:
		return turn.RouteEscalated
	case d.Category.IsSimple():
		return turn.RouteSimpleReply
	case d.Action == model.ActionAllow && d.IsAuthenticated:
		return turn.RouteAuth
	case d.Action == model.ActionAllow:
		return turn.RouteGuest
	default:
		return ""
	}
}

func (r *Router) route(ctx context.Context, t *turn.Turn) *turn.Completed {
	start := time.Now()
	decision := r.classifier.Classify(ctx, t.Query(), t.Params())
	classified := t.Classify(decision, time.Since(start))

	if ctx.Err() != nil {
		return r.abandon(ctx, classified)
	}

	switch route := selectRoute(decision); route {
	case turn.RouteBlocked:
		return classified.Finish(route, r.assembler.Blocked(decision))
	case turn.RouteEscalated:
		return classified.Finish(route, r.assembler.Escalation(decision))
	case turn.RouteSimpleReply:
		return classified.Finish(route, r.assembler.Simple(decision))
	case turn.RouteAuth:
		return r.authFlow(ctx, classified)
	case turn.RouteGuest:
		return r.generate(ctx, classified, model.GuestContext(), turn.RouteGuest, time.Now())
	default:
		panic(fmt.Sprintf("routing invariant violated: no route for action %q category %q", decision.Action, decision.Category))
	}
}

func (r *Router) authFlow(ctx context.Context, classified *turn.Classified) *turn.Completed {
	start := time.Now()
	decision := classified.Decision()

	customerCtx := r.resolver.Resolve(ctx, decision.CustomerID)
	if !customerCtx.Found {
		slog.InfoContext(ctx, "Customer not found, continuing as guest",
			"session_id", classified.SessionID(),
			"customer_id", decision.CustomerID,
		)
		r.metrics.Demotions.Inc()

		return r.generate(ctx, classified, model.GuestContext(), turn.RouteGuest, start)
	}

	return r.generate(ctx, classified, customerCtx, turn.RouteAuth, start)
}

func (r *Router) generate(
	ctx context.Context,
	classified *turn.Classified,
	customerCtx model.CustomerContext,
	route turn.Route,
	contextStart time.Time,
) *turn.Completed {
	enriched := classified.Enrich(customerCtx, time.Since(contextStart))
	if ctx.Err() != nil {
		return r.abandon(ctx, classified)
	}

	searchStart := time.Now()
	var answer *model.Answer
	if result, err := r.searcher.Answer(ctx, enriched.Query(), enriched.Decision()); err != nil {
		slog.WarnContext(ctx, "Search failed", "session_id", enriched.SessionID(), "error", err)
	} else {
		answer = &result
	}
	answered := enriched.Answer(answer, time.Since(searchStart))

	if ctx.Err() != nil {
		return r.abandon(ctx, classified)
	}

	responseStart := time.Now()
	resp := r.assembler.Assemble(ctx, answered)

	return answered.Finish(route, resp, time.Since(responseStart))
}

func (r *Router) abandon(ctx context.Context, classified *turn.Classified) *turn.Completed {
	slog.WarnContext(ctx, "Turn abandoned", "session_id", classified.SessionID(), "error", ctx.Err())

	return classified.Finish(turn.RouteAbandoned, r.assembler.TechnicalIssue())
}

func (r *Router) observe(done *turn.Completed) {
	route := string(done.Route())
	timings := done.Timings()

	r.metrics.TurnsTotal.WithLabelValues(route, string(done.Response().Decision)).Inc()
	r.metrics.TurnDuration.WithLabelValues(route).Observe(done.Elapsed().Seconds())

	for stage, took := range map[string]time.Duration{
		"classify": timings.Classify,
		"context":  timings.Context,
		"search":   timings.Search,
		"response": timings.Response,
	} {
		if took > 0 {
			r.metrics.StageDuration.WithLabelValues(stage).Observe(took.Seconds())
		}
	}
}
