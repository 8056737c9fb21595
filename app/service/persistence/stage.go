package persistence

import (
	"context"
	"log/slog"
	"strconv"

	"policyvoice/app/config"
	"policyvoice/app/model"
	"policyvoice/app/service/history"
	"policyvoice/app/service/turn"
	"policyvoice/app/util/retry"

	"github.com/google/uuid"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	FlowAuthenticated = "authenticated"
	FlowGuest         = "guest"

	topicGeneral = "general_inquiry"
)

type TelemetrySink interface {
	LogTelemetry(ctx context.Context, record model.TelemetryRecord) error
}

type HistoryWriter interface {
	AppendInteraction(ctx context.Context, customerID string, interaction model.Interaction) error
}

type Result struct {
	TelemetryLogged   bool
	ConversationSaved bool
	Errors            []error
	Handoff           *model.Handoff
}

type Stage struct {
	telemetry TelemetrySink
	history   HistoryWriter
	policy    retry.Policy
}

func New(di *do.Injector) (*Stage, error) {
	cfg := do.MustInvoke[*config.Config](di)

	policy := retry.Policy{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff:     cfg.Pipeline.Backoff,
		Timeout:     cfg.Pipeline.CallTimeout,
	}

	return NewStage(do.MustInvoke[TelemetrySink](di), do.MustInvoke[HistoryWriter](di), policy), nil
}

func NewStage(telemetry TelemetrySink, history HistoryWriter, policy retry.Policy) *Stage {
	return &Stage{
		telemetry: telemetry,
		history:   history,
		policy:    policy,
	}
}

// Persist records telemetry for every turn and appends authenticated
// conversations to the customer's history. Failures are collected, never returned.
func (s *Stage) Persist(ctx context.Context, done *turn.Completed) Result {
	var result Result

	record := BuildTelemetry(done)

	_, err := retry.Do(ctx, s.policy, "log_telemetry", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.telemetry.LogTelemetry(ctx, record)
	})
	if err != nil {
		result.Errors = append(result.Errors, oops.In("persistence").With("session_id", done.SessionID()).Wrapf(err, "telemetry"))
	} else {
		result.TelemetryLogged = true
	}

	if shouldSaveConversation(done) {
		customerID := done.Decision().CustomerID
		interaction := BuildInteraction(done)

		_, err = retry.Do(ctx, s.policy, "append_interaction", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, s.history.AppendInteraction(ctx, customerID, interaction)
		})
		if err != nil {
			result.Errors = append(result.Errors, oops.In("persistence").With("customer_id", customerID).Wrapf(err, "conversation"))
		} else {
			result.ConversationSaved = true
		}
	}

	if done.Response().ShouldEscalate {
		handoff := BuildHandoff(done)
		result.Handoff = &handoff
	}

	for _, e := range result.Errors {
		slog.WarnContext(ctx, "Persistence failed", "session_id", done.SessionID(), "error", e)
	}

	return result
}

// shouldSaveConversation holds for any turn that produced a generated answer
// for an authenticated caller, including one demoted to the guest flow.
func shouldSaveConversation(done *turn.Completed) bool {
	d := done.Decision()
	return done.Generated() && d.IsAuthenticated && d.CustomerID != ""
}

func TopicFor(category model.Category) string {
	switch category {
	case model.CategoryUserQuestion, model.CategoryClaimsInquiry, model.CategoryComplaint:
		return string(category)
	default:
		return topicGeneral
	}
}

func ResolutionFor(resp model.FinalResponse) model.ResolutionStatus {
	if resp.ShouldEscalate {
		return model.ResolutionEscalated
	}

	return model.ResolutionResolved
}

func BuildInteraction(done *turn.Completed) model.Interaction {
	d := done.Decision()
	resp := done.Response()

	return model.Interaction{
		Timestamp:        done.StartedAt().UTC(),
		SessionID:        done.SessionID(),
		Query:            history.Truncate(done.Query(), history.MaxQueryLength),
		Response:         history.Truncate(resp.SpeechText, history.MaxResponseLength),
		Topic:            TopicFor(d.Category),
		Sentiment:        d.Sentiment,
		WasEscalated:     resp.ShouldEscalate,
		EscalationReason: resp.EscalationReason,
		ResolutionStatus: ResolutionFor(resp),
	}
}

func BuildTelemetry(done *turn.Completed) model.TelemetryRecord {
	d := done.Decision()
	resp := done.Response()
	timings := done.Timings()

	flowType := FlowGuest
	if d.IsAuthenticated {
		flowType = FlowAuthenticated
	}

	record := model.TelemetryRecord{
		ID:               uuid.NewString(),
		Timestamp:        done.StartedAt().UTC(),
		SessionID:        done.SessionID(),
		CustomerID:       d.CustomerID,
		IsAuthenticated:  d.IsAuthenticated,
		Category:         d.Category,
		Sentiment:        d.Sentiment,
		Topic:            TopicFor(d.Category),
		ActionTaken:      resp.Decision,
		WasEscalated:     resp.ShouldEscalate,
		EscalationReason: resp.EscalationReason,
		ResolutionStatus: ResolutionFor(resp),
		Route:            string(done.Route()),
		FlowType:         flowType,
		Latency: model.Latency{
			ClassifyMs: timings.Classify.Milliseconds(),
			ContextMs:  timings.Context.Milliseconds(),
			SearchMs:   timings.Search.Milliseconds(),
			ResponseMs: timings.Response.Milliseconds(),
			TotalMs:    done.Elapsed().Milliseconds(),
		},
		Confidence:     d.Confidence,
		QueryLength:    len([]rune(done.Query())),
		ResponseLength: len([]rune(resp.SpeechText)),
		Metadata: map[string]string{
			"escalation_priority": string(d.EscalationPriority),
		},
	}

	if answer, ok := done.Answer(); ok {
		record.SourceCount = len(answer.Sources)
		record.Metadata["answer_confidence"] = strconv.FormatFloat(answer.Confidence, 'f', 2, 64)
	}
	if customer, ok := done.Customer(); ok {
		record.Metadata["customer_found"] = strconv.FormatBool(customer.Found)
	}

	return record
}
