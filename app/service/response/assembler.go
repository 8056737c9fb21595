package response

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"strings"

	"policyvoice/app/model"
	"policyvoice/app/service/turn"

	"github.com/samber/do"
)

const ReasonTechnicalIssue = "technical_issue"

type Input struct {
	Query       string
	Decision    model.Decision
	Answer      model.Answer
	Customer    model.CustomerContext
	Personalize bool
}

// Formatter turns an answer into speech-ready text.
type Formatter interface {
	Format(ctx context.Context, in Input) (model.FinalResponse, error)
}

// Picker chooses one of n template variations.
type Picker func(n int) int

func RandomPicker(n int) int {
	return rand.IntN(n)
}

func FirstPicker(int) int {
	return 0
}

type Assembler struct {
	formatter Formatter
	catalog   *Catalog
	pick      Picker
}

func New(di *do.Injector) (*Assembler, error) {
	catalog, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}

	return NewAssembler(do.MustInvoke[Formatter](di), catalog, RandomPicker), nil
}

func NewAssembler(formatter Formatter, catalog *Catalog, pick Picker) *Assembler {
	if pick == nil {
		pick = RandomPicker
	}

	return &Assembler{
		formatter: formatter,
		catalog:   catalog,
		pick:      pick,
	}
}

func (a *Assembler) message(t Template) string {
	if len(t.Messages) == 1 {
		return t.Messages[0]
	}

	i := a.pick(len(t.Messages))
	if i < 0 || i >= len(t.Messages) {
		i = 0
	}

	return t.Messages[i]
}

// Blocked answers a refused query politely without escalating.
func (a *Assembler) Blocked(d model.Decision) model.FinalResponse {
	t := a.catalog.BlockedFor(d.Category)

	return model.FinalResponse{
		Decision:       model.ResponseRespond,
		SpeechText:     a.message(t),
		ShouldEscalate: false,
		FollowUpPrompt: t.FollowUp,
	}
}

func (a *Assembler) Escalation(d model.Decision) model.FinalResponse {
	t := a.catalog.EscalationFor(d.Category, d.Sentiment)

	reason := d.Reason
	if reason == "" {
		reason = string(d.Category)
	}

	return model.FinalResponse{
		Decision:         model.ResponseEscalate,
		SpeechText:       a.message(t),
		ShouldEscalate:   true,
		EscalationReason: reason,
	}
}

// Simple answers greetings, thanks and goodbyes. Only a greeting asks a follow-up.
func (a *Assembler) Simple(d model.Decision) model.FinalResponse {
	t := a.catalog.SimpleFor(d.Category)

	resp := model.FinalResponse{
		Decision:   model.ResponseRespond,
		SpeechText: a.message(t),
	}
	if d.Category == model.CategoryGreeting {
		resp.FollowUpPrompt = t.FollowUp
	}

	return resp
}

func (a *Assembler) TechnicalIssue() model.FinalResponse {
	return model.FinalResponse{
		Decision:         model.ResponseEscalate,
		SpeechText:       a.message(a.catalog.TechnicalIssue),
		ShouldEscalate:   true,
		EscalationReason: ReasonTechnicalIssue,
	}
}

func (a *Assembler) Clarify() model.FinalResponse {
	return model.FinalResponse{
		Decision:   model.ResponseClarify,
		SpeechText: a.message(a.catalog.Clarify),
	}
}

// Assemble formats the searched answer. A failed search becomes a technical
// escalation and a failed formatter falls back to the raw answer text.
func (a *Assembler) Assemble(ctx context.Context, answered *turn.Answered) model.FinalResponse {
	answer, ok := answered.Answer()
	if !ok {
		return a.TechnicalIssue()
	}

	if strings.TrimSpace(answer.Text) == "" {
		return a.noAnswer()
	}

	in := Input{
		Query:       answered.Query(),
		Decision:    answered.Decision(),
		Answer:      answer,
		Customer:    answered.Customer(),
		Personalize: answered.Personalize(),
	}

	resp, err := a.formatter.Format(ctx, in)
	if err != nil {
		slog.WarnContext(ctx, "Formatter failed, using answer text", "session_id", answered.SessionID(), "error", err)
		return fallback(answer)
	}

	if strings.TrimSpace(resp.SpeechText) == "" {
		return fallback(answer)
	}

	return normalize(resp)
}

func (a *Assembler) noAnswer() model.FinalResponse {
	t := a.catalog.NoAnswer

	return model.FinalResponse{
		Decision:       model.ResponseRespond,
		SpeechText:     a.message(t),
		FollowUpPrompt: t.FollowUp,
	}
}

func fallback(answer model.Answer) model.FinalResponse {
	return model.FinalResponse{
		Decision:   model.ResponseRespond,
		SpeechText: strings.TrimSpace(answer.Text),
	}
}

func normalize(resp model.FinalResponse) model.FinalResponse {
	switch resp.Decision {
	case model.ResponseEscalate:
		resp.ShouldEscalate = true
	case model.ResponseClarify:
		resp.ShouldEscalate = false
	default:
		resp.Decision = model.ResponseRespond
		if resp.ShouldEscalate {
			resp.Decision = model.ResponseEscalate
		}
	}

	resp.SpeechText = strings.TrimSpace(resp.SpeechText)

	return resp
}
