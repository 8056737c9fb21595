package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"policyvoice/app/config"
	"policyvoice/app/model"
	"policyvoice/app/service/response"

	_ "embed"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
)

//go:embed prompts/response.txt
var responsePromptTemplate string

const (
	maxFormatDuration    = 20 * time.Second
	formatterTemperature = 0.4
	formatterMaxTokens   = 500

	guestContext = "Guest caller. Do not personalize and do not mention account details."
)

var _ response.Formatter = (*Formatter)(nil)

// Formatter rewrites an answer for speech and decides whether to hand off.
type Formatter struct {
	model   llms.Model
	timeout time.Duration
}

func NewFormatter(di *do.Injector) (*Formatter, error) {
	cfg := do.MustInvoke[*config.Config](di)

	llm, err := newModel(cfg.OpenAI.Response)
	if err != nil {
		return nil, err
	}

	return NewFormatterWithModel(llm, cfg.Pipeline.CallTimeout), nil
}

func NewFormatterWithModel(llm llms.Model, timeout time.Duration) *Formatter {
	if timeout <= 0 {
		timeout = maxFormatDuration
	}

	return &Formatter{
		model:   llm,
		timeout: timeout,
	}
}

func (f *Formatter) Format(ctx context.Context, in response.Input) (model.FinalResponse, error) {
	userContext := guestContext
	if in.Personalize && in.Customer.Summary != "" {
		userContext = in.Customer.Summary
	}

	sources := "none"
	if len(in.Answer.Sources) > 0 {
		sources = strings.Join(pie.Map(in.Answer.Sources, func(s model.Source) string { return s.Title }), ", ")
	}

	prompt := render(responsePromptTemplate, map[string]any{
		"query":        in.Query,
		"category":     in.Decision.Category,
		"sentiment":    in.Decision.Sentiment,
		"answer":       in.Answer.Text,
		"sources":      sources,
		"user_context": userContext,
	})

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithJSONMode(),
		llms.WithTemperature(formatterTemperature),
		llms.WithMaxTokens(formatterMaxTokens),
	)
	if err != nil {
		return model.FinalResponse{}, oops.In("llm").Wrapf(err, "format generation failed")
	}

	if len(resp.Choices) == 0 {
		return model.FinalResponse{}, oops.In("llm").Errorf("no format completion found")
	}

	var result model.FinalResponse
	if err := json.Unmarshal([]byte(trimJSON(resp.Choices[0].Content)), &result); err != nil {
		return model.FinalResponse{}, oops.In("llm").Wrapf(err, "failed to unmarshal format response")
	}

	result.SpeechText = strings.TrimSpace(result.SpeechText)

	return result, nil
}
