package llm

import (
	"context"
	"net/http"
	"time"

	"policyvoice/app/config"
	"policyvoice/app/service/guardrails"

	_ "embed"

	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/sashabaranov/go-openai"
)

//go:embed prompts/classifier.txt
var classifierPromptTemplate string

const (
	maxClassifyDuration   = 10 * time.Second
	classifierTemperature = 0.1
	classifierMaxTokens   = 400
)

var _ guardrails.Classifier = (*Classifier)(nil)

// Classifier asks a chat model for the JSON classification of a query.
type Classifier struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

func NewClassifier(di *do.Injector) (*Classifier, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewClassifierWithConfig(cfg.OpenAI.Classifier, cfg.Pipeline.CallTimeout), nil
}

func NewClassifierWithConfig(mc config.ModelConfig, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = maxClassifyDuration
	}

	clientConfig := openai.DefaultConfig(mc.Token)
	clientConfig.BaseURL = mc.BaseURL
	clientConfig.HTTPClient = &http.Client{
		Timeout: maxClassifyDuration,
	}

	return &Classifier{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   mc.Model,
		timeout: timeout,
	}
}

func (c *Classifier) Classify(ctx context.Context, query string, params map[string]string) ([]byte, error) {
	prompt := render(classifierPromptTemplate, map[string]any{
		"query":        query,
		"customer_id":  orUnknown(params[guardrails.ParamCustomerID]),
		"caller_name":  orUnknown(params[guardrails.ParamCallerName]),
		"phone_number": orUnknown(params[guardrails.ParamPhoneNumber]),
	})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	aiResponse, err := c.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxCompletionTokens: classifierMaxTokens,
			Temperature:         classifierTemperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		},
	)
	if err != nil {
		return nil, oops.In("llm").With("model", c.model).Wrapf(err, "failed to create chat completion")
	}

	if len(aiResponse.Choices) == 0 {
		return nil, oops.In("llm").With("model", c.model).Errorf("no chat completion found")
	}

	return []byte(trimJSON(aiResponse.Choices[0].Message.Content)), nil
}
