package llm

import (
	"fmt"
	"strings"

	"policyvoice/app/config"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms/openai"
)

func newModel(mc config.ModelConfig) (*openai.LLM, error) {
	llm, err := openai.New(
		openai.WithBaseURL(mc.BaseURL),
		openai.WithToken(mc.Token),
		openai.WithModel(mc.Model),
		openai.WithCallback(LogCallbackHandler{}),
	)
	if err != nil {
		return nil, oops.In("llm").With("model", mc.Model).Wrapf(err, "failed to create model")
	}

	return llm, nil
}

// render fills {key} placeholders in a single pass, so placeholders that
// appear inside substituted values are left as they are.
func render(template string, values map[string]any) string {
	oldnew := make([]string, 0, 2*len(values))
	for _, key := range pie.Sort(pie.Keys(values)) {
		oldnew = append(oldnew, "{"+key+"}", fmt.Sprint(values[key]))
	}

	return strings.NewReplacer(oldnew...).Replace(template)
}

func trimJSON(result string) string {
	result = strings.TrimSpace(result)
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")

	return strings.TrimSpace(result)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}

	return s
}
