package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"policyvoice/app/config"
	"policyvoice/app/model"

	_ "embed"

	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/llms"
)

//go:embed prompts/search.txt
var searchPromptTemplate string

const (
	maxSearchDuration = 30 * time.Second
	searchTemperature = 0.2
	searchMaxTokens   = 600

	noExcerpts = "(no policy documents available)"
)

type searchResponse struct {
	Answer     string  `json:"answer"`
	SourceIDs  []int   `json:"source_ids"`
	Confidence float64 `json:"confidence"`
}

// Searcher answers policy questions from the knowledge index.
type Searcher struct {
	model   llms.Model
	index   *Index
	topK    int
	timeout time.Duration
}

func NewSearcher(di *do.Injector) (*Searcher, error) {
	cfg := do.MustInvoke[*config.Config](di)

	llm, err := newModel(cfg.OpenAI.Search)
	if err != nil {
		return nil, err
	}

	index, err := LoadIndex(cfg.Knowledge.Dir, cfg.Knowledge.ChunkSize)
	if err != nil {
		return nil, err
	}

	return NewSearcherWithModel(llm, index, cfg.Knowledge.TopK, cfg.Pipeline.CallTimeout), nil
}

func NewSearcherWithModel(llm llms.Model, index *Index, topK int, timeout time.Duration) *Searcher {
	if index == nil {
		index = &Index{}
	}
	if timeout <= 0 {
		timeout = maxSearchDuration
	}

	return &Searcher{
		model:   llm,
		index:   index,
		topK:    max(topK, 1),
		timeout: timeout,
	}
}

func (s *Searcher) Answer(ctx context.Context, query string, decision model.Decision) (model.Answer, error) {
	excerpts := s.index.Search(query, s.topK)

	var sb strings.Builder
	for i, doc := range excerpts {
		fmt.Fprintf(&sb, "[%d] %s\n%s\n\n", i+1, sourceOf(doc), doc.PageContent)
	}
	excerptText := strings.TrimSpace(sb.String())
	if excerptText == "" {
		excerptText = noExcerpts
	}

	prompt := render(searchPromptTemplate, map[string]any{
		"query":    query,
		"category": decision.Category,
		"excerpts": excerptText,
	})

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithJSONMode(),
		llms.WithTemperature(searchTemperature),
		llms.WithMaxTokens(searchMaxTokens),
	)
	if err != nil {
		return model.Answer{}, oops.In("llm").Wrapf(err, "search generation failed")
	}

	if len(resp.Choices) == 0 {
		return model.Answer{}, oops.In("llm").Errorf("no search completion found")
	}

	var result searchResponse
	if err := json.Unmarshal([]byte(trimJSON(resp.Choices[0].Content)), &result); err != nil {
		return model.Answer{}, oops.In("llm").Wrapf(err, "failed to unmarshal search response")
	}

	answer := model.Answer{
		Text:       strings.TrimSpace(result.Answer),
		Confidence: min(max(result.Confidence, 0), 1),
	}

	seen := map[int]bool{}
	for _, id := range result.SourceIDs {
		if id < 1 || id > len(excerpts) || seen[id] {
			continue
		}
		seen[id] = true

		answer.Sources = append(answer.Sources, model.Source{Title: sourceOf(excerpts[id-1])})
	}

	return answer, nil
}
