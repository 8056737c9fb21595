package llm

import (
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"unicode"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

const (
	metaSource = "source"
	metaChunk  = "chunk"

	minTermLength = 3
)

// paragraphSeparators keeps paragraphs together and only breaks a paragraph
// that alone exceeds the chunk size.
var paragraphSeparators = []string{"\n\n", "\n", " "}

// Index is an in-memory keyword index over policy document chunks.
type Index struct {
	docs []schema.Document
}

func NewIndex(docs []schema.Document) *Index {
	return &Index{docs: docs}
}

// LoadIndex reads every .md and .txt file under dir. An empty dir yields an empty index.
func LoadIndex(dir string, chunkSize int) (*Index, error) {
	if dir == "" {
		return &Index{}, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithSeparators(paragraphSeparators),
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(0),
	)

	var docs []schema.Document

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".md" && ext != ".txt" {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}

		chunks, err := textsplitter.CreateDocuments(
			splitter,
			[]string{string(data)},
			[]map[string]any{{metaSource: filepath.ToSlash(rel)}},
		)
		if err != nil {
			return err
		}

		for i := range chunks {
			chunks[i].Metadata[metaChunk] = i
		}
		docs = append(docs, chunks...)

		return nil
	})
	if err != nil {
		return nil, oops.In("llm").With("dir", dir).Wrapf(err, "failed to load knowledge")
	}

	return &Index{docs: docs}, nil
}

func (i *Index) Len() int {
	return len(i.docs)
}

// Search returns up to k chunks ranked by the number of distinct query terms
// they contain. Chunks without any matching term are skipped.
func (i *Index) Search(query string, k int) []schema.Document {
	terms := queryTerms(query)
	if len(terms) == 0 || k <= 0 {
		return nil
	}

	var result []schema.Document
	for _, doc := range i.docs {
		content := strings.ToLower(doc.PageContent)

		score := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				score++
			}
		}
		if score == 0 {
			continue
		}

		doc.Score = float32(score) / float32(len(terms))
		result = append(result, doc)
	}

	slices.SortStableFunc(result, func(a, b schema.Document) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})

	return result[:min(k, len(result))]
}

func queryTerms(query string) []string {
	words := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	return pie.Unique(pie.Filter(words, func(w string) bool {
		return len([]rune(w)) >= minTermLength && !stopWords[w]
	}))
}

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "what": true, "does": true,
	"how": true, "can": true, "you": true, "your": true, "with": true, "this": true,
	"that": true, "have": true, "about": true, "much": true, "there": true, "will": true,
}

func sourceOf(doc schema.Document) string {
	source, _ := doc.Metadata[metaSource].(string)

	return source
}
