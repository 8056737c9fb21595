package history

import (
	"fmt"
	"strings"
	"time"

	"policyvoice/app/model"

	"github.com/elliotchance/pie/v2"
)

const (
	MaxStoredInteractions = 20
	MaxQueryLength        = 500
	MaxResponseLength     = 1000

	trendWindow = 5
)

var sentimentScores = map[model.Sentiment]int{
	model.SentimentPositive:   2,
	model.SentimentNeutral:    1,
	model.SentimentNegative:   -1,
	model.SentimentFrustrated: -2,
}

// SentimentTrend compares the two halves of the most recent interactions.
// Interactions are expected in chronological order.
func SentimentTrend(interactions []model.Interaction) model.Trend {
	if len(interactions) < 2 {
		return model.TrendUnknown
	}

	recent := interactions[max(0, len(interactions)-trendWindow):]
	scores := pie.Map(recent, func(i model.Interaction) int {
		return sentimentScores[i.Sentiment]
	})

	n := len(scores)
	if n < 3 {
		return model.TrendStable
	}

	first := pie.Sum(scores[:n/2])
	second := pie.Sum(scores[n/2:])

	switch {
	case second > first+1:
		return model.TrendImproving
	case second < first-1:
		return model.TrendDeclining
	default:
		return model.TrendStable
	}
}

// AppendCapped adds an interaction and evicts the oldest entries beyond the cap.
func AppendCapped(interactions []model.Interaction, next model.Interaction) []model.Interaction {
	result := append(append([]model.Interaction(nil), interactions...), next)
	if len(result) > MaxStoredInteractions {
		result = result[len(result)-MaxStoredInteractions:]
	}

	return result
}

// UpdateUnresolved adds the topic of a pending interaction and clears it once resolved.
func UpdateUnresolved(issues []string, i model.Interaction) []string {
	if i.Topic == "" {
		return issues
	}

	switch i.ResolutionStatus {
	case model.ResolutionPending:
		if !pie.Contains(issues, i.Topic) {
			return append(issues, i.Topic)
		}
	case model.ResolutionResolved:
		return pie.Filter(issues, func(issue string) bool {
			return issue != i.Topic
		})
	}

	return issues
}

// Apply folds a new interaction into a stored document.
func Apply(doc model.HistoryDocument, i model.Interaction) model.HistoryDocument {
	doc.Interactions = AppendCapped(doc.Interactions, i)
	doc.UnresolvedIssues = UpdateUnresolved(doc.UnresolvedIssues, i)
	doc.UpdatedAt = i.Timestamp

	return doc
}

// Snapshot builds the read model of a document, most recent interactions first.
func Snapshot(doc model.HistoryDocument, limit int) model.HistorySnapshot {
	if len(doc.Interactions) == 0 {
		return model.HistorySnapshot{
			UnresolvedIssues: doc.UnresolvedIssues,
			SentimentTrend:   model.TrendUnknown,
		}
	}

	recent := pie.Bottom(doc.Interactions, limit)
	last := doc.Interactions[len(doc.Interactions)-1]

	return model.HistorySnapshot{
		HasHistory:        true,
		TotalCalls:        len(doc.Interactions),
		Recent:            recent,
		LastTopic:         last.Topic,
		LastInteractionAt: last.Timestamp,
		UnresolvedIssues:  doc.UnresolvedIssues,
		SentimentTrend:    SentimentTrend(doc.Interactions),
		Summary:           format(recent),
	}
}

func format(recent []model.Interaction) string {
	var builder strings.Builder

	for _, i := range recent {
		builder.WriteString(fmt.Sprintf("%s - %s (%s)\n", formatTime(i.Timestamp), i.Topic, i.ResolutionStatus))
	}

	return strings.TrimSuffix(builder.String(), "\n")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown date"
	}

	return t.UTC().Format("2006-01-02 15:04")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
