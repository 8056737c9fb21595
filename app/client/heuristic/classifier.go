package heuristic

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"policyvoice/app/model"

	"github.com/elliotchance/pie/v2"
)

var securityKeywords = []string{
	"ignore previous", "ignore all previous", "system prompt", "jailbreak",
	"pretend you are", "developer mode", "other customer", "someone else's",
	"credit card number", "password",
}

var legalKeywords = []string{
	"lawyer", "solicitor", "attorney", "suing", "sue you", "lawsuit", "legal action",
	"court", "ombudsman", "tribunal",
}

var complaintKeywords = []string{
	"complaint", "complain", "unacceptable", "ridiculous", "disgusted",
	"worst", "terrible service",
}

var claimsKeywords = []string{
	"claim", "accident", "stolen", "theft", "damage", "damaged", "flood",
	"fire", "broken", "lodge",
}

var policyKeywords = []string{
	"policy", "cover", "covered", "excess", "premium", "insurance", "limit",
	"add-on", "addon", "renew", "contents", "tier", "sum insured",
}

var outOfScopeKeywords = []string{
	"weather", "recipe", "football", "stock price", "movie", "joke",
}

var frustratedKeywords = []string{
	"frustrated", "fed up", "sick of", "again and again", "third time",
	"nobody helps", "still waiting",
}

var negativeKeywords = []string{
	"angry", "upset", "annoyed", "disappointed", "unhappy", "worried",
}

var positiveKeywords = []string{
	"thanks", "thank you", "great", "awesome", "perfect", "appreciate", "love",
}

var greetingWords = []string{"hi", "hello", "hey", "g'day", "good morning", "good afternoon", "good evening"}
var thanksWords = []string{"thanks", "thank you", "cheers", "much appreciated"}
var goodbyeWords = []string{"bye", "goodbye", "see you", "that's all", "that is all"}

var customerIDPattern = regexp.MustCompile(`(?i)\b(?:customer|member|policy)\s*(?:id|number|no\.?)?\s*(?:is\s*)?[:#]?\s*([A-Z]{1,4}-?\d{3,10})\b`)

type result struct {
	Category           model.Category  `json:"category"`
	Action             model.Action    `json:"action"`
	Sentiment          model.Sentiment `json:"sentiment"`
	IsAuthenticated    bool            `json:"is_authenticated"`
	CustomerID         string          `json:"customer_id,omitempty"`
	Reason             string          `json:"reason,omitempty"`
	EscalationPriority model.Priority  `json:"escalation_priority"`
	Confidence         float64         `json:"confidence"`
	DetectedIssues     []string        `json:"detected_issues,omitempty"`
}

// Classifier classifies queries by keyword heuristics. No model call.
type Classifier struct{}

func New() *Classifier {
	return &Classifier{}
}

func (c *Classifier) Classify(_ context.Context, query string, _ map[string]string) ([]byte, error) {
	return json.Marshal(classify(query))
}

func classify(query string) result {
	lower := strings.ToLower(strings.TrimSpace(query))

	r := result{
		Sentiment:          sentiment(lower),
		Action:             model.ActionAllow,
		EscalationPriority: model.PriorityNormal,
		Confidence:         0.6,
	}

	if m := customerIDPattern.FindStringSubmatch(query); len(m) == 2 {
		r.CustomerID = strings.ToUpper(m[1])
		r.IsAuthenticated = true
	}

	switch {
	case containsAny(lower, securityKeywords):
		r.Category = model.CategorySecurityRisk
		r.Action = model.ActionBlock
		r.Reason = "possible manipulation attempt"
		r.DetectedIssues = matched(lower, securityKeywords)
	case containsAny(lower, legalKeywords):
		r.Category = model.CategoryUrgentLegal
		r.Action = model.ActionEscalate
		r.Reason = "legal matter"
		r.EscalationPriority = model.PriorityUrgent
		r.DetectedIssues = matched(lower, legalKeywords)
	case r.Sentiment == model.SentimentFrustrated:
		r.Category = model.CategoryComplaint
		r.Action = model.ActionEscalate
		r.Reason = "customer frustrated"
		r.EscalationPriority = model.PriorityHigh
	case containsAny(lower, complaintKeywords):
		r.Category = model.CategoryComplaint
	case containsAny(lower, claimsKeywords):
		r.Category = model.CategoryClaimsInquiry
	case containsAny(lower, policyKeywords):
		r.Category = model.CategoryUserQuestion
	case isShort(lower) && hasPhrase(lower, thanksWords):
		r.Category = model.CategoryThanks
		r.Confidence = 0.9
	case isShort(lower) && hasPhrase(lower, goodbyeWords):
		r.Category = model.CategoryGoodbye
		r.Confidence = 0.9
	case isShort(lower) && hasPhrase(lower, greetingWords):
		r.Category = model.CategoryGreeting
		r.Confidence = 0.9
	case containsAny(lower, outOfScopeKeywords):
		r.Category = model.CategoryOutOfScope
		r.Action = model.ActionBlock
		r.Reason = "not an insurance question"
	default:
		r.Category = model.CategoryUserQuestion
		r.Confidence = 0.4
	}

	return r
}

func sentiment(lower string) model.Sentiment {
	switch {
	case containsAny(lower, frustratedKeywords):
		return model.SentimentFrustrated
	case containsAny(lower, negativeKeywords):
		return model.SentimentNegative
	case containsAny(lower, positiveKeywords):
		return model.SentimentPositive
	default:
		return model.SentimentNeutral
	}
}

func isShort(lower string) bool {
	return len(strings.Fields(lower)) <= 6
}

func containsAny(lower string, keywords []string) bool {
	return pie.Any(keywords, func(k string) bool {
		return strings.Contains(lower, k)
	})
}

func matched(lower string, keywords []string) []string {
	return pie.Filter(keywords, func(k string) bool {
		return strings.Contains(lower, k)
	})
}

// hasPhrase matches whole words so "hi" does not fire on "this".
func hasPhrase(lower string, phrases []string) bool {
	padded := " " + strings.Map(func(r rune) rune {
		if strings.ContainsRune(".,!?;:", r) {
			return ' '
		}
		return r
	}, lower) + " "

	return pie.Any(phrases, func(p string) bool {
		return strings.Contains(padded, " "+p+" ")
	})
}
