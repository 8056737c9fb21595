package guardrails

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"policyvoice/app/model"

	"github.com/go-playground/validator/v10"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const (
	ParamCustomerID  = "customer_id"
	ParamUserID      = "user_id"
	ParamCallerName  = "caller_name"
	ParamPhoneNumber = "phone_number"

	faultReason = "classification unavailable"
)

// Classifier returns the raw JSON classification of a query.
type Classifier interface {
	Classify(ctx context.Context, query string, params map[string]string) ([]byte, error)
}

type payload struct {
	Category           string   `json:"category" validate:"required"`
	Action             string   `json:"action" validate:"required,oneof=allow escalate block"`
	Sentiment          string   `json:"sentiment"`
	IsAuthenticated    bool     `json:"is_authenticated"`
	CustomerID         string   `json:"customer_id"`
	CallerName         string   `json:"caller_name"`
	PhoneNumber        string   `json:"phone_number"`
	Reason             string   `json:"reason"`
	EscalationPriority string   `json:"escalation_priority"`
	Confidence         float64  `json:"confidence" validate:"min=0,max=1"`
	DetectedIssues     []string `json:"detected_issues"`
}

type Service struct {
	classifier Classifier
	validate   *validator.Validate
}

func New(di *do.Injector) (*Service, error) {
	return NewService(do.MustInvoke[Classifier](di)), nil
}

func NewService(classifier Classifier) *Service {
	return &Service{
		classifier: classifier,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Classify never fails: any fault yields the escalation default.
func (s *Service) Classify(ctx context.Context, query string, params map[string]string) model.Decision {
	raw, err := s.classifier.Classify(ctx, query, params)
	if err != nil {
		slog.WarnContext(ctx, "Classification fault", "stage", "call", "error", err)
		return model.SafeDecision(faultReason)
	}

	decision, err := s.parse(raw)
	if err != nil {
		slog.WarnContext(ctx, "Classification fault", "stage", "parse", "error", err)
		return model.SafeDecision(faultReason)
	}

	return applyIdentity(decision, params)
}

func (s *Service) parse(raw []byte) (model.Decision, error) {
	var p payload
	if err := json.Unmarshal(cleanJSON(raw), &p); err != nil {
		return model.Decision{}, oops.In("guardrails").Wrapf(err, "failed to unmarshal classification")
	}

	p.Action = normalize(p.Action)
	p.Category = normalize(p.Category)

	if err := s.validate.Struct(p); err != nil {
		return model.Decision{}, oops.In("guardrails").Wrapf(err, "invalid classification")
	}

	return model.Decision{
		Category:           model.Category(p.Category),
		Action:             model.Action(p.Action),
		Sentiment:          model.ParseSentiment(p.Sentiment),
		IsAuthenticated:    p.IsAuthenticated,
		CustomerID:         strings.TrimSpace(p.CustomerID),
		CallerName:         strings.TrimSpace(p.CallerName),
		PhoneNumber:        strings.TrimSpace(p.PhoneNumber),
		Reason:             p.Reason,
		EscalationPriority: model.ParsePriority(p.EscalationPriority),
		Confidence:         p.Confidence,
		DetectedIssues:     p.DetectedIssues,
	}, nil
}

// applyIdentity lets session parameters override whatever the model
// inferred from the utterance.
func applyIdentity(d model.Decision, params map[string]string) model.Decision {
	id := firstNonEmpty(params[ParamCustomerID], params[ParamUserID])
	if id != "" {
		d.CustomerID = id
	}
	if name := strings.TrimSpace(params[ParamCallerName]); name != "" {
		d.CallerName = name
	}
	if phone := strings.TrimSpace(params[ParamPhoneNumber]); phone != "" {
		d.PhoneNumber = phone
	}

	if d.CustomerID != "" {
		d.IsAuthenticated = true
	}

	return d
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func cleanJSON(raw []byte) []byte {
	result := strings.TrimSpace(string(raw))
	result = strings.Trim(result, "`")
	result = strings.TrimSpace(result)
	result = strings.TrimPrefix(result, "json")
	result = strings.TrimSpace(result)

	return []byte(result)
}
