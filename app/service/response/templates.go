package response

import (
	_ "embed"

	"policyvoice/app/model"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

const defaultKey = "default"

type Template struct {
	Messages []string `yaml:"messages" validate:"min=1,dive,required"`
	FollowUp string   `yaml:"follow_up"`
	Tone     string   `yaml:"tone"`
}

type Catalog struct {
	Blocked        map[string]Template `yaml:"blocked" validate:"required,dive"`
	Simple         map[string]Template `yaml:"simple" validate:"required,dive"`
	Escalation     map[string]Template `yaml:"escalation" validate:"required,dive"`
	TechnicalIssue Template            `yaml:"technical_issue"`
	Clarify        Template            `yaml:"clarify"`
	NoAnswer       Template            `yaml:"no_answer"`
}

func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(templatesYAML)
}

func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, oops.In("response").Wrapf(err, "failed to parse templates")
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(catalog); err != nil {
		return nil, oops.In("response").Wrapf(err, "invalid templates")
	}

	for name, group := range map[string]map[string]Template{
		"blocked":    catalog.Blocked,
		"escalation": catalog.Escalation,
	} {
		if _, ok := group[defaultKey]; !ok {
			return nil, oops.In("response").Errorf("templates group %q has no default", name)
		}
	}

	return &catalog, nil
}

func (c *Catalog) BlockedFor(category model.Category) Template {
	if t, ok := c.Blocked[string(category)]; ok {
		return t
	}

	return c.Blocked[defaultKey]
}

// SimpleFor falls back to the greeting for categories without a canned reply.
func (c *Catalog) SimpleFor(category model.Category) Template {
	if t, ok := c.Simple[string(category)]; ok {
		return t
	}

	return c.Simple[string(model.CategoryGreeting)]
}

// EscalationFor prefers the legal template, then the frustrated one.
func (c *Catalog) EscalationFor(category model.Category, sentiment model.Sentiment) Template {
	if category == model.CategoryUrgentLegal {
		if t, ok := c.Escalation[string(model.CategoryUrgentLegal)]; ok {
			return t
		}
	}
	if sentiment == model.SentimentFrustrated {
		if t, ok := c.Escalation[string(model.SentimentFrustrated)]; ok {
			return t
		}
	}

	return c.Escalation[defaultKey]
}
