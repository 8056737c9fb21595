package seed

import (
	"context"
	"log/slog"
	"os"

	"policyvoice/app/model"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

// Writer is implemented by the storage clients.
type Writer interface {
	UpsertProfile(ctx context.Context, p model.CustomerProfile) error
	UpsertLimits(ctx context.Context, tier string, limits model.TierLimits) error
}

type Fixture struct {
	Customers  []Customer                  `yaml:"customers" validate:"dive"`
	TierLimits map[string]map[string]int64 `yaml:"tier_limits" validate:"dive,keys,required,endkeys,min=1"`
}

type Customer struct {
	ID                string   `yaml:"id" validate:"required"`
	Name              string   `yaml:"name" validate:"required"`
	Tier              string   `yaml:"tier"`
	Item1Sum          int64    `yaml:"item_1_sum" validate:"min=0"`
	Item2Sum          int64    `yaml:"item_2_sum" validate:"min=0"`
	StandardExcess    int64    `yaml:"standard_excess" validate:"min=0"`
	ExtraExcess       int64    `yaml:"extra_excess" validate:"min=0"`
	AddOns            []string `yaml:"add_ons"`
	SpecialConditions []string `yaml:"special_conditions"`
}

func (c Customer) Profile() model.CustomerProfile {
	return model.CustomerProfile{
		CustomerID:        c.ID,
		Name:              c.Name,
		Tier:              c.Tier,
		Item1Sum:          c.Item1Sum,
		Item2Sum:          c.Item2Sum,
		StandardExcess:    c.StandardExcess,
		ExtraExcess:       c.ExtraExcess,
		AddOns:            c.AddOns,
		SpecialConditions: c.SpecialConditions,
	}
}

func LoadFile(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.With("path", path).Errorf("failed to read fixture file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Fixture, error) {
	var fixture Fixture

	if err := yaml.Unmarshal(data, &fixture); err != nil {
		return nil, oops.Errorf("failed to parse YAML fixture: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(fixture); err != nil {
		return nil, oops.Errorf("failed to validate fixture: %w", err)
	}

	return &fixture, nil
}

// Apply upserts tier limits first, then customer profiles.
func Apply(ctx context.Context, w Writer, fixture *Fixture) error {
	for tier, limits := range fixture.TierLimits {
		if err := w.UpsertLimits(ctx, tier, limits); err != nil {
			return oops.In("seed").With("tier", tier).Wrapf(err, "failed to seed limits")
		}
	}

	for _, c := range fixture.Customers {
		if err := w.UpsertProfile(ctx, c.Profile()); err != nil {
			return oops.In("seed").With("customer_id", c.ID).Wrapf(err, "failed to seed customer")
		}
	}

	slog.Info("Fixture applied", "customers", len(fixture.Customers), "tiers", len(fixture.TierLimits))

	return nil
}
