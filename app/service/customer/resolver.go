package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"policyvoice/app/config"
	"policyvoice/app/model"
	"policyvoice/app/util/retry"

	"github.com/samber/do"
)

const defaultTier = "Standard"

type ProfileStore interface {
	FetchProfile(ctx context.Context, customerID string) (model.CustomerProfile, error)
}

type LimitsStore interface {
	FetchLimits(ctx context.Context, tier string) (model.TierLimits, error)
}

type HistoryStore interface {
	FetchHistory(ctx context.Context, customerID string, limit int) (model.HistorySnapshot, error)
}

// Store is the combined capability a single backend usually provides.
type Store interface {
	ProfileStore
	LimitsStore
	HistoryStore
}

type Resolver struct {
	profiles     ProfileStore
	limits       LimitsStore
	history      HistoryStore
	policy       retry.Policy
	historyLimit int
	summarize    func(model.CustomerContext) string
}

func New(di *do.Injector) (*Resolver, error) {
	cfg := do.MustInvoke[*config.Config](di)
	store := do.MustInvoke[Store](di)

	policy := retry.Policy{
		MaxAttempts: cfg.Pipeline.MaxAttempts,
		Backoff:     cfg.Pipeline.Backoff,
		Timeout:     cfg.Pipeline.CallTimeout,
	}

	return NewResolver(store, store, store, policy, cfg.Pipeline.HistoryLimit), nil
}

func NewResolver(profiles ProfileStore, limits LimitsStore, history HistoryStore, policy retry.Policy, historyLimit int) *Resolver {
	return &Resolver{
		profiles:     profiles,
		limits:       limits,
		history:      history,
		policy:       policy,
		historyLimit: historyLimit,
		summarize:    Summarize,
	}
}

// Resolve never fails. Missing or unreachable records degrade the context
// instead of aborting the turn.
func (r *Resolver) Resolve(ctx context.Context, customerID string) model.CustomerContext {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return model.NotFoundContext()
	}

	logger := slog.With("customer_id", customerID)

	profile, err := retry.Do(ctx, r.policy, "fetch_profile", func(ctx context.Context) (model.CustomerProfile, error) {
		profile, err := r.profiles.FetchProfile(ctx, customerID)
		return profile, permanentIfMissing(err)
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			logger.InfoContext(ctx, "Customer not found")
		} else {
			logger.WarnContext(ctx, "Profile lookup failed", "error", err)
		}
		return model.NotFoundContext()
	}

	if profile.Tier == "" {
		profile.Tier = defaultTier
	}

	result := model.CustomerContext{
		Found:          true,
		Profile:        profile,
		SentimentTrend: model.TrendUnknown,
	}

	limits, err := retry.Do(ctx, r.policy, "fetch_limits", func(ctx context.Context) (model.TierLimits, error) {
		limits, err := r.limits.FetchLimits(ctx, profile.Tier)
		return limits, permanentIfMissing(err)
	})
	if err != nil {
		logger.WarnContext(ctx, "Tier limits lookup failed", "tier", profile.Tier, "error", err)
	} else {
		result.Limits = limits
	}

	snapshot, err := retry.Do(ctx, r.policy, "fetch_history", func(ctx context.Context) (model.HistorySnapshot, error) {
		return r.history.FetchHistory(ctx, customerID, r.historyLimit)
	})
	if err != nil {
		logger.WarnContext(ctx, "History lookup failed", "error", err)
	} else {
		result.HasPriorInteractions = snapshot.HasHistory
		result.TotalPriorCalls = snapshot.TotalCalls
		result.LastTopic = snapshot.LastTopic
		result.LastInteractionAt = snapshot.LastInteractionAt
		result.UnresolvedIssues = snapshot.UnresolvedIssues
		result.ConversationSummary = snapshot.Summary
		if snapshot.SentimentTrend != "" {
			result.SentimentTrend = snapshot.SentimentTrend
		}
	}

	result.Summary = r.safeSummary(result)

	return result
}

func permanentIfMissing(err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return retry.Permanent(err)
	}

	return err
}

func (r *Resolver) safeSummary(c model.CustomerContext) (summary string) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Summary generation failed", "customer_id", c.Profile.CustomerID, "panic", rec)
			summary = fmt.Sprintf("%s - context available but summary generation failed", c.Profile.Name)
		}
	}()

	return r.summarize(c)
}
