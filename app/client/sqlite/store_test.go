package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"policyvoice/app/model"
	"policyvoice/app/service/history"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "policyvoice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Shutdown() })

	return store
}

func TestProfile_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)

	profile := model.CustomerProfile{
		CustomerID:        "CUST-1",
		Name:              "Jane",
		Tier:              "Premium",
		Item1Sum:          150000,
		StandardExcess:    250,
		AddOns:            []string{"flood"},
		SpecialConditions: nil,
	}
	require.NoError(t, store.UpsertProfile(ctx, profile))

	got, err := store.FetchProfile(ctx, "CUST-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", got.Name)
	assert.Equal(t, int64(150000), got.Item1Sum)
	assert.Equal(t, []string{"flood"}, got.AddOns)
	assert.Empty(t, got.SpecialConditions)

	profile.Name = "Jane Doe"
	require.NoError(t, store.UpsertProfile(ctx, profile))

	got, err = store.FetchProfile(ctx, "CUST-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got.Name)
}

func TestProfile_NotFound(t *testing.T) {
	_, err := openTemp(t).FetchProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLimits(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)

	require.NoError(t, store.UpsertLimits(ctx, "Premium", model.TierLimits{"theft": 5000, "water": 10000}))

	limits, err := store.FetchLimits(ctx, "Premium")
	require.NoError(t, err)
	assert.Equal(t, model.TierLimits{"theft": 5000, "water": 10000}, limits)

	_, err = store.FetchLimits(ctx, "Standard")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestHistory_EmptyCustomer(t *testing.T) {
	snapshot, err := openTemp(t).FetchHistory(context.Background(), "nobody", 5)
	require.NoError(t, err)
	assert.False(t, snapshot.HasHistory)
	assert.Equal(t, model.TrendUnknown, snapshot.SentimentTrend)
}

func TestHistory_AppendIsCappedAndMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	for i := range history.MaxStoredInteractions + 5 {
		require.NoError(t, store.AppendInteraction(ctx, "CUST-1", model.Interaction{
			Timestamp:        base.Add(time.Duration(i) * time.Minute),
			SessionID:        fmt.Sprintf("s-%d", i),
			Topic:            "claims_inquiry",
			Sentiment:        model.SentimentNeutral,
			ResolutionStatus: model.ResolutionResolved,
		}))
	}

	snapshot, err := store.FetchHistory(ctx, "CUST-1", 3)
	require.NoError(t, err)
	assert.True(t, snapshot.HasHistory)
	assert.Equal(t, history.MaxStoredInteractions, snapshot.TotalCalls)
	require.Len(t, snapshot.Recent, 3)
	assert.Equal(t, "s-24", snapshot.Recent[0].SessionID)
	assert.Equal(t, "s-22", snapshot.Recent[2].SessionID)
}

func TestHistory_TracksUnresolved(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)

	require.NoError(t, store.AppendInteraction(ctx, "CUST-1", model.Interaction{
		Timestamp: time.Now(), Topic: "complaint", ResolutionStatus: model.ResolutionPending,
	}))

	snapshot, err := store.FetchHistory(ctx, "CUST-1", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"complaint"}, snapshot.UnresolvedIssues)

	require.NoError(t, store.AppendInteraction(ctx, "CUST-1", model.Interaction{
		Timestamp: time.Now(), Topic: "complaint", ResolutionStatus: model.ResolutionResolved,
	}))

	snapshot, err = store.FetchHistory(ctx, "CUST-1", 5)
	require.NoError(t, err)
	assert.Empty(t, snapshot.UnresolvedIssues)
}

func TestTelemetry(t *testing.T) {
	ctx := context.Background()
	store := openTemp(t)

	for i, route := range []string{"simple_reply", "auth_flow"} {
		require.NoError(t, store.LogTelemetry(ctx, model.TelemetryRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			Timestamp: time.Now(),
			SessionID: "sess",
			Category:  model.CategoryGreeting,
			Route:     route,
		}))
	}

	records, err := store.SessionTelemetry(ctx, "sess")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "simple_reply", records[0].Route)
	assert.Equal(t, "auth_flow", records[1].Route)

	err = store.LogTelemetry(ctx, model.TelemetryRecord{ID: "rec-0", SessionID: "sess"})
	assert.Error(t, err)
}
