package seed

import (
	"context"
	"errors"
	"testing"

	"policyvoice/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixtureYAML = `
tier_limits:
  Premium:
    theft: 10000
    water: 20000
customers:
  - id: CUST-1
    name: Jane Doe
    tier: Premium
    item_1_sum: 150000
    standard_excess: 250
    add_ons: [flood]
`

type recordingWriter struct {
	order    []string
	profiles []model.CustomerProfile
	err      error
}

func (w *recordingWriter) UpsertProfile(_ context.Context, p model.CustomerProfile) error {
	w.order = append(w.order, "profile")
	w.profiles = append(w.profiles, p)

	return w.err
}

func (w *recordingWriter) UpsertLimits(_ context.Context, _ string, _ model.TierLimits) error {
	w.order = append(w.order, "limits")

	return w.err
}

func TestParseAndApply(t *testing.T) {
	fixture, err := Parse([]byte(fixtureYAML))
	require.NoError(t, err)

	w := &recordingWriter{}
	require.NoError(t, Apply(context.Background(), w, fixture))

	assert.Equal(t, []string{"limits", "profile"}, w.order)
	require.Len(t, w.profiles, 1)
	assert.Equal(t, "CUST-1", w.profiles[0].CustomerID)
	assert.Equal(t, int64(150000), w.profiles[0].Item1Sum)
	assert.Equal(t, []string{"flood"}, w.profiles[0].AddOns)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("customers:\n  - name: No Id\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("tier_limits:\n  Premium: {}\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("customers: ["))
	assert.Error(t, err)
}

func TestApply_StopsOnError(t *testing.T) {
	fixture, err := Parse([]byte(fixtureYAML))
	require.NoError(t, err)

	w := &recordingWriter{err: errors.New("db down")}

	assert.Error(t, Apply(context.Background(), w, fixture))
	assert.Equal(t, []string{"limits"}, w.order)
}
