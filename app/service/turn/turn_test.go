package turn

import (
	"testing"
	"time"

	"policyvoice/app/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CopiesParamsAndAssignsSession(t *testing.T) {
	params := map[string]string{"customer_id": "C-1"}
	tr := New("what is my excess?", params)

	params["customer_id"] = "changed"

	assert.Equal(t, "C-1", tr.Param("customer_id"))
	assert.NotEmpty(t, tr.SessionID())
	assert.Equal(t, "what is my excess?", tr.Query())

	p := tr.Params()
	p["customer_id"] = "mutated"
	assert.Equal(t, "C-1", tr.Param("customer_id"))
}

func TestNew_UsesProvidedSession(t *testing.T) {
	tr := New("hi", map[string]string{ParamSessionID: "sess-9"})
	assert.Equal(t, "sess-9", tr.SessionID())
}

func TestShortCircuit(t *testing.T) {
	decision := model.Decision{Category: model.CategoryGreeting, Action: model.ActionAllow}
	resp := model.FinalResponse{Decision: model.ResponseRespond, SpeechText: "Hello"}

	done := New("hi", nil).Classify(decision, time.Millisecond).Finish(RouteSimpleReply, resp)

	assert.Equal(t, RouteSimpleReply, done.Route())
	assert.Equal(t, resp, done.Response())
	assert.Equal(t, decision, done.Decision())
	assert.False(t, done.Generated())

	_, ok := done.Customer()
	assert.False(t, ok)
	_, ok = done.Answer()
	assert.False(t, ok)
}

func TestFullPath(t *testing.T) {
	decision := model.Decision{Category: model.CategoryUserQuestion, Action: model.ActionAllow, IsAuthenticated: true}
	customer := model.CustomerContext{Found: true, Profile: model.CustomerProfile{Name: "Ana"}}
	answer := &model.Answer{Text: "Your excess is $500."}

	enriched := New("excess?", nil).
		Classify(decision, time.Millisecond).
		Enrich(customer, 2*time.Millisecond)
	assert.True(t, enriched.Personalize())

	answered := enriched.Answer(answer, 3*time.Millisecond)
	got, ok := answered.Answer()
	require.True(t, ok)
	assert.Equal(t, "Your excess is $500.", got.Text)

	done := answered.Finish(RouteAuth, model.FinalResponse{SpeechText: "ok"}, 4*time.Millisecond)

	assert.True(t, done.Generated())
	c, ok := done.Customer()
	require.True(t, ok)
	assert.Equal(t, "Ana", c.Profile.Name)

	timings := done.Timings()
	assert.Equal(t, time.Millisecond, timings.Classify)
	assert.Equal(t, 2*time.Millisecond, timings.Context)
	assert.Equal(t, 3*time.Millisecond, timings.Search)
	assert.Equal(t, 4*time.Millisecond, timings.Response)
}

func TestPersonalizeFollowsFound(t *testing.T) {
	enriched := New("q", nil).Classify(model.Decision{}, 0).Enrich(model.GuestContext(), 0)
	assert.False(t, enriched.Personalize())
}

func TestFailedSearch(t *testing.T) {
	answered := New("q", nil).Classify(model.Decision{}, 0).Enrich(model.GuestContext(), 0).Answer(nil, 0)

	_, ok := answered.Answer()
	assert.False(t, ok)
}
