package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"policyvoice/app/model"
	"policyvoice/app/service/persistence"
	"policyvoice/app/service/turn"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPersister struct {
	mu       sync.Mutex
	sessions []string
	block    chan struct{}
}

func (p *countingPersister) Persist(_ context.Context, done *turn.Completed) persistence.Result {
	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.sessions = append(p.sessions, done.SessionID())
	return persistence.Result{TelemetryLogged: true}
}

func (p *countingPersister) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.sessions)
}

func completed(session string) *turn.Completed {
	return turn.New("hi", map[string]string{turn.ParamSessionID: session}).
		Classify(model.Decision{Category: model.CategoryGreeting}, 0).
		Finish(turn.RouteSimpleReply, model.FinalResponse{SpeechText: "Hello"})
}

func TestSubmit_WorkerPersists(t *testing.T) {
	p := &countingPersister{}
	s := NewService(p, 4, false)
	s.Start()

	s.Submit(completed("a"))
	s.Submit(completed("b"))

	require.NoError(t, s.Shutdown())
	assert.Equal(t, []string{"a", "b"}, p.sessions)
}

func TestSubmit_InlineMode(t *testing.T) {
	p := &countingPersister{}
	s := NewService(p, 1, true)

	s.Submit(completed("a"))

	assert.Equal(t, 1, p.count())
}

func TestSubmit_FullQueueRunsInline(t *testing.T) {
	p := &countingPersister{}
	// no worker started, so the single slot fills up
	s := NewService(p, 1, false)

	s.Submit(completed("queued"))
	s.Submit(completed("inline"))

	assert.Equal(t, []string{"inline"}, p.sessions)
}

func TestShutdown_DrainsQueue(t *testing.T) {
	p := &countingPersister{block: make(chan struct{})}
	s := NewService(p, 8, false)
	s.Start()

	for _, id := range []string{"a", "b", "c"} {
		s.Submit(completed(id))
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(p.block)
	}()

	require.NoError(t, s.Shutdown())
	assert.Equal(t, 3, p.count())
}

func TestSubmit_AfterShutdownRunsInline(t *testing.T) {
	p := &countingPersister{}
	s := NewService(p, 1, false)
	s.Start()
	require.NoError(t, s.Shutdown())
	require.NoError(t, s.Shutdown())

	s.Submit(completed("late"))

	assert.Equal(t, 1, p.count())
}
