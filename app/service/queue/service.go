package queue

import (
	"context"
	"log/slog"
	"sync"

	"policyvoice/app/config"
	"policyvoice/app/service/persistence"
	"policyvoice/app/service/turn"

	"github.com/samber/do"
)

var _ do.Shutdownable = (*Service)(nil)

type Persister interface {
	Persist(ctx context.Context, done *turn.Completed) persistence.Result
}

// Service persists completed turns off the request goroutine.
type Service struct {
	persister Persister
	queue     chan *turn.Completed
	inline    bool

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	s := NewService(do.MustInvoke[*persistence.Stage](di), cfg.Pipeline.QueueSize, cfg.Pipeline.SyncPersistence)
	s.Start()

	return s, nil
}

func NewService(persister Persister, size int, inline bool) *Service {
	return &Service{
		persister: persister,
		queue:     make(chan *turn.Completed, size),
		inline:    inline,
	}
}

func (s *Service) Start() {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for done := range s.queue {
			s.persist(done)
		}
	}()
}

// Submit hands a turn to the worker. When the queue is full or closed the
// turn is persisted inline so telemetry is never dropped.
func (s *Service) Submit(done *turn.Completed) {
	if s.inline {
		s.persist(done)
		return
	}

	s.mu.RLock()
	if !s.closed {
		select {
		case s.queue <- done:
			s.mu.RUnlock()
			return
		default:
			slog.Warn("Persistence queue is full, persisting inline", "session_id", done.SessionID())
		}
	}
	s.mu.RUnlock()

	s.persist(done)
}

func (s *Service) persist(done *turn.Completed) {
	result := s.persister.Persist(context.Background(), done)

	if result.Handoff != nil {
		slog.Info("Handoff prepared",
			"session_id", done.SessionID(),
			"customer", result.Handoff.CustomerName,
			"reason", result.Handoff.EscalationReason,
			"notes", result.Handoff.AgentNotes,
		)
	}
}

func (s *Service) Shutdown() error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	s.wg.Wait()

	return nil
}
