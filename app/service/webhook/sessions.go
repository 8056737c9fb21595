package webhook

import (
	"sync"
	"time"
)

const sessionTTL = 30 * time.Minute

// identityParams survive across turns of one session when a later request omits them.
var identityParams = []string{
	"customer_id",
	"policy_number",
	"caller_name",
	"phone_number",
}

type session struct {
	mu       sync.Mutex
	identity map[string]string
	lastSeen time.Time
}

// Sessions keeps sticky caller identity per session. Turns of one session
// run one at a time.
type Sessions struct {
	mu      sync.Mutex
	entries map[string]*session
	ttl     time.Duration
	now     func() time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = sessionTTL
	}

	return &Sessions{
		entries: make(map[string]*session),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Acquire locks the session and merges params with the stored identity.
// The returned release func must be called once the turn is done.
func (s *Sessions) Acquire(id string, params map[string]string) (map[string]string, func()) {
	entry := s.entry(id)
	entry.mu.Lock()

	merged := make(map[string]string, len(params)+len(identityParams))
	for k, v := range params {
		merged[k] = v
	}

	for _, key := range identityParams {
		if v := merged[key]; v != "" {
			entry.identity[key] = v
		} else if stored := entry.identity[key]; stored != "" {
			merged[key] = stored
		}
	}

	// phone number falls back to the caller line identity
	if merged["phone_number"] == "" && merged["ani"] != "" {
		merged["phone_number"] = merged["ani"]
	}

	return merged, entry.mu.Unlock
}

func (s *Sessions) entry(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if key != id && now.Sub(e.lastSeen) > s.ttl && e.mu.TryLock() {
			delete(s.entries, key)
			e.mu.Unlock()
		}
	}

	e, ok := s.entries[id]
	if !ok {
		e = &session{identity: make(map[string]string)}
		s.entries[id] = e
	}
	e.lastSeen = now

	return e
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}
