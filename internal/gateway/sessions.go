package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cmdgate-dev/cmdgate/internal/core"
)

// session is one caller's conversation state.
type session struct {
	ID         string
	History    *core.History
	LastActive time.Time
}

// sessionStore keeps per-session histories keyed by caller-supplied ids.
// Requests without a session id get a fresh uuid.
type sessionStore struct {
	mu         sync.Mutex
	sessions   map[string]*session
	newHistory func() *core.History
}

func newSessionStore(newHistory func() *core.History) *sessionStore {
	if newHistory == nil {
		newHistory = func() *core.History { return core.NewHistory() }
	}
	return &sessionStore{
		sessions:   make(map[string]*session),
		newHistory: newHistory,
	}
}

// get returns the session for id, creating it on first sight and marking it
// active. An empty id mints a new session.
func (s *sessionStore) get(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.New().String()
	}
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{ID: id, History: s.newHistory()}
		s.sessions[id] = sess
	}
	sess.LastActive = time.Now()
	return sess
}

// len returns how many sessions are live.
func (s *sessionStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// sweepIdle drops sessions whose last activity predates cutoff and returns
// their ids.
func (s *sessionStore) sweepIdle(cutoff time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var swept []string
	for id, sess := range s.sessions {
		if sess.LastActive.Before(cutoff) {
			delete(s.sessions, id)
			swept = append(swept, id)
		}
	}
	return swept
}
