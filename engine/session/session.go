// Package session holds per-conversation context: the selected region and
// the ordered turn history that region inheritance reads from.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FloatChatAI/floatchat-engine/engine/domain"
)

// Turn is one completed question/answer exchange: the question, the plan it
// resolved to (mode and region), and the answer summary.
type Turn struct {
	Question string           `json:"question"`
	Answer   string           `json:"answer"`
	Mode     domain.QueryMode `json:"mode"`
	Region   *domain.Region   `json:"region,omitempty"`
	At       time.Time        `json:"at"`
}

// Snapshot is a read-only copy of a session's state at one instant.
type Snapshot struct {
	ID     string         `json:"id"`
	Region *domain.Region `json:"region,omitempty"`
	Turns  []Turn         `json:"turns"`
}

// Session is one conversation's mutable state. The turn mutex serializes
// question processing per session so turns append in strict order even when
// a client fires requests concurrently.
type Session struct {
	id string

	turnMu sync.Mutex // held across an entire question/answer cycle

	mu     sync.RWMutex
	region *domain.Region
	turns  []Turn
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Lock acquires the per-session turn lock. Callers hold it from question
// arrival until the turn is recorded or abandoned.
func (s *Session) Lock() { s.turnMu.Lock() }

// Unlock releases the per-session turn lock.
func (s *Session) Unlock() { s.turnMu.Unlock() }

// Snapshot copies the current state. The region pointer is copied by value
// so callers cannot mutate session state through it.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{ID: s.id, Turns: make([]Turn, len(s.turns))}
	copy(snap.Turns, s.turns)
	if s.region != nil {
		r := *s.region
		snap.Region = &r
	}
	return snap
}

// SelectRegion sets the session's active region, superseding any previous
// selection.
func (s *Session) SelectRegion(r domain.Region) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.region = &r
}

// Region returns the active region, or nil if none was selected.
func (s *Session) Region() *domain.Region {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.region == nil {
		return nil
	}
	r := *s.region
	return &r
}

// AppendTurn records a completed exchange at the end of the history.
func (s *Session) AppendTurn(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.At.IsZero() {
		t.At = time.Now()
	}
	s.turns = append(s.turns, t)
}

// Store tracks live sessions by id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{sessions: map[string]*Session{}}
}

// Get returns the session for id, creating it on first use. An empty id
// gets a fresh session under a generated id.
func (st *Store) Get(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if ok {
		return s
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if s, ok := st.sessions[id]; ok {
		return s
	}
	s = &Session{id: id}
	st.sessions[id] = s
	return s
}

// Lookup returns the session for id without creating one.
func (st *Store) Lookup(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	s, ok := st.sessions[id]
	return s, ok
}

// End discards a session and all its context.
func (st *Store) End(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, id)
}

// Len reports the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}
