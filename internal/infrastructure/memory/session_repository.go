package memory

import (
	"context"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/diner/internal/domain/session"
)

type sessionEntry struct {
	mu      sync.Mutex
	session *domain.Session
}

// SessionRepository keeps sessions in process memory. Update holds a per-session lock across
// the read-modify-write, so concurrent requests of one client are serialized.
// Lock order is entry before map: mu is never held while waiting for an entry lock.
type SessionRepository struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionRepository returns a store whose sessions expire ttl after their last update.
// A zero ttl keeps sessions forever.
func NewSessionRepository(ttl time.Duration) *SessionRepository {
	return &SessionRepository{
		sessions: make(map[string]*sessionEntry),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (r *SessionRepository) entry(id string, create bool) *sessionEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok && create {
		e = &sessionEntry{}
		r.sessions[id] = e
	}
	return e
}

// live reports whether e is still the entry registered under id.
func (r *SessionRepository) live(id string, e *sessionEntry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id] == e
}

// lockEntry returns the registered entry for id with its lock held, retrying when a Sweep
// unregisters the entry between lookup and lock.
func (r *SessionRepository) lockEntry(id string) *sessionEntry {
	for {
		e := r.entry(id, true)
		e.mu.Lock()
		if r.live(id, e) {
			return e
		}
		e.mu.Unlock()
	}
}

func (r *SessionRepository) expired(s *domain.Session) bool {
	return s == nil || (r.ttl > 0 && r.now().Sub(s.UpdatedAt) > r.ttl)
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	_ = ctx
	if id == "" {
		return nil, domain.ErrMissingID
	}
	e := r.entry(id, false)
	if e == nil {
		return nil, domain.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if r.expired(e.session) {
		return nil, domain.ErrNotFound
	}
	return e.session.Clone(), nil
}

func (r *SessionRepository) Update(ctx context.Context, id string, fn domain.Mutator) (*domain.Session, error) {
	if id == "" {
		return nil, domain.ErrMissingID
	}
	e := r.lockEntry(id)
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	working := domain.New(id)
	if !r.expired(e.session) {
		working = e.session.Clone()
	}
	if err := fn(working); err != nil {
		return nil, err
	}
	working.Touch()
	e.session = working
	return working.Clone(), nil
}

func (r *SessionRepository) Delete(ctx context.Context, id string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (r *SessionRepository) Sweep() int {
	r.mu.Lock()
	snapshot := make(map[string]*sessionEntry, len(r.sessions))
	for id, e := range r.sessions {
		snapshot[id] = e
	}
	r.mu.Unlock()

	removed := 0
	for id, e := range snapshot {
		e.mu.Lock()
		if r.expired(e.session) {
			r.mu.Lock()
			if r.sessions[id] == e {
				delete(r.sessions, id)
				removed++
			}
			r.mu.Unlock()
		}
		e.mu.Unlock()
	}
	return removed
}
