package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
)

// SessionRepository implements session.Repository in process memory.
// It suits single-node development and tests.
type SessionRepository struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func NewSessionRepository() *SessionRepository {
	return &SessionRepository{sessions: make(map[string]*session.Session)}
}

func (r *SessionRepository) CreateAndTrim(ctx context.Context, s *session.Session, maxPerUser int) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	active := r.activeByUserLocked(s.UserID, s.CreatedAt)
	var evicted []*session.Session
	if maxPerUser > 0 && len(active) >= maxPerUser {
		evicted = active[maxPerUser-1:]
		for _, e := range evicted {
			delete(r.sessions, e.TokenHash)
		}
	}
	r.sessions[s.TokenHash] = clone(s)
	return evicted, nil
}

func (r *SessionRepository) GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[tokenHash]
	if !ok || !s.IsValid(now) {
		return nil, nil
	}
	return clone(s), nil
}

func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeByUserLocked(userID, now), nil
}

func (r *SessionRepository) UpdateLastAccessed(ctx context.Context, tokenHash string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[tokenHash]; ok {
		s.LastAccessedAt = at
	}
	return nil
}

func (r *SessionRepository) DeleteByTokenHash(ctx context.Context, tokenHash string) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[tokenHash]
	if !ok {
		return nil, nil
	}
	delete(r.sessions, tokenHash)
	return s, nil
}

func (r *SessionRepository) DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for hash, s := range r.sessions {
		if s.UserID == userID {
			delete(r.sessions, hash)
			n++
		}
	}
	return n, nil
}

func (r *SessionRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for hash, s := range r.sessions {
		if !s.IsValid(now) {
			delete(r.sessions, hash)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored rows, expired or not.
func (r *SessionRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// activeByUserLocked returns copies ordered by last access, most recent first.
func (r *SessionRepository) activeByUserLocked(userID uuid.UUID, now time.Time) []*session.Session {
	var out []*session.Session
	for _, s := range r.sessions {
		if s.UserID == userID && s.IsValid(now) {
			out = append(out, clone(s))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].LastAccessedAt.Equal(out[j].LastAccessedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].LastAccessedAt.After(out[j].LastAccessedAt)
	})
	return out
}

func clone(s *session.Session) *session.Session {
	c := *s
	return &c
}
