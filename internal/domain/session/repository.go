package session

//go:generate go run go.uber.org/mock/mockgen -destination=mocks/mock_repository.go -package=mocks . Repository,EventPublisher

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines persistence for sessions.
//
// Every method that depends on the current time takes it explicitly so that
// validity is decided by the caller's clock, not the storage backend's.
type Repository interface {
	// CreateAndTrim inserts s and, in the same atomic step, deletes the least
	// recently accessed valid sessions of s.UserID so that at most maxPerUser
	// valid sessions remain. s.CreatedAt is used as "now". The evicted
	// sessions are returned.
	CreateAndTrim(ctx context.Context, s *Session, maxPerUser int) ([]*Session, error)
	// GetByTokenHash returns nil when the session is missing or not valid at now.
	GetByTokenHash(ctx context.Context, tokenHash string, now time.Time) (*Session, error)
	// ListActiveByUser returns valid sessions ordered by last access, most recent first.
	ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*Session, error)
	// UpdateLastAccessed is a no-op for unknown tokens.
	UpdateLastAccessed(ctx context.Context, tokenHash string, at time.Time) error
	// DeleteByTokenHash returns the deleted session, or nil if none existed.
	DeleteByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	DeleteByUser(ctx context.Context, userID uuid.UUID) (int, error)
	// DeleteExpired removes every session with expires_at <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
