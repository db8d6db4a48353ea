package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/potluck-hub/potluck-hub/internal/domain/session"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/metrics"
)

// DefaultStorageTimeout bounds each storage call on top of the caller's context.
const DefaultStorageTimeout = 5 * time.Second

// Service manages the session lifecycle.
type Service struct {
	repo           domain.Repository
	events         domain.EventPublisher
	metrics        *metrics.Metrics
	ttl            time.Duration
	maxPerUser     int
	storageTimeout time.Duration
	now            func() time.Time
	locks          *userLocks
	logger         zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxPerUser(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxPerUser = n
		}
	}
}

func WithStorageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storageTimeout = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithPublisher(p domain.EventPublisher) Option {
	return func(s *Service) {
		if p != nil {
			s.events = p
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService creates a session service.
func NewService(repo domain.Repository, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		events:         domain.NopPublisher{},
		ttl:            domain.DefaultTTL,
		maxPerUser:     domain.DefaultMaxPerUser,
		storageTimeout: DefaultStorageTimeout,
		now:            func() time.Time { return time.Now().UTC() },
		locks:          newUserLocks(),
		logger:         logger.With().Str("service", "session").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateInput defines session creation input.
type CreateInput struct {
	UserID    uuid.UUID
	Provider  string
	UserAgent *string
	IPAddress *string
}

// Create issues a new session for the user and returns its raw token.
// When the user already holds the maximum number of valid sessions, the least
// recently accessed ones are removed first.
func (s *Service) Create(ctx context.Context, input CreateInput) (string, *domain.Session, error) {
	if input.UserID == uuid.Nil {
		return "", nil, fmt.Errorf("user id is required")
	}
	token, err := domain.GenerateToken()
	if err != nil {
		return "", nil, err
	}

	now := s.now()
	sess := domain.New(domain.HashToken(token), input.UserID, input.Provider, now, s.ttl)
	sess.UserAgent = input.UserAgent
	sess.IPAddress = input.IPAddress

	unlock := s.locks.lock(input.UserID)
	defer unlock()

	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	evicted, err := s.repo.CreateAndTrim(ctx, sess, s.maxPerUser)
	if err != nil {
		return "", nil, domain.WrapStorage("create", err)
	}

	for _, e := range evicted {
		s.logger.Info().
			Str("session_id", e.SessionID.String()).
			Str("user_id", e.UserID.String()).
			Msg("session evicted")
		s.publish(ctx, domain.NewEvent(domain.EventEvicted, e, now))
	}
	s.metrics.SessionsEvicted(len(evicted))
	s.metrics.SessionCreated(sess.Provider)
	s.publish(ctx, domain.NewEvent(domain.EventCreated, sess, now))

	s.logger.Info().
		Str("session_id", sess.SessionID.String()).
		Str("user_id", sess.UserID.String()).
		Str("provider", sess.Provider).
		Msg("session created")
	return token, sess, nil
}

// Get returns the session for token, or nil when it is unknown or expired.
func (s *Service) Get(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	sess, err := s.repo.GetByTokenHash(ctx, domain.HashToken(token), s.now())
	if err != nil {
		return nil, domain.WrapStorage("get", err)
	}
	return sess, nil
}

// Touch records an access and returns the recorded time, or the zero time when
// nothing was recorded. Failures are logged and never reach the caller.
func (s *Service) Touch(ctx context.Context, token string) time.Time {
	if token == "" {
		return time.Time{}
	}
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	now := s.now()
	if err := s.repo.UpdateLastAccessed(ctx, domain.HashToken(token), now); err != nil {
		s.logger.Warn().Err(err).Msg("session touch failed")
		return time.Time{}
	}
	return now
}

// Delete removes the session for token. Deleting an unknown token is not an error.
func (s *Service) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	sess, err := s.repo.DeleteByTokenHash(ctx, domain.HashToken(token))
	if err != nil {
		return domain.WrapStorage("delete", err)
	}
	if sess == nil {
		return nil
	}
	s.metrics.SessionsDeleted("logout", 1)
	s.publish(ctx, domain.NewEvent(domain.EventDeleted, sess, s.now()))
	s.logger.Info().
		Str("session_id", sess.SessionID.String()).
		Str("user_id", sess.UserID.String()).
		Msg("session deleted")
	return nil
}

// DeleteAllForUser removes every session of the user and returns how many were removed.
func (s *Service) DeleteAllForUser(ctx context.Context, userID uuid.UUID) (int, error) {
	unlock := s.locks.lock(userID)
	defer unlock()

	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	n, err := s.repo.DeleteByUser(ctx, userID)
	if err != nil {
		return 0, domain.WrapStorage("delete_all", err)
	}
	s.metrics.SessionsDeleted("revoke", n)
	s.publish(ctx, domain.Event{Type: domain.EventRevoked, UserID: userID, Count: n, At: s.now()})
	s.logger.Info().Str("user_id", userID.String()).Int("count", n).Msg("sessions revoked")
	return n, nil
}

// ListForUser returns the user's valid sessions, most recently accessed first.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]*domain.Session, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	list, err := s.repo.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, domain.WrapStorage("list", err)
	}
	return list, nil
}

// SweepExpired deletes sessions whose expiry has passed. Validity never
// depends on it having run.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	now := s.now()
	n, err := s.repo.DeleteExpired(ctx, now)
	if err != nil {
		return 0, domain.WrapStorage("sweep", err)
	}
	if n > 0 {
		s.metrics.SessionsSwept(n)
		s.publish(ctx, domain.Event{Type: domain.EventSwept, Count: n, At: now})
	}
	return n, nil
}

func (s *Service) TTL() time.Duration {
	return s.ttl
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}

func (s *Service) publish(ctx context.Context, event domain.Event) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("session event publish failed")
	}
}
