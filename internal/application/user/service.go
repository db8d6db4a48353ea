package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	domain "github.com/potluck-hub/potluck-hub/internal/domain/user"
)

// DefaultStorageTimeout bounds each repository call on top of the caller's context.
const DefaultStorageTimeout = 5 * time.Second

// Service handles user lookup and first-login provisioning.
type Service struct {
	repo           domain.Repository
	initialStatus  domain.HostStatus
	storageTimeout time.Duration
	logger         zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithStorageTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storageTimeout = d
		}
	}
}

// NewService creates a user service. initialStatus is assigned to users created on first login.
func NewService(repo domain.Repository, initialStatus domain.HostStatus, logger zerolog.Logger, opts ...Option) *Service {
	if initialStatus == "" {
		initialStatus = domain.HostStatusApproved
	}
	s := &Service{
		repo:           repo,
		initialStatus:  initialStatus,
		storageTimeout: DefaultStorageTimeout,
		logger:         logger.With().Str("service", "user").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreateByEmail returns the user owning email, creating it when absent.
// The boolean reports whether a user was created.
func (s *Service) GetOrCreateByEmail(ctx context.Context, email, name string) (*domain.User, bool, error) {
	email = domain.NormalizeEmail(email)
	if err := domain.ValidateEmail(email); err != nil {
		return nil, false, err
	}

	u, err := s.getByEmail(ctx, email)
	if err != nil {
		return nil, false, err
	}
	if u != nil {
		return u, false, nil
	}

	u = domain.New(displayName(name, email), email, s.initialStatus)
	if err := s.create(ctx, u); err != nil {
		if !errors.Is(err, domain.ErrDuplicateEmail) {
			return nil, false, err
		}
		// a concurrent login created it first
		existing, err := s.getByEmail(ctx, email)
		if err != nil {
			return nil, false, err
		}
		if existing == nil {
			return nil, false, fmt.Errorf("user vanished after duplicate email: %s", email)
		}
		return existing, false, nil
	}

	s.logger.Info().
		Str("user_id", u.UserID.String()).
		Str("host_status", string(u.HostStatus)).
		Msg("user created")
	return u, true, nil
}

func (s *Service) GetUser(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.repo.GetByID(ctx, userID)
}

func (s *Service) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return s.getByEmail(ctx, domain.NormalizeEmail(email))
}

func (s *Service) getByEmail(ctx context.Context, email string) (*domain.User, error) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.repo.GetByEmail(ctx, email)
}

func (s *Service) create(ctx context.Context, u *domain.User) error {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()
	return s.repo.Create(ctx, u)
}

func (s *Service) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storageTimeout)
}

func displayName(name, email string) string {
	name = strings.TrimSpace(name)
	if name != "" {
		return name
	}
	local, _, _ := strings.Cut(email, "@")
	return local
}
