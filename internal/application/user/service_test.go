package user

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domain "github.com/potluck-hub/potluck-hub/internal/domain/user"
	"github.com/potluck-hub/potluck-hub/internal/domain/user/mocks"
	"github.com/potluck-hub/potluck-hub/internal/infrastructure/memory"
)

func TestGetOrCreateByEmailCreatesOnce(t *testing.T) {
	ctx := context.Background()
	svc := NewService(memory.NewUserRepository(), "", zerolog.Nop())

	u, created, err := svc.GetOrCreateByEmail(ctx, "A@X.com", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "a@x.com", u.Email)
	assert.Equal(t, "a", u.Name)
	assert.Equal(t, domain.HostStatusApproved, u.HostStatus)
	assert.Equal(t, domain.RoleUser, u.Role)

	again, created, err := svc.GetOrCreateByEmail(ctx, "a@x.com", "Ada")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, u.UserID, again.UserID)
}

func TestGetOrCreateByEmailUsesInitialStatus(t *testing.T) {
	svc := NewService(memory.NewUserRepository(), domain.HostStatusPending, zerolog.Nop())

	u, _, err := svc.GetOrCreateByEmail(context.Background(), "b@x.com", "Bo")
	require.NoError(t, err)
	assert.Equal(t, domain.HostStatusPending, u.HostStatus)
	assert.Equal(t, "Bo", u.Name)
}

func TestGetOrCreateByEmailRejectsInvalidEmail(t *testing.T) {
	svc := NewService(memory.NewUserRepository(), "", zerolog.Nop())
	_, _, err := svc.GetOrCreateByEmail(context.Background(), "not-an-email", "")
	assert.Error(t, err)
}

func TestGetOrCreateByEmailRecoversFromRace(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	winner := domain.New("Ada", "a@x.com", domain.HostStatusApproved)

	gomock.InOrder(
		repo.EXPECT().GetByEmail(gomock.Any(), "a@x.com").Return(nil, nil),
		repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(domain.ErrDuplicateEmail),
		repo.EXPECT().GetByEmail(gomock.Any(), "a@x.com").Return(winner, nil),
	)

	svc := NewService(repo, "", zerolog.Nop())
	u, created, err := svc.GetOrCreateByEmail(context.Background(), "a@x.com", "Ada")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, winner.UserID, u.UserID)
}

func TestGetOrCreateByEmailPropagatesStorageErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	cause := errors.New("db down")
	repo.EXPECT().GetByEmail(gomock.Any(), "a@x.com").Return(nil, cause)

	svc := NewService(repo, "", zerolog.Nop())
	_, _, err := svc.GetOrCreateByEmail(context.Background(), "a@x.com", "")
	assert.ErrorIs(t, err, cause)
}

func TestStorageCallsAreBounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().GetByEmail(gomock.Any(), "a@x.com").
		DoAndReturn(func(ctx context.Context, _ string) (*domain.User, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	svc := NewService(repo, "", zerolog.Nop(), WithStorageTimeout(20*time.Millisecond))
	start := time.Now()
	_, _, err := svc.GetOrCreateByEmail(context.Background(), "a@x.com", "")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGetUserIsBounded(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := mocks.NewMockRepository(ctrl)
	repo.EXPECT().GetByID(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ uuid.UUID) (*domain.User, error) {
			_, ok := ctx.Deadline()
			assert.True(t, ok)
			return nil, nil
		})

	svc := NewService(repo, "", zerolog.Nop())
	u, err := svc.GetUser(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, u)
}
