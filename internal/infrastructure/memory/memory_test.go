package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
	"github.com/potluck-hub/potluck-hub/internal/domain/user"
)

func TestSessionRepositoryTrimsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	userID := uuid.New()
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	var hashes []string
	for i := 0; i < 5; i++ {
		s := session.New(uuid.NewString(), userID, "google", base.Add(time.Duration(i)*time.Minute), session.DefaultTTL)
		_, err := repo.CreateAndTrim(ctx, s, 5)
		require.NoError(t, err)
		hashes = append(hashes, s.TokenHash)
	}
	// the oldest-created session becomes the most recently used
	require.NoError(t, repo.UpdateLastAccessed(ctx, hashes[0], base.Add(10*time.Minute)))

	sixth := session.New("sixth", userID, "google", base.Add(11*time.Minute), session.DefaultTTL)
	evicted, err := repo.CreateAndTrim(ctx, sixth, 5)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, hashes[1], evicted[0].TokenHash)

	active, err := repo.ListActiveByUser(ctx, userID, sixth.CreatedAt)
	require.NoError(t, err)
	require.Len(t, active, 5)
	assert.Equal(t, "sixth", active[0].TokenHash)
	assert.Equal(t, hashes[0], active[1].TokenHash)
}

func TestSessionRepositoryConcurrentCreatesRespectCap(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	userID := uuid.New()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := session.New(uuid.NewString(), userID, "google", now, session.DefaultTTL)
			_, err := repo.CreateAndTrim(ctx, s, 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := repo.ListActiveByUser(ctx, userID, now)
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestSessionRepositoryLazyExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	repo := NewSessionRepository()
	now := time.Now().UTC()
	s := session.New("h", uuid.New(), "apple", now, time.Hour)
	_, err := repo.CreateAndTrim(ctx, s, 5)
	require.NoError(t, err)

	got, err := repo.GetByTokenHash(ctx, "h", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, repo.Count())

	n, err := repo.DeleteExpired(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, repo.Count())
}

func TestSessionRepositoryUpdateUnknownIsNoop(t *testing.T) {
	repo := NewSessionRepository()
	require.NoError(t, repo.UpdateLastAccessed(context.Background(), "missing", time.Now()))
	assert.Equal(t, 0, repo.Count())

	deleted, err := repo.DeleteByTokenHash(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, deleted)
}

func TestUserRepositoryEmailIsCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	repo := NewUserRepository()

	u := user.New("A", "a@x.com", user.HostStatusApproved)
	require.NoError(t, repo.Create(ctx, u))

	got, err := repo.GetByEmail(ctx, "A@X.COM")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u.UserID, got.UserID)

	err = repo.Create(ctx, user.New("Other", "A@x.com", user.HostStatusPending))
	assert.ErrorIs(t, err, user.ErrDuplicateEmail)
}
