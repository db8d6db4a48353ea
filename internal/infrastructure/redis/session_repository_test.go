package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/potluck-hub/potluck-hub/internal/domain/session"
)

func newTestRepository(t *testing.T) (*SessionRepository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionRepository(client), mr
}

func newSession(userID uuid.UUID, at time.Time, ttl time.Duration) *session.Session {
	s := session.New(session.HashToken(uuid.NewString()), userID, "google", at, ttl)
	ua := "Mozilla/5.0"
	s.UserAgent = &ua
	return s
}

func TestCreateAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	now := time.Now().UTC()
	s := newSession(uuid.New(), now, time.Hour)

	evicted, err := repo.CreateAndTrim(ctx, s, 5)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	got, err := repo.GetByTokenHash(ctx, s.TokenHash, now)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.SessionID, got.SessionID)
	assert.Equal(t, s.UserID, got.UserID)
	assert.Equal(t, "google", got.Provider)
	assert.True(t, s.ExpiresAt.Equal(got.ExpiresAt))
	require.NotNil(t, got.UserAgent)
	assert.Equal(t, "Mozilla/5.0", *got.UserAgent)
	assert.Nil(t, got.IPAddress)

	expired, err := repo.GetByTokenHash(ctx, s.TokenHash, s.ExpiresAt)
	require.NoError(t, err)
	assert.Nil(t, expired)

	missing, err := repo.GetByTokenHash(ctx, "nope", now)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCreateEvictsLeastRecentlyAccessed(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	userID := uuid.New()
	base := time.Now().UTC()

	var created []*session.Session
	for i := 0; i < 5; i++ {
		s := newSession(userID, base.Add(time.Duration(i)*time.Second), time.Hour)
		_, err := repo.CreateAndTrim(ctx, s, 5)
		require.NoError(t, err)
		created = append(created, s)
	}
	require.NoError(t, repo.UpdateLastAccessed(ctx, created[0].TokenHash, base.Add(time.Minute)))

	sixth := newSession(userID, base.Add(2*time.Minute), time.Hour)
	evicted, err := repo.CreateAndTrim(ctx, sixth, 5)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, created[1].TokenHash, evicted[0].TokenHash)
	assert.Equal(t, created[1].SessionID, evicted[0].SessionID)

	active, err := repo.ListActiveByUser(ctx, userID, sixth.CreatedAt)
	require.NoError(t, err)
	require.Len(t, active, 5)
	assert.Equal(t, sixth.TokenHash, active[0].TokenHash)
	assert.Equal(t, created[0].TokenHash, active[1].TokenHash)
}

func TestCreateEvictsOldestOnAccessTie(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	userID := uuid.New()
	base := time.Now().UTC()

	// member order alone would pick the newer session
	older := session.New("b-older", userID, "google", base, time.Hour)
	newer := session.New("a-newer", userID, "google", base.Add(time.Second), time.Hour)
	for _, s := range []*session.Session{older, newer} {
		_, err := repo.CreateAndTrim(ctx, s, 2)
		require.NoError(t, err)
		require.NoError(t, repo.UpdateLastAccessed(ctx, s.TokenHash, base.Add(time.Minute)))
	}

	evicted, err := repo.CreateAndTrim(ctx, newSession(userID, base.Add(2*time.Minute), time.Hour), 2)
	require.NoError(t, err)
	require.Len(t, evicted, 1)
	assert.Equal(t, older.SessionID, evicted[0].SessionID)
}

func TestCreateIgnoresExpiredIndexMembers(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	userID := uuid.New()
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		_, err := repo.CreateAndTrim(ctx, newSession(userID, base, time.Minute), 5)
		require.NoError(t, err)
	}
	later := newSession(userID, base.Add(2*time.Minute), time.Hour)
	evicted, err := repo.CreateAndTrim(ctx, later, 5)
	require.NoError(t, err)
	assert.Empty(t, evicted)

	active, err := repo.ListActiveByUser(ctx, userID, later.CreatedAt)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestConcurrentCreatesRespectCap(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	userID := uuid.New()
	now := time.Now().UTC()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.CreateAndTrim(ctx, newSession(userID, now, time.Hour), 5)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := repo.ListActiveByUser(ctx, userID, now)
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestTouchUnknownIsNoop(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)

	require.NoError(t, repo.UpdateLastAccessed(ctx, "unknown", time.Now()))
	assert.False(t, mr.Exists(sessionKey("unknown")))
}

func TestDeleteByTokenHash(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)
	s := newSession(uuid.New(), time.Now().UTC(), time.Hour)
	_, err := repo.CreateAndTrim(ctx, s, 5)
	require.NoError(t, err)

	deleted, err := repo.DeleteByTokenHash(ctx, s.TokenHash)
	require.NoError(t, err)
	require.NotNil(t, deleted)
	assert.Equal(t, s.SessionID, deleted.SessionID)
	assert.False(t, mr.Exists(sessionKey(s.TokenHash)))

	again, err := repo.DeleteByTokenHash(ctx, s.TokenHash)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestDeleteByUser(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	alice, bob := uuid.New(), uuid.New()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := repo.CreateAndTrim(ctx, newSession(alice, now, time.Hour), 5)
		require.NoError(t, err)
	}
	bobs := newSession(bob, now, time.Hour)
	_, err := repo.CreateAndTrim(ctx, bobs, 5)
	require.NoError(t, err)

	n, err := repo.DeleteByUser(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got, err := repo.GetByTokenHash(ctx, bobs.TokenHash, now)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestDeleteExpired(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)
	userID := uuid.New()
	now := time.Now().UTC()

	short := newSession(userID, now, time.Minute)
	long := newSession(userID, now, time.Hour)
	for _, s := range []*session.Session{short, long} {
		_, err := repo.CreateAndTrim(ctx, s, 5)
		require.NoError(t, err)
	}

	n, err := repo.DeleteExpired(ctx, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, mr.Exists(sessionKey(short.TokenHash)))
	assert.True(t, mr.Exists(sessionKey(long.TokenHash)))

	members, err := mr.ZMembers(userIndexKey(userID))
	require.NoError(t, err)
	assert.Equal(t, []string{long.TokenHash}, members)
}

func TestSessionKeysExpireInRedis(t *testing.T) {
	ctx := context.Background()
	repo, mr := newTestRepository(t)
	s := newSession(uuid.New(), time.Now().UTC(), time.Hour)
	_, err := repo.CreateAndTrim(ctx, s, 5)
	require.NoError(t, err)

	ttl := mr.TTL(sessionKey(s.TokenHash))
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), Options{Addr: addr})
	assert.Error(t, err)
}
