package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/potluck-hub/potluck-hub/internal/domain/user"
)

// UserRepository implements user.Repository in process memory.
type UserRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*user.User
	byEmail map[string]uuid.UUID
	nextID  int64
}

func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:    make(map[uuid.UUID]*user.User),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	email := user.NormalizeEmail(u.Email)
	if _, ok := r.byEmail[email]; ok {
		return user.ErrDuplicateEmail
	}
	r.nextID++
	u.ID = r.nextID
	c := *u
	r.byID[u.UserID] = &c
	r.byEmail[email] = u.UserID
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, userID uuid.UUID) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[userID]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*user.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	id, ok := r.byEmail[user.NormalizeEmail(email)]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

// Put stores u as-is, replacing any user with the same id. Used for seeding.
func (r *UserRepository) Put(u *user.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *u
	r.byID[u.UserID] = &c
	r.byEmail[user.NormalizeEmail(u.Email)] = u.UserID
}

// Count returns the number of stored users.
func (r *UserRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
