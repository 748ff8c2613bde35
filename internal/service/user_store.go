package service

import (
	"context"
	"sync"
	"time"

	"marketplace-security/internal/models"
)

// UserStore persists accounts. Create returns ErrUserAlreadyExists for a
// taken email; lookups return ErrUserNotFound.
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, userID string, at time.Time) error
}

type MemoryUserStore struct {
	mu      sync.RWMutex
	byEmail map[string]*models.User
	byID    map[string]*models.User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{
		byEmail: make(map[string]*models.User),
		byID:    make(map[string]*models.User),
	}
}

func (s *MemoryUserStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[user.Email]; exists {
		return ErrUserAlreadyExists
	}
	stored := *user
	s.byEmail[user.Email] = &stored
	s.byID[user.UserID] = &stored
	return nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byEmail[email]
	if !ok {
		return nil, ErrUserNotFound
	}
	c := *user
	return &c, nil
}

func (s *MemoryUserStore) UpdateLastLogin(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	user.LastLogin = &at
	return nil
}
