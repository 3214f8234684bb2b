package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a CredentialStore kept in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]User
	byEmail map[string]string
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]User),
		byEmail: make(map[string]string),
		now:     time.Now,
	}
}

func (s *MemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) FindByID(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return user, nil
}

func (s *MemoryStore) Create(_ context.Context, input NewUser) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(input.Email)
	if _, exists := s.byEmail[email]; exists {
		return User{}, ErrDuplicateUser
	}
	for _, u := range s.byID {
		if u.Username == input.Username {
			return User{}, ErrDuplicateUser
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return User{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	role := input.Role
	if !role.Valid() {
		role = RoleUser
	}
	now := s.now().UTC()
	user := User{
		ID:           id.String(),
		Username:     input.Username,
		Email:        email,
		Role:         role,
		PasswordHash: input.PasswordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.byID[user.ID] = user
	s.byEmail[email] = user.ID
	return user, nil
}

func (s *MemoryStore) EnsureAdmin(ctx context.Context, input NewUser) (User, error) {
	s.mu.Lock()
	if id, ok := s.byEmail[normalizeEmail(input.Email)]; ok {
		user := s.byID[id]
		user.Role = RoleAdmin
		user.PasswordHash = input.PasswordHash
		user.UpdatedAt = s.now().UTC()
		s.byID[id] = user
		s.mu.Unlock()
		return user, nil
	}
	s.mu.Unlock()

	input.Role = RoleAdmin
	return s.Create(ctx, input)
}

func (s *MemoryStore) SetSuspension(_ context.Context, id string, until *time.Time, reason *string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.byID[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	user.SuspendedUntil = until
	user.SuspensionReason = reason
	user.UpdatedAt = s.now().UTC()
	s.byID[id] = user
	return user, nil
}

func (s *MemoryStore) ClearLapsedSuspensions(_ context.Context, now time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var cleared int64
	for id, user := range s.byID {
		if batchSize > 0 && cleared >= int64(batchSize) {
			break
		}
		if user.SuspendedUntil != nil && !now.Before(*user.SuspendedUntil) {
			user.SuspendedUntil = nil
			user.SuspensionReason = nil
			user.UpdatedAt = now
			s.byID[id] = user
			cleared++
		}
	}
	return cleared, nil
}
