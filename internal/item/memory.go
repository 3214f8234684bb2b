package item

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Item), now: time.Now}
}

func (s *MemoryStore) List(_ context.Context, filter Filter) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if filter.SellerID != "" && it.SellerID != filter.SellerID {
			continue
		}
		if filter.ListedOnly && (!it.IsListed || it.Status != StatusApproved) {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}

func (s *MemoryStore) Create(_ context.Context, sellerID string, input Input) (Item, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Item{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := s.now().UTC()
	it := Item{
		ID:          id.String(),
		Name:        input.Name,
		Description: input.Description,
		ImageURL:    input.ImageURL,
		Price:       input.Price,
		SellerID:    sellerID,
		IsListed:    true,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.items[it.ID] = it
	s.mu.Unlock()
	return it, nil
}

func (s *MemoryStore) Update(_ context.Context, id string, input Input) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Status == StatusTraded {
		return Item{}, ErrUnavailable
	}
	it.Name = input.Name
	it.Description = input.Description
	it.ImageURL = input.ImageURL
	it.Price = input.Price
	it.Status = StatusPending
	it.ReviewNote = ""
	it.UpdatedAt = s.now().UTC()
	s.items[id] = it
	return it, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Status == StatusTraded {
		return ErrUnavailable
	}
	delete(s.items, id)
	return nil
}

func (s *MemoryStore) Review(_ context.Context, id string, status Status, note string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.Status == StatusTraded {
		return Item{}, ErrUnavailable
	}
	it.Status = status
	it.ReviewNote = note
	it.IsListed = status == StatusApproved
	it.UpdatedAt = s.now().UTC()
	s.items[id] = it
	return it, nil
}

// MarkTraded applies to every id or to none: items touched before a failure are restored.
func (s *MemoryStore) MarkTraded(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := make(map[string]Item, len(ids))
	restore := func() {
		for id, it := range snapshot {
			s.items[id] = it
		}
	}

	now := s.now().UTC()
	for _, id := range dedupe(ids) {
		it, ok := s.items[id]
		if !ok || it.Status == StatusTraded {
			restore()
			return fmt.Errorf("%w: %s", ErrUnavailable, id)
		}
		snapshot[id] = it

		it.Status = StatusTraded
		it.IsListed = false
		it.UpdatedAt = now
		s.items[id] = it
	}
	return nil
}
