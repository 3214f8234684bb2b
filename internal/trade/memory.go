package trade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Finalizer marks a set of items traded, all or none.
type Finalizer interface {
	MarkTraded(ctx context.Context, ids []string) error
}

type MemoryStore struct {
	mu        sync.Mutex
	trades    map[string]Trade
	finalizer Finalizer
}

func NewMemoryStore(finalizer Finalizer) *MemoryStore {
	return &MemoryStore{trades: make(map[string]Trade), finalizer: finalizer}
}

func (s *MemoryStore) FindOrCreate(_ context.Context, candidate Trade) (Trade, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.trades {
		if t.Status.Open() &&
			t.InitiatorID == candidate.InitiatorID &&
			t.ReceiverID == candidate.ReceiverID &&
			t.ReceiverItemID == candidate.ReceiverItemID {
			return t.clone(), false, nil
		}
	}

	s.trades[candidate.ID] = candidate.clone()
	return candidate.clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return Trade{}, ErrNotFound
	}
	return t.clone(), nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Trade, error) {
	return s.list(func(t Trade) bool { return t.IsParty(userID) }), nil
}

func (s *MemoryStore) List(_ context.Context) ([]Trade, error) {
	return s.list(func(Trade) bool { return true }), nil
}

func (s *MemoryStore) list(keep func(Trade) bool) []Trade {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Trade, 0, len(s.trades))
	for _, t := range s.trades {
		if keep(t) {
			out = append(out, t.clone())
		}
	}
	sortByActivity(out)
	return out
}

func (s *MemoryStore) SaveOffer(_ context.Context, next Trade, expectedVersion int64) (Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.trades[next.ID]
	if !ok {
		return Trade{}, ErrNotFound
	}
	if current.Version != expectedVersion || !current.Status.Open() {
		return Trade{}, ErrConflict
	}

	next.Version = current.Version + 1
	s.trades[next.ID] = next.clone()
	return next.clone(), nil
}

func (s *MemoryStore) CompareAndSetStatus(_ context.Context, id string, expected Revision, to Status, now time.Time) (Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.setStatusLocked(id, expected, to, now)
}

// Complete finalizes the items of the stored revision, not a caller snapshot,
// and writes the status only after the finalizer succeeded.
func (s *MemoryStore) Complete(ctx context.Context, id string, expected Revision, now time.Time) (Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.trades[id]
	if !ok {
		return Trade{}, ErrNotFound
	}
	if !expected.matches(current) {
		return Trade{}, ErrConflict
	}
	if items := current.AllItems(); s.finalizer != nil && len(items) > 0 {
		if err := s.finalizer.MarkTraded(ctx, items); err != nil {
			return Trade{}, fmt.Errorf("%w: %w", ErrItemsUnavailable, err)
		}
	}
	return s.setStatusLocked(id, expected, StatusCompleted, now)
}

func (s *MemoryStore) Touch(_ context.Context, id string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trades[id]
	if !ok {
		return ErrNotFound
	}
	t.LastActivityAt = now
	s.trades[id] = t
	return nil
}

func (s *MemoryStore) setStatusLocked(id string, expected Revision, to Status, now time.Time) (Trade, error) {
	t, ok := s.trades[id]
	if !ok {
		return Trade{}, ErrNotFound
	}
	if !expected.matches(t) {
		return Trade{}, ErrConflict
	}
	t.Status = to
	t.Version++
	t.LastActivityAt = now
	t.UpdatedAt = now
	s.trades[id] = t
	return t.clone(), nil
}

func sortByActivity(trades []Trade) {
	sort.Slice(trades, func(i, j int) bool {
		if trades[i].LastActivityAt.Equal(trades[j].LastActivityAt) {
			return trades[i].ID > trades[j].ID
		}
		return trades[i].LastActivityAt.After(trades[j].LastActivityAt)
	})
}
