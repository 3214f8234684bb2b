package message

import (
	"context"
	"sort"
	"sync"
	"time"
)

type Toucher interface {
	Touch(ctx context.Context, tradeID string, at time.Time) error
}

type MemoryStore struct {
	mu      sync.Mutex
	byTrade map[string][]Message
	toucher Toucher
}

func NewMemoryStore(toucher Toucher) *MemoryStore {
	return &MemoryStore{byTrade: make(map[string][]Message), toucher: toucher}
}

func (s *MemoryStore) Append(ctx context.Context, msg Message) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.toucher != nil {
		if err := s.toucher.Touch(ctx, msg.TradeID, msg.CreatedAt); err != nil {
			return Message{}, err
		}
	}
	s.byTrade[msg.TradeID] = append(s.byTrade[msg.TradeID], msg)
	return msg, nil
}

func (s *MemoryStore) List(_ context.Context, tradeID string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]Message(nil), s.byTrade[tradeID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if out == nil {
		out = []Message{}
	}
	return out, nil
}

func (s *MemoryStore) MarkRead(_ context.Context, tradeID, readerID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	messages := s.byTrade[tradeID]
	for i := range messages {
		if messages[i].SenderID != readerID && !messages[i].IsRead {
			messages[i].IsRead = true
			n++
		}
	}
	return n, nil
}

// UnreadCounts counts, per trade, unread messages sent by someone other than userID.
// Callers scope the result to trades userID belongs to.
func (s *MemoryStore) UnreadCounts(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int)
	for tradeID, messages := range s.byTrade {
		for _, msg := range messages {
			if msg.SenderID != userID && !msg.IsRead {
				out[tradeID]++
			}
		}
	}
	return out, nil
}
