package message

import (
	"context"
	"fmt"
	"strings"
	"time"

	"barter-exchange/internal/trade"
)

type TradeReader interface {
	Get(ctx context.Context, id string) (trade.Trade, error)
}

// Store is the append-only message log.
type Store interface {
	// Append stores msg and bumps the trade's last activity in one unit of work.
	Append(ctx context.Context, msg Message) (Message, error)
	List(ctx context.Context, tradeID string) ([]Message, error)
	MarkRead(ctx context.Context, tradeID, readerID string) (int64, error)
	UnreadCounts(ctx context.Context, userID string) (map[string]int, error)
}

type Ledger struct {
	trades TradeReader
	store  Store
	now    func() time.Time
}

func NewLedger(trades TradeReader, store Store) *Ledger {
	return &Ledger{trades: trades, store: store, now: time.Now}
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	if now != nil {
		l.now = now
	}
	return l
}

func (l *Ledger) Append(ctx context.Context, tradeID, senderID, content string, kind Kind) (Message, error) {
	if kind == "" {
		kind = KindText
	}
	if !kind.Valid() {
		return Message{}, fmt.Errorf("%w: unknown message kind %q", trade.ErrInvalidInput, kind)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, fmt.Errorf("%w: message content is required", trade.ErrInvalidInput)
	}
	if len(content) > maxContentLength {
		return Message{}, fmt.Errorf("%w: message content is too long", trade.ErrInvalidInput)
	}

	t, err := l.trades.Get(ctx, tradeID)
	if err != nil {
		return Message{}, err
	}
	if !t.IsParty(senderID) {
		return Message{}, trade.ErrForbidden
	}

	now := l.now().UTC()
	msg, err := l.store.Append(ctx, Message{
		ID:        newID(now),
		TradeID:   t.ID,
		SenderID:  senderID,
		Content:   content,
		Kind:      kind,
		CreatedAt: now,
	})
	if err != nil {
		return Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// List returns the full history of a trade, oldest first.
func (l *Ledger) List(ctx context.Context, tradeID string, reader trade.Actor) ([]Message, error) {
	if err := l.authorize(ctx, tradeID, reader, true); err != nil {
		return nil, err
	}

	messages, err := l.store.List(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// MarkRead marks every message the reader did not send as read and reports how many changed.
func (l *Ledger) MarkRead(ctx context.Context, tradeID string, reader trade.Actor) (int64, error) {
	if err := l.authorize(ctx, tradeID, reader, false); err != nil {
		return 0, err
	}

	n, err := l.store.MarkRead(ctx, tradeID, reader.ID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return n, nil
}

// UnreadCounts reports unread messages addressed to userID, restricted to tradeIDs.
func (l *Ledger) UnreadCounts(ctx context.Context, userID string, tradeIDs []string) (map[string]int, error) {
	all, err := l.store.UnreadCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make(map[string]int, len(tradeIDs))
	for _, id := range tradeIDs {
		if n, ok := all[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func (l *Ledger) authorize(ctx context.Context, tradeID string, actor trade.Actor, allowAdmin bool) error {
	t, err := l.trades.Get(ctx, tradeID)
	if err != nil {
		return err
	}
	if t.IsParty(actor.ID) || (allowAdmin && actor.Admin) {
		return nil
	}
	return trade.ErrForbidden
}
