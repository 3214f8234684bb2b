package message

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const messageColumns = `id, trade_id, sender_id, content, kind, is_read, created_at`

// TxToucher bumps a trade's last activity inside an open transaction.
type TxToucher interface {
	TouchTx(ctx context.Context, tx *sql.Tx, tradeID string, at time.Time) error
}

type Repository struct {
	db     *sql.DB
	trades TxToucher
}

func NewRepository(db *sql.DB, trades TxToucher) *Repository {
	return &Repository{db: db, trades: trades}
}

func (r *Repository) Append(ctx context.Context, msg Message) (Message, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, trade_id, sender_id, content, kind, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`, msg.ID, msg.TradeID, msg.SenderID, msg.Content, string(msg.Kind), msg.CreatedAt.UTC()); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}

	if err := r.trades.TouchTx(ctx, tx, msg.TradeID, msg.CreatedAt); err != nil {
		return Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit append: %w", err)
	}
	return msg, nil
}

func (r *Repository) List(ctx context.Context, tradeID string) ([]Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE trade_id = $1
		ORDER BY created_at ASC, id ASC
	`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]Message, 0)
	for rows.Next() {
		var (
			msg  Message
			kind string
		)
		if err := rows.Scan(&msg.ID, &msg.TradeID, &msg.SenderID, &msg.Content, &kind, &msg.IsRead, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Kind = Kind(kind)
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

func (r *Repository) MarkRead(ctx context.Context, tradeID, readerID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET is_read = TRUE
		WHERE trade_id = $1 AND sender_id <> $2 AND NOT is_read
	`, tradeID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return res.RowsAffected()
}

func (r *Repository) UnreadCounts(ctx context.Context, userID string) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT m.trade_id, COUNT(*)
		FROM messages m
		JOIN trades t ON t.id = m.trade_id
		WHERE (t.initiator_id = $1 OR t.receiver_id = $1)
			AND m.sender_id <> $1
			AND NOT m.is_read
		GROUP BY m.trade_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("count unread messages: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			tradeID string
			n       int
		)
		if err := rows.Scan(&tradeID, &n); err != nil {
			return nil, fmt.Errorf("scan unread count: %w", err)
		}
		counts[tradeID] = n
	}
	return counts, rows.Err()
}
