package trade

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"barter-exchange/internal/item"
)

const tradeColumns = `id, initiator_id, receiver_id, receiver_item_id, pivot_item_id, initiator_items, receiver_items, cash_amount, cash_currency, status, version, last_activity_at, created_at, updated_at`

// TxFinalizer marks items traded inside an open transaction.
type TxFinalizer interface {
	MarkTradedTx(ctx context.Context, tx *sql.Tx, ids []string, now time.Time) error
}

type Repository struct {
	db        *sql.DB
	finalizer TxFinalizer
}

func NewRepository(db *sql.DB, finalizer TxFinalizer) *Repository {
	return &Repository{db: db, finalizer: finalizer}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner, extra ...any) (Trade, error) {
	var (
		t              Trade
		status         string
		initiatorItems []byte
		receiverItems  []byte
		cashAmount     sql.NullInt64
		cashCurrency   sql.NullString
	)
	dest := []any{
		&t.ID, &t.InitiatorID, &t.ReceiverID, &t.ReceiverItemID, &t.PivotItemID,
		&initiatorItems, &receiverItems, &cashAmount, &cashCurrency,
		&status, &t.Version, &t.LastActivityAt, &t.CreatedAt, &t.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Trade{}, err
	}

	t.Status = Status(status)
	t.InitiatorItems = []string{}
	t.ReceiverItems = []string{}
	if len(initiatorItems) > 0 {
		if err := json.Unmarshal(initiatorItems, &t.InitiatorItems); err != nil {
			return Trade{}, fmt.Errorf("decode initiator items: %w", err)
		}
	}
	if len(receiverItems) > 0 {
		if err := json.Unmarshal(receiverItems, &t.ReceiverItems); err != nil {
			return Trade{}, fmt.Errorf("decode receiver items: %w", err)
		}
	}
	if cashAmount.Valid {
		t.CashOffer = &Money{Amount: cashAmount.Int64, Currency: cashCurrency.String}
	}
	t.LastActivityAt = t.LastActivityAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return t, nil
}

func encodeItems(ids []string) ([]byte, error) {
	if ids == nil {
		ids = []string{}
	}
	return json.Marshal(ids)
}

func cashColumns(cash *Money) (sql.NullInt64, sql.NullString) {
	if cash == nil {
		return sql.NullInt64{}, sql.NullString{}
	}
	return sql.NullInt64{Int64: cash.Amount, Valid: true}, sql.NullString{String: cash.Currency, Valid: true}
}

// FindOrCreate relies on trades_open_proposal_idx; xmax = 0 distinguishes a fresh insert
// from the no-op update of an existing open trade.
func (r *Repository) FindOrCreate(ctx context.Context, candidate Trade) (Trade, bool, error) {
	initiatorItems, err := encodeItems(candidate.InitiatorItems)
	if err != nil {
		return Trade{}, false, err
	}
	receiverItems, err := encodeItems(candidate.ReceiverItems)
	if err != nil {
		return Trade{}, false, err
	}
	cashAmount, cashCurrency := cashColumns(candidate.CashOffer)

	var inserted bool
	t, err := scanTrade(r.db.QueryRowContext(ctx, `
		INSERT INTO trades (id, initiator_id, receiver_id, receiver_item_id, pivot_item_id, initiator_items, receiver_items, cash_amount, cash_currency, status, version, last_activity_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'proposed', 1, $10, $10, $10)
		ON CONFLICT (initiator_id, receiver_id, receiver_item_id) WHERE status IN ('proposed', 'negotiating')
		DO UPDATE SET initiator_id = trades.initiator_id
		RETURNING `+tradeColumns+`, (xmax = 0) AS inserted
	`, candidate.ID, candidate.InitiatorID, candidate.ReceiverID, candidate.ReceiverItemID, candidate.PivotItemID,
		initiatorItems, receiverItems, cashAmount, cashCurrency, candidate.CreatedAt.UTC()), &inserted)
	if err != nil {
		return Trade{}, false, fmt.Errorf("upsert trade: %w", err)
	}
	return t, inserted, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Trade, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Trade{}, ErrNotFound
	}

	t, err := scanTrade(r.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, ErrNotFound
		}
		return Trade{}, fmt.Errorf("get trade: %w", err)
	}
	return t, nil
}

func (r *Repository) ListByUser(ctx context.Context, userID string) ([]Trade, error) {
	return r.query(ctx, `
		SELECT `+tradeColumns+` FROM trades
		WHERE initiator_id = $1 OR receiver_id = $1
		ORDER BY last_activity_at DESC, id DESC
	`, userID)
}

func (r *Repository) List(ctx context.Context) ([]Trade, error) {
	return r.query(ctx, `SELECT `+tradeColumns+` FROM trades ORDER BY last_activity_at DESC, id DESC`)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) ([]Trade, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	trades := make([]Trade, 0)
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trades: %w", err)
	}
	return trades, nil
}

func (r *Repository) SaveOffer(ctx context.Context, next Trade, expectedVersion int64) (Trade, error) {
	initiatorItems, err := encodeItems(next.InitiatorItems)
	if err != nil {
		return Trade{}, err
	}
	receiverItems, err := encodeItems(next.ReceiverItems)
	if err != nil {
		return Trade{}, err
	}
	cashAmount, cashCurrency := cashColumns(next.CashOffer)

	t, err := scanTrade(r.db.QueryRowContext(ctx, `
		UPDATE trades
		SET initiator_items = $2, receiver_items = $3, cash_amount = $4, cash_currency = $5,
			status = 'negotiating', version = version + 1, last_activity_at = $6, updated_at = $6
		WHERE id = $1 AND version = $7 AND status IN ('proposed', 'negotiating')
		RETURNING `+tradeColumns,
		next.ID, initiatorItems, receiverItems, cashAmount, cashCurrency, next.LastActivityAt.UTC(), expectedVersion))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, ErrConflict
		}
		return Trade{}, fmt.Errorf("save offer: %w", err)
	}
	return t, nil
}

const setStatusQuery = `
	UPDATE trades
	SET status = $4, version = version + 1, last_activity_at = $5, updated_at = $5
	WHERE id = $1 AND status = $2 AND version = $3
	RETURNING ` + tradeColumns

func (r *Repository) CompareAndSetStatus(ctx context.Context, id string, expected Revision, to Status, now time.Time) (Trade, error) {
	t, err := scanTrade(r.db.QueryRowContext(ctx, setStatusQuery, id, string(expected.Status), expected.Version, string(to), now.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, ErrConflict
		}
		return Trade{}, fmt.Errorf("set trade status: %w", err)
	}
	return t, nil
}

// Complete runs the status change and item finalization in one transaction.
// The items come from the row the CAS returned, so they are exactly the
// completed revision's.
func (r *Repository) Complete(ctx context.Context, id string, expected Revision, now time.Time) (Trade, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Trade{}, fmt.Errorf("begin completion: %w", err)
	}
	defer tx.Rollback()

	t, err := scanTrade(tx.QueryRowContext(ctx, setStatusQuery, id, string(expected.Status), expected.Version, string(StatusCompleted), now.UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Trade{}, ErrConflict
		}
		return Trade{}, fmt.Errorf("complete trade: %w", err)
	}

	if items := t.AllItems(); r.finalizer != nil && len(items) > 0 {
		if err := r.finalizer.MarkTradedTx(ctx, tx, items, now); err != nil {
			if errors.Is(err, item.ErrUnavailable) {
				return Trade{}, fmt.Errorf("%w: %w", ErrItemsUnavailable, err)
			}
			return Trade{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Trade{}, fmt.Errorf("commit completion: %w", err)
	}
	return t, nil
}

func (r *Repository) Touch(ctx context.Context, id string, now time.Time) error {
	return touch(ctx, r.db, id, now)
}

// TouchTx bumps last activity inside the caller's transaction.
func (r *Repository) TouchTx(ctx context.Context, tx *sql.Tx, id string, now time.Time) error {
	return touch(ctx, tx, id, now)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touch(ctx context.Context, db execer, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE trades SET last_activity_at = $2 WHERE id = $1`, id, now.UTC())
	if err != nil {
		return fmt.Errorf("touch trade: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch trade rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
