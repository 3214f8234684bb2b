package item

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const itemColumns = `id, name, description, image_url, price, seller_id, is_listed, status, review_note, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var (
		it     Item
		status string
	)
	if err := row.Scan(&it.ID, &it.Name, &it.Description, &it.ImageURL, &it.Price, &it.SellerID, &it.IsListed, &status, &it.ReviewNote, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return Item{}, err
	}
	it.Status = Status(status)
	return it, nil
}

func (r *Repository) List(ctx context.Context, filter Filter) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1 = 1`
	args := make([]any, 0, 1)
	if filter.SellerID != "" {
		args = append(args, filter.SellerID)
		query += fmt.Sprintf(" AND seller_id = $%d", len(args))
	}
	if filter.ListedOnly {
		query += ` AND is_listed AND status = 'approved'`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]Item, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}

	return items, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Item, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Item{}, ErrNotFound
	}

	it, err := scanItem(r.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, fmt.Errorf("query item: %w", err)
	}
	return it, nil
}

func (r *Repository) Create(ctx context.Context, sellerID string, input Input) (Item, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Item{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	now := time.Now().UTC()
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

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO items (id, name, description, image_url, price, seller_id, is_listed, status, review_note, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, '', $9, $9)
	`, it.ID, it.Name, it.Description, it.ImageURL, it.Price, it.SellerID, it.IsListed, string(it.Status), now)
	if err != nil {
		return Item{}, fmt.Errorf("insert item: %w", err)
	}

	return it, nil
}

// Update edits a listing and sends it back to review. Traded items are frozen.
func (r *Repository) Update(ctx context.Context, id string, input Input) (Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx, `
		UPDATE items
		SET name = $2, description = $3, image_url = $4, price = $5, status = 'pending', review_note = '', updated_at = $6
		WHERE id = $1 AND status <> 'traded'
		RETURNING `+itemColumns,
		id, input.Name, input.Description, input.ImageURL, input.Price, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrUnavailable
		}
		return Item{}, fmt.Errorf("update item: %w", err)
	}
	return it, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1 AND status <> 'traded'`, id)
	if err != nil {
		return fmt.Errorf("delete item: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUnavailable
	}

	return nil
}

func (r *Repository) Review(ctx context.Context, id string, status Status, note string) (Item, error) {
	it, err := scanItem(r.db.QueryRowContext(ctx, `
		UPDATE items
		SET status = $2, review_note = $3, is_listed = ($2 = 'approved'), updated_at = $4
		WHERE id = $1 AND status <> 'traded'
		RETURNING `+itemColumns,
		id, string(status), note, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Item{}, ErrUnavailable
		}
		return Item{}, fmt.Errorf("review item: %w", err)
	}
	return it, nil
}

// MarkTradedTx finalizes items inside the caller's transaction. Any item that is
// missing or already traded fails the whole call; the caller rolls back.
func (r *Repository) MarkTradedTx(ctx context.Context, tx *sql.Tx, ids []string, now time.Time) error {
	for _, id := range dedupe(ids) {
		res, err := tx.ExecContext(ctx, `
			UPDATE items
			SET status = 'traded', is_listed = FALSE, updated_at = $2
			WHERE id = $1 AND status <> 'traded'
		`, id, now.UTC())
		if err != nil {
			return fmt.Errorf("mark item %s traded: %w", id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("mark item %s traded rows affected: %w", id, err)
		}
		if affected != 1 {
			return fmt.Errorf("%w: %s", ErrUnavailable, id)
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
