package trade

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-exchange/internal/item"
)

const tradeID = "01956d4e-7c3a-7b2e-9a41-2f5c8d3e6b10"

var tradeColumnNames = []string{
	"id", "initiator_id", "receiver_id", "receiver_item_id", "pivot_item_id",
	"initiator_items", "receiver_items", "cash_amount", "cash_currency",
	"status", "version", "last_activity_at", "created_at", "updated_at",
}

func tradeRow(status Status, version int64, now time.Time) []driver.Value {
	return []driver.Value{
		tradeID, alice, bob, "item-bike", "item-bike",
		[]byte(`["item-guitar"]`), []byte(`["item-bike"]`), nil, nil,
		string(status), version, now, now, now,
	}
}

func TestRepositoryFindOrCreateReportsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("INSERT INTO trades .* ON CONFLICT \\(initiator_id, receiver_id, receiver_item_id\\) WHERE status IN \\('proposed', 'negotiating'\\)").
		WillReturnRows(sqlmock.NewRows(append(tradeColumnNames, "inserted")).AddRow(append(tradeRow(StatusNegotiating, 3, now), false)...))

	got, inserted, err := NewRepository(db, nil).FindOrCreate(context.Background(), Trade{
		ID: "01956d4e-0000-7000-8000-000000000000", InitiatorID: alice, ReceiverID: bob,
		ReceiverItemID: "item-bike", PivotItemID: "item-bike", CreatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, tradeID, got.ID)
	assert.Equal(t, StatusNegotiating, got.Status)
	assert.Equal(t, []string{"item-guitar"}, got.InitiatorItems)
	assert.Nil(t, got.CashOffer)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompareAndSetStatusConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("(?s)UPDATE trades\\s+SET status = \\$4,.*WHERE id = \\$1 AND status = \\$2 AND version = \\$3").
		WithArgs(tradeID, "proposed", int64(2), "cancelled", now).
		WillReturnRows(sqlmock.NewRows(tradeColumnNames))

	_, err = NewRepository(db, nil).CompareAndSetStatus(context.Background(), tradeID, Revision{Status: StatusProposed, Version: 2}, StatusCancelled, now)
	assert.ErrorIs(t, err, ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompleteRollsBackOnUnavailableItem(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE trades\\s+SET status = \\$4").
		WithArgs(tradeID, "accepted", int64(3), "completed", now).
		WillReturnRows(sqlmock.NewRows(tradeColumnNames).AddRow(tradeRow(StatusCompleted, 4, now)...))
	mock.ExpectExec("UPDATE items").WithArgs("item-guitar", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE items").WithArgs("item-bike", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewRepository(db, item.NewRepository(db))
	_, err = repo.Complete(context.Background(), tradeID, Revision{Status: StatusAccepted, Version: 3}, now)
	assert.ErrorIs(t, err, ErrItemsUnavailable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCompleteCommits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("UPDATE trades\\s+SET status = \\$4").
		WithArgs(tradeID, "accepted", int64(3), "completed", now).
		WillReturnRows(sqlmock.NewRows(tradeColumnNames).AddRow(tradeRow(StatusCompleted, 4, now)...))
	mock.ExpectExec("UPDATE items").WithArgs("item-guitar", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE items").WithArgs("item-bike", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewRepository(db, item.NewRepository(db))
	got, err := repo.Complete(context.Background(), tradeID, Revision{Status: StatusAccepted, Version: 3}, now)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.EqualValues(t, 4, got.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetMalformedID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = NewRepository(db, nil).Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
