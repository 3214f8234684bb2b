package message

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"barter-exchange/internal/auth"
	"barter-exchange/internal/item"
	"barter-exchange/internal/trade"
)

const (
	alice = "user-alice"
	bob   = "user-bob"
	carol = "user-carol"
)

type ledgerFixture struct {
	trades *trade.MemoryStore
	ledger *Ledger
	tr     trade.Trade
	clock  time.Time
}

func newLedgerFixture(t *testing.T) *ledgerFixture {
	t.Helper()
	ctx := context.Background()
	items := item.NewMemoryStore()
	bike, err := items.Create(ctx, bob, item.Input{Name: "bike"})
	require.NoError(t, err)
	_, err = items.Review(ctx, bike.ID, item.StatusApproved, "")
	require.NoError(t, err)

	trades := trade.NewMemoryStore(items)
	tr, _, err := trade.NewService(trades, items).Propose(ctx, trade.ProposeInput{InitiatorID: alice, ReceiverItemID: bike.ID})
	require.NoError(t, err)

	f := &ledgerFixture{trades: trades, tr: tr, clock: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	f.ledger = NewLedger(trades, NewMemoryStore(trades)).WithClock(func() time.Time {
		f.clock = f.clock.Add(time.Second)
		return f.clock
	})
	return f
}

func TestAppendValidatesAndTouchesTrade(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	msg, err := f.ledger.Append(ctx, f.tr.ID, alice, "  is the bike still available?  ", "")
	require.NoError(t, err)
	assert.Equal(t, KindText, msg.Kind)
	assert.Equal(t, "is the bike still available?", msg.Content)
	assert.Len(t, msg.ID, 26)
	assert.False(t, msg.IsRead)

	touched, err := f.trades.Get(ctx, f.tr.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt, touched.LastActivityAt)
	assert.Equal(t, f.tr.Version, touched.Version, "messages do not bump the offer version")

	_, err = f.ledger.Append(ctx, "missing", alice, "hello", KindText)
	assert.ErrorIs(t, err, trade.ErrNotFound)

	_, err = f.ledger.Append(ctx, f.tr.ID, carol, "hello", KindText)
	assert.ErrorIs(t, err, trade.ErrForbidden)

	_, err = f.ledger.Append(ctx, f.tr.ID, alice, "   ", KindText)
	assert.ErrorIs(t, err, trade.ErrInvalidInput)

	_, err = f.ledger.Append(ctx, f.tr.ID, alice, "hello", Kind("video"))
	assert.ErrorIs(t, err, trade.ErrInvalidInput)

	_, err = f.ledger.Append(ctx, f.tr.ID, alice, strings.Repeat("x", maxContentLength+1), KindText)
	assert.ErrorIs(t, err, trade.ErrInvalidInput)
}

func TestAppendToClosedTradeKeepsItClosed(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	cancelled, err := f.trades.CompareAndSetStatus(ctx, f.tr.ID, f.tr.Revision(), trade.StatusCancelled, f.clock)
	require.NoError(t, err)

	_, err = f.ledger.Append(ctx, f.tr.ID, bob, "no worries, maybe next time", KindText)
	require.NoError(t, err)

	after, err := f.trades.Get(ctx, f.tr.ID)
	require.NoError(t, err)
	assert.Equal(t, trade.StatusCancelled, after.Status)
	assert.Equal(t, cancelled.Version, after.Version)
	assert.True(t, after.LastActivityAt.After(cancelled.LastActivityAt))
}

func TestListOrderAndReadState(t *testing.T) {
	f := newLedgerFixture(t)
	ctx := context.Background()

	first, err := f.ledger.Append(ctx, f.tr.ID, alice, "hi", KindText)
	require.NoError(t, err)
	second, err := f.ledger.Append(ctx, f.tr.ID, bob, "hello", KindText)
	require.NoError(t, err)
	third, err := f.ledger.Append(ctx, f.tr.ID, alice, "trade my guitar?", KindText)
	require.NoError(t, err)

	history, err := f.ledger.List(ctx, f.tr.ID, trade.Actor{ID: bob})
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, []string{first.ID, second.ID, third.ID}, []string{history[0].ID, history[1].ID, history[2].ID})

	_, err = f.ledger.List(ctx, f.tr.ID, trade.Actor{ID: carol})
	assert.ErrorIs(t, err, trade.ErrForbidden)
	_, err = f.ledger.List(ctx, f.tr.ID, trade.Actor{ID: "admin", Admin: true})
	assert.NoError(t, err)

	counts, err := f.ledger.UnreadCounts(ctx, bob, []string{f.tr.ID, "other"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{f.tr.ID: 2}, counts)

	n, err := f.ledger.MarkRead(ctx, f.tr.ID, trade.Actor{ID: bob})
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	n, err = f.ledger.MarkRead(ctx, f.tr.ID, trade.Actor{ID: bob})
	require.NoError(t, err)
	assert.EqualValues(t, 0, n, "idempotent")

	counts, err = f.ledger.UnreadCounts(ctx, alice, []string{f.tr.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, counts[f.tr.ID], "bob's message is still unread by alice")

	_, err = f.ledger.MarkRead(ctx, f.tr.ID, trade.Actor{ID: "admin", Admin: true})
	assert.ErrorIs(t, err, trade.ErrForbidden)
}

type failingToucher struct{}

func (failingToucher) Touch(context.Context, string, time.Time) error {
	return errors.New("trade row locked")
}

func TestMemoryAppendIsAllOrNothing(t *testing.T) {
	store := NewMemoryStore(failingToucher{})
	_, err := store.Append(context.Background(), Message{ID: newID(time.Now()), TradeID: "trade-1", SenderID: alice, Content: "hi", Kind: KindText})
	require.Error(t, err)

	history, err := store.List(context.Background(), "trade-1")
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestNewIDIsMonotonicWithinMillisecond(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	prev := newID(at)
	for range 50 {
		next := newID(at)
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestRepositoryAppendRollsBackWhenTouchFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").
		WithArgs("01HX0000000000000000000000", "trade-1", alice, "hi", "text", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE trades SET last_activity_at").
		WithArgs("trade-1", now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	repo := NewRepository(db, trade.NewRepository(db, nil))
	_, err = repo.Append(context.Background(), Message{ID: "01HX0000000000000000000000", TradeID: "trade-1", SenderID: alice, Content: "hi", Kind: KindText, CreatedAt: now})
	assert.ErrorIs(t, err, trade.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkReadAndCounts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE messages SET is_read = TRUE").
		WithArgs("trade-1", bob).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery("SELECT m.trade_id, COUNT\\(\\*\\)").
		WithArgs(bob).
		WillReturnRows(sqlmock.NewRows([]string{"trade_id", "count"}).AddRow("trade-1", 4).AddRow("trade-2", 1))

	repo := NewRepository(db, nil)
	n, err := repo.MarkRead(context.Background(), "trade-1", bob)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	counts, err := repo.UnreadCounts(context.Background(), bob)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"trade-1": 4, "trade-2": 1}, counts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMessageHandler(t *testing.T) {
	f := newLedgerFixture(t)
	handler := NewHandler(f.ledger)
	as := func(user string, next http.HandlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := auth.Identity{SubjectID: user, Role: auth.RoleUser, Class: auth.KeyClassService}
			next(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
		})
	}

	rec := httptest.NewRecorder()
	as(alice, handler.Append).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"tradeId":"`+f.tr.ID+`","content":"hi"}`)))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = httptest.NewRecorder()
	as(carol, handler.Append).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{"tradeId":"`+f.tr.ID+`","content":"hi"}`)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	mux := http.NewServeMux()
	mux.Handle("GET /messages/{tradeId}", as(bob, handler.List))
	mux.Handle("PATCH /messages/{tradeId}/read", as(bob, handler.MarkRead))

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/"+f.tr.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var history []Message
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/messages/"+f.tr.ID+"/read", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"updated":1}`, rec.Body.String())

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/messages/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
