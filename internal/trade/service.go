package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"barter-exchange/internal/item"
	"barter-exchange/internal/observability"
)

// Store persists trades. Every mutation is a compare-and-set on the state the caller
// read; a lost race surfaces as ErrConflict.
type Store interface {
	// FindOrCreate returns the open trade for (initiator, receiver, receiverItem), inserting
	// candidate when none exists. The bool reports whether candidate was inserted.
	FindOrCreate(ctx context.Context, candidate Trade) (Trade, bool, error)
	Get(ctx context.Context, id string) (Trade, error)
	ListByUser(ctx context.Context, userID string) ([]Trade, error)
	List(ctx context.Context) ([]Trade, error)
	SaveOffer(ctx context.Context, next Trade, expectedVersion int64) (Trade, error)
	CompareAndSetStatus(ctx context.Context, id string, expected Revision, to Status, now time.Time) (Trade, error)
	// Complete moves from -> completed and marks items traded in one atomic step.
	// Complete marks the items of the matching revision traded and sets the
	// status to completed, both or neither.
	Complete(ctx context.Context, id string, expected Revision, now time.Time) (Trade, error)
	Touch(ctx context.Context, id string, now time.Time) error
}

type Inventory interface {
	Get(ctx context.Context, id string) (item.Item, error)
}

type UnreadCounter interface {
	UnreadCounts(ctx context.Context, userID string, tradeIDs []string) (map[string]int, error)
}

type TransitionRecorder interface {
	ObserveTransition(from, to, outcome string)
}

type Service struct {
	store     Store
	inventory Inventory
	unread    UnreadCounter
	recorder  TransitionRecorder
	logger    *observability.Logger
	now       func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithUnreadCounter(counter UnreadCounter) Option {
	return func(s *Service) { s.unread = counter }
}

func WithTransitionRecorder(recorder TransitionRecorder) Option {
	return func(s *Service) { s.recorder = recorder }
}

func WithLogger(logger *observability.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, inventory Inventory, opts ...Option) *Service {
	s := &Service{store: store, inventory: inventory, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type ProposeInput struct {
	InitiatorID    string
	ReceiverID     string
	ReceiverItemID string
	PivotItemID    string
}

// Propose opens a trade or returns the open one for the same triple.
func (s *Service) Propose(ctx context.Context, input ProposeInput) (Trade, bool, error) {
	input.ReceiverItemID = strings.TrimSpace(input.ReceiverItemID)
	input.PivotItemID = strings.TrimSpace(input.PivotItemID)
	if input.InitiatorID == "" || input.ReceiverItemID == "" {
		return Trade{}, false, fmt.Errorf("%w: receiver item is required", ErrInvalidInput)
	}

	target, err := s.lookupItem(ctx, input.ReceiverItemID)
	if err != nil {
		return Trade{}, false, err
	}
	if input.ReceiverID == "" {
		input.ReceiverID = target.SellerID
	}
	if input.ReceiverID == input.InitiatorID {
		return Trade{}, false, fmt.Errorf("%w: cannot trade with yourself", ErrInvalidInput)
	}
	if target.SellerID != input.ReceiverID {
		return Trade{}, false, fmt.Errorf("%w: item does not belong to receiver", ErrInvalidInput)
	}
	if !target.Tradable() {
		return Trade{}, false, fmt.Errorf("%w: item is not available for trade", ErrInvalidInput)
	}

	if input.PivotItemID == "" {
		input.PivotItemID = input.ReceiverItemID
	} else if input.PivotItemID != input.ReceiverItemID {
		pivot, err := s.lookupItem(ctx, input.PivotItemID)
		if err != nil {
			return Trade{}, false, err
		}
		if pivot.SellerID != input.InitiatorID && pivot.SellerID != input.ReceiverID {
			return Trade{}, false, fmt.Errorf("%w: pivot item does not belong to either party", ErrInvalidInput)
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return Trade{}, false, fmt.Errorf("generate uuid v7: %w", err)
	}
	now := s.now().UTC()
	candidate := Trade{
		ID:             id.String(),
		InitiatorID:    input.InitiatorID,
		ReceiverID:     input.ReceiverID,
		ReceiverItemID: input.ReceiverItemID,
		PivotItemID:    input.PivotItemID,
		InitiatorItems: []string{},
		ReceiverItems:  []string{input.ReceiverItemID},
		Status:         StatusProposed,
		Version:        1,
		LastActivityAt: now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	t, created, err := s.store.FindOrCreate(ctx, candidate)
	if err != nil {
		return Trade{}, false, fmt.Errorf("find or create trade: %w", err)
	}
	if created {
		s.observe("", StatusProposed, "ok")
	}
	return t, created, nil
}

type OfferInput struct {
	TradeID string
	ActorID string
	Items   []string
	Cash    *Money
}

// UpdateOffer replaces the acting party's side of the offer and moves the trade to negotiating.
func (s *Service) UpdateOffer(ctx context.Context, input OfferInput) (Trade, error) {
	current, err := s.store.Get(ctx, input.TradeID)
	if err != nil {
		return Trade{}, err
	}
	if !current.IsParty(input.ActorID) {
		return Trade{}, ErrForbidden
	}
	if !current.Status.Open() {
		s.observe(current.Status, StatusNegotiating, "invalid")
		return Trade{}, fmt.Errorf("%w: %s trade cannot take offers", ErrInvalidTransition, current.Status)
	}

	items, err := s.validateOfferItems(ctx, input.ActorID, input.Items)
	if err != nil {
		return Trade{}, err
	}

	next := current.clone()
	if input.ActorID == current.InitiatorID {
		next.InitiatorItems = items
	} else {
		next.ReceiverItems = items
	}
	if input.Cash != nil {
		if input.Cash.Amount < 0 {
			return Trade{}, fmt.Errorf("%w: cash offer must be >= 0", ErrInvalidInput)
		}
		cash := input.Cash.normalized()
		next.CashOffer = &cash
	}
	now := s.now().UTC()
	next.Status = StatusNegotiating
	next.LastActivityAt = now
	next.UpdatedAt = now

	saved, err := s.store.SaveOffer(ctx, next, current.Version)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			s.observe(current.Status, StatusNegotiating, "conflict")
		}
		return Trade{}, err
	}
	s.observe(current.Status, StatusNegotiating, "ok")
	return saved, nil
}

func (s *Service) validateOfferItems(ctx context.Context, actorID string, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id == "" {
			return nil, fmt.Errorf("%w: empty item id", ErrInvalidInput)
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		it, err := s.lookupItem(ctx, id)
		if err != nil {
			return nil, err
		}
		if it.SellerID != actorID {
			return nil, fmt.Errorf("%w: item %s does not belong to you", ErrInvalidInput, id)
		}
		if !it.Tradable() {
			return nil, fmt.Errorf("%w: item %s is not available for trade", ErrInvalidInput, id)
		}
		out = append(out, id)
	}
	return out, nil
}

// UpdateStatus checks party membership, then the transition table, then the
// receiver-only rule for accept and reject, and finally compare-and-sets the
// status against the revision the checks ran on. An offer saved in between
// bumps the version and turns the transition into ErrConflict.
func (s *Service) UpdateStatus(ctx context.Context, tradeID, actorID string, target Status) (Trade, error) {
	if !target.Valid() {
		return Trade{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, target)
	}

	current, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return Trade{}, err
	}
	if !current.IsParty(actorID) {
		return Trade{}, ErrForbidden
	}
	if !CanTransition(current.Status, target) {
		s.observe(current.Status, target, "invalid")
		return Trade{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
	}
	if receiverOnly(target) && actorID != current.ReceiverID {
		return Trade{}, fmt.Errorf("%w: only the receiver can %s", ErrForbidden, strings.TrimSuffix(string(target), "ed"))
	}

	now := s.now().UTC()
	expected := current.Revision()
	var updated Trade
	if target == StatusCompleted {
		updated, err = s.store.Complete(ctx, tradeID, expected, now)
	} else {
		updated, err = s.store.CompareAndSetStatus(ctx, tradeID, expected, target, now)
	}
	if err != nil {
		switch {
		case errors.Is(err, ErrConflict):
			s.observe(current.Status, target, "conflict")
		case errors.Is(err, ErrItemsUnavailable):
			s.observe(current.Status, target, "items_unavailable")
		}
		return Trade{}, err
	}

	s.observe(current.Status, target, "ok")
	if target == StatusCompleted && s.logger != nil {
		s.logger.Info("trade_completed", map[string]any{
			"trade_id": updated.ID,
			"items":    len(updated.AllItems()),
		})
	}
	return updated, nil
}

// Get returns a trade visible to a party or an admin.
func (s *Service) Get(ctx context.Context, tradeID string, actor Actor) (Trade, error) {
	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return Trade{}, err
	}
	if !t.IsParty(actor.ID) && !actor.Admin {
		return Trade{}, ErrForbidden
	}
	return t, nil
}

// ListForUser returns userID's trades, most recently active first, with unread counts.
func (s *Service) ListForUser(ctx context.Context, actor Actor, userID string) ([]Summary, error) {
	if actor.ID != userID && !actor.Admin {
		return nil, ErrForbidden
	}

	trades, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	sortByActivity(trades)

	counts := map[string]int{}
	if s.unread != nil && len(trades) > 0 {
		ids := make([]string, len(trades))
		for i, t := range trades {
			ids[i] = t.ID
		}
		counts, err = s.unread.UnreadCounts(ctx, userID, ids)
		if err != nil {
			return nil, fmt.Errorf("count unread messages: %w", err)
		}
	}

	out := make([]Summary, len(trades))
	for i, t := range trades {
		out[i] = Summary{Trade: t, UnreadCount: counts[t.ID]}
	}
	return out, nil
}

func (s *Service) ListAll(ctx context.Context) ([]Trade, error) {
	trades, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return trades, nil
}

func (s *Service) lookupItem(ctx context.Context, id string) (item.Item, error) {
	it, err := s.inventory.Get(ctx, id)
	if err != nil {
		if errors.Is(err, item.ErrNotFound) {
			return item.Item{}, fmt.Errorf("%w: item %s", ErrNotFound, id)
		}
		return item.Item{}, fmt.Errorf("load item %s: %w", id, err)
	}
	return it, nil
}

func (s *Service) observe(from, to Status, outcome string) {
	if s.recorder == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	s.recorder.ObserveTransition(string(from), string(to), outcome)
}
