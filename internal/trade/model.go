package trade

import (
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusProposed    Status = "proposed"
	StatusNegotiating Status = "negotiating"
	StatusAccepted    Status = "accepted"
	StatusRejected    Status = "rejected"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
)

// statusTransitions lists the moves reachable through UpdateStatus. Negotiating is
// only entered through an offer.
var statusTransitions = map[Status][]Status{
	StatusProposed:    {StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled},
	StatusNegotiating: {StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled},
	StatusAccepted:    {StatusCompleted},
}

func (s Status) Valid() bool {
	switch s {
	case StatusProposed, StatusNegotiating, StatusAccepted, StatusRejected, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Open reports whether offers may still change.
func (s Status) Open() bool {
	return s == StatusProposed || s == StatusNegotiating
}

// Final reports whether the trade accepts no further transition at all.
func (s Status) Final() bool {
	return s == StatusRejected || s == StatusCompleted || s == StatusCancelled
}

func CanTransition(from, to Status) bool {
	return slices.Contains(statusTransitions[from], to)
}

// receiverOnly marks targets that only the receiving party may choose.
func receiverOnly(to Status) bool {
	return to == StatusAccepted || to == StatusRejected
}

const DefaultCurrency = "php"

// Money amounts are in the smallest currency unit.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) normalized() Money {
	m.Currency = strings.ToLower(strings.TrimSpace(m.Currency))
	if m.Currency == "" {
		m.Currency = DefaultCurrency
	}
	return m
}

type Trade struct {
	ID             string    `json:"id"`
	InitiatorID    string    `json:"initiatorId"`
	ReceiverID     string    `json:"receiverId"`
	ReceiverItemID string    `json:"receiverItemId"`
	PivotItemID    string    `json:"pivotItemId"`
	InitiatorItems []string  `json:"initiatorItems"`
	ReceiverItems  []string  `json:"receiverItems"`
	CashOffer      *Money    `json:"cashOffer,omitempty"`
	Status         Status    `json:"status"`
	Version        int64     `json:"version"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (t Trade) IsParty(userID string) bool {
	return userID != "" && (userID == t.InitiatorID || userID == t.ReceiverID)
}

// AllItems is initiatorItems ∪ receiverItems in stable order.
func (t Trade) AllItems() []string {
	out := make([]string, 0, len(t.InitiatorItems)+len(t.ReceiverItems))
	seen := make(map[string]struct{}, cap(out))
	for _, id := range append(append([]string{}, t.InitiatorItems...), t.ReceiverItems...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Revision identifies the state a status change was decided on. Offers keep the
// status but bump Version, so both are compared.
type Revision struct {
	Status  Status
	Version int64
}

func (t Trade) Revision() Revision {
	return Revision{Status: t.Status, Version: t.Version}
}

func (r Revision) matches(t Trade) bool {
	return t.Status == r.Status && t.Version == r.Version
}

func (t Trade) clone() Trade {
	t.InitiatorItems = slices.Clone(t.InitiatorItems)
	t.ReceiverItems = slices.Clone(t.ReceiverItems)
	if t.CashOffer != nil {
		cash := *t.CashOffer
		t.CashOffer = &cash
	}
	return t
}

// Summary is a trade as listed in a user's inbox.
type Summary struct {
	Trade
	UnreadCount int `json:"unreadCount"`
}

// Actor is the verified caller of a trade operation.
type Actor struct {
	ID    string
	Admin bool
}
