package item

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTraded   Status = "traded"
)

var (
	ErrNotFound     = errors.New("item not found")
	ErrForbidden    = errors.New("item belongs to another seller")
	ErrUnavailable  = errors.New("item is no longer available")
	ErrInvalidInput = errors.New("invalid item input")
)

// Item is a catalog entry that trades reference by id. Price is in the smallest currency unit.
type Item struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	ImageURL    string    `json:"imageUrl,omitempty"`
	Price       int64     `json:"price"`
	SellerID    string    `json:"sellerId"`
	IsListed    bool      `json:"isListed"`
	Status      Status    `json:"status"`
	ReviewNote  string    `json:"reviewNote,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (i Item) Tradable() bool {
	return i.Status != StatusTraded && i.Status != StatusRejected
}

type Input struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Price       int64  `json:"price"`
}

type Filter struct {
	SellerID   string
	ListedOnly bool
}
