package trade

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent update, re-read and retry")
	ErrInvalidInput      = errors.New("invalid input")
	ErrItemsUnavailable  = errors.New("trade items are no longer available")
)
