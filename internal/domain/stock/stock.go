package stock

import (
	"errors"
	"time"
)

var (
	ErrNotFound             = errors.New("stock: product not tracked")
	ErrInvalidQuantity      = errors.New("stock: quantity must be greater than zero")
	ErrInsufficientStock    = errors.New("stock: insufficient stock")
	ErrConcurrencyExhausted = errors.New("stock: concurrent update retries exhausted")
)

// Record tracks per-product availability within a tenant. Version increments
// on every successful mutation and backs optimistic concurrency control.
type Record struct {
	TenantID  string
	ProductID string
	Available int
	Version   int64
	UpdatedAt time.Time
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// ReservationTicket is the ephemeral proof of a successful reservation. It is
// consumed either by confirmation (discarded) or by compensation (released).
type ReservationTicket struct {
	ID        string
	TenantID  string
	OrderID   string
	ProductID string
	Quantity  int
	CreatedAt time.Time
}
