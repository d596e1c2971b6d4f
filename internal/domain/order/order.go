package order

import (
	"errors"
	"time"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: conflict")
	ErrForbidden         = errors.New("order: requester is not the buyer")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrNoItems           = errors.New("order: at least one item is required")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
)

// Item is an immutable line-item snapshot. UnitPriceCents is captured at
// checkout time and does not follow later catalog price changes.
type Item struct {
	ProductID      string
	Quantity       int
	UnitPriceCents int64
}

// Order is the saga aggregate. The checkout orchestrator exclusively owns its
// lifecycle; repositories hand out clones.
type Order struct {
	ID               string
	TenantID         string
	BuyerID          string
	Items            []Item
	TotalCents       int64
	Status           Status
	PaymentReference string
	FailureReason    string
	IdempotencyKey   string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func New(id, tenantID, buyerID, idempotencyKey string, items []Item) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	var total int64
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		total += int64(it.Quantity) * it.UnitPriceCents
	}

	now := time.Now().UTC()
	return &Order{
		ID:             id,
		TenantID:       tenantID,
		BuyerID:        buyerID,
		Items:          append([]Item(nil), items...),
		TotalCents:     total,
		Status:         StatusInitiated,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// TransitionTo advances the order along the saga state machine. Transitions
// out of a terminal status fail with ErrInvalidTransition.
func (o *Order) TransitionTo(next Status) error {
	if !CanTransition(o.Status, next) {
		return ErrInvalidTransition
	}
	o.Status = next
	o.touch()
	return nil
}

// Fail moves the order to a failure status and records the reason.
func (o *Order) Fail(next Status, reason string) error {
	if err := o.TransitionTo(next); err != nil {
		return err
	}
	o.FailureReason = reason
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (o *Order) touch() {
	o.UpdatedAt = time.Now().UTC()
}
