package order

import "time"

// OrderConfirmedEvent is emitted after a checkout reaches CONFIRMED. Delivery
// is best effort; failure to publish never changes the order outcome.
type OrderConfirmedEvent struct {
	TenantID         string
	OrderID          string
	BuyerID          string
	TotalCents       int64
	PaymentReference string
	OccurredAt       time.Time
}

func (OrderConfirmedEvent) EventName() string { return "order.confirmed" }

func NewOrderConfirmedEvent(o *Order) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		TenantID:         o.TenantID,
		OrderID:          o.ID,
		BuyerID:          o.BuyerID,
		TotalCents:       o.TotalCents,
		PaymentReference: o.PaymentReference,
		OccurredAt:       time.Now().UTC(),
	}
}
