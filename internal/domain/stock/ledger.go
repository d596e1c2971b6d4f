package stock

import "context"

// Ledger owns StockRecord mutation. Reserve and Release are linearizable per
// (tenant, product): concurrent reservations never over-commit below zero.
type Ledger interface {
	// Reserve atomically checks availability and decrements it, retrying a
	// bounded number of times on version conflicts. Fails with
	// ErrInsufficientStock or ErrConcurrencyExhausted.
	Reserve(ctx context.Context, tenantID, orderID, productID string, quantity int) (ReservationTicket, error)

	// Release adds the ticket's quantity back. Idempotent: releasing an
	// already-released or unknown ticket is a no-op, never an error.
	Release(ctx context.Context, ticket ReservationTicket) error

	// Finalize discards the ticket after a confirmed checkout; the reserved
	// quantity stays consumed and a later Release becomes a no-op.
	Finalize(ctx context.Context, ticket ReservationTicket)

	// Available reports current availability for display purposes.
	Available(ctx context.Context, tenantID, productID string) (int, error)

	// SetQuantity seeds or replaces the available quantity for a product.
	SetQuantity(ctx context.Context, tenantID, productID string, quantity int) error
}
