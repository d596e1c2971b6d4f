package order

import "context"

// Repository persists order aggregates keyed by (tenant, id) and by
// (tenant, idempotency key). All lookups are tenant-qualified.
type Repository interface {
	Insert(ctx context.Context, order *Order) error
	Get(ctx context.Context, tenantID, id string) (*Order, error)
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*Order, error)
	ListByBuyer(ctx context.Context, tenantID, buyerID string) ([]*Order, error)

	// Mutate applies fn to the stored order under the repository's write lock,
	// so concurrent status transitions for the same order never lose updates.
	Mutate(ctx context.Context, tenantID, id string, fn func(*Order) error) (*Order, error)
}
