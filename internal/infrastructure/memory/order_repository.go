package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/smartuniversity/marketplace-service/internal/domain/order"
)

// OrderRepository keeps order aggregates in memory, keyed per tenant by order
// id and by idempotency key. Mutations run under the write lock so concurrent
// saga transitions for the same order never lose updates.
type OrderRepository struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order // tenant/id -> order
	idempotency map[string]string        // tenant/key -> order id
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:      make(map[string]*domain.Order),
		idempotency: make(map[string]string),
	}
}

func orderKey(tenantID, id string) string { return tenantID + "/" + id }

func (r *OrderRepository) Insert(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" || order.TenantID == "" {
		return fmt.Errorf("order repository: tenant and id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(order.TenantID, order.ID)
	if _, exists := r.orders[key]; exists {
		return domain.ErrConflict
	}

	if idem := order.IdempotencyKey; idem != "" {
		idemKey := orderKey(order.TenantID, idem)
		if existingID, exists := r.idempotency[idemKey]; exists {
			if _, ok := r.orders[orderKey(order.TenantID, existingID)]; ok {
				return domain.ErrConflict
			}
		}
		r.idempotency[idemKey] = order.ID
	}

	r.orders[key] = order.Clone()
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, tenantID, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderKey(tenantID, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*domain.Order, error) {
	_ = ctx
	if key == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, ok := r.idempotency[orderKey(tenantID, key)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	order, found := r.orders[orderKey(tenantID, orderID)]
	if !found {
		return nil, domain.ErrNotFound
	}
	return order.Clone(), nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, tenantID, buyerID string) ([]*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Order
	for _, o := range r.orders {
		if o.TenantID == tenantID && o.BuyerID == buyerID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *OrderRepository) Mutate(ctx context.Context, tenantID, id string, fn func(*domain.Order) error) (*domain.Order, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	key := orderKey(tenantID, id)
	stored, ok := r.orders[key]
	if !ok {
		return nil, domain.ErrNotFound
	}

	updated := stored.Clone()
	if err := fn(updated); err != nil {
		return nil, err
	}
	r.orders[key] = updated
	return updated.Clone(), nil
}
