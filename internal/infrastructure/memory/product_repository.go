package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	domain "github.com/smartuniversity/marketplace-service/internal/domain/product"
)

type ProductRepository struct {
	mu       sync.RWMutex
	products map[string]*domain.Product // tenant/id -> product
}

func NewProductRepository() *ProductRepository {
	return &ProductRepository{
		products: make(map[string]*domain.Product),
	}
}

func (r *ProductRepository) Insert(ctx context.Context, p *domain.Product) error {
	_ = ctx
	if p == nil || p.ID == "" || p.TenantID == "" {
		return fmt.Errorf("product repository: tenant and id are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.products[orderKey(p.TenantID, p.ID)] = p.Clone()
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, tenantID, id string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[orderKey(tenantID, id)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *ProductRepository) List(ctx context.Context, tenantID string) ([]*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Product
	for _, p := range r.products {
		if p.TenantID == tenantID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
