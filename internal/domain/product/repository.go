package product

import "context"

type Repository interface {
	Insert(ctx context.Context, p *Product) error
	Get(ctx context.Context, tenantID, id string) (*Product, error)
	List(ctx context.Context, tenantID string) ([]*Product, error)
}
