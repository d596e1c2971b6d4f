package product

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("product: not found")
	ErrInvalidName  = errors.New("product: name is required")
	ErrInvalidPrice = errors.New("product: price must be zero or greater")
)

type Product struct {
	ID          string
	TenantID    string
	Name        string
	Description string
	PriceCents  int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func New(id, tenantID, name, description string, priceCents int64) (*Product, error) {
	if name == "" {
		return nil, ErrInvalidName
	}
	if priceCents < 0 {
		return nil, ErrInvalidPrice
	}
	now := time.Now().UTC()
	return &Product{
		ID:          id,
		TenantID:    tenantID,
		Name:        name,
		Description: description,
		PriceCents:  priceCents,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}
