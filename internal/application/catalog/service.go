package catalog

import (
	"context"
	"errors"
	"fmt"

	domproduct "github.com/smartuniversity/marketplace-service/internal/domain/product"
	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	"github.com/smartuniversity/marketplace-service/internal/observability/logctx"
)

// ErrRoleForbidden rejects catalog writes from buyers; only teachers and
// admins may create products.
var ErrRoleForbidden = errors.New("catalog: role may not create products")

const (
	RoleTeacher = "TEACHER"
	RoleAdmin   = "ADMIN"
)

type IDGenerator interface {
	NewID() string
}

// Service manages the tenant product catalog and seeds the stock ledger when
// products are created.
type Service struct {
	products domproduct.Repository
	ledger   domstock.Ledger
	idGen    IDGenerator
	log      observability.Logger
}

func NewService(products domproduct.Repository, ledger domstock.Ledger, idGen IDGenerator, logger observability.Logger) *Service {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Service{
		products: products,
		ledger:   ledger,
		idGen:    idGen,
		log:      logger.With(observability.F("component", "catalog_service")),
	}
}

type CreateProductInput struct {
	TenantID    string
	Role        string
	Name        string
	Description string
	PriceCents  int64
	Stock       int
}

// ProductView joins a product with its current availability.
type ProductView struct {
	Product   *domproduct.Product
	Available int
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (*domproduct.Product, error) {
	if in.Role != RoleTeacher && in.Role != RoleAdmin {
		return nil, ErrRoleForbidden
	}

	p, err := domproduct.New(s.idGen.NewID(), in.TenantID, in.Name, in.Description, in.PriceCents)
	if err != nil {
		return nil, err
	}
	if err := s.products.Insert(ctx, p); err != nil {
		return nil, fmt.Errorf("catalog: insert product: %w", err)
	}
	if err := s.ledger.SetQuantity(ctx, in.TenantID, p.ID, in.Stock); err != nil {
		return nil, fmt.Errorf("catalog: seed stock: %w", err)
	}

	logger := logctx.FromOr(ctx, s.log)
	logger.Info("product_created",
		observability.F("tenant_id", in.TenantID),
		observability.F("product_id", p.ID),
		observability.F("stock", in.Stock),
	)
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, tenantID, id string) (*ProductView, error) {
	p, err := s.products.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return s.withAvailability(ctx, p), nil
}

func (s *Service) ListProducts(ctx context.Context, tenantID string) ([]*ProductView, error) {
	products, err := s.products.List(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]*ProductView, 0, len(products))
	for _, p := range products {
		out = append(out, s.withAvailability(ctx, p))
	}
	return out, nil
}

func (s *Service) withAvailability(ctx context.Context, p *domproduct.Product) *ProductView {
	available, err := s.ledger.Available(ctx, p.TenantID, p.ID)
	if err != nil {
		available = 0
	}
	return &ProductView{Product: p, Available: available}
}
