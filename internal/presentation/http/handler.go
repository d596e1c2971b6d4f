package httppresentation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/smartuniversity/marketplace-service/internal/application/catalog"
	"github.com/smartuniversity/marketplace-service/internal/application/checkout"
	domorder "github.com/smartuniversity/marketplace-service/internal/domain/order"
	dompayment "github.com/smartuniversity/marketplace-service/internal/domain/payment"
	domproduct "github.com/smartuniversity/marketplace-service/internal/domain/product"
	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	"github.com/smartuniversity/marketplace-service/internal/observability/logctx"
)

const (
	headerIdempotencyKey = "X-Idempotency-Key"
	requestTimeout       = 30 * time.Second
)

// Handler exposes the marketplace REST surface under /market.
type Handler struct {
	checkout *checkout.Orchestrator
	catalog  *catalog.Service
	log      observability.Logger
	tel      observability.Observability
}

func NewHandler(orchestrator *checkout.Orchestrator, catalogSvc *catalog.Service, logger observability.Logger, tel observability.Observability) *Handler {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Handler{
		checkout: orchestrator,
		catalog:  catalogSvc,
		log:      logger,
		tel:      tel,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Observability(h.log, h.tel))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(requestTimeout))

	r.Get("/health", h.health)

	r.Route("/market", func(r chi.Router) {
		r.Use(RequireIdentity)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.listProducts)
			r.Post("/", h.createProduct)
			r.Get("/{productID}", h.getProduct)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/checkout", h.checkoutOrder)
			r.Get("/mine", h.listMyOrders)
			r.Get("/{orderID}", h.getOrder)
		})
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createProductRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

type productResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	Available   int    `json:"available"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req createProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeReason(w, http.StatusBadRequest, "MALFORMED_BODY", "invalid JSON body")
		return
	}

	p, err := h.catalog.CreateProduct(r.Context(), catalog.CreateProductInput{
		TenantID:    ident.TenantID,
		Role:        ident.Role,
		Name:        req.Name,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Stock:       req.Stock,
	})
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	writeJSON(w, http.StatusCreated, productResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		PriceCents:  p.PriceCents,
		Available:   req.Stock,
	})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	view, err := h.catalog.GetProduct(r.Context(), ident.TenantID, chi.URLParam(r, "productID"))
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProductResponse(view))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	views, err := h.catalog.ListProducts(r.Context(), ident.TenantID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	out := make([]productResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toProductResponse(v))
	}
	writeJSON(w, http.StatusOK, out)
}

func toProductResponse(v *catalog.ProductView) productResponse {
	return productResponse{
		ID:          v.Product.ID,
		Name:        v.Product.Name,
		Description: v.Product.Description,
		PriceCents:  v.Product.PriceCents,
		Available:   v.Available,
	}
}

type checkoutItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type checkoutRequest struct {
	Items []checkoutItemRequest `json:"items"`
}

type orderItemResponse struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	Status           string              `json:"status"`
	Items            []orderItemResponse `json:"items"`
	TotalCents       int64               `json:"total_cents"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	FailureReason    string              `json:"failure_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
}

func (h *Handler) checkoutOrder(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeReason(w, http.StatusBadRequest, "MALFORMED_BODY", "invalid JSON body")
		return
	}

	items := make([]checkout.ItemInput, 0, len(req.Items))
	for _, it := range req.Items {
		items = append(items, checkout.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	entity, err := h.checkout.Checkout(r.Context(), checkout.CheckoutInput{
		TenantID:       ident.TenantID,
		BuyerID:        ident.UserID,
		IdempotencyKey: idempotencyKey(r, ident, req),
		Items:          items,
	})
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	status := http.StatusCreated
	switch entity.Status {
	case domorder.StatusStockUnavailable:
		writeOrderReason(w, http.StatusConflict, "STOCK_UNAVAILABLE", entity)
		return
	case domorder.StatusPaymentDeclined:
		writeOrderReason(w, http.StatusConflict, "PAYMENT_DECLINED", entity)
		return
	case domorder.StatusPaymentUnavailable:
		writeOrderReason(w, http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", entity)
		return
	case domorder.StatusCancelled:
		writeOrderReason(w, http.StatusConflict, "CANCELLED", entity)
		return
	}
	writeJSON(w, status, toOrderResponse(entity))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	entity, err := h.checkout.GetOrder(r.Context(), ident.TenantID, chi.URLParam(r, "orderID"), ident.UserID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(entity))
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	orders, err := h.checkout.ListOrdersForUser(r.Context(), ident.TenantID, ident.UserID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, entity := range orders {
		out = append(out, toOrderResponse(entity))
	}
	writeJSON(w, http.StatusOK, out)
}

func toOrderResponse(entity *domorder.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(entity.Items))
	for _, it := range entity.Items {
		items = append(items, orderItemResponse{
			ProductID:      it.ProductID,
			Quantity:       it.Quantity,
			UnitPriceCents: it.UnitPriceCents,
		})
	}
	return orderResponse{
		ID:               entity.ID,
		Status:           string(entity.Status),
		Items:            items,
		TotalCents:       entity.TotalCents,
		PaymentReference: entity.PaymentReference,
		FailureReason:    entity.FailureReason,
		CreatedAt:        entity.CreatedAt,
	}
}

// idempotencyKey prefers the client-supplied header. Without one, the key is
// derived from the caller identity and the normalized cart so an identical
// retry still deduplicates.
func idempotencyKey(r *http.Request, ident Identity, req checkoutRequest) string {
	if key := r.Header.Get(headerIdempotencyKey); key != "" {
		return key
	}

	lines := make([]string, 0, len(req.Items))
	for _, it := range req.Items {
		lines = append(lines, fmt.Sprintf("%s:%d", it.ProductID, it.Quantity))
	}
	sort.Strings(lines)

	hash := sha256.New()
	fmt.Fprintf(hash, "%s|%s", ident.TenantID, ident.UserID)
	for _, line := range lines {
		fmt.Fprintf(hash, "|%s", line)
	}
	return hex.EncodeToString(hash.Sum(nil))
}

type errorResponse struct {
	Reason  string         `json:"reason"`
	Message string         `json:"message"`
	Order   *orderResponse `json:"order,omitempty"`
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, checkout.ErrValidation),
		errors.Is(err, domorder.ErrNoItems),
		errors.Is(err, domorder.ErrInvalidQuantity),
		errors.Is(err, domproduct.ErrInvalidName),
		errors.Is(err, domproduct.ErrInvalidPrice),
		errors.Is(err, domstock.ErrInvalidQuantity):
		writeReason(w, http.StatusBadRequest, "VALIDATION", err.Error())
	case errors.Is(err, domorder.ErrNotFound),
		errors.Is(err, domproduct.ErrNotFound),
		errors.Is(err, domstock.ErrNotFound):
		writeReason(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, domorder.ErrForbidden),
		errors.Is(err, catalog.ErrRoleForbidden):
		writeReason(w, http.StatusForbidden, "FORBIDDEN", err.Error())
	case errors.Is(err, checkout.ErrStockUnavailable),
		errors.Is(err, domstock.ErrInsufficientStock):
		writeReason(w, http.StatusConflict, "STOCK_UNAVAILABLE", err.Error())
	case errors.Is(err, domstock.ErrConcurrencyExhausted):
		writeReason(w, http.StatusConflict, "CONCURRENCY_EXHAUSTED", err.Error())
	case errors.Is(err, dompayment.ErrDeclined):
		writeReason(w, http.StatusConflict, "PAYMENT_DECLINED", err.Error())
	case errors.Is(err, dompayment.ErrServiceUnavailable):
		writeReason(w, http.StatusServiceUnavailable, "PAYMENT_UNAVAILABLE", err.Error())
	case errors.Is(err, domorder.ErrConflict):
		writeReason(w, http.StatusConflict, "CONFLICT", err.Error())
	default:
		logctx.FromOr(ctx, h.log).Error("request_failed", observability.F("error", err.Error()))
		writeReason(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func writeOrderReason(w http.ResponseWriter, status int, reason string, entity *domorder.Order) {
	body := toOrderResponse(entity)
	writeJSON(w, status, errorResponse{
		Reason:  reason,
		Message: entity.FailureReason,
		Order:   &body,
	})
}

func writeReason(w http.ResponseWriter, status int, reason, message string) {
	writeJSON(w, status, errorResponse{Reason: reason, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
