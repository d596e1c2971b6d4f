package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	domorder "github.com/smartuniversity/marketplace-service/internal/domain/order"
	domoutbox "github.com/smartuniversity/marketplace-service/internal/domain/outbox"
	dompayment "github.com/smartuniversity/marketplace-service/internal/domain/payment"
	domproduct "github.com/smartuniversity/marketplace-service/internal/domain/product"
	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/id"
	"github.com/smartuniversity/marketplace-service/internal/infrastructure/memory"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	mu         sync.Mutex
	authorizes int
	cancels    int
	err        error
}

func (g *fakeGateway) Authorize(ctx context.Context, tenantID, orderID string, amountCents int64, idempotencyKey string) (dompayment.Authorization, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.authorizes++
	if g.err != nil {
		return dompayment.Authorization{}, g.err
	}
	return dompayment.Authorization{ProviderReference: "prov-ref-1"}, nil
}

func (g *fakeGateway) Cancel(ctx context.Context, tenantID, providerReference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancels++
	return nil
}

type capturingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *capturingPublisher) Publish(ctx context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type capturingReconciler struct {
	mu      sync.Mutex
	tickets []domstock.ReservationTicket
}

func (r *capturingReconciler) Enqueue(ticket domstock.ReservationTicket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tickets = append(r.tickets, ticket)
}

// brokenReleaseLedger reserves normally but fails every compensating release.
type brokenReleaseLedger struct {
	*memory.StockLedger
}

func (l *brokenReleaseLedger) Release(ctx context.Context, ticket domstock.ReservationTicket) error {
	return errors.New("ledger offline")
}

// mutateFailingOrders fails the n-th Mutate call and passes the rest through.
type mutateFailingOrders struct {
	*memory.OrderRepository
	calls  int
	failOn int
}

func (r *mutateFailingOrders) Mutate(ctx context.Context, tenantID, id string, fn func(*domorder.Order) error) (*domorder.Order, error) {
	r.calls++
	if r.calls == r.failOn {
		return nil, errors.New("order store unavailable")
	}
	return r.OrderRepository.Mutate(ctx, tenantID, id, fn)
}

type fixture struct {
	orders    *memory.OrderRepository
	products  *memory.ProductRepository
	ledger    *memory.StockLedger
	attempts  *memory.AttemptStore
	gateway   *fakeGateway
	publisher *capturingPublisher
	orch      *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		orders:    memory.NewOrderRepository(),
		products:  memory.NewProductRepository(),
		ledger:    memory.NewStockLedger(),
		attempts:  memory.NewAttemptStore(),
		gateway:   &fakeGateway{},
		publisher: &capturingPublisher{},
	}
	f.orch = NewOrchestrator(
		f.orders,
		f.products,
		f.ledger,
		f.gateway,
		f.attempts,
		f.publisher,
		&capturingReconciler{},
		id.NewUUIDGenerator(),
		observability.Nop(),
	)
	return f
}

func (f *fixture) seedProduct(t *testing.T, tenantID, productID string, priceCents int64, stock int) {
	t.Helper()
	ctx := context.Background()
	p, err := domproduct.New(productID, tenantID, "Course Pack "+productID, "", priceCents)
	require.NoError(t, err)
	require.NoError(t, f.products.Insert(ctx, p))
	require.NoError(t, f.ledger.SetQuantity(ctx, tenantID, productID, stock))
}

func (f *fixture) available(t *testing.T, tenantID, productID string) int {
	t.Helper()
	n, err := f.ledger.Available(context.Background(), tenantID, productID)
	require.NoError(t, err)
	return n
}

func TestCheckoutConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)

	entity, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	})
	require.NoError(t, err)

	assert.Equal(t, domorder.StatusConfirmed, entity.Status)
	assert.Equal(t, int64(2000), entity.TotalCents)
	assert.Equal(t, "prov-ref-1", entity.PaymentReference)
	assert.Equal(t, 3, f.available(t, "tenant-a", "p-1"))
	assert.Equal(t, 1, f.gateway.authorizes)

	require.Len(t, f.publisher.events, 1)
	evt, ok := f.publisher.events[0].(domorder.OrderConfirmedEvent)
	require.True(t, ok)
	assert.Equal(t, entity.ID, evt.OrderID)
	assert.Equal(t, int64(2000), evt.TotalCents)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 1)

	_, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 3}},
	})
	assert.ErrorIs(t, err, ErrStockUnavailable)

	// No payment was attempted and the stock is untouched.
	assert.Equal(t, 0, f.gateway.authorizes)
	assert.Equal(t, 1, f.available(t, "tenant-a", "p-1"))

	stored, err := f.orders.FindByIdempotencyKey(context.Background(), "tenant-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusStockUnavailable, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)
}

func TestCheckoutPartialReservationIsRolledBack(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)
	f.seedProduct(t, "tenant-a", "p-2", 500, 0)

	_, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items: []ItemInput{
			{ProductID: "p-1", Quantity: 2},
			{ProductID: "p-2", Quantity: 1},
		},
	})
	assert.ErrorIs(t, err, ErrStockUnavailable)

	// The reservation taken for the first item is compensated.
	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))
	assert.Equal(t, 0, f.available(t, "tenant-a", "p-2"))
}

func TestCheckoutPaymentDeclined(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)
	f.gateway.err = dompayment.ErrDeclined

	_, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	})
	assert.ErrorIs(t, err, dompayment.ErrDeclined)

	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))

	stored, err := f.orders.FindByIdempotencyKey(context.Background(), "tenant-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaymentDeclined, stored.Status)

	att, err := f.attempts.FindByKey(context.Background(), "tenant-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, dompayment.AttemptDeclined, att.Outcome)
}

func TestCheckoutPaymentUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)
	f.gateway.err = dompayment.ErrServiceUnavailable

	_, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	})
	assert.ErrorIs(t, err, dompayment.ErrServiceUnavailable)

	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))

	stored, err := f.orders.FindByIdempotencyKey(context.Background(), "tenant-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaymentUnavailable, stored.Status)
}

func TestCheckoutIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)

	in := CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	}

	first, err := f.orch.Checkout(context.Background(), in)
	require.NoError(t, err)

	second, err := f.orch.Checkout(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, domorder.StatusConfirmed, second.Status)

	// The replay re-ran no side effects.
	assert.Equal(t, 1, f.gateway.authorizes)
	assert.Equal(t, 3, f.available(t, "tenant-a", "p-1"))
	assert.Len(t, f.publisher.events, 1)
}

func TestCheckoutReplayOfFailedOrderDoesNotRetry(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)
	f.gateway.err = dompayment.ErrDeclined

	in := CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	}

	_, err := f.orch.Checkout(context.Background(), in)
	require.ErrorIs(t, err, dompayment.ErrDeclined)

	// The same key replays the declined order instead of re-running the saga.
	f.gateway.err = nil
	replayed, err := f.orch.Checkout(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusPaymentDeclined, replayed.Status)
	assert.Equal(t, 1, f.gateway.authorizes)
	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))
}

func TestCheckoutFailedReleaseIsQueuedForReconciliation(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)
	f.gateway.err = dompayment.ErrServiceUnavailable

	reconciler := &capturingReconciler{}
	orch := NewOrchestrator(
		f.orders,
		f.products,
		&brokenReleaseLedger{StockLedger: f.ledger},
		f.gateway,
		f.attempts,
		f.publisher,
		reconciler,
		id.NewUUIDGenerator(),
		observability.Nop(),
	)

	_, err := orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	})
	assert.ErrorIs(t, err, dompayment.ErrServiceUnavailable)

	// The release failed, so the ticket lands on the reconciliation queue and
	// the stock stays short until the queue catches up.
	require.Len(t, reconciler.tickets, 1)
	assert.Equal(t, "p-1", reconciler.tickets[0].ProductID)
	assert.Equal(t, 2, reconciler.tickets[0].Quantity)
	assert.Equal(t, 3, f.available(t, "tenant-a", "p-1"))

	// Replaying the queued ticket against the recovered ledger restores it.
	require.NoError(t, f.ledger.Release(context.Background(), reconciler.tickets[0]))
	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))
}

func TestCheckoutConfirmFailureCancelsAuthorization(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)

	// Mutate calls during a happy checkout: STOCK_RESERVED, then
	// PAYMENT_AUTHORIZED, then CONFIRMED. Failing the third forces the unwind
	// after payment has been taken.
	orders := &mutateFailingOrders{OrderRepository: f.orders, failOn: 3}
	orch := NewOrchestrator(
		orders,
		f.products,
		f.ledger,
		f.gateway,
		f.attempts,
		f.publisher,
		&capturingReconciler{},
		id.NewUUIDGenerator(),
		observability.Nop(),
	)

	_, err := orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 2}},
	})
	require.Error(t, err)

	// The authorization was cancelled, the stock released, and the order
	// landed in CANCELLED rather than a dangling PAYMENT_AUTHORIZED.
	assert.Equal(t, 1, f.gateway.cancels)
	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))

	stored, err := f.orders.FindByIdempotencyKey(context.Background(), "tenant-a", "key-1")
	require.NoError(t, err)
	assert.Equal(t, domorder.StatusCancelled, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)

	assert.Empty(t, f.publisher.events)
}

func TestCheckoutValidation(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)

	cases := []struct {
		name string
		in   CheckoutInput
	}{
		{"missing buyer", CheckoutInput{TenantID: "tenant-a", IdempotencyKey: "k", Items: []ItemInput{{ProductID: "p-1", Quantity: 1}}}},
		{"missing idempotency key", CheckoutInput{TenantID: "tenant-a", BuyerID: "b", Items: []ItemInput{{ProductID: "p-1", Quantity: 1}}}},
		{"no items", CheckoutInput{TenantID: "tenant-a", BuyerID: "b", IdempotencyKey: "k"}},
		{"zero quantity", CheckoutInput{TenantID: "tenant-a", BuyerID: "b", IdempotencyKey: "k", Items: []ItemInput{{ProductID: "p-1", Quantity: 0}}}},
		{"unknown product", CheckoutInput{TenantID: "tenant-a", BuyerID: "b", IdempotencyKey: "k", Items: []ItemInput{{ProductID: "nope", Quantity: 1}}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.Checkout(context.Background(), tc.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	// Nothing was created or reserved along the way.
	assert.Equal(t, 5, f.available(t, "tenant-a", "p-1"))
	assert.Equal(t, 0, f.gateway.authorizes)
}

func TestCheckoutSnapshotsPriceAtCheckoutTime(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)

	entity, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1000), entity.Items[0].UnitPriceCents)
}

func TestGetOrderEnforcesBuyer(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 5)

	entity, err := f.orch.Checkout(context.Background(), CheckoutInput{
		TenantID:       "tenant-a",
		BuyerID:        "buyer-1",
		IdempotencyKey: "key-1",
		Items:          []ItemInput{{ProductID: "p-1", Quantity: 1}},
	})
	require.NoError(t, err)

	got, err := f.orch.GetOrder(context.Background(), "tenant-a", entity.ID, "buyer-1")
	require.NoError(t, err)
	assert.Equal(t, entity.ID, got.ID)

	_, err = f.orch.GetOrder(context.Background(), "tenant-a", entity.ID, "buyer-2")
	assert.ErrorIs(t, err, domorder.ErrForbidden)

	_, err = f.orch.GetOrder(context.Background(), "tenant-b", entity.ID, "buyer-1")
	assert.ErrorIs(t, err, domorder.ErrNotFound)
}

func TestListOrdersForUser(t *testing.T) {
	f := newFixture(t)
	f.seedProduct(t, "tenant-a", "p-1", 1000, 10)

	for _, key := range []string{"key-1", "key-2"} {
		_, err := f.orch.Checkout(context.Background(), CheckoutInput{
			TenantID:       "tenant-a",
			BuyerID:        "buyer-1",
			IdempotencyKey: key,
			Items:          []ItemInput{{ProductID: "p-1", Quantity: 1}},
		})
		require.NoError(t, err)
	}

	orders, err := f.orch.ListOrdersForUser(context.Background(), "tenant-a", "buyer-1")
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = f.orch.ListOrdersForUser(context.Background(), "tenant-a", "buyer-2")
	require.NoError(t, err)
	assert.Empty(t, orders)
}
