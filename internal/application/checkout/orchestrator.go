package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/smartuniversity/marketplace-service/internal/domain/order"
	domoutbox "github.com/smartuniversity/marketplace-service/internal/domain/outbox"
	dompayment "github.com/smartuniversity/marketplace-service/internal/domain/payment"
	domproduct "github.com/smartuniversity/marketplace-service/internal/domain/product"
	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	"github.com/smartuniversity/marketplace-service/internal/observability/logctx"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	useCaseCheckout = "checkout"
	spanPrefix      = "UC."
	publishPeer     = "outbox"
	publishEndpoint = "order.confirmed"
	publishTimeout  = 300 * time.Millisecond
	cancelTimeout   = 5 * time.Second
)

// Orchestrator drives the checkout saga: reserve stock, authorize payment,
// confirm the order; on any failure it compensates in reverse order. It
// exclusively owns the order lifecycle.
type Orchestrator struct {
	orders     domorder.Repository
	products   domproduct.Repository
	ledger     domstock.Ledger
	gateway    dompayment.Gateway
	attempts   dompayment.AttemptStore
	publisher  domoutbox.Publisher
	reconciler Reconciler
	idGen      IDGenerator
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	extCounter   observability.Counter
	extHistogram observability.Histogram
	pubFailures  observability.Counter
}

func NewOrchestrator(
	orders domorder.Repository,
	products domproduct.Repository,
	ledger domstock.Ledger,
	gateway dompayment.Gateway,
	attempts dompayment.AttemptStore,
	publisher domoutbox.Publisher,
	reconciler Reconciler,
	idGen IDGenerator,
	tel observability.Observability,
) *Orchestrator {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &Orchestrator{
		orders:       orders,
		products:     products,
		ledger:       ledger,
		gateway:      gateway,
		attempts:     attempts,
		publisher:    publisher,
		reconciler:   reconciler,
		idGen:        idGen,
		tel:          tel,
		log:          tel.Logger().With(observability.F("component", "checkout_orchestrator")),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		extCounter:   metrics.Counter(observability.MExternalRequests),
		extHistogram: metrics.Histogram(observability.MExternalRequestDuration),
		pubFailures:  metrics.Counter(observability.MEventPublishFailures),
	}
}

type ItemInput struct {
	ProductID string
	Quantity  int
}

type CheckoutInput struct {
	TenantID       string
	BuyerID        string
	IdempotencyKey string
	Items          []ItemInput
}

// Checkout runs the saga for one order. Re-sending the same idempotency key
// within a tenant returns the previously created order unchanged, with no
// side effects re-run.
func (o *Orchestrator) Checkout(ctx context.Context, in CheckoutInput) (_ *domorder.Order, err error) {
	logger := logctx.FromOr(ctx, o.log).With(observability.F("use_case", useCaseCheckout))

	ctx, span := o.tel.Tracer().Start(ctx, spanPrefix+"Checkout",
		attribute.String("use_case", useCaseCheckout),
		attribute.String("order.tenant_id", in.TenantID),
		attribute.String("order.buyer_id", in.BuyerID),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"

	defer func() {
		lat := time.Since(start).Seconds()

		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, statusText)
			} else {
				span.SetStatus(codes.Ok, statusText)
			}
			span.End()
		}

		o.reqCounter.Add(1,
			observability.L("use_case", useCaseCheckout),
			observability.L("outcome", outcome),
		)
		o.durHistogram.Observe(lat,
			observability.L("use_case", useCaseCheckout),
		)

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", lat),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("checkout_done", fields...)
	}()

	// Idempotent replay short-circuits before any side effect.
	if in.IdempotencyKey != "" {
		existing, repoErr := o.orders.FindByIdempotencyKey(ctx, in.TenantID, in.IdempotencyKey)
		switch {
		case repoErr == nil:
			statusText = "IDEMPOTENT_REPLAY"
			span.AddEvent("order.idempotent_replay",
				trace.WithAttributes(attribute.String("order.id", existing.ID)),
			)
			return existing, nil
		case errors.Is(repoErr, domorder.ErrNotFound):
			// continue
		default:
			outcome, statusText = "error", "IDEMPOTENCY_LOOKUP_FAILED"
			return nil, fmt.Errorf("checkout: idempotency lookup: %w", repoErr)
		}
	}

	items, verr := o.validate(ctx, in)
	if verr != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return nil, verr
	}

	entity, err := domorder.New(o.idGen.NewID(), in.TenantID, in.BuyerID, in.IdempotencyKey, items)
	if err != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		return nil, newValidation("%v", err)
	}
	if err := o.orders.Insert(ctx, entity); err != nil {
		if errors.Is(err, domorder.ErrConflict) && in.IdempotencyKey != "" {
			if existing, lookupErr := o.orders.FindByIdempotencyKey(ctx, in.TenantID, in.IdempotencyKey); lookupErr == nil {
				statusText = "IDEMPOTENT_REPLAY"
				return existing, nil
			}
		}
		outcome, statusText = "error", "ORDER_INSERT_FAILED"
		return nil, fmt.Errorf("checkout: insert order: %w", err)
	}

	span.AddEvent("order.initiated",
		trace.WithAttributes(attribute.String("order.id", entity.ID)),
	)

	// Step 1: reserve stock, all or nothing across the item set.
	tickets, reserveErr := o.reserveAll(ctx, entity)
	if reserveErr != nil {
		o.releaseAll(ctx, logger, tickets)
		o.fail(ctx, logger, entity, domorder.StatusStockUnavailable, reserveErr.Error())
		outcome, statusText = "conflict", "STOCK_UNAVAILABLE"
		if errors.Is(reserveErr, domstock.ErrConcurrencyExhausted) {
			statusText = "CONCURRENCY_EXHAUSTED"
			return nil, reserveErr
		}
		return nil, fmt.Errorf("%w: %v", ErrStockUnavailable, reserveErr)
	}
	if err := o.transition(ctx, entity, domorder.StatusStockReserved); err != nil {
		o.releaseAll(ctx, logger, tickets)
		o.fail(ctx, logger, entity, domorder.StatusCancelled, err.Error())
		outcome, statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, err
	}

	// Caller-initiated cancellation is honoured only before authorization;
	// afterwards the saga always runs to a terminal status.
	if ctxErr := ctx.Err(); ctxErr != nil {
		o.releaseAll(ctx, logger, tickets)
		o.fail(ctx, logger, entity, domorder.StatusCancelled, "checkout aborted by caller")
		outcome, statusText = "error", "CONTEXT_CANCELED"
		return nil, ctxErr
	}

	// Step 2: authorize payment through the resilience-wrapped gateway.
	auth, payErr := o.authorize(ctx, entity)
	if payErr != nil {
		o.releaseAll(ctx, logger, tickets)
		switch {
		case errors.Is(payErr, dompayment.ErrDeclined):
			o.recordAttempt(ctx, logger, entity, dompayment.AttemptDeclined, "")
			o.fail(ctx, logger, entity, domorder.StatusPaymentDeclined, payErr.Error())
			outcome, statusText = "conflict", "PAYMENT_DECLINED"
		default:
			o.fail(ctx, logger, entity, domorder.StatusPaymentUnavailable, payErr.Error())
			outcome, statusText = "unavailable", "PAYMENT_UNAVAILABLE"
		}
		return nil, payErr
	}
	o.recordAttempt(ctx, logger, entity, dompayment.AttemptApproved, auth.ProviderReference)

	authorized, err := o.orders.Mutate(ctx, entity.TenantID, entity.ID, func(current *domorder.Order) error {
		if terr := current.TransitionTo(domorder.StatusPaymentAuthorized); terr != nil {
			return terr
		}
		current.PaymentReference = auth.ProviderReference
		return nil
	})
	if err != nil {
		o.unwind(ctx, logger, entity, auth, tickets)
		outcome, statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, fmt.Errorf("checkout: persist authorization: %w", err)
	}
	entity = authorized

	// Step 3: confirm. Reservations are finalized, not reversed.
	confirmed, err := o.orders.Mutate(ctx, entity.TenantID, entity.ID, func(current *domorder.Order) error {
		return current.TransitionTo(domorder.StatusConfirmed)
	})
	if err != nil {
		o.unwind(ctx, logger, entity, auth, tickets)
		outcome, statusText = "error", "ORDER_UPDATE_FAILED"
		return nil, fmt.Errorf("checkout: confirm order: %w", err)
	}
	entity = confirmed
	for _, t := range tickets {
		o.ledger.Finalize(ctx, t)
	}

	o.publishConfirmed(ctx, logger, entity)

	span.SetAttributes(attribute.String("order.status", string(entity.Status)))
	span.AddEvent("order.confirmed",
		trace.WithAttributes(attribute.String("order.id", entity.ID)),
	)
	return entity, nil
}

// GetOrder returns the order if the requester is its buyer.
func (o *Orchestrator) GetOrder(ctx context.Context, tenantID, orderID, requesterID string) (*domorder.Order, error) {
	entity, err := o.orders.Get(ctx, tenantID, orderID)
	if err != nil {
		return nil, err
	}
	if entity.BuyerID != requesterID {
		return nil, domorder.ErrForbidden
	}
	return entity, nil
}

// ListOrdersForUser returns the user's orders, newest first.
func (o *Orchestrator) ListOrdersForUser(ctx context.Context, tenantID, userID string) ([]*domorder.Order, error) {
	return o.orders.ListByBuyer(ctx, tenantID, userID)
}

func (o *Orchestrator) validate(ctx context.Context, in CheckoutInput) ([]domorder.Item, error) {
	if in.TenantID == "" {
		return nil, newValidation("tenant id is required")
	}
	if in.BuyerID == "" {
		return nil, newValidation("buyer id is required")
	}
	if in.IdempotencyKey == "" {
		return nil, newValidation("idempotency key is required")
	}
	if len(in.Items) == 0 {
		return nil, newValidation("at least one item is required")
	}

	items := make([]domorder.Item, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 {
			return nil, newValidation("quantity for product %s must be greater than zero", it.ProductID)
		}
		p, err := o.products.Get(ctx, in.TenantID, it.ProductID)
		if err != nil {
			if errors.Is(err, domproduct.ErrNotFound) {
				return nil, newValidation("product %s not found", it.ProductID)
			}
			return nil, fmt.Errorf("checkout: resolve product %s: %w", it.ProductID, err)
		}
		items = append(items, domorder.Item{
			ProductID:      p.ID,
			Quantity:       it.Quantity,
			UnitPriceCents: p.PriceCents,
		})
	}
	return items, nil
}

func (o *Orchestrator) reserveAll(ctx context.Context, entity *domorder.Order) ([]domstock.ReservationTicket, error) {
	tickets := make([]domstock.ReservationTicket, 0, len(entity.Items))
	for _, item := range entity.Items {
		ticket, err := o.ledger.Reserve(ctx, entity.TenantID, entity.ID, item.ProductID, item.Quantity)
		if err != nil {
			return tickets, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, nil
}

// releaseAll compensates taken reservations. A failed release is logged and
// queued for reconciliation; it never changes the client-visible outcome.
func (o *Orchestrator) releaseAll(ctx context.Context, logger observability.Logger, tickets []domstock.ReservationTicket) {
	ctx = context.WithoutCancel(ctx)
	for _, ticket := range tickets {
		if err := o.ledger.Release(ctx, ticket); err != nil {
			logger.Error("stock_release_failed",
				observability.F("ticket_id", ticket.ID),
				observability.F("order_id", ticket.OrderID),
				observability.F("product_id", ticket.ProductID),
				observability.F("error", err.Error()),
			)
			if o.reconciler != nil {
				o.reconciler.Enqueue(ticket)
			}
		}
	}
}

func (o *Orchestrator) authorize(ctx context.Context, entity *domorder.Order) (dompayment.Authorization, error) {
	// A retried saga step must not authorize the same key twice.
	if att, err := o.attempts.FindByKey(ctx, entity.TenantID, entity.IdempotencyKey); err == nil && att.Outcome == dompayment.AttemptApproved {
		return dompayment.Authorization{ProviderReference: att.ProviderReference}, nil
	}
	return o.gateway.Authorize(ctx, entity.TenantID, entity.ID, entity.TotalCents, entity.IdempotencyKey)
}

func (o *Orchestrator) recordAttempt(ctx context.Context, logger observability.Logger, entity *domorder.Order, outcome dompayment.AttemptOutcome, providerRef string) {
	err := o.attempts.Record(ctx, dompayment.Attempt{
		TenantID:          entity.TenantID,
		OrderID:           entity.ID,
		IdempotencyKey:    entity.IdempotencyKey,
		Outcome:           outcome,
		ProviderReference: providerRef,
		CreatedAt:         time.Now().UTC(),
	})
	if err != nil {
		logger.Warn("payment_attempt_record_failed",
			observability.F("order_id", entity.ID),
			observability.F("error", err.Error()),
		)
	}
}

// unwind reverses an authorized-but-unconfirmed checkout: the authorization
// is cancelled best effort, reservations released, and the order cancelled.
func (o *Orchestrator) unwind(ctx context.Context, logger observability.Logger, entity *domorder.Order, auth dompayment.Authorization, tickets []domstock.ReservationTicket) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := o.gateway.Cancel(cancelCtx, entity.TenantID, auth.ProviderReference); err != nil {
		logger.Error("payment_cancel_failed",
			observability.F("order_id", entity.ID),
			observability.F("provider_reference", auth.ProviderReference),
			observability.F("error", err.Error()),
		)
	}
	o.releaseAll(ctx, logger, tickets)
	o.fail(ctx, logger, entity, domorder.StatusCancelled, "confirmation could not be persisted")
}

func (o *Orchestrator) transition(ctx context.Context, entity *domorder.Order, next domorder.Status) error {
	updated, err := o.orders.Mutate(ctx, entity.TenantID, entity.ID, func(current *domorder.Order) error {
		return current.TransitionTo(next)
	})
	if err != nil {
		return fmt.Errorf("checkout: transition to %s: %w", next, err)
	}
	*entity = *updated
	return nil
}

// fail moves the order to a terminal failure status. Errors here are logged
// only: the client-visible outcome must stay the primary failure.
func (o *Orchestrator) fail(ctx context.Context, logger observability.Logger, entity *domorder.Order, status domorder.Status, reason string) {
	ctx = context.WithoutCancel(ctx)
	updated, err := o.orders.Mutate(ctx, entity.TenantID, entity.ID, func(current *domorder.Order) error {
		return current.Fail(status, reason)
	})
	if err != nil {
		logger.Error("order_fail_transition_failed",
			observability.F("order_id", entity.ID),
			observability.F("target_status", string(status)),
			observability.F("error", err.Error()),
		)
		return
	}
	*entity = *updated
}

func (o *Orchestrator) publishConfirmed(ctx context.Context, logger observability.Logger, entity *domorder.Order) {
	if o.publisher == nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	pubStart := time.Now()
	pubOutcome := "success"
	if err := o.publisher.Publish(pubCtx, domorder.NewOrderConfirmedEvent(entity)); err != nil {
		pubOutcome = "error"
		o.pubFailures.Add(1, observability.L("event", publishEndpoint))
		logger.Warn("order_confirmed_publish_failed",
			observability.F("order_id", entity.ID),
			observability.F("error", err.Error()),
		)
	}

	o.extCounter.Add(1,
		observability.L("peer", publishPeer),
		observability.L("endpoint", publishEndpoint),
		observability.L("outcome", pubOutcome),
	)
	o.extHistogram.Observe(time.Since(pubStart).Seconds(),
		observability.L("peer", publishPeer),
		observability.L("endpoint", publishEndpoint),
	)
}
