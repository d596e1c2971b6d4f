package notification

import (
	"context"

	domorder "github.com/smartuniversity/marketplace-service/internal/domain/order"
	domoutbox "github.com/smartuniversity/marketplace-service/internal/domain/outbox"
	"github.com/smartuniversity/marketplace-service/internal/observability"
	"github.com/smartuniversity/marketplace-service/internal/observability/logctx"
)

// Worker consumes order confirmation events and notifies interested parties.
// Delivery is best effort; an error here never feeds back into the saga.
type Worker struct {
	subscriber domoutbox.Subscriber
	log        observability.Logger
}

func New(subscriber domoutbox.Subscriber, logger observability.Logger) *Worker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Worker{
		subscriber: subscriber,
		log:        logger.With(observability.F("component", "notification_worker")),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil {
		return
	}
	w.subscriber.Subscribe(domorder.OrderConfirmedEvent{}.EventName(), w.handleOrderConfirmed)
}

func (w *Worker) handleOrderConfirmed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(domorder.OrderConfirmedEvent)
	if !ok {
		return nil
	}

	logger := logctx.FromOr(ctx, w.log)
	logger.Info("order_confirmation_notified",
		observability.F("tenant_id", evt.TenantID),
		observability.F("order_id", evt.OrderID),
		observability.F("buyer_id", evt.BuyerID),
		observability.F("total_cents", evt.TotalCents),
	)
	return nil
}
