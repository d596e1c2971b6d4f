package reconciliation

import (
	"context"
	"sync"
	"time"

	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/smartuniversity/marketplace-service/internal/observability"
)

const (
	defaultCapacity   = 256
	defaultRetryDelay = 5 * time.Second
	maxRetriesPerTick = 3
)

// Queue retries stock releases that failed during saga compensation. Tickets
// that still cannot be released after the per-tick retry budget are logged for
// manual follow-up; they are never silently dropped.
type Queue struct {
	ledger     domstock.Ledger
	tickets    chan domstock.ReservationTicket
	retryDelay time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	log     observability.Logger
	retries observability.Counter
}

func NewQueue(ledger domstock.Ledger, logger observability.Logger, retries observability.Counter) *Queue {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if retries == nil {
		retries = observability.NopCounter()
	}
	return &Queue{
		ledger:     ledger,
		tickets:    make(chan domstock.ReservationTicket, defaultCapacity),
		retryDelay: defaultRetryDelay,
		done:       make(chan struct{}),
		log:        logger.With(observability.F("component", "reconciliation_queue")),
		retries:    retries,
	}
}

// Enqueue never blocks the calling saga. When the queue is full the ticket is
// logged at error level so operators can reconcile by hand.
func (q *Queue) Enqueue(ticket domstock.ReservationTicket) {
	select {
	case q.tickets <- ticket:
		q.log.Warn("release_queued_for_reconciliation",
			observability.F("ticket_id", ticket.ID),
			observability.F("order_id", ticket.OrderID),
			observability.F("product_id", ticket.ProductID),
			observability.F("quantity", ticket.Quantity),
		)
	default:
		q.log.Error("reconciliation_queue_full",
			observability.F("ticket_id", ticket.ID),
			observability.F("order_id", ticket.OrderID),
			observability.F("product_id", ticket.ProductID),
			observability.F("quantity", ticket.Quantity),
		)
	}
}

func (q *Queue) Start(ctx context.Context) {
	q.startOnce.Do(func() {
		bg, cancel := context.WithCancel(ctx)
		q.cancel = cancel
		go q.loop(bg)
		q.log.Info("reconciliation_queue_started")
	})
}

func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		// The loop only runs, and done only closes, after Start.
		if q.cancel == nil {
			return
		}
		q.cancel()
		<-q.done
		q.log.Info("reconciliation_queue_stopped")
	})
}

func (q *Queue) loop(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ticket := <-q.tickets:
			q.reconcile(ctx, ticket)
		}
	}
}

func (q *Queue) reconcile(ctx context.Context, ticket domstock.ReservationTicket) {
	for attempt := 0; attempt < maxRetriesPerTick; attempt++ {
		q.retries.Add(1)
		if err := q.ledger.Release(ctx, ticket); err == nil {
			q.log.Info("release_reconciled",
				observability.F("ticket_id", ticket.ID),
				observability.F("order_id", ticket.OrderID),
			)
			return
		}

		timer := time.NewTimer(q.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	q.log.Error("release_reconciliation_exhausted",
		observability.F("ticket_id", ticket.ID),
		observability.F("order_id", ticket.OrderID),
		observability.F("product_id", ticket.ProductID),
		observability.F("quantity", ticket.Quantity),
	)
}
