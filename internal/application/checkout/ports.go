package checkout

import (
	"github.com/smartuniversity/marketplace-service/internal/domain/stock"
)

type IDGenerator interface {
	NewID() string
}

// Reconciler accepts reservation tickets whose release failed so they can be
// retried out of band. Enqueue must never block the saga.
type Reconciler interface {
	Enqueue(ticket stock.ReservationTicket)
}
