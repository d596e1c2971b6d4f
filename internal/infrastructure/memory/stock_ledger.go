package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	domain "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/smartuniversity/marketplace-service/internal/observability"
)

const defaultReserveAttempts = 3

// StockLedger tracks per-product availability per tenant using optimistic
// versioning: a reservation snapshots the record, then commits only if the
// version is unchanged, retrying a bounded number of times on conflict. The
// store mutex is held only for the individual read or commit, never across a
// whole reservation.
type StockLedger struct {
	mu      sync.RWMutex
	records map[string]*domain.Record            // tenant/product -> record
	tickets map[string]*domain.ReservationTicket // ticket id -> outstanding ticket

	maxAttempts int
	conflicts   observability.Counter

	// beforeCommit runs between snapshot and commit; tests use it to force
	// version conflicts.
	beforeCommit func()
}

type LedgerOption func(*StockLedger)

func WithReserveAttempts(n int) LedgerOption {
	return func(l *StockLedger) {
		if n > 0 {
			l.maxAttempts = n
		}
	}
}

func WithConflictCounter(c observability.Counter) LedgerOption {
	return func(l *StockLedger) {
		if c != nil {
			l.conflicts = c
		}
	}
}

func NewStockLedger(opts ...LedgerOption) *StockLedger {
	l := &StockLedger{
		records:     make(map[string]*domain.Record),
		tickets:     make(map[string]*domain.ReservationTicket),
		maxAttempts: defaultReserveAttempts,
		conflicts:   observability.NopCounter(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func stockKey(tenantID, productID string) string { return tenantID + "/" + productID }

func (l *StockLedger) Reserve(ctx context.Context, tenantID, orderID, productID string, quantity int) (domain.ReservationTicket, error) {
	if quantity <= 0 {
		return domain.ReservationTicket{}, domain.ErrInvalidQuantity
	}

	key := stockKey(tenantID, productID)
	for attempt := 0; attempt < l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.ReservationTicket{}, err
		}

		snapshot, err := l.snapshot(key)
		if err != nil {
			return domain.ReservationTicket{}, err
		}
		if snapshot.Available < quantity {
			return domain.ReservationTicket{}, domain.ErrInsufficientStock
		}

		if l.beforeCommit != nil {
			l.beforeCommit()
		}

		ticket := domain.ReservationTicket{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			OrderID:   orderID,
			ProductID: productID,
			Quantity:  quantity,
			CreatedAt: time.Now().UTC(),
		}
		committed, short := l.commitReserve(key, snapshot.Version, ticket)
		if short {
			return domain.ReservationTicket{}, domain.ErrInsufficientStock
		}
		if committed {
			return ticket, nil
		}
		l.conflicts.Add(1)
	}

	return domain.ReservationTicket{}, domain.ErrConcurrencyExhausted
}

func (l *StockLedger) Release(ctx context.Context, ticket domain.ReservationTicket) error {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()

	outstanding, ok := l.tickets[ticket.ID]
	if !ok {
		// Already released or never issued; releasing again must stay safe.
		return nil
	}
	delete(l.tickets, ticket.ID)

	record, ok := l.records[stockKey(outstanding.TenantID, outstanding.ProductID)]
	if !ok {
		return nil
	}
	record.Available += outstanding.Quantity
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	return nil
}

// Finalize discards the ticket after a confirmed checkout so a later Release
// of the same ticket cannot re-add consumed stock.
func (l *StockLedger) Finalize(ctx context.Context, ticket domain.ReservationTicket) {
	_ = ctx

	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.tickets, ticket.ID)
}

func (l *StockLedger) Available(ctx context.Context, tenantID, productID string) (int, error) {
	_ = ctx

	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.records[stockKey(tenantID, productID)]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return record.Available, nil
}

func (l *StockLedger) SetQuantity(ctx context.Context, tenantID, productID string, quantity int) error {
	_ = ctx
	if quantity < 0 {
		return domain.ErrInvalidQuantity
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := stockKey(tenantID, productID)
	record, ok := l.records[key]
	if !ok {
		l.records[key] = &domain.Record{
			TenantID:  tenantID,
			ProductID: productID,
			Available: quantity,
			Version:   1,
			UpdatedAt: time.Now().UTC(),
		}
		return nil
	}
	record.Available = quantity
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	return nil
}

func (l *StockLedger) snapshot(key string) (*domain.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	record, ok := l.records[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return record.Clone(), nil
}

// commitReserve decrements availability iff the record version still matches
// the snapshot. Reports (committed, insufficient).
func (l *StockLedger) commitReserve(key string, expectedVersion int64, ticket domain.ReservationTicket) (bool, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.records[key]
	if !ok {
		return false, true
	}
	if record.Version != expectedVersion {
		if record.Available < ticket.Quantity {
			return false, true
		}
		return false, false
	}
	if record.Available < ticket.Quantity {
		return false, true
	}

	record.Available -= ticket.Quantity
	record.Version++
	record.UpdatedAt = time.Now().UTC()
	stored := ticket
	l.tickets[ticket.ID] = &stored
	return true, false
}
