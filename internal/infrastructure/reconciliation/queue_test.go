package reconciliation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyLedger fails Release a configured number of times before succeeding.
type flakyLedger struct {
	mu           sync.Mutex
	failuresLeft int
	attempts     int
	released     []domstock.ReservationTicket
}

func (l *flakyLedger) Release(ctx context.Context, ticket domstock.ReservationTicket) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts++
	if l.failuresLeft > 0 {
		l.failuresLeft--
		return errors.New("ledger offline")
	}
	l.released = append(l.released, ticket)
	return nil
}

func (l *flakyLedger) Reserve(ctx context.Context, tenantID, orderID, productID string, quantity int) (domstock.ReservationTicket, error) {
	return domstock.ReservationTicket{}, errors.New("not implemented")
}

func (l *flakyLedger) Finalize(ctx context.Context, ticket domstock.ReservationTicket) {}

func (l *flakyLedger) Available(ctx context.Context, tenantID, productID string) (int, error) {
	return 0, domstock.ErrNotFound
}

func (l *flakyLedger) SetQuantity(ctx context.Context, tenantID, productID string, quantity int) error {
	return nil
}

func (l *flakyLedger) snapshot() (attempts int, released []domstock.ReservationTicket) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.attempts, append([]domstock.ReservationTicket(nil), l.released...)
}

func testTicket() domstock.ReservationTicket {
	return domstock.ReservationTicket{
		ID:        "ticket-1",
		TenantID:  "tenant-a",
		OrderID:   "o-1",
		ProductID: "p-1",
		Quantity:  2,
		CreatedAt: time.Now().UTC(),
	}
}

func TestQueuedTicketIsRetriedToSuccess(t *testing.T) {
	ledger := &flakyLedger{failuresLeft: 2}
	q := NewQueue(ledger, nil, nil)
	q.retryDelay = time.Millisecond

	q.Start(context.Background())
	t.Cleanup(q.Stop)

	q.Enqueue(testTicket())

	require.Eventually(t, func() bool {
		_, released := ledger.snapshot()
		return len(released) == 1
	}, 2*time.Second, 5*time.Millisecond)

	attempts, released := ledger.snapshot()
	assert.Equal(t, 3, attempts)
	assert.Equal(t, "ticket-1", released[0].ID)
	assert.Equal(t, 2, released[0].Quantity)
}

func TestReleaseRetriesAreExhausted(t *testing.T) {
	ledger := &flakyLedger{failuresLeft: 100}
	q := NewQueue(ledger, nil, nil)
	q.retryDelay = time.Millisecond

	q.Start(context.Background())
	t.Cleanup(q.Stop)

	q.Enqueue(testTicket())

	// The per-tick budget caps the attempts; the ticket is then handed to
	// operators via the log, not retried forever.
	require.Eventually(t, func() bool {
		attempts, _ := ledger.snapshot()
		return attempts == maxRetriesPerTick
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	attempts, released := ledger.snapshot()
	assert.Equal(t, maxRetriesPerTick, attempts)
	assert.Empty(t, released)
}

func TestStopWithoutStartReturns(t *testing.T) {
	q := NewQueue(&flakyLedger{}, nil, nil)

	stopped := make(chan struct{})
	go func() {
		q.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked without a running loop")
	}
}

func TestEnqueueNeverBlocksWhenFull(t *testing.T) {
	q := NewQueue(&flakyLedger{failuresLeft: 100}, nil, nil)
	// Not started: nothing drains the channel.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultCapacity+10; i++ {
			q.Enqueue(testTicket())
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
}
