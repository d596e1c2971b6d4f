package memory

import (
	"context"
	"sync"
	"testing"

	domstock "github.com/smartuniversity/marketplace-service/internal/domain/stock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReserveDecrementsAvailability(t *testing.T) {
	ctx := context.Background()
	ledger := NewStockLedger()
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", 5))

	ticket, err := ledger.Reserve(ctx, "tenant-a", "o-1", "p-1", 2)
	require.NoError(t, err)
	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, 2, ticket.Quantity)

	available, err := ledger.Available(ctx, "tenant-a", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestReserveInsufficientStock(t *testing.T) {
	ctx := context.Background()
	ledger := NewStockLedger()
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", 1))

	_, err := ledger.Reserve(ctx, "tenant-a", "o-1", "p-1", 2)
	assert.ErrorIs(t, err, domstock.ErrInsufficientStock)

	available, err := ledger.Available(ctx, "tenant-a", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 1, available)
}

func TestReserveUnknownProduct(t *testing.T) {
	ledger := NewStockLedger()
	_, err := ledger.Reserve(context.Background(), "tenant-a", "o-1", "missing", 1)
	assert.ErrorIs(t, err, domstock.ErrNotFound)
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	ledger := NewStockLedger()
	_, err := ledger.Reserve(context.Background(), "tenant-a", "o-1", "p-1", 0)
	assert.ErrorIs(t, err, domstock.ErrInvalidQuantity)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ledger := NewStockLedger()
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", 5))

	ticket, err := ledger.Reserve(ctx, "tenant-a", "o-1", "p-1", 3)
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, ticket))
	require.NoError(t, ledger.Release(ctx, ticket))
	require.NoError(t, ledger.Release(ctx, ticket))

	available, err := ledger.Available(ctx, "tenant-a", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 5, available)
}

func TestReleaseAfterFinalizeDoesNotRestock(t *testing.T) {
	ctx := context.Background()
	ledger := NewStockLedger()
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", 5))

	ticket, err := ledger.Reserve(ctx, "tenant-a", "o-1", "p-1", 2)
	require.NoError(t, err)
	ledger.Finalize(ctx, ticket)

	require.NoError(t, ledger.Release(ctx, ticket))

	available, err := ledger.Available(ctx, "tenant-a", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 3, available)
}

func TestReserveExhaustsRetryBudgetOnRepeatedConflict(t *testing.T) {
	ctx := context.Background()
	ledger := NewStockLedger(WithReserveAttempts(3))
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", 10))

	// Bump the version between snapshot and commit so every attempt loses
	// its optimistic check.
	ledger.beforeCommit = func() {
		ledger.mu.Lock()
		ledger.records[stockKey("tenant-a", "p-1")].Version++
		ledger.mu.Unlock()
	}

	_, err := ledger.Reserve(ctx, "tenant-a", "o-1", "p-1", 1)
	assert.ErrorIs(t, err, domstock.ErrConcurrencyExhausted)

	available, err := ledger.Available(ctx, "tenant-a", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 10, available)
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	ctx := context.Background()
	const stock = 5
	const buyers = 8

	// A generous retry budget so contenders fail on stock, not on conflicts.
	ledger := NewStockLedger(WithReserveAttempts(buyers * 4))
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", stock))

	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.Reserve(ctx, "tenant-a", "o-1", "p-1", 1)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domstock.ErrInsufficientStock)
		}
	}

	assert.Equal(t, stock, succeeded)
	available, err := ledger.Available(ctx, "tenant-a", "p-1")
	require.NoError(t, err)
	assert.Equal(t, 0, available)
}

func TestStockIsTenantScoped(t *testing.T) {
	ctx := context.Background()
	ledger := NewStockLedger()
	require.NoError(t, ledger.SetQuantity(ctx, "tenant-a", "p-1", 5))

	_, err := ledger.Available(ctx, "tenant-b", "p-1")
	assert.ErrorIs(t, err, domstock.ErrNotFound)
}
