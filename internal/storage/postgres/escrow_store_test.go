package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/storage"
)

func testEscrow(addr string, tradeID int64) *domain.Escrow {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &domain.Escrow{
		EscrowAddress: addr,
		TradeID:       tradeID,
		SellerAddress: "Sel1111111111111111111111111111111111111111",
		BuyerAddress:  "Buy1111111111111111111111111111111111111111",
		TokenType:     domain.TokenTypeUSDC,
		Amount:        "1000000",
		Status:        domain.EscrowStatusCreated,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestEscrowStore_CreateIfAbsentAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	e := testEscrow("Esc1", 42)
	e.Sequential = true
	e.SequentialEscrowAddress = ptr("Esc2")

	created, err := store.CreateIfAbsent(ctx, e)
	require.NoError(t, err)
	assert.True(t, created)

	got, err := store.GetByAddress(ctx, "Esc1")
	require.NoError(t, err)

	assert.Equal(t, e.EscrowAddress, got.EscrowAddress)
	assert.Equal(t, e.TradeID, got.TradeID)
	assert.Equal(t, e.SellerAddress, got.SellerAddress)
	assert.Equal(t, e.BuyerAddress, got.BuyerAddress)
	assert.Equal(t, domain.TokenTypeUSDC, got.TokenType)
	assert.Equal(t, "1000000", got.Amount)
	assert.Equal(t, domain.EscrowStatusCreated, got.Status)
	assert.True(t, got.Sequential)
	require.NotNil(t, got.SequentialEscrowAddress)
	assert.Equal(t, "Esc2", *got.SequentialEscrowAddress)
	assert.Nil(t, got.DepositTimestamp)
}

func TestEscrowStore_CreateIfAbsentDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	first := testEscrow("Esc1", 42)
	created, err := store.CreateIfAbsent(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)

	// Re-delivery with different terms must not overwrite the original.
	second := testEscrow("Esc1", 42)
	second.Amount = "9999999"
	second.SellerAddress = "SomeoneElse"
	created, err = store.CreateIfAbsent(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := store.GetByAddress(ctx, "Esc1")
	require.NoError(t, err)
	assert.Equal(t, "1000000", got.Amount)
	assert.Equal(t, first.SellerAddress, got.SellerAddress)
}

func TestEscrowStore_LargeAmountRoundTrip(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	// Above 2^64: must survive through NUMERIC untouched.
	e := testEscrow("EscBig", 7)
	e.Amount = "184467440737095516160000"

	created, err := store.CreateIfAbsent(ctx, e)
	require.NoError(t, err)
	require.True(t, created)

	got, err := store.GetByAddress(ctx, "EscBig")
	require.NoError(t, err)
	assert.Equal(t, "184467440737095516160000", got.Amount)
}

func TestEscrowStore_MarkFunded(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, testEscrow("Esc1", 42))
	require.NoError(t, err)

	at := time.Now().UTC().Truncate(time.Microsecond)
	funded, err := store.MarkFunded(ctx, "Esc1", 42, "2000000", at)
	require.NoError(t, err)
	assert.True(t, funded)

	got, err := store.GetByAddress(ctx, "Esc1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusFunded, got.Status)
	assert.Equal(t, "2000000", got.Amount)
	require.NotNil(t, got.DepositTimestamp)
	assert.WithinDuration(t, at, *got.DepositTimestamp, time.Millisecond)
}

func TestEscrowStore_MarkFundedTradeIDMismatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, testEscrow("Esc1", 42))
	require.NoError(t, err)

	funded, err := store.MarkFunded(ctx, "Esc1", 99, "2000000", time.Now())
	require.NoError(t, err)
	assert.False(t, funded)

	got, err := store.GetByAddress(ctx, "Esc1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusCreated, got.Status)
	assert.Equal(t, "1000000", got.Amount)
}

func TestEscrowStore_TerminalStatesDoNotRegress(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, testEscrow("Esc1", 42))
	require.NoError(t, err)

	cancelled, err := store.MarkCancelled(ctx, "Esc1", time.Now())
	require.NoError(t, err)
	require.True(t, cancelled)

	// Late deposit after cancellation: no update.
	funded, err := store.MarkFunded(ctx, "Esc1", 42, "2000000", time.Now())
	require.NoError(t, err)
	assert.False(t, funded)

	// Release after cancellation: no update either.
	released, err := store.MarkReleased(ctx, "Esc1", time.Now())
	require.NoError(t, err)
	assert.False(t, released)

	got, err := store.GetByAddress(ctx, "Esc1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusCancelled, got.Status)
	assert.Equal(t, "1000000", got.Amount)
}

func TestEscrowStore_MarkReleasedIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, testEscrow("Esc1", 42))
	require.NoError(t, err)

	released, err := store.MarkReleased(ctx, "Esc1", time.Now())
	require.NoError(t, err)
	assert.True(t, released)

	released, err = store.MarkReleased(ctx, "Esc1", time.Now())
	require.NoError(t, err)
	assert.False(t, released)
}

func TestEscrowStore_GetByAddressNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)

	_, err := store.GetByAddress(context.Background(), "NoSuchEscrow")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestEscrowStore_RecordsQueryMetrics(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewEscrowStore(pool)
	ctx := context.Background()

	_, err := store.CreateIfAbsent(ctx, testEscrow("EscMetrics", 77))
	require.NoError(t, err)
	_, err = store.MarkFunded(ctx, "EscMetrics", 77, "500", time.Now())
	require.NoError(t, err)

	assert.Positive(t, testutil.CollectAndCount(observability.DefaultMetrics.DBQueryDuration,
		"escrow_sync_database_query_duration_seconds"))
	assert.Zero(t, testutil.ToFloat64(
		observability.DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "escrow_create")))
	assert.Zero(t, testutil.ToFloat64(
		observability.DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "escrow_mark_funded")))
}
