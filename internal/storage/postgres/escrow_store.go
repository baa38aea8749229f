package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/storage"
)

// EscrowStore implements storage.EscrowStore using PostgreSQL.
type EscrowStore struct {
	pool *Pool
}

// NewEscrowStore creates a new EscrowStore.
func NewEscrowStore(pool *Pool) *EscrowStore {
	return &EscrowStore{pool: pool}
}

// Compile-time interface check.
var _ storage.EscrowStore = (*EscrowStore)(nil)

// CreateIfAbsent inserts the escrow with status CREATED. Re-delivery of
// a creation event for an existing address is a no-op: first-writer-wins
// via ON CONFLICT DO NOTHING, conflicting fields are never merged.
func (s *EscrowStore) CreateIfAbsent(ctx context.Context, e *domain.Escrow) (bool, error) {
	if e == nil || e.EscrowAddress == "" {
		return false, storage.ErrInvalidInput
	}

	query := `
		INSERT INTO escrows (
			escrow_address, trade_id, seller_address, buyer_address,
			token_type, amount, status, sequential, sequential_escrow_address,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6::numeric, 'CREATED', $7, $8, $9, $9)
		ON CONFLICT (escrow_address) DO NOTHING
	`

	tokenType := e.TokenType
	if tokenType == "" {
		tokenType = domain.TokenTypeUSDC
	}

	start := time.Now()
	ct, err := s.pool.Exec(ctx, query,
		e.EscrowAddress,
		e.TradeID,
		e.SellerAddress,
		e.BuyerAddress,
		tokenType,
		e.Amount,
		e.Sequential,
		e.SequentialEscrowAddress,
		e.CreatedAt,
	)
	observability.RecordDBQuery("postgres", "escrow_create", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("insert escrow: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkFunded moves the escrow to FUNDED, overwriting the amount with the
// event's amount and setting the deposit timestamp. The row is matched
// by (escrow address AND trade id); a trade-id mismatch updates nothing.
// The terminal guard keeps RELEASED/CANCELLED rows from moving backward.
func (s *EscrowStore) MarkFunded(ctx context.Context, escrowAddress string, tradeID int64, amount string, at time.Time) (bool, error) {
	query := `
		UPDATE escrows
		SET status = 'FUNDED', amount = $3::numeric, deposit_timestamp = $4, updated_at = $4
		WHERE escrow_address = $1 AND trade_id = $2
		  AND status NOT IN ('RELEASED', 'CANCELLED')
	`

	start := time.Now()
	ct, err := s.pool.Exec(ctx, query, escrowAddress, tradeID, amount, at)
	observability.RecordDBQuery("postgres", "escrow_mark_funded", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("mark escrow funded: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkReleased moves the escrow to RELEASED unless already terminal.
func (s *EscrowStore) MarkReleased(ctx context.Context, escrowAddress string, at time.Time) (bool, error) {
	query := `
		UPDATE escrows
		SET status = 'RELEASED', updated_at = $2
		WHERE escrow_address = $1
		  AND status NOT IN ('RELEASED', 'CANCELLED')
	`

	start := time.Now()
	ct, err := s.pool.Exec(ctx, query, escrowAddress, at)
	observability.RecordDBQuery("postgres", "escrow_mark_released", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("mark escrow released: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkCancelled moves the escrow to CANCELLED unless already terminal.
func (s *EscrowStore) MarkCancelled(ctx context.Context, escrowAddress string, at time.Time) (bool, error) {
	query := `
		UPDATE escrows
		SET status = 'CANCELLED', updated_at = $2
		WHERE escrow_address = $1
		  AND status NOT IN ('RELEASED', 'CANCELLED')
	`

	start := time.Now()
	ct, err := s.pool.Exec(ctx, query, escrowAddress, at)
	observability.RecordDBQuery("postgres", "escrow_mark_cancelled", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("mark escrow cancelled: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// GetByAddress retrieves an escrow row. Returns ErrNotFound if absent.
func (s *EscrowStore) GetByAddress(ctx context.Context, escrowAddress string) (*domain.Escrow, error) {
	query := `
		SELECT escrow_address, trade_id, seller_address, buyer_address,
		       token_type, amount::text, status, sequential,
		       sequential_escrow_address, created_at, deposit_timestamp, updated_at
		FROM escrows
		WHERE escrow_address = $1
	`

	var e domain.Escrow
	var status string
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, escrowAddress).Scan(
		&e.EscrowAddress,
		&e.TradeID,
		&e.SellerAddress,
		&e.BuyerAddress,
		&e.TokenType,
		&e.Amount,
		&status,
		&e.Sequential,
		&e.SequentialEscrowAddress,
		&e.CreatedAt,
		&e.DepositTimestamp,
		&e.UpdatedAt,
	)
	// An absent row is an outcome, not a query failure.
	qerr := err
	if isNotFoundError(qerr) {
		qerr = nil
	}
	observability.RecordDBQuery("postgres", "escrow_get", time.Since(start).Seconds(), qerr)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get escrow by address: %w", err)
	}
	e.Status = domain.EscrowStatus(status)

	return &e, nil
}
