package postgres

import (
	"context"
	"fmt"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/storage"
)

// TradeStore implements storage.TradeStore using PostgreSQL.
//
// The leg updates are CASE-based conditional field updates on purpose:
// the two legs of a trade are columns of one row, not separately keyed
// rows, so each statement tests which leg (if any) the event's escrow
// address belongs to and touches only that leg's fields. Every CASE
// right-hand side evaluates against the pre-update row, so the sibling
// leg's state read by the overall_status recomputation is the committed
// value, never a partially applied one.
type TradeStore struct {
	pool *Pool
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(pool *Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// CompleteLeg marks the leg backed by escrowAddress COMPLETED and
// recomputes overall_status. The matched-leg guard makes re-delivery a
// no-op and keeps released_at from being overwritten. A release while
// the sibling leg is CANCELLED marks the trade CANCELLED, not COMPLETED:
// a trade with a cancelled leg can no longer fully complete.
func (s *TradeStore) CompleteLeg(ctx context.Context, tradeID int64, escrowAddress string, at time.Time) (bool, error) {
	query := `
		UPDATE trades SET
			leg1_state = CASE
				WHEN leg1_escrow_address = $2 AND leg1_state NOT IN ('COMPLETED', 'CANCELLED')
				THEN 'COMPLETED' ELSE leg1_state END,
			leg1_released_at = CASE
				WHEN leg1_escrow_address = $2 AND leg1_state NOT IN ('COMPLETED', 'CANCELLED')
				THEN $3 ELSE leg1_released_at END,
			leg2_state = CASE
				WHEN leg2_escrow_address = $2 AND COALESCE(leg2_state, '') NOT IN ('COMPLETED', 'CANCELLED')
				THEN 'COMPLETED' ELSE leg2_state END,
			leg2_released_at = CASE
				WHEN leg2_escrow_address = $2 AND COALESCE(leg2_state, '') NOT IN ('COMPLETED', 'CANCELLED')
				THEN $3 ELSE leg2_released_at END,
			overall_status = CASE
				WHEN leg1_escrow_address = $2 AND leg1_state NOT IN ('COMPLETED', 'CANCELLED') THEN
					CASE
						WHEN leg2_escrow_address IS NULL THEN 'COMPLETED'
						WHEN leg2_state = 'COMPLETED' THEN 'COMPLETED'
						WHEN leg2_state = 'CANCELLED' THEN 'CANCELLED'
						ELSE overall_status
					END
				WHEN leg2_escrow_address = $2 AND COALESCE(leg2_state, '') NOT IN ('COMPLETED', 'CANCELLED') THEN
					CASE
						WHEN leg1_state = 'COMPLETED' THEN 'COMPLETED'
						WHEN leg1_state = 'CANCELLED' THEN 'CANCELLED'
						ELSE overall_status
					END
				ELSE overall_status
			END
		WHERE id = $1 AND (leg1_escrow_address = $2 OR leg2_escrow_address = $2)
	`

	start := time.Now()
	ct, err := s.pool.Exec(ctx, query, tradeID, escrowAddress, at)
	observability.RecordDBQuery("postgres", "trade_complete_leg", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("complete trade leg: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// CancelLeg marks the leg backed by escrowAddress CANCELLED and
// recomputes overall_status: CANCELLED when the matched leg is the only
// leg or the sibling leg has already reached COMPLETED or CANCELLED;
// otherwise unchanged, awaiting the sibling's outcome.
func (s *TradeStore) CancelLeg(ctx context.Context, tradeID int64, escrowAddress string, at time.Time) (bool, error) {
	query := `
		UPDATE trades SET
			leg1_state = CASE
				WHEN leg1_escrow_address = $2 AND leg1_state NOT IN ('COMPLETED', 'CANCELLED')
				THEN 'CANCELLED' ELSE leg1_state END,
			leg1_cancelled_at = CASE
				WHEN leg1_escrow_address = $2 AND leg1_state NOT IN ('COMPLETED', 'CANCELLED')
				THEN $3 ELSE leg1_cancelled_at END,
			leg2_state = CASE
				WHEN leg2_escrow_address = $2 AND COALESCE(leg2_state, '') NOT IN ('COMPLETED', 'CANCELLED')
				THEN 'CANCELLED' ELSE leg2_state END,
			leg2_cancelled_at = CASE
				WHEN leg2_escrow_address = $2 AND COALESCE(leg2_state, '') NOT IN ('COMPLETED', 'CANCELLED')
				THEN $3 ELSE leg2_cancelled_at END,
			overall_status = CASE
				WHEN leg1_escrow_address = $2 AND leg1_state NOT IN ('COMPLETED', 'CANCELLED') THEN
					CASE
						WHEN leg2_escrow_address IS NULL THEN 'CANCELLED'
						WHEN leg2_state IN ('COMPLETED', 'CANCELLED') THEN 'CANCELLED'
						ELSE overall_status
					END
				WHEN leg2_escrow_address = $2 AND COALESCE(leg2_state, '') NOT IN ('COMPLETED', 'CANCELLED') THEN
					CASE
						WHEN leg1_state IN ('COMPLETED', 'CANCELLED') THEN 'CANCELLED'
						ELSE overall_status
					END
				ELSE overall_status
			END
		WHERE id = $1 AND (leg1_escrow_address = $2 OR leg2_escrow_address = $2)
	`

	start := time.Now()
	ct, err := s.pool.Exec(ctx, query, tradeID, escrowAddress, at)
	observability.RecordDBQuery("postgres", "trade_cancel_leg", time.Since(start).Seconds(), err)
	if err != nil {
		return false, fmt.Errorf("cancel trade leg: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// GetByID retrieves a trade row. Returns ErrNotFound if absent.
func (s *TradeStore) GetByID(ctx context.Context, tradeID int64) (*domain.Trade, error) {
	query := `
		SELECT id, leg1_escrow_address, leg2_escrow_address,
		       leg1_state, leg2_state,
		       leg1_released_at, leg1_cancelled_at,
		       leg2_released_at, leg2_cancelled_at,
		       overall_status
		FROM trades
		WHERE id = $1
	`

	var t domain.Trade
	var leg1State, overall string
	var leg2State *string
	start := time.Now()
	err := s.pool.QueryRow(ctx, query, tradeID).Scan(
		&t.ID,
		&t.Leg1EscrowAddress,
		&t.Leg2EscrowAddress,
		&leg1State,
		&leg2State,
		&t.Leg1ReleasedAt,
		&t.Leg1CancelledAt,
		&t.Leg2ReleasedAt,
		&t.Leg2CancelledAt,
		&overall,
	)
	// An absent row is an outcome, not a query failure.
	qerr := err
	if isNotFoundError(qerr) {
		qerr = nil
	}
	observability.RecordDBQuery("postgres", "trade_get", time.Since(start).Seconds(), qerr)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade by id: %w", err)
	}

	t.Leg1State = domain.LegState(leg1State)
	if leg2State != nil {
		ls := domain.LegState(*leg2State)
		t.Leg2State = &ls
	}
	t.OverallStatus = domain.TradeStatus(overall)

	return &t, nil
}
