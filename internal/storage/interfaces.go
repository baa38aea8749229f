package storage

import (
	"context"
	"time"

	"solana-escrow-sync/internal/domain"
)

// EscrowStore provides access to the escrows read model.
//
// All mutations are idempotent and carry their state-machine guard in
// the implementation: a row in a terminal status (RELEASED, CANCELLED)
// is never moved backward, and re-applying the same mutation changes
// nothing. Each Mark method reports whether a row was actually mutated.
type EscrowStore interface {
	// CreateIfAbsent inserts the escrow with status CREATED. If a row
	// with the same escrow address already exists the call is a no-op
	// and returns false (first-writer-wins; conflicting fields on
	// re-delivery are ignored, not merged).
	CreateIfAbsent(ctx context.Context, e *domain.Escrow) (bool, error)

	// MarkFunded moves the escrow to FUNDED, overwrites the amount with
	// the event's amount, and sets the deposit timestamp. The row is
	// matched by (escrow address AND trade id); a trade-id mismatch is
	// a no-op, not an error. Rows in a terminal status are untouched.
	MarkFunded(ctx context.Context, escrowAddress string, tradeID int64, amount string, at time.Time) (bool, error)

	// MarkReleased moves the escrow to RELEASED unless it is already in
	// a terminal status.
	MarkReleased(ctx context.Context, escrowAddress string, at time.Time) (bool, error)

	// MarkCancelled moves the escrow to CANCELLED unless it is already
	// in a terminal status.
	MarkCancelled(ctx context.Context, escrowAddress string, at time.Time) (bool, error)

	// GetByAddress retrieves an escrow row. Returns ErrNotFound if it
	// does not exist.
	GetByAddress(ctx context.Context, escrowAddress string) (*domain.Escrow, error)
}

// TradeStore mutates leg state on pre-existing trade rows. Trades are
// never created or deleted by this system.
//
// Leg matching is field-level and conditional: for the row with the
// given trade id, only the leg whose escrow address equals the event's
// escrow address is updated; an address matching neither leg leaves the
// row untouched, and the sibling leg's fields are never clobbered.
type TradeStore interface {
	// CompleteLeg sets the matching leg to COMPLETED with the given
	// released timestamp and recomputes the overall status: COMPLETED
	// when the matched leg is the only leg or the sibling is already
	// COMPLETED; CANCELLED when the sibling is CANCELLED (a trade with
	// a cancelled leg can no longer complete); otherwise unchanged.
	// A leg already in a terminal state is untouched.
	CompleteLeg(ctx context.Context, tradeID int64, escrowAddress string, at time.Time) (bool, error)

	// CancelLeg sets the matching leg to CANCELLED with the given
	// cancelled timestamp and recomputes the overall status: CANCELLED
	// when the matched leg is the only leg or the sibling is already
	// COMPLETED or CANCELLED; otherwise unchanged. A leg already in a
	// terminal state is untouched.
	CancelLeg(ctx context.Context, tradeID int64, escrowAddress string, at time.Time) (bool, error)

	// GetByID retrieves a trade row. Returns ErrNotFound if it does not
	// exist.
	GetByID(ctx context.Context, tradeID int64) (*domain.Trade, error)
}

// EventJournal is an append-only log of every decoded program event.
type EventJournal interface {
	// Append records one decoded event. Duplicates are allowed; the
	// journal reflects delivery, not state.
	Append(ctx context.Context, rec *domain.EventRecord) error
}
