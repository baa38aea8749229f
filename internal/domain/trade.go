package domain

import "time"

// LegState is the settlement state of one trade leg.
type LegState string

const (
	LegStateCreated   LegState = "CREATED"
	LegStateFunded    LegState = "FUNDED"
	LegStateCompleted LegState = "COMPLETED"
	LegStateCancelled LegState = "CANCELLED"
)

// IsTerminal reports whether the leg has reached a final state.
func (s LegState) IsTerminal() bool {
	return s == LegStateCompleted || s == LegStateCancelled
}

// TradeStatus is the derived overall status of a trade.
type TradeStatus string

const (
	TradeStatusInProgress TradeStatus = "IN_PROGRESS"
	TradeStatusCompleted  TradeStatus = "COMPLETED"
	TradeStatusCancelled  TradeStatus = "CANCELLED"
)

// Trade represents one row of the trades read model. Rows pre-exist the
// listener (created by an external process) and are only mutated here:
// leg states, leg timestamps, and the derived overall status.
//
// A trade has one or two legs, each backed by at most one escrow. An
// escrow address matches at most one leg position per trade. Leg2 fields
// are nil for non-sequential trades.
type Trade struct {
	ID                int64 // PRIMARY KEY
	Leg1EscrowAddress string
	Leg2EscrowAddress *string
	Leg1State         LegState
	Leg2State         *LegState
	Leg1ReleasedAt    *time.Time
	Leg1CancelledAt   *time.Time
	Leg2ReleasedAt    *time.Time
	Leg2CancelledAt   *time.Time
	OverallStatus     TradeStatus
}

// HasLeg2 reports whether the trade is a two-leg (sequential) trade.
func (t *Trade) HasLeg2() bool {
	return t.Leg2EscrowAddress != nil && *t.Leg2EscrowAddress != ""
}
