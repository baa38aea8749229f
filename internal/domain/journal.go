package domain

import "time"

// EventRecord is one row of the append-only event journal: every decoded
// program event, before reconciliation, for audit and debugging.
type EventRecord struct {
	Kind          EventKind
	Schema        string // decoder schema version the event came from
	Signature     string
	Slot          int64
	EscrowAddress string
	TradeID       int64
	Amount        string // empty for events that carry no amount
	ReceivedAt    time.Time
}
