package clickhouse

import (
	"context"
	"fmt"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/storage"
)

// EventJournalStore implements storage.EventJournal using ClickHouse.
// The journal is append-only; MergeTree does not enforce uniqueness and
// duplicate deliveries are recorded as-is.
type EventJournalStore struct {
	conn *Conn
}

// NewEventJournalStore creates a new EventJournalStore.
func NewEventJournalStore(conn *Conn) *EventJournalStore {
	return &EventJournalStore{conn: conn}
}

// Compile-time interface check.
var _ storage.EventJournal = (*EventJournalStore)(nil)

// Append records one decoded event. Uses async insert so journal writes
// stay off the reconciliation path.
func (s *EventJournalStore) Append(ctx context.Context, rec *domain.EventRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO escrow_event_journal (
			event_kind, schema_version, tx_signature, slot,
			escrow_address, trade_id, amount, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	start := time.Now()
	err := s.conn.AsyncInsert(ctx, query, false,
		string(rec.Kind),
		rec.Schema,
		rec.Signature,
		rec.Slot,
		rec.EscrowAddress,
		rec.TradeID,
		rec.Amount,
		rec.ReceivedAt,
	)
	observability.RecordDBQuery("clickhouse", "journal_append", time.Since(start).Seconds(), err)
	if err != nil {
		return fmt.Errorf("append event journal: %w", err)
	}
	return nil
}
