package memory

import (
	"context"
	"sync"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/storage"
)

// EventJournal is an in-memory implementation of storage.EventJournal.
type EventJournal struct {
	mu      sync.RWMutex
	records []*domain.EventRecord
}

// NewEventJournal creates a new in-memory event journal.
func NewEventJournal() *EventJournal {
	return &EventJournal{}
}

// Compile-time interface check.
var _ storage.EventJournal = (*EventJournal)(nil)

// Append records one decoded event. Duplicates are allowed.
func (j *EventJournal) Append(_ context.Context, rec *domain.EventRecord) error {
	if rec == nil {
		return storage.ErrInvalidInput
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	recCopy := *rec
	j.records = append(j.records, &recCopy)
	return nil
}

// Records returns a snapshot of all appended records in append order.
func (j *EventJournal) Records() []*domain.EventRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]*domain.EventRecord, len(j.records))
	for i, r := range j.records {
		recCopy := *r
		out[i] = &recCopy
	}
	return out
}
