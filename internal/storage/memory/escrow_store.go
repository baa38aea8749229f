package memory

import (
	"context"
	"sync"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/storage"
)

// EscrowStore is an in-memory implementation of storage.EscrowStore.
// It mirrors the guard semantics of the Postgres store so reconciler
// tests exercise the same state machine without a database.
type EscrowStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Escrow // keyed by escrow_address
}

// NewEscrowStore creates a new in-memory escrow store.
func NewEscrowStore() *EscrowStore {
	return &EscrowStore{
		data: make(map[string]*domain.Escrow),
	}
}

// Compile-time interface check.
var _ storage.EscrowStore = (*EscrowStore)(nil)

// CreateIfAbsent inserts the escrow with status CREATED; a row with the
// same address already present is left untouched (first-writer-wins).
func (s *EscrowStore) CreateIfAbsent(_ context.Context, e *domain.Escrow) (bool, error) {
	if e == nil || e.EscrowAddress == "" {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[e.EscrowAddress]; exists {
		return false, nil
	}

	row := *e
	row.Status = domain.EscrowStatusCreated
	if row.TokenType == "" {
		row.TokenType = domain.TokenTypeUSDC
	}
	row.UpdatedAt = row.CreatedAt
	s.data[e.EscrowAddress] = &row
	return true, nil
}

// MarkFunded moves the escrow to FUNDED if (address, trade id) match and
// the row is not terminal.
func (s *EscrowStore) MarkFunded(_ context.Context, escrowAddress string, tradeID int64, amount string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.data[escrowAddress]
	if !exists || row.TradeID != tradeID || row.Status.IsTerminal() {
		return false, nil
	}

	row.Status = domain.EscrowStatusFunded
	row.Amount = amount
	ts := at
	row.DepositTimestamp = &ts
	row.UpdatedAt = at
	return true, nil
}

// MarkReleased moves the escrow to RELEASED unless already terminal.
func (s *EscrowStore) MarkReleased(_ context.Context, escrowAddress string, at time.Time) (bool, error) {
	return s.markTerminal(escrowAddress, domain.EscrowStatusReleased, at)
}

// MarkCancelled moves the escrow to CANCELLED unless already terminal.
func (s *EscrowStore) MarkCancelled(_ context.Context, escrowAddress string, at time.Time) (bool, error) {
	return s.markTerminal(escrowAddress, domain.EscrowStatusCancelled, at)
}

func (s *EscrowStore) markTerminal(escrowAddress string, status domain.EscrowStatus, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, exists := s.data[escrowAddress]
	if !exists || row.Status.IsTerminal() {
		return false, nil
	}

	row.Status = status
	row.UpdatedAt = at
	return true, nil
}

// GetByAddress retrieves an escrow row. Returns ErrNotFound if absent.
func (s *EscrowStore) GetByAddress(_ context.Context, escrowAddress string) (*domain.Escrow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, exists := s.data[escrowAddress]
	if !exists {
		return nil, storage.ErrNotFound
	}

	// Return a copy to prevent external mutation
	rowCopy := *row
	return &rowCopy, nil
}
