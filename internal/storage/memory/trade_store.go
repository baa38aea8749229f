package memory

import (
	"context"
	"sync"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore with
// the same leg-matching and overall-status semantics as the Postgres
// store.
type TradeStore struct {
	mu   sync.RWMutex
	data map[int64]*domain.Trade // keyed by trade id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[int64]*domain.Trade),
	}
}

// Compile-time interface check.
var _ storage.TradeStore = (*TradeStore)(nil)

// Seed inserts a pre-existing trade row. Trades are created by an
// external process in production; tests use Seed to stand in for it.
func (s *TradeStore) Seed(t *domain.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := *t
	if row.OverallStatus == "" {
		row.OverallStatus = domain.TradeStatusInProgress
	}
	if row.Leg1State == "" {
		row.Leg1State = domain.LegStateCreated
	}
	if row.HasLeg2() && row.Leg2State == nil {
		ls := domain.LegStateCreated
		row.Leg2State = &ls
	}
	s.data[t.ID] = &row
}

// CompleteLeg marks the matching leg COMPLETED and recomputes the
// overall status. See storage.TradeStore for the full contract.
func (s *TradeStore) CompleteLeg(_ context.Context, tradeID int64, escrowAddress string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[tradeID]
	if !exists {
		return false, nil
	}

	switch {
	case t.Leg1EscrowAddress == escrowAddress:
		if t.Leg1State.IsTerminal() {
			return true, nil
		}
		t.Leg1State = domain.LegStateCompleted
		ts := at
		t.Leg1ReleasedAt = &ts
		switch {
		case !t.HasLeg2():
			t.OverallStatus = domain.TradeStatusCompleted
		case legState(t.Leg2State) == domain.LegStateCompleted:
			t.OverallStatus = domain.TradeStatusCompleted
		case legState(t.Leg2State) == domain.LegStateCancelled:
			t.OverallStatus = domain.TradeStatusCancelled
		}
		return true, nil

	case t.HasLeg2() && *t.Leg2EscrowAddress == escrowAddress:
		if legState(t.Leg2State).IsTerminal() {
			return true, nil
		}
		ls := domain.LegStateCompleted
		t.Leg2State = &ls
		ts := at
		t.Leg2ReleasedAt = &ts
		switch t.Leg1State {
		case domain.LegStateCompleted:
			t.OverallStatus = domain.TradeStatusCompleted
		case domain.LegStateCancelled:
			t.OverallStatus = domain.TradeStatusCancelled
		}
		return true, nil
	}

	// Address matches neither leg: row untouched.
	return false, nil
}

// CancelLeg marks the matching leg CANCELLED and recomputes the overall
// status. See storage.TradeStore for the full contract.
func (s *TradeStore) CancelLeg(_ context.Context, tradeID int64, escrowAddress string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.data[tradeID]
	if !exists {
		return false, nil
	}

	switch {
	case t.Leg1EscrowAddress == escrowAddress:
		if t.Leg1State.IsTerminal() {
			return true, nil
		}
		t.Leg1State = domain.LegStateCancelled
		ts := at
		t.Leg1CancelledAt = &ts
		if !t.HasLeg2() || legState(t.Leg2State).IsTerminal() {
			t.OverallStatus = domain.TradeStatusCancelled
		}
		return true, nil

	case t.HasLeg2() && *t.Leg2EscrowAddress == escrowAddress:
		if legState(t.Leg2State).IsTerminal() {
			return true, nil
		}
		ls := domain.LegStateCancelled
		t.Leg2State = &ls
		ts := at
		t.Leg2CancelledAt = &ts
		if t.Leg1State.IsTerminal() {
			t.OverallStatus = domain.TradeStatusCancelled
		}
		return true, nil
	}

	return false, nil
}

// GetByID retrieves a trade row. Returns ErrNotFound if absent.
func (s *TradeStore) GetByID(_ context.Context, tradeID int64) (*domain.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.data[tradeID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	rowCopy := *t
	return &rowCopy, nil
}

// legState dereferences a nullable leg state, empty when absent.
func legState(s *domain.LegState) domain.LegState {
	if s == nil {
		return ""
	}
	return *s
}
