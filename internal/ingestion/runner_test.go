package ingestion

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/reconcile"
	"solana-escrow-sync/internal/storage/memory"
)

// stubSource feeds a pre-wired channel as the event stream.
type stubSource struct {
	ch chan domain.Event
}

func (s *stubSource) Subscribe(_ context.Context) (<-chan domain.Event, error) {
	return s.ch, nil
}

type runnerFixture struct {
	source  *stubSource
	escrows *memory.EscrowStore
	trades  *memory.TradeStore
	journal *memory.EventJournal
	runner  *Runner
}

func newRunnerFixture(lagWindow int64) *runnerFixture {
	escrows := memory.NewEscrowStore()
	trades := memory.NewTradeStore()
	journal := memory.NewEventJournal()
	source := &stubSource{ch: make(chan domain.Event, 64)}
	logger := log.New(io.Discard, "", 0)

	reconciler := reconcile.New(reconcile.Options{
		EscrowStore: escrows,
		TradeStore:  trades,
		Logger:      logger,
	})

	return &runnerFixture{
		source:  source,
		escrows: escrows,
		trades:  trades,
		journal: journal,
		runner: NewRunner(RunnerOptions{
			Source:        source,
			Reconciler:    reconciler,
			Journal:       journal,
			Schema:        "current",
			SlotLagWindow: lagWindow,
			FlushInterval: 50 * time.Millisecond,
			Logger:        logger,
		}),
	}
}

func created(addr string, tradeID, slot int64) *domain.EscrowCreatedEvent {
	return &domain.EscrowCreatedEvent{
		EventMeta:     domain.EventMeta{Signature: "Sig-" + addr, Slot: slot},
		EscrowAddress: addr,
		TradeID:       tradeID,
		SellerAddress: "Sel1",
		BuyerAddress:  "Buy1",
		Amount:        "1000000",
	}
}

func TestRunner_DrainAppliesSlotsInOrder(t *testing.T) {
	f := newRunnerFixture(5)
	ctx, cancel := context.WithCancel(context.Background())

	// Deposit arrives before its creation, from a later slot.
	f.source.ch <- &domain.FundsDepositedEvent{
		EventMeta:     domain.EventMeta{Signature: "SigDep", Slot: 101},
		EscrowAddress: "Esc1",
		TradeID:       42,
		Amount:        "1000000",
	}
	f.source.ch <- created("Esc1", 42, 100)

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	// Both slots sit inside the lag window; nothing applies yet.
	time.Sleep(150 * time.Millisecond)
	_, err := f.escrows.GetByAddress(ctx, "Esc1")
	assert.Error(t, err)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	// Drain replayed the slots ascending: create, then deposit.
	e, err := f.escrows.GetByAddress(context.Background(), "Esc1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusFunded, e.Status)

	records := f.journal.Records()
	require.Len(t, records, 2)
	assert.Equal(t, domain.EventEscrowCreated, records[0].Kind)
	assert.Equal(t, domain.EventFundsDeposited, records[1].Kind)
	assert.Equal(t, "current", records[0].Schema)
	assert.Equal(t, int64(100), records[0].Slot)
}

func TestRunner_AppliesSlotsBehindLagWindow(t *testing.T) {
	f := newRunnerFixture(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	f.source.ch <- created("Esc1", 42, 100)
	// A much later slot pushes slot 100 behind the window.
	f.source.ch <- created("Esc2", 43, 110)

	require.Eventually(t, func() bool {
		_, err := f.escrows.GetByAddress(ctx, "Esc1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	// Slot 110 is still within the window.
	_, err := f.escrows.GetByAddress(ctx, "Esc2")
	assert.Error(t, err)

	cancel()
	<-done
}

func TestRunner_SourceClosedDrainsAndReturnsError(t *testing.T) {
	f := newRunnerFixture(5)

	f.source.ch <- created("Esc1", 42, 100)
	close(f.source.ch)

	err := f.runner.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event stream closed")

	e, err := f.escrows.GetByAddress(context.Background(), "Esc1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusCreated, e.Status)
}

func TestRunner_ApplyErrorDoesNotStopStream(t *testing.T) {
	f := newRunnerFixture(1)
	ctx, cancel := context.WithCancel(context.Background())

	// Malformed event fails Apply; the stream keeps going.
	f.source.ch <- &domain.FundsDepositedEvent{
		EventMeta: domain.EventMeta{Signature: "SigBad", Slot: 100},
		TradeID:   42,
	}
	f.source.ch <- created("Esc1", 42, 101)

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	e, err := f.escrows.GetByAddress(context.Background(), "Esc1")
	require.NoError(t, err)
	assert.Equal(t, domain.EscrowStatusCreated, e.Status)
}
