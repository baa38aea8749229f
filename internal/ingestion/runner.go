package ingestion

import (
	"context"
	"errors"
	"log"
	"slices"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/reconcile"
	"solana-escrow-sync/internal/storage"
)

// Runner drives the sync loop: it drains the event source into a
// slot-keyed buffer and applies slots in ascending order once they fall
// behind the highest seen slot by the lag window. The buffer absorbs
// cross-slot reordering from the subscription; within a slot, events
// keep arrival order, which preserves intra-transaction order.
type Runner struct {
	source     EventSource
	reconciler *reconcile.Reconciler
	journal    storage.EventJournal
	schema     string
	logger     *log.Logger

	slotLagWindow int64
	flushInterval time.Duration

	buffer      map[int64][]domain.Event
	highestSlot int64
}

// RunnerOptions contains configuration for creating a Runner.
type RunnerOptions struct {
	Source     EventSource
	Reconciler *reconcile.Reconciler
	// Journal, when non-nil, receives a record per decoded event.
	// Journal failures never block reconciliation.
	Journal storage.EventJournal
	// Schema is the decoder schema name stamped on journal records.
	Schema string
	// SlotLagWindow is how many slots behind the highest seen slot a
	// slot must be before its events apply. Default 5 (~2 seconds).
	SlotLagWindow int64
	// FlushInterval forces periodic application of lagged slots even
	// when no new slots arrive. Default 5s.
	FlushInterval time.Duration
	Logger        *log.Logger
}

// NewRunner creates a sync runner.
func NewRunner(opts RunnerOptions) *Runner {
	slotLagWindow := opts.SlotLagWindow
	if slotLagWindow == 0 {
		slotLagWindow = 5
	}
	flushInterval := opts.FlushInterval
	if flushInterval == 0 {
		flushInterval = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	return &Runner{
		source:        opts.Source,
		reconciler:    opts.Reconciler,
		journal:       opts.Journal,
		schema:        opts.Schema,
		logger:        logger,
		slotLagWindow: slotLagWindow,
		flushInterval: flushInterval,
		buffer:        make(map[int64][]domain.Event),
	}
}

// Run blocks until the context is cancelled or the event stream ends.
// Buffered events are drained before returning.
func (r *Runner) Run(ctx context.Context) error {
	eventsCh, err := r.source.Subscribe(ctx)
	if err != nil {
		return err
	}

	flushTicker := time.NewTicker(r.flushInterval)
	defer flushTicker.Stop()

	r.logger.Printf("runner started, slot lag window: %d, flush interval: %v", r.slotLagWindow, r.flushInterval)

	for {
		select {
		case <-ctx.Done():
			r.drain()
			r.logger.Println("runner stopping")
			return ctx.Err()

		case ev, ok := <-eventsCh:
			if !ok {
				r.drain()
				return errors.New("event stream closed")
			}
			r.bufferEvent(ctx, ev)

		case <-flushTicker.C:
			r.applyLaggedSlots(ctx)
		}
	}
}

// bufferEvent adds an event to the slot buffer and applies any slots
// the lag window has passed. Events for slots already applied land
// behind the window and apply immediately.
func (r *Runner) bufferEvent(ctx context.Context, ev domain.Event) {
	slot := ev.Meta().Slot
	r.buffer[slot] = append(r.buffer[slot], ev)

	if slot > r.highestSlot {
		r.highestSlot = slot
		observability.UpdateHighestSlot(slot)
		r.applyLaggedSlots(ctx)
	} else if slot <= r.highestSlot-r.slotLagWindow {
		r.applySlot(ctx, slot)
	}
	observability.UpdateBufferedSlots(len(r.buffer))
}

// applyLaggedSlots applies every buffered slot behind the lag window,
// in ascending order.
func (r *Runner) applyLaggedSlots(ctx context.Context) {
	cutoff := r.highestSlot - r.slotLagWindow
	if cutoff < 0 {
		return
	}

	var due []int64
	for slot := range r.buffer {
		if slot <= cutoff {
			due = append(due, slot)
		}
	}
	slices.Sort(due)

	for _, slot := range due {
		r.applySlot(ctx, slot)
	}
	observability.UpdateBufferedSlots(len(r.buffer))
}

// applySlot applies all events buffered for one slot.
func (r *Runner) applySlot(ctx context.Context, slot int64) {
	evs, ok := r.buffer[slot]
	if !ok {
		return
	}
	delete(r.buffer, slot)

	for _, ev := range evs {
		r.handleEvent(ctx, ev)
	}
}

// drain applies everything still buffered, ignoring the lag window.
// Used on shutdown so confirmed events are not lost.
func (r *Runner) drain() {
	slots := make([]int64, 0, len(r.buffer))
	for slot := range r.buffer {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	// Cancellation already happened; mutations get their own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, slot := range slots {
		r.applySlot(ctx, slot)
	}
	observability.UpdateBufferedSlots(len(r.buffer))
}

// handleEvent journals and applies one event. Apply errors are logged
// and swallowed: the stream keeps running under at-least-once delivery.
func (r *Runner) handleEvent(ctx context.Context, ev domain.Event) {
	if r.journal != nil {
		err := r.journal.Append(ctx, journalRecord(ev, r.schema))
		observability.RecordJournalWrite(err)
		if err != nil {
			r.logger.Printf("journal append failed for tx %s: %v", ev.Meta().Signature, err)
		}
	}

	if err := r.reconciler.Apply(ctx, ev); err != nil {
		observability.RecordApplyError(string(ev.Kind()))
		r.logger.Printf("apply %s from tx %s failed: %v", ev.Kind(), ev.Meta().Signature, err)
		return
	}
	observability.RecordEventApplied(string(ev.Kind()))
}

// journalRecord flattens an event into its journal row.
func journalRecord(ev domain.Event, schema string) *domain.EventRecord {
	rec := &domain.EventRecord{
		Kind:       ev.Kind(),
		Schema:     schema,
		Signature:  ev.Meta().Signature,
		Slot:       ev.Meta().Slot,
		ReceivedAt: time.Now().UTC(),
	}

	switch e := ev.(type) {
	case *domain.EscrowCreatedEvent:
		rec.EscrowAddress = e.EscrowAddress
		rec.TradeID = e.TradeID
		rec.Amount = e.Amount
	case *domain.FundsDepositedEvent:
		rec.EscrowAddress = e.EscrowAddress
		rec.TradeID = e.TradeID
		rec.Amount = e.Amount
	case *domain.EscrowReleasedEvent:
		rec.EscrowAddress = e.EscrowAddress
		rec.TradeID = e.TradeID
	case *domain.EscrowCancelledEvent:
		rec.EscrowAddress = e.EscrowAddress
		rec.TradeID = e.TradeID
	}
	return rec
}
