// Package reconcile maps decoded escrow program events to idempotent
// mutations against the escrows/trades read model.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/storage"
)

// Reconciler applies one decoded event as a set of idempotent store
// mutations with deterministic, order-independent outcomes under
// re-delivery of the same event.
//
// For release and cancel events the escrow mutation and the trade-leg
// mutation are attempted independently: a failure of one is reported
// but does not prevent the other, matching at-least-once delivery where
// the event will not be redelivered after a partial failure.
type Reconciler struct {
	escrows storage.EscrowStore
	trades  storage.TradeStore
	logger  *log.Logger
	now     func() time.Time
}

// Options contains configuration for creating a Reconciler.
type Options struct {
	EscrowStore storage.EscrowStore
	TradeStore  storage.TradeStore
	Logger      *log.Logger
	// Now supplies apply-time timestamps; defaults to time.Now.
	Now func() time.Time
}

// New creates a new Reconciler.
func New(opts Options) *Reconciler {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Reconciler{
		escrows: opts.EscrowStore,
		trades:  opts.TradeStore,
		logger:  logger,
		now:     now,
	}
}

// Apply applies the mutations for one event. The returned error joins
// every mutation failure; the caller decides whether to swallow it.
func (r *Reconciler) Apply(ctx context.Context, ev domain.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	switch e := ev.(type) {
	case *domain.EscrowCreatedEvent:
		return r.applyCreated(ctx, e)
	case *domain.FundsDepositedEvent:
		return r.applyDeposited(ctx, e)
	case *domain.EscrowReleasedEvent:
		return r.applyReleased(ctx, e)
	case *domain.EscrowCancelledEvent:
		return r.applyCancelled(ctx, e)
	default:
		return fmt.Errorf("unhandled event kind %s", ev.Kind())
	}
}

func (r *Reconciler) applyCreated(ctx context.Context, e *domain.EscrowCreatedEvent) error {
	now := r.now()
	created, err := r.escrows.CreateIfAbsent(ctx, &domain.Escrow{
		EscrowAddress:           e.EscrowAddress,
		TradeID:                 e.TradeID,
		SellerAddress:           e.SellerAddress,
		BuyerAddress:            e.BuyerAddress,
		TokenType:               domain.TokenTypeUSDC,
		Amount:                  e.Amount,
		Status:                  domain.EscrowStatusCreated,
		Sequential:              e.Sequential,
		SequentialEscrowAddress: e.SequentialEscrowAddress,
		CreatedAt:               now,
		UpdatedAt:               now,
	})
	if err != nil {
		return fmt.Errorf("create escrow %s: %w", e.EscrowAddress, err)
	}
	if created {
		r.logger.Printf("escrow created: %s (trade=%d, amount=%s)", e.EscrowAddress, e.TradeID, e.Amount)
	} else {
		r.logger.Printf("escrow %s already exists, creation skipped", e.EscrowAddress)
	}
	return nil
}

func (r *Reconciler) applyDeposited(ctx context.Context, e *domain.FundsDepositedEvent) error {
	funded, err := r.escrows.MarkFunded(ctx, e.EscrowAddress, e.TradeID, e.Amount, r.now())
	if err != nil {
		return fmt.Errorf("mark escrow %s funded: %w", e.EscrowAddress, err)
	}
	if funded {
		r.logger.Printf("escrow funded: %s (trade=%d, amount=%s)", e.EscrowAddress, e.TradeID, e.Amount)
	} else {
		r.logger.Printf("deposit for escrow %s (trade=%d) matched no fundable row, skipped", e.EscrowAddress, e.TradeID)
	}
	return nil
}

func (r *Reconciler) applyReleased(ctx context.Context, e *domain.EscrowReleasedEvent) error {
	now := r.now()
	var errs []error

	released, err := r.escrows.MarkReleased(ctx, e.EscrowAddress, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("mark escrow %s released: %w", e.EscrowAddress, err))
	} else if released {
		r.logger.Printf("escrow released: %s (trade=%d)", e.EscrowAddress, e.TradeID)
	}

	matched, err := r.trades.CompleteLeg(ctx, e.TradeID, e.EscrowAddress, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("complete leg for trade %d: %w", e.TradeID, err))
	} else if !matched {
		r.logger.Printf("release for trade %d matched no leg with escrow %s", e.TradeID, e.EscrowAddress)
	}

	return errors.Join(errs...)
}

func (r *Reconciler) applyCancelled(ctx context.Context, e *domain.EscrowCancelledEvent) error {
	now := r.now()
	var errs []error

	cancelled, err := r.escrows.MarkCancelled(ctx, e.EscrowAddress, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("mark escrow %s cancelled: %w", e.EscrowAddress, err))
	} else if cancelled {
		r.logger.Printf("escrow cancelled: %s (trade=%d)", e.EscrowAddress, e.TradeID)
	}

	matched, err := r.trades.CancelLeg(ctx, e.TradeID, e.EscrowAddress, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("cancel leg for trade %d: %w", e.TradeID, err))
	} else if !matched {
		r.logger.Printf("cancel for trade %d matched no leg with escrow %s", e.TradeID, e.EscrowAddress)
	}

	return errors.Join(errs...)
}
