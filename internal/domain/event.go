package domain

import (
	"errors"
	"fmt"
)

// EventKind identifies one escrow program event variant.
type EventKind string

const (
	EventEscrowCreated   EventKind = "EscrowCreated"
	EventFundsDeposited  EventKind = "FundsDeposited"
	EventEscrowReleased  EventKind = "EscrowReleased"
	EventEscrowCancelled EventKind = "EscrowCancelled"
)

// ErrMalformedEvent is returned when a decoded payload is missing
// required fields. Malformed payloads are rejected at decode time,
// before any database mutation is attempted.
var ErrMalformedEvent = errors.New("malformed event payload")

// EventMeta carries delivery metadata common to all event variants.
type EventMeta struct {
	Signature string // transaction signature the event was emitted in
	Slot      int64  // slot of the confirming block
}

// Event is the closed set of escrow program events. Each variant carries
// exactly the fields its reconciliation step requires, validated at
// construction.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
	// Validate reports ErrMalformedEvent (wrapped with the offending
	// field) when a required field is absent or ill-formed.
	Validate() error
}

// EscrowCreatedEvent signals a new escrow account.
type EscrowCreatedEvent struct {
	EventMeta
	EscrowAddress           string
	TradeID                 int64
	SellerAddress           string
	BuyerAddress            string
	Amount                  string // unsigned decimal text
	Sequential              bool
	SequentialEscrowAddress *string
}

func (e *EscrowCreatedEvent) Kind() EventKind { return EventEscrowCreated }
func (e *EscrowCreatedEvent) Meta() EventMeta { return e.EventMeta }

func (e *EscrowCreatedEvent) Validate() error {
	if e.EscrowAddress == "" {
		return fmt.Errorf("%w: %s missing escrow address", ErrMalformedEvent, e.Kind())
	}
	if e.TradeID <= 0 {
		return fmt.Errorf("%w: %s missing trade id", ErrMalformedEvent, e.Kind())
	}
	if e.SellerAddress == "" || e.BuyerAddress == "" {
		return fmt.Errorf("%w: %s missing party address", ErrMalformedEvent, e.Kind())
	}
	if err := validateAmount(e.Amount); err != nil {
		return fmt.Errorf("%w: %s %v", ErrMalformedEvent, e.Kind(), err)
	}
	if e.Sequential && (e.SequentialEscrowAddress == nil || *e.SequentialEscrowAddress == "") {
		return fmt.Errorf("%w: %s sequential without follow-on escrow", ErrMalformedEvent, e.Kind())
	}
	return nil
}

// FundsDepositedEvent signals the buyer funded the escrow.
type FundsDepositedEvent struct {
	EventMeta
	EscrowAddress string
	TradeID       int64
	Amount        string // unsigned decimal text
}

func (e *FundsDepositedEvent) Kind() EventKind { return EventFundsDeposited }
func (e *FundsDepositedEvent) Meta() EventMeta { return e.EventMeta }

func (e *FundsDepositedEvent) Validate() error {
	if e.EscrowAddress == "" {
		return fmt.Errorf("%w: %s missing escrow address", ErrMalformedEvent, e.Kind())
	}
	if e.TradeID <= 0 {
		return fmt.Errorf("%w: %s missing trade id", ErrMalformedEvent, e.Kind())
	}
	if err := validateAmount(e.Amount); err != nil {
		return fmt.Errorf("%w: %s %v", ErrMalformedEvent, e.Kind(), err)
	}
	return nil
}

// EscrowReleasedEvent signals funds left the escrow toward the seller
// side of the trade. The legacy schema names this FundsReleased; both
// decode to this variant.
type EscrowReleasedEvent struct {
	EventMeta
	EscrowAddress string
	TradeID       int64
}

func (e *EscrowReleasedEvent) Kind() EventKind { return EventEscrowReleased }
func (e *EscrowReleasedEvent) Meta() EventMeta { return e.EventMeta }

func (e *EscrowReleasedEvent) Validate() error {
	if e.EscrowAddress == "" {
		return fmt.Errorf("%w: %s missing escrow address", ErrMalformedEvent, e.Kind())
	}
	if e.TradeID <= 0 {
		return fmt.Errorf("%w: %s missing trade id", ErrMalformedEvent, e.Kind())
	}
	return nil
}

// EscrowCancelledEvent signals the escrow was cancelled and funds
// returned.
type EscrowCancelledEvent struct {
	EventMeta
	EscrowAddress string
	TradeID       int64
}

func (e *EscrowCancelledEvent) Kind() EventKind { return EventEscrowCancelled }
func (e *EscrowCancelledEvent) Meta() EventMeta { return e.EventMeta }

func (e *EscrowCancelledEvent) Validate() error {
	if e.EscrowAddress == "" {
		return fmt.Errorf("%w: %s missing escrow address", ErrMalformedEvent, e.Kind())
	}
	if e.TradeID <= 0 {
		return fmt.Errorf("%w: %s missing trade id", ErrMalformedEvent, e.Kind())
	}
	return nil
}

// validateAmount checks the amount is non-empty unsigned decimal text.
// Amounts stay textual end to end so values above 2^63 survive intact.
func validateAmount(s string) error {
	if s == "" {
		return errors.New("missing amount")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return fmt.Errorf("amount %q is not unsigned decimal", s)
		}
	}
	return nil
}
