package events

import (
	"bytes"
	"fmt"
	"strconv"

	"solana-escrow-sync/internal/domain"
)

// LegacyDecoder decodes the first program deployment's event schema.
//
// The legacy program emitted no separate creation event: its
// FundsDeposited carried the full escrow terms and served as
// creation-plus-funding. The decoder expands it into an EscrowCreated
// followed by a FundsDeposited so the reconciler stays schema-agnostic.
// Release was named FundsReleased and decodes to EscrowReleasedEvent.
//
// Payload layouts (after the 8-byte discriminator, borsh order):
//
//	FundsDeposited:  escrow(32) trade_id(u64) seller(32) buyer(32)
//	                 amount(u64) sequential(bool) sequential_escrow(Option<Pubkey>)
//	FundsReleased:   escrow(32) trade_id(u64)
//	EscrowCancelled: escrow(32) trade_id(u64)
type LegacyDecoder struct {
	deposited [8]byte
	released  [8]byte
	cancelled [8]byte
}

// NewLegacyDecoder creates a decoder for the legacy schema.
func NewLegacyDecoder() *LegacyDecoder {
	return &LegacyDecoder{
		deposited: eventDiscriminator("FundsDeposited"),
		released:  eventDiscriminator("FundsReleased"),
		cancelled: eventDiscriminator("EscrowCancelled"),
	}
}

// Compile-time interface check.
var _ SchemaDecoder = (*LegacyDecoder)(nil)

// Name identifies the schema version.
func (d *LegacyDecoder) Name() string { return SchemaLegacy }

// DecodeLogs extracts and validates events from transaction logs.
func (d *LegacyDecoder) DecodeLogs(logs []string, meta domain.EventMeta) ([]domain.Event, error) {
	var out []domain.Event

	for _, line := range logs {
		data := eventData(line)
		if len(data) < 8 {
			continue
		}

		var disc [8]byte
		copy(disc[:], data[:8])
		payload := data[8:]

		var evs []domain.Event
		var err error
		switch {
		case bytes.Equal(disc[:], d.deposited[:]):
			evs, err = d.decodeDeposited(payload, meta)
		case bytes.Equal(disc[:], d.released[:]):
			var ev domain.Event
			ev, err = decodeAddressTradeID(payload, meta, func(addr string, tradeID int64) domain.Event {
				return &domain.EscrowReleasedEvent{EventMeta: meta, EscrowAddress: addr, TradeID: tradeID}
			})
			evs = []domain.Event{ev}
		case bytes.Equal(disc[:], d.cancelled[:]):
			var ev domain.Event
			ev, err = decodeAddressTradeID(payload, meta, func(addr string, tradeID int64) domain.Event {
				return &domain.EscrowCancelledEvent{EventMeta: meta, EscrowAddress: addr, TradeID: tradeID}
			})
			evs = []domain.Event{ev}
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s event in tx %s: %w", d.Name(), meta.Signature, err)
		}
		for _, ev := range evs {
			if err := ev.Validate(); err != nil {
				return nil, fmt.Errorf("tx %s: %w", meta.Signature, err)
			}
		}
		out = append(out, evs...)
	}

	return out, nil
}

// decodeDeposited expands a legacy deposit into creation plus funding.
func (d *LegacyDecoder) decodeDeposited(payload []byte, meta domain.EventMeta) ([]domain.Event, error) {
	r := newPayloadReader(payload)
	created := &domain.EscrowCreatedEvent{EventMeta: meta}
	created.EscrowAddress = r.pubkey()
	created.TradeID = int64(r.u64())
	created.SellerAddress = r.pubkey()
	created.BuyerAddress = r.pubkey()
	created.Amount = strconv.FormatUint(r.u64(), 10)
	created.Sequential = r.boolean()
	created.SequentialEscrowAddress = r.optionPubkey()
	if r.err != nil {
		return nil, r.err
	}

	deposited := &domain.FundsDepositedEvent{
		EventMeta:     meta,
		EscrowAddress: created.EscrowAddress,
		TradeID:       created.TradeID,
		Amount:        created.Amount,
	}

	return []domain.Event{created, deposited}, nil
}
