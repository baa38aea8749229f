package events

import (
	"bytes"
	"fmt"
	"strconv"

	"solana-escrow-sync/internal/domain"
)

// CurrentDecoder decodes the current event schema.
//
// Payload layouts (after the 8-byte discriminator, borsh order):
//
//	EscrowCreated:   escrow(32) trade_id(u64) seller(32) buyer(32)
//	                 amount(u64) sequential(bool) sequential_escrow(Option<Pubkey>)
//	FundsDeposited:  escrow(32) trade_id(u64) amount(u64)
//	EscrowReleased:  escrow(32) trade_id(u64)
//	EscrowCancelled: escrow(32) trade_id(u64)
type CurrentDecoder struct {
	created   [8]byte
	deposited [8]byte
	released  [8]byte
	cancelled [8]byte
}

// NewCurrentDecoder creates a decoder for the current schema.
func NewCurrentDecoder() *CurrentDecoder {
	return &CurrentDecoder{
		created:   eventDiscriminator("EscrowCreated"),
		deposited: eventDiscriminator("FundsDeposited"),
		released:  eventDiscriminator("EscrowReleased"),
		cancelled: eventDiscriminator("EscrowCancelled"),
	}
}

// Compile-time interface check.
var _ SchemaDecoder = (*CurrentDecoder)(nil)

// Name identifies the schema version.
func (d *CurrentDecoder) Name() string { return SchemaCurrent }

// DecodeLogs extracts and validates events from transaction logs.
func (d *CurrentDecoder) DecodeLogs(logs []string, meta domain.EventMeta) ([]domain.Event, error) {
	var out []domain.Event

	for _, line := range logs {
		data := eventData(line)
		if len(data) < 8 {
			continue
		}

		var disc [8]byte
		copy(disc[:], data[:8])
		payload := data[8:]

		var ev domain.Event
		var err error
		switch {
		case bytes.Equal(disc[:], d.created[:]):
			ev, err = d.decodeCreated(payload, meta)
		case bytes.Equal(disc[:], d.deposited[:]):
			ev, err = d.decodeDeposited(payload, meta)
		case bytes.Equal(disc[:], d.released[:]):
			ev, err = decodeAddressTradeID(payload, meta, func(addr string, tradeID int64) domain.Event {
				return &domain.EscrowReleasedEvent{EventMeta: meta, EscrowAddress: addr, TradeID: tradeID}
			})
		case bytes.Equal(disc[:], d.cancelled[:]):
			ev, err = decodeAddressTradeID(payload, meta, func(addr string, tradeID int64) domain.Event {
				return &domain.EscrowCancelledEvent{EventMeta: meta, EscrowAddress: addr, TradeID: tradeID}
			})
		default:
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s event in tx %s: %w", d.Name(), meta.Signature, err)
		}
		if err := ev.Validate(); err != nil {
			return nil, fmt.Errorf("tx %s: %w", meta.Signature, err)
		}
		out = append(out, ev)
	}

	return out, nil
}

func (d *CurrentDecoder) decodeCreated(payload []byte, meta domain.EventMeta) (domain.Event, error) {
	r := newPayloadReader(payload)
	ev := &domain.EscrowCreatedEvent{EventMeta: meta}
	ev.EscrowAddress = r.pubkey()
	ev.TradeID = int64(r.u64())
	ev.SellerAddress = r.pubkey()
	ev.BuyerAddress = r.pubkey()
	ev.Amount = strconv.FormatUint(r.u64(), 10)
	ev.Sequential = r.boolean()
	ev.SequentialEscrowAddress = r.optionPubkey()
	if r.err != nil {
		return nil, r.err
	}
	return ev, nil
}

func (d *CurrentDecoder) decodeDeposited(payload []byte, meta domain.EventMeta) (domain.Event, error) {
	r := newPayloadReader(payload)
	ev := &domain.FundsDepositedEvent{EventMeta: meta}
	ev.EscrowAddress = r.pubkey()
	ev.TradeID = int64(r.u64())
	ev.Amount = strconv.FormatUint(r.u64(), 10)
	if r.err != nil {
		return nil, r.err
	}
	return ev, nil
}

// decodeAddressTradeID decodes the shared escrow(32) trade_id(u64)
// layout used by release and cancel events.
func decodeAddressTradeID(payload []byte, meta domain.EventMeta, build func(string, int64) domain.Event) (domain.Event, error) {
	r := newPayloadReader(payload)
	addr := r.pubkey()
	tradeID := int64(r.u64())
	if r.err != nil {
		return nil, r.err
	}
	return build(addr, tradeID), nil
}
