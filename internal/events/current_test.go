package events

import (
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-escrow-sync/internal/domain"
)

// eventPayload assembles discriminator plus borsh fields into a
// "Program data: " log line the way the program emits it.
type eventPayload struct {
	data []byte
}

func newEventPayload(name string) *eventPayload {
	disc := eventDiscriminator(name)
	return &eventPayload{data: append([]byte{}, disc[:]...)}
}

func (p *eventPayload) pubkey(b byte) *eventPayload {
	var key [32]byte
	for i := range key {
		key[i] = b
	}
	p.data = append(p.data, key[:]...)
	return p
}

func (p *eventPayload) u64(v uint64) *eventPayload {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	p.data = append(p.data, buf[:]...)
	return p
}

func (p *eventPayload) boolean(v bool) *eventPayload {
	if v {
		p.data = append(p.data, 1)
	} else {
		p.data = append(p.data, 0)
	}
	return p
}

func (p *eventPayload) none() *eventPayload {
	p.data = append(p.data, 0)
	return p
}

func (p *eventPayload) some(b byte) *eventPayload {
	p.data = append(p.data, 1)
	return p.pubkey(b)
}

func (p *eventPayload) logLine() string {
	return programDataPrefix + base64.StdEncoding.EncodeToString(p.data)
}

// truncate drops the last n bytes, producing a malformed payload.
func (p *eventPayload) truncate(n int) *eventPayload {
	p.data = p.data[:len(p.data)-n]
	return p
}

func pubkeyStr(b byte) string {
	var key [32]byte
	for i := range key {
		key[i] = b
	}
	return base58.Encode(key[:])
}

var testMeta = domain.EventMeta{Signature: "TestSig", Slot: 1234}

func TestCurrentDecoder_EscrowCreated(t *testing.T) {
	line := newEventPayload("EscrowCreated").
		pubkey(1).  // escrow
		u64(42).    // trade id
		pubkey(2).  // seller
		pubkey(3).  // buyer
		u64(1000000).
		boolean(true).
		some(4).
		logLine()

	evs, err := NewCurrentDecoder().DecodeLogs([]string{line}, testMeta)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	created, ok := evs[0].(*domain.EscrowCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, pubkeyStr(1), created.EscrowAddress)
	assert.Equal(t, int64(42), created.TradeID)
	assert.Equal(t, pubkeyStr(2), created.SellerAddress)
	assert.Equal(t, pubkeyStr(3), created.BuyerAddress)
	assert.Equal(t, "1000000", created.Amount)
	assert.True(t, created.Sequential)
	require.NotNil(t, created.SequentialEscrowAddress)
	assert.Equal(t, pubkeyStr(4), *created.SequentialEscrowAddress)
	assert.Equal(t, testMeta, created.Meta())
}

func TestCurrentDecoder_EscrowCreatedNonSequential(t *testing.T) {
	line := newEventPayload("EscrowCreated").
		pubkey(1).u64(42).pubkey(2).pubkey(3).
		u64(1000000).boolean(false).none().
		logLine()

	evs, err := NewCurrentDecoder().DecodeLogs([]string{line}, testMeta)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	created := evs[0].(*domain.EscrowCreatedEvent)
	assert.False(t, created.Sequential)
	assert.Nil(t, created.SequentialEscrowAddress)
}

func TestCurrentDecoder_FundsDeposited(t *testing.T) {
	line := newEventPayload("FundsDeposited").
		pubkey(1).u64(42).u64(1000000).
		logLine()

	evs, err := NewCurrentDecoder().DecodeLogs([]string{line}, testMeta)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	dep := evs[0].(*domain.FundsDepositedEvent)
	assert.Equal(t, pubkeyStr(1), dep.EscrowAddress)
	assert.Equal(t, int64(42), dep.TradeID)
	assert.Equal(t, "1000000", dep.Amount)
}

func TestCurrentDecoder_ReleasedAndCancelled(t *testing.T) {
	released := newEventPayload("EscrowReleased").pubkey(1).u64(42).logLine()
	cancelled := newEventPayload("EscrowCancelled").pubkey(5).u64(43).logLine()

	evs, err := NewCurrentDecoder().DecodeLogs([]string{released, cancelled}, testMeta)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	rel, ok := evs[0].(*domain.EscrowReleasedEvent)
	require.True(t, ok)
	assert.Equal(t, pubkeyStr(1), rel.EscrowAddress)
	assert.Equal(t, int64(42), rel.TradeID)

	can, ok := evs[1].(*domain.EscrowCancelledEvent)
	require.True(t, ok)
	assert.Equal(t, pubkeyStr(5), can.EscrowAddress)
	assert.Equal(t, int64(43), can.TradeID)
}

func TestCurrentDecoder_SkipsUnrelatedLogLines(t *testing.T) {
	logs := []string{
		"Program 4dkUjJmAqvEHjQkXnBGJ6t6uPkbiSGo246rdnAYYmCav invoke [1]",
		"Program log: Instruction: ReleaseFunds",
		newEventPayload("EscrowReleased").pubkey(1).u64(42).logLine(),
		"Program data: this-is-not-base64!!!",
		programDataPrefix + base64.StdEncoding.EncodeToString([]byte("short")),
		"Program consumed 20000 compute units",
	}

	evs, err := NewCurrentDecoder().DecodeLogs(logs, testMeta)
	require.NoError(t, err)
	assert.Len(t, evs, 1)
}

func TestCurrentDecoder_UnknownDiscriminatorSkipped(t *testing.T) {
	line := newEventPayload("SomeOtherEvent").pubkey(1).u64(42).logLine()

	evs, err := NewCurrentDecoder().DecodeLogs([]string{line}, testMeta)
	require.NoError(t, err)
	assert.Empty(t, evs)
}

func TestCurrentDecoder_TruncatedPayloadFails(t *testing.T) {
	line := newEventPayload("FundsDeposited").
		pubkey(1).u64(42).u64(1000000).
		truncate(4).
		logLine()

	_, err := NewCurrentDecoder().DecodeLogs([]string{line}, testMeta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TestSig")
}

func TestCurrentDecoder_InvalidFieldFails(t *testing.T) {
	// Trade id zero fails validation at decode time.
	line := newEventPayload("EscrowReleased").pubkey(1).u64(0).logLine()

	_, err := NewCurrentDecoder().DecodeLogs([]string{line}, testMeta)
	assert.ErrorIs(t, err, domain.ErrMalformedEvent)
}

func TestNewSchemaDecoder(t *testing.T) {
	d, err := NewSchemaDecoder("current")
	require.NoError(t, err)
	assert.Equal(t, SchemaCurrent, d.Name())

	d, err = NewSchemaDecoder("legacy")
	require.NoError(t, err)
	assert.Equal(t, SchemaLegacy, d.Name())

	d, err = NewSchemaDecoder("")
	require.NoError(t, err)
	assert.Equal(t, SchemaCurrent, d.Name())

	_, err = NewSchemaDecoder("v3")
	assert.Error(t, err)
}
