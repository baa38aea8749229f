// Package events decodes escrow program events from transaction logs.
//
// The program emits Anchor-style events: a "Program data: " log line
// carrying base64 of an 8-byte event discriminator followed by the
// borsh-encoded payload. Two wire schemas exist, the current one and the
// legacy one the first program deployment used; both decode to the same
// domain event variants through the SchemaDecoder interface, so the rest
// of the pipeline is schema-agnostic.
package events

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"

	"solana-escrow-sync/internal/domain"
)

// programDataPrefix marks log lines carrying an emitted event.
const programDataPrefix = "Program data: "

// SchemaDecoder decodes all escrow events found in one transaction's
// logs. Log lines that are not events of this schema are skipped; a
// line with a known discriminator but a malformed payload is an error
// (fail fast instead of surfacing as a database error later).
type SchemaDecoder interface {
	// Name identifies the schema version ("current" or "legacy").
	Name() string

	// DecodeLogs extracts and validates events from transaction logs.
	DecodeLogs(logs []string, meta domain.EventMeta) ([]domain.Event, error)
}

// NewSchemaDecoder returns the decoder for a schema version name.
func NewSchemaDecoder(schema string) (SchemaDecoder, error) {
	switch strings.ToLower(schema) {
	case "", SchemaCurrent:
		return NewCurrentDecoder(), nil
	case SchemaLegacy:
		return NewLegacyDecoder(), nil
	default:
		return nil, fmt.Errorf("unknown event schema %q", schema)
	}
}

// Schema version names.
const (
	SchemaCurrent = "current"
	SchemaLegacy  = "legacy"
)

// eventDiscriminator computes the 8-byte Anchor event discriminator.
func eventDiscriminator(name string) [8]byte {
	h := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], h[:8])
	return d
}

// eventData extracts the raw event payload from a log line, or nil if
// the line is not a program data line.
func eventData(line string) []byte {
	rest, ok := strings.CutPrefix(line, programDataPrefix)
	if !ok {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(rest))
	if err != nil {
		return nil
	}
	return data
}

// payloadReader walks a borsh-encoded event payload. The first decode
// error sticks; callers check err once after reading all fields.
type payloadReader struct {
	data []byte
	off  int
	err  error
}

func newPayloadReader(data []byte) *payloadReader {
	return &payloadReader{data: data}
}

func (r *payloadReader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("truncated payload reading %s at offset %d", what, r.off)
	}
}

// pubkey reads a 32-byte public key and returns it base58-encoded.
func (r *payloadReader) pubkey() string {
	if r.err != nil {
		return ""
	}
	if r.off+32 > len(r.data) {
		r.fail("pubkey")
		return ""
	}
	key := base58.Encode(r.data[r.off : r.off+32])
	r.off += 32
	return key
}

// u64 reads a little-endian unsigned 64-bit integer.
func (r *payloadReader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off+8 > len(r.data) {
		r.fail("u64")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.off : r.off+8])
	r.off += 8
	return v
}

// boolean reads a single-byte borsh bool.
func (r *payloadReader) boolean() bool {
	if r.err != nil {
		return false
	}
	if r.off+1 > len(r.data) {
		r.fail("bool")
		return false
	}
	v := r.data[r.off] != 0
	r.off++
	return v
}

// optionPubkey reads a borsh Option<Pubkey>: a one-byte tag followed by
// 32 key bytes when set.
func (r *payloadReader) optionPubkey() *string {
	if r.err != nil {
		return nil
	}
	if r.off+1 > len(r.data) {
		r.fail("option tag")
		return nil
	}
	tag := r.data[r.off]
	r.off++
	if tag == 0 {
		return nil
	}
	key := r.pubkey()
	if r.err != nil {
		return nil
	}
	return &key
}
