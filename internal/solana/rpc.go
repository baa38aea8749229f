// Package solana provides minimal Solana JSON-RPC and WebSocket clients
// for following program log output.
package solana

import "context"

// RPCClient defines the Solana HTTP RPC surface the sync worker uses.
type RPCClient interface {
	// GetTransaction retrieves a confirmed transaction by signature.
	// Returns nil when the node does not know the signature.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSlot retrieves the current slot. Used as a connectivity check.
	GetSlot(ctx context.Context) (int64, error)
}

// Transaction is a confirmed transaction, reduced to the fields the
// event pipeline reads.
type Transaction struct {
	Signature string
	Slot      int64
	// BlockTime is a Unix timestamp in seconds, zero when unknown.
	BlockTime int64
	// Err is non-nil when the transaction failed on chain.
	Err any
	// LogMessages are the full program logs, never truncated the way
	// logsSubscribe notifications can be.
	LogMessages []string
}

// Failed reports whether the transaction errored on chain.
func (t *Transaction) Failed() bool { return t.Err != nil }
