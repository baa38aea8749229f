package solana

import "context"

// WSClient defines the Solana WebSocket subscription surface.
type WSClient interface {
	// SubscribeLogs subscribes to transaction logs matching the filter.
	// The returned channel is closed when the client closes. The
	// subscription survives reconnects transparently.
	SubscribeLogs(ctx context.Context, filter LogsFilter) (<-chan LogNotification, error)

	// Close closes the connection and all subscription channels.
	Close() error
}

// LogsFilter selects which transactions' logs to receive.
type LogsFilter struct {
	// Mentions filters to transactions mentioning any of these
	// addresses; empty subscribes to all transactions.
	Mentions []string
}

// LogNotification is one logsSubscribe message.
type LogNotification struct {
	Signature string
	Slot      int64
	Logs      []string
	// Err is non-nil when the transaction failed on chain; its logs
	// must not be projected.
	Err any
}
