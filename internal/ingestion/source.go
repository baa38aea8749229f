// Package ingestion subscribes to escrow program logs and feeds decoded
// events to the reconciler in slot order.
package ingestion

import (
	"context"
	"log"
	"strings"
	"time"

	"solana-escrow-sync/internal/domain"
	"solana-escrow-sync/internal/events"
	"solana-escrow-sync/internal/observability"
	"solana-escrow-sync/internal/solana"
)

const (
	maxTxRetries   = 3
	baseRetryDelay = 500 * time.Millisecond
)

// EventSource streams decoded escrow events.
type EventSource interface {
	// Subscribe returns a channel of decoded events. The channel closes
	// when the context is cancelled or the underlying stream ends.
	Subscribe(ctx context.Context) (<-chan domain.Event, error)
}

// WSEscrowEventSource decodes escrow events from a live logsSubscribe
// stream. Notifications can truncate long logs; those transactions are
// refetched over HTTP RPC before decoding.
type WSEscrowEventSource struct {
	ws        solana.WSClient
	rpc       solana.RPCClient
	decoder   events.SchemaDecoder
	programID string
	logger    *log.Logger
}

// NewWSEscrowEventSource creates a WebSocket-based escrow event source.
func NewWSEscrowEventSource(ws solana.WSClient, rpc solana.RPCClient, decoder events.SchemaDecoder, programID string, logger *log.Logger) *WSEscrowEventSource {
	if logger == nil {
		logger = log.Default()
	}
	return &WSEscrowEventSource{
		ws:        ws,
		rpc:       rpc,
		decoder:   decoder,
		programID: programID,
		logger:    logger,
	}
}

// Subscribe subscribes to logs mentioning the escrow program and
// returns a channel of decoded events.
func (s *WSEscrowEventSource) Subscribe(ctx context.Context) (<-chan domain.Event, error) {
	logsCh, err := s.ws.SubscribeLogs(ctx, solana.LogsFilter{
		Mentions: []string{s.programID},
	})
	if err != nil {
		return nil, err
	}
	s.logger.Printf("subscribed to logs for program %s (schema=%s)", s.programID, s.decoder.Name())

	out := make(chan domain.Event, 100)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case notif, ok := <-logsCh:
				if !ok {
					s.logger.Println("log subscription channel closed")
					return
				}
				s.processNotification(ctx, out, notif)
			}
		}
	}()

	return out, nil
}

// processNotification decodes one transaction's logs and forwards the
// events. A malformed payload drops the whole transaction; the stream
// keeps running.
func (s *WSEscrowEventSource) processNotification(ctx context.Context, out chan<- domain.Event, notif solana.LogNotification) {
	if notif.Err != nil {
		observability.RecordTxSkipped("tx_failed")
		return
	}

	logs := notif.Logs
	if logsTruncated(logs) {
		full, err := s.fetchFullLogs(ctx, notif.Signature)
		if err != nil {
			s.logger.Printf("WARN: tx %s has truncated logs and refetch failed, decoding truncated logs: %v", notif.Signature, err)
		} else if full != nil {
			logs = full
		}
	}

	meta := domain.EventMeta{Signature: notif.Signature, Slot: notif.Slot}
	evs, err := s.decoder.DecodeLogs(logs, meta)
	if err != nil {
		observability.RecordDecodeError()
		s.logger.Printf("dropping tx %s: %v", notif.Signature, err)
		return
	}

	for _, ev := range evs {
		observability.RecordEventDecoded()
		if created, ok := ev.(*domain.EscrowCreatedEvent); ok {
			if !events.VerifyEscrowAddress(s.programID, created.TradeID, created.EscrowAddress) {
				s.logger.Printf("WARN: escrow %s does not match derived address for trade %d (tx %s)",
					created.EscrowAddress, created.TradeID, notif.Signature)
			}
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

// fetchFullLogs retrieves the untruncated logs for a transaction, with
// exponential backoff between attempts.
func (s *WSEscrowEventSource) fetchFullLogs(ctx context.Context, signature string) ([]string, error) {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		start := time.Now()
		tx, err := s.rpc.GetTransaction(ctx, signature)
		observability.RecordRPCLatency("getTransaction", time.Since(start).Seconds())
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		if tx == nil {
			// Not yet visible over HTTP; a confirmed tx shows up shortly.
			lastErr = nil
			continue
		}
		return tx.LogMessages, nil
	}
	return nil, lastErr
}

// logsTruncated reports whether the node cut the log output short.
func logsTruncated(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, "Log truncated") {
			return true
		}
	}
	return false
}
