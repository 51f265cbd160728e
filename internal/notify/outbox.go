package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrOutboxClosed is returned by Send after Close.
var ErrOutboxClosed = errors.New("outbox closed")

// Outbox is a Sender that keeps every message in memory.
// The CLI and scenarios use it in place of a mail transport.
//
// Thread-safety: safe for concurrent use.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	failures int
	closed   bool
}

// NewOutbox creates an empty outbox.
func NewOutbox() *Outbox {
	return &Outbox{}
}

// FailNext makes the next n sends fail.
func (o *Outbox) FailNext(n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures = n
}

// Send implements Sender.
func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrOutboxClosed
	}
	if o.failures > 0 {
		o.failures--
		return errors.New("transport unavailable")
	}
	o.messages = append(o.messages, msg)
	slog.Info("notification queued", "entity_id", msg.EntityID, "protocol_action", msg.Action.String())
	return nil
}

// Messages returns a copy of the delivered messages in send order.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.messages...)
}

// Close makes later sends fail.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
}
