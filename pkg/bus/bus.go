// Package bus implements the in-process publish/subscribe fan-out
// layered over a cluster's ledger: every published message is first
// durably appended, then broadcast to whichever agents are currently
// subscribed (one subscription per agent, for trigger evaluation).
package bus

import (
	"context"
	"sync"

	"github.com/meshrun/meshrun/pkg/ledger"
	"github.com/meshrun/meshrun/pkg/models"
)

// Bus is the publish/subscribe front end for one cluster's ledger.
type Bus struct {
	ledger *ledger.Ledger

	mu   sync.RWMutex
	subs map[string]chan models.Message
}

// New wraps a cluster's ledger with a Bus. The ledger is the source of
// truth; the bus only adds fan-out notification on top of it.
func New(l *ledger.Ledger) *Bus {
	return &Bus{
		ledger: l,
		subs:   make(map[string]chan models.Message),
	}
}

// Subscribe registers agent for notification of newly published
// messages and returns the channel it will receive them on. The
// channel is buffered so a slow-to-evaluate agent doesn't block
// publication; a full channel drops the notification. The message
// itself stays on the ledger, which never drops anything, but the
// subscriber does not receive it on the channel.
func (b *Bus) Subscribe(agent string) <-chan models.Message {
	ch := make(chan models.Message, 64)
	b.mu.Lock()
	b.subs[agent] = ch
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes agent's notification channel.
func (b *Bus) Unsubscribe(agent string) {
	b.mu.Lock()
	ch, ok := b.subs[agent]
	delete(b.subs, agent)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

// Publish durably appends a new message and broadcasts it to every
// current subscriber.
func (b *Bus) Publish(ctx context.Context, msgType models.MessageType, fromAgent string, payload any, metadata map[string]any) (models.Message, error) {
	msg, err := b.ledger.Append(ctx, msgType, fromAgent, payload, metadata)
	if err != nil {
		return models.Message{}, err
	}
	b.broadcast(msg)
	return msg, nil
}

// Republish re-appends original's type and payload as a brand new
// ledger entry (its own ID and sequence) flagged with
// models.MetaRepublished, then broadcasts it. Hooks use this to force
// a fresh round of trigger evaluation over a message agents have
// already reacted to, without mutating ledger history.
func (b *Bus) Republish(ctx context.Context, original models.Message) (models.Message, error) {
	meta := make(map[string]any, len(original.Metadata)+1)
	for k, v := range original.Metadata {
		meta[k] = v
	}
	meta[models.MetaRepublished] = true

	msg, err := b.ledger.Append(ctx, original.Type, original.FromAgent, rawPayload(original.Payload), meta)
	if err != nil {
		return models.Message{}, err
	}
	b.broadcast(msg)
	return msg, nil
}

// rawPayload passes already-marshaled JSON through Append's
// any-typed payload parameter without double-encoding it.
type rawPayload []byte

func (r rawPayload) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}

func (b *Bus) broadcast(msg models.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Ledger exposes the underlying ledger for components (ContextBuilder,
// orchestrator resume logic) that need direct read access rather than
// live notification.
func (b *Bus) Ledger() *ledger.Ledger { return b.ledger }
