// ABOUTME: In-memory fan-out of streaming chat events to conversation watchers
// ABOUTME: Lets several clients follow the same assistant turn without polling

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/logicleai/logicle/internal/chat"
)

// subscriberBufferSize is the channel buffer for each watcher.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for streaming chat events.
// Watchers register for a conversation id and receive every event
// emitted while an assistant turn runs.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan chat.Event // conversationID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan chat.Event),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a watcher for a conversation. Returns the event
// channel and a subscription id. The subscription is cleaned up when
// ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, conversationID string) (<-chan chat.Event, string) {
	subID := uuid.New().String()
	ch := make(chan chat.Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[conversationID]; !ok {
		b.subscribers[conversationID] = make(map[string]chan chat.Event)
	}
	b.subscribers[conversationID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("watcher added", "conversation_id", conversationID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(conversationID, subID)
	}()

	return ch, subID
}

// Publish sends an event to every watcher of the conversation.
// Non-blocking: events are dropped for watchers whose channels are full.
// Sends happen under the read lock so Unsubscribe cannot close a
// channel while a send to it is in flight.
func (b *Broadcaster) Publish(conversationID string, ev chat.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subscribers[conversationID] {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow watcher",
				"conversation_id", conversationID, "event", ev.Type.String())
		}
	}
}

// Unsubscribe removes a watcher and closes its channel.
func (b *Broadcaster) Unsubscribe(conversationID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[conversationID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)

	if len(subs) == 0 {
		delete(b.subscribers, conversationID)
	}
}

// Close shuts down the broadcaster and closes all watcher channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for convID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, convID)
	}
}
