package feed

import (
	"sync"

	"market-chat/internal/models"
	"market-chat/internal/observability"
)

// Handler receives events for one conversation.
type Handler func(models.ChatEvent)

// Broker fans events out to per-conversation subscribers in process.
type Broker struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[string]map[uint64]Handler
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[uint64]Handler)}
}

// Subscribe registers handler for a conversation. The returned cancel func is
// idempotent.
func (b *Broker) Subscribe(conversationID string, handler Handler) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if _, ok := b.subs[conversationID]; !ok {
		b.subs[conversationID] = make(map[uint64]Handler)
	}
	b.subs[conversationID][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if handlers, ok := b.subs[conversationID]; ok {
				delete(handlers, id)
				if len(handlers) == 0 {
					delete(b.subs, conversationID)
				}
			}
		})
	}
}

// Deliver calls every handler subscribed to the event's conversation.
// Handlers run on the caller's goroutine and must not block.
func (b *Broker) Deliver(event models.ChatEvent) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[event.ConversationID]))
	for _, h := range b.subs[event.ConversationID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	observability.AddFeedDelivered(event.Type, len(handlers))
}

// Subscribers returns the number of handlers for a conversation.
func (b *Broker) Subscribers(conversationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[conversationID])
}
