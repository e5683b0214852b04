package messaging

import (
	"sync"

	"farmconnect/internal/models"
)

// MessageAppended is published after a message has been committed.
type MessageAppended struct {
	Conversation *models.Conversation
	Message      *models.Message
}

// Handler reacts to a published event. Handlers run on the publishing
// goroutine and must not block.
type Handler func(MessageAppended)

// Bus is an in-process fan-out of domain events.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	if b == nil || h == nil {
		return
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

func (b *Bus) Publish(ev MessageAppended) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
