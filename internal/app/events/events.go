// Package events fans committed ledger transactions out to in-process
// subscribers such as the websocket feed and metrics.
package events

import (
	"sync"

	"github.com/cardverse/token_layer/internal/app/domain/ledger"
)

// Handler receives a committed transaction. Handlers run synchronously on
// the publishing goroutine and must not block.
type Handler func(ledger.Transaction)

// Filter decides whether a handler sees a transaction.
type Filter func(ledger.Transaction) bool

// Publisher is implemented by anything the ledger can announce commits to.
type Publisher interface {
	Publish(tx ledger.Transaction)
}

// Hub keeps a ring of recent transactions and notifies subscribers.
type Hub struct {
	mu       sync.RWMutex
	recent   []ledger.Transaction
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub remembering the last size transactions.
func NewHub(size int) *Hub {
	if size <= 0 {
		size = 256
	}
	return &Hub{recent: make([]ledger.Transaction, size), size: size}
}

// Publish records tx and notifies matching handlers outside the lock.
func (h *Hub) Publish(tx ledger.Transaction) {
	h.mu.Lock()
	h.recent[h.head] = tx
	h.head = (h.head + 1) % h.size
	if h.count < h.size {
		h.count++
	}
	handlers := make([]handlerEntry, len(h.handlers))
	copy(handlers, h.handlers)
	h.mu.Unlock()

	for _, entry := range handlers {
		if entry.filter == nil || entry.filter(tx) {
			entry.handler(tx)
		}
	}
}

// Subscribe registers handler for every transaction and returns a function
// that removes it.
func (h *Hub) Subscribe(handler Handler) func() {
	return h.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers handler for transactions accepted by filter.
func (h *Hub) SubscribeFiltered(filter Filter, handler Handler) func() {
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	h.handlers = append(h.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, entry := range h.handlers {
			if entry.id == id {
				h.handlers = append(h.handlers[:i], h.handlers[i+1:]...)
				return
			}
		}
	}
}

// SubscribeAccount registers handler for transactions involving account.
func (h *Hub) SubscribeAccount(account string, handler Handler) func() {
	return h.SubscribeFiltered(func(tx ledger.Transaction) bool {
		return tx.Involves(account)
	}, handler)
}

// Recent returns up to n transactions, newest first.
func (h *Hub) Recent(n int) []ledger.Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if n <= 0 || n > h.count {
		n = h.count
	}
	result := make([]ledger.Transaction, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.head - 1 - i + h.size) % h.size
		result = append(result, h.recent[idx])
	}
	return result
}

// Subscribers returns the number of registered handlers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers)
}
