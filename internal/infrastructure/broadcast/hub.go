package broadcast

import (
	"sync"

	"github.com/Zhima-Mochi/diner/internal/domain/payment"
)

// Hub fans payment outcomes out to observers waiting on a transaction id. Sends never block:
// an observer whose buffer is full misses the event.
type Hub struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]chan payment.OutcomeEvent
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{subs: make(map[string]map[uint64]chan payment.OutcomeEvent), buffer: buffer}
}

// Subscribe registers an observer. The returned cancel func unregisters it and closes the channel;
// it is safe to call more than once.
func (h *Hub) Subscribe(transactionID string) (<-chan payment.OutcomeEvent, func()) {
	ch := make(chan payment.OutcomeEvent, h.buffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[transactionID] == nil {
		h.subs[transactionID] = make(map[uint64]chan payment.OutcomeEvent)
	}
	h.subs[transactionID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[transactionID]; ok {
				delete(set, id)
				if len(set) == 0 {
					delete(h.subs, transactionID)
				}
			}
			close(ch)
		})
	}
}

// Notify delivers evt to every observer of its transaction and reports how many received it.
func (h *Hub) Notify(evt payment.OutcomeEvent) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for _, ch := range h.subs[evt.TransactionID] {
		select {
		case ch <- evt:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) Observers(transactionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[transactionID])
}
