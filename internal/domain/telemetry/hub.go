package telemetry

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/GameLab/backend/internal/bridge/protocol"
	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// Hub fans frames out to the UI subscribers of one embed. A slow
// subscriber loses frames instead of stalling the relay.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan []byte
	next    uint64
	closed  bool
	dropped atomic.Int64
	logger  *logging.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		subs:   make(map[uint64]chan []byte),
		logger: logging.OrNop(logger).Named("hub"),
	}
}

// Subscribe registers a subscriber. The returned cancel func unregisters it
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (<-chan []byte, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan []byte, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	key := h.next
	h.next++
	h.subs[key] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[key]; ok {
				delete(h.subs, key)
				close(sub)
			}
		})
	}
}

// Broadcast encodes frame once and offers it to every subscriber.
func (h *Hub) Broadcast(frame any) {
	data, err := protocol.Encode(frame)
	if err != nil {
		h.logger.Warn("Dropping unencodable frame", zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- data:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped for full buffers.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every subscriber channel. Later subscriptions get a closed
// channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, ch := range h.subs {
		delete(h.subs, key)
		close(ch)
	}
}
