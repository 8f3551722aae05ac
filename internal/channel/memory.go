package channel

import (
	"context"
	"sync"
)

// Hub connects in-process buses. A message published on one bus reaches the
// subscribers of every other bus on the hub, never its own.
type Hub struct {
	mu    sync.RWMutex
	buses map[*MemoryBus]struct{}
}

func NewHub() *Hub {
	return &Hub{buses: make(map[*MemoryBus]struct{})}
}

// Connect attaches a new bus to the hub.
func (h *Hub) Connect() *MemoryBus {
	b := &MemoryBus{hub: h, out: newFanout()}
	h.mu.Lock()
	h.buses[b] = struct{}{}
	h.mu.Unlock()
	return b
}

func (h *Hub) disconnect(b *MemoryBus) {
	h.mu.Lock()
	delete(h.buses, b)
	h.mu.Unlock()
}

func (h *Hub) publish(from *MemoryBus, msg Message) {
	h.mu.RLock()
	peers := make([]*MemoryBus, 0, len(h.buses))
	for b := range h.buses {
		if b != from {
			peers = append(peers, b)
		}
	}
	h.mu.RUnlock()

	for _, b := range peers {
		b.out.deliver(msg)
	}
}

type MemoryBus struct {
	hub *Hub
	out *fanout
}

func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	if b.out.isClosed() {
		return ErrClosed
	}
	b.hub.publish(b, msg)
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	return b.out.add(ctx)
}

func (b *MemoryBus) Close() error {
	b.hub.disconnect(b)
	b.out.closeAll()
	return nil
}
