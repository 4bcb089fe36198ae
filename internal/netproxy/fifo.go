package netproxy

import (
	"sync"
	"time"
)

// blockedFIFOCapacity bounds memory use for a long-running proxy: once
// full, the oldest blocked event is dropped to make room for the newest.
const blockedFIFOCapacity = 200

// BlockedRequest is one denied connection attempt, surfaced to the admin
// plane's GET /blocked endpoint.
type BlockedRequest struct {
	Host   string
	Port   int
	Method string
	Reason string
	Time   time.Time
}

// BlockedFIFO is a bounded, drain-on-read queue of BlockedRequest events.
// Grounded on the ring-buffer discipline the unified-exec output buffer
// uses elsewhere in this repo: trim from the front once the cap is hit,
// never block a producer on a full consumer.
type BlockedFIFO struct {
	mu    sync.Mutex
	items []BlockedRequest
}

// NewBlockedFIFO returns an empty FIFO.
func NewBlockedFIFO() *BlockedFIFO {
	return &BlockedFIFO{items: make([]BlockedRequest, 0, blockedFIFOCapacity)}
}

// Push appends a blocked event, dropping the oldest if at capacity.
func (b *BlockedFIFO) Push(r BlockedRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) >= blockedFIFOCapacity {
		copy(b.items, b.items[1:])
		b.items = b.items[:len(b.items)-1]
	}
	b.items = append(b.items, r)
}

// Drain returns and clears every queued event.
func (b *BlockedFIFO) Drain() []BlockedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.items
	b.items = make([]BlockedRequest, 0, blockedFIFOCapacity)
	return out
}

// Len reports how many events are currently queued.
func (b *BlockedFIFO) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
