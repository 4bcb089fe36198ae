package netproxy

import "testing"

func TestBlockedFIFODropsOldestAtCapacity(t *testing.T) {
	fifo := NewBlockedFIFO()
	for i := 0; i < blockedFIFOCapacity+10; i++ {
		fifo.Push(BlockedRequest{Host: "host"})
	}
	if fifo.Len() != blockedFIFOCapacity {
		t.Fatalf("Len() = %d, want %d", fifo.Len(), blockedFIFOCapacity)
	}
}

func TestBlockedFIFODrainEmptiesQueue(t *testing.T) {
	fifo := NewBlockedFIFO()
	fifo.Push(BlockedRequest{Host: "a"})
	fifo.Push(BlockedRequest{Host: "b"})

	drained := fifo.Drain()
	if len(drained) != 2 {
		t.Fatalf("len(drained) = %d, want 2", len(drained))
	}
	if fifo.Len() != 0 {
		t.Errorf("Len() after Drain = %d, want 0", fifo.Len())
	}
}
