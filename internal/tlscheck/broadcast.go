package tlscheck

import "sync"

// broadcast reconciles the answers of one parallel fan-out. It finalizes at
// most once: on the first positive answer, or when every peer has answered.
type broadcast struct {
	mu        sync.Mutex
	pending   int
	finalized bool

	// done receives the single final answer.
	done chan bool
}

func newBroadcast(n int) *broadcast {
	b := &broadcast{pending: n, done: make(chan bool, 1)}
	if n <= 0 {
		b.finalized = true
		b.done <- false
	}
	return b
}

// observe records one peer answer. It returns false when the answer arrived
// after the fan-out had already finalized.
func (b *broadcast) observe(enabled bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.finalized {
		return false
	}
	b.pending--
	if enabled || b.pending == 0 {
		b.finalized = true
		b.done <- enabled
	}
	return true
}
