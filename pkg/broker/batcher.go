package broker

import (
	"sync"
	"time"
)

// pendingItem is one buffered message awaiting batch execution.
type pendingItem struct {
	vector      []float64
	requestID   string
	subjectID   string
	deliveryTag uint64
}

// batcher accumulates pendingItems behind a mutex and fires when either
// threshold in the size-or-age trigger is reached. It owns no goroutines
// of its own; the consumer drives it from a ticker and from each
// incoming delivery.
type batcher struct {
	mu        sync.Mutex
	items     []pendingItem
	size      int
	timeout   time.Duration
	oldestAt  time.Time
}

func newBatcher(size int, timeout time.Duration) *batcher {
	return &batcher{size: size, timeout: timeout}
}

// add appends item to the buffer and reports whether the size threshold
// was reached by this addition.
func (b *batcher) add(item pendingItem) (fire bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		b.oldestAt = time.Now()
	}
	b.items = append(b.items, item)
	return len(b.items) >= b.size
}

// ageExceeded reports whether the oldest buffered message has been
// waiting at least timeout, for the age half of the trigger.
func (b *batcher) ageExceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return false
	}
	return time.Since(b.oldestAt) >= b.timeout
}

// drain atomically extracts the current buffer and replaces it with a
// fresh one, per the "extract the buffer atomically" step of batch
// execution.
func (b *batcher) drain() []pendingItem {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return nil
	}
	out := b.items
	b.items = nil
	return out
}

func (b *batcher) empty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items) == 0
}

// toVectors and toIDs split a drained batch into the kernel's positional
// input arrays.
func toVectors(items []pendingItem) [][]float64 {
	out := make([][]float64, len(items))
	for i, it := range items {
		out[i] = it.vector
	}
	return out
}

func toRequestIDs(items []pendingItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.requestID
	}
	return out
}

func toSubjectIDs(items []pendingItem) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.subjectID
	}
	return out
}
