package core

import "sync"

const defaultTickHistoryCapacity = 100

// tickHistory is a fixed-size ring of the most recent ticks. The driving
// goroutine writes it; Stats readers may be anywhere.
type tickHistory struct {
	mu    sync.Mutex
	items []TickRecord
	head  int
	count int
}

func newTickHistory(capacity int) *tickHistory {
	if capacity < 1 {
		capacity = defaultTickHistoryCapacity
	}
	return &tickHistory{items: make([]TickRecord, capacity)}
}

func (h *tickHistory) Add(record TickRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.items[h.head] = record
	h.head = (h.head + 1) % len(h.items)
	if h.count < len(h.items) {
		h.count++
	}
}

// Recent returns up to limit records, newest first. limit <= 0 means all.
func (h *tickHistory) Recent(limit int) []TickRecord {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return nil
	}

	if limit <= 0 || limit > h.count {
		limit = h.count
	}

	out := make([]TickRecord, 0, limit)
	for i := range limit {
		idx := (h.head - 1 - i + len(h.items)) % len(h.items)
		out = append(out, h.items[idx])
	}
	return out
}

func (h *tickHistory) Last() (TickRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 {
		return TickRecord{}, false
	}

	idx := (h.head - 1 + len(h.items)) % len(h.items)
	return h.items[idx], true
}
