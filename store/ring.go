package store

import "github.com/dratasich/telemetry-cache/events"

// history is a fixed-capacity FIFO of records. Pushing into a full ring
// evicts the oldest entry. Not safe for concurrent use; the owning device
// lock guards it.
type history struct {
	buf  []events.Record
	head int // index of the oldest entry
	size int
}

func newHistory(capacity int) *history {
	return &history{buf: make([]events.Record, capacity)}
}

func (h *history) push(rec events.Record) {
	if h.size < len(h.buf) {
		h.buf[(h.head+h.size)%len(h.buf)] = rec
		h.size++
		return
	}
	h.buf[h.head] = rec
	h.head = (h.head + 1) % len(h.buf)
}

func (h *history) len() int {
	return h.size
}

// last returns copies of the n most recent records, oldest first.
func (h *history) last(n int) []events.Record {
	n = min(n, h.size)
	out := make([]events.Record, 0, n)
	for i := h.size - n; i < h.size; i++ {
		out = append(out, h.buf[(h.head+i)%len(h.buf)].Clone())
	}
	return out
}
