package session

import "sync"

// defaultHistoryBytes is the default byte cap for a session's history
// ring (spec.md §4.4: "Default limit ≈ 512 Ki–1 Mi chars").
const defaultHistoryBytes = 1 << 20

// History is a byte-capped ring buffer: last write wins on overflow,
// truncation happens only at the head. Grounded on the teacher's
// agent.RingBuffer (Push drops oldest on overflow, Drain resets to
// empty), generalized from a chunk-count cap to a byte cap per
// DESIGN.md's Open Question resolution.
type History struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

// NewHistory returns a History capped at limit bytes. limit<=0 uses
// the default.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = defaultHistoryBytes
	}
	return &History{limit: limit}
}

// Append adds data to the buffer, truncating from the head if the
// result would exceed the cap.
func (h *History) Append(data []byte) {
	if len(data) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf = append(h.buf, data...)
	if over := len(h.buf) - h.limit; over > 0 {
		h.buf = h.buf[over:]
	}
}

// Snapshot returns a copy of the current buffer contents.
func (h *History) Snapshot() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]byte, len(h.buf))
	copy(out, h.buf)
	return out
}

// Len returns the current buffered length.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.buf)
}
