package client

import "sync"

// DefaultHistoryLimit bounds how many sent inputs are remembered.
const DefaultHistoryLimit = 50

// History recalls previously sent inputs, newest first.
type History struct {
	mu      sync.Mutex
	limit   int
	entries []string
	pos     int // -1 when not navigating
}

// NewHistory returns an empty buffer keeping at most limit inputs.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &History{limit: limit, pos: -1}
}

// Add records a sent input and resets navigation.
func (h *History) Add(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append([]string{text}, h.entries...)
	if len(h.entries) > h.limit {
		h.entries = h.entries[:h.limit]
	}
	h.pos = -1
}

// Up moves to an older input. Navigation starts only from an empty input.
func (h *History) Up(input string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos < 0 && input != "" {
		return "", false
	}
	if h.pos+1 >= len(h.entries) {
		return "", false
	}
	h.pos++
	return h.entries[h.pos], true
}

// Down moves to a newer input; stepping past the newest clears the input.
func (h *History) Down() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pos < 0 {
		return "", false
	}
	h.pos--
	if h.pos < 0 {
		return "", true
	}
	return h.entries[h.pos], true
}

// Reset leaves navigation mode.
func (h *History) Reset() {
	h.mu.Lock()
	h.pos = -1
	h.mu.Unlock()
}

// Len reports how many inputs are remembered.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
