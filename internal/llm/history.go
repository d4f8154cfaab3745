package llm

import "sync"

// HistoryBuffer keeps a bounded window of recent turns. It backs the
// short-term conversational context passed to the generator; the mode
// controller clears it when leaving Partner mode.
type HistoryBuffer struct {
	mu     sync.Mutex
	window int
	turns  []Turn
}

// NewHistoryBuffer creates a buffer holding at most window turns.
func NewHistoryBuffer(window int) *HistoryBuffer {
	if window <= 0 {
		window = 12
	}
	return &HistoryBuffer{window: window}
}

// Append records a turn, dropping the oldest when over the window.
func (b *HistoryBuffer) Append(role Role, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = append(b.turns, Turn{Role: role, Content: content})
	if len(b.turns) > b.window {
		b.turns = b.turns[len(b.turns)-b.window:]
	}
}

// Turns returns a copy of the buffered turns, oldest first.
func (b *HistoryBuffer) Turns() []Turn {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Turn, len(b.turns))
	copy(out, b.turns)
	return out
}

// Clear discards all buffered turns.
func (b *HistoryBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turns = nil
}

// Len reports the number of buffered turns.
func (b *HistoryBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.turns)
}
