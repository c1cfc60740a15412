package convo

import "sync"

// Message is one history entry in provider-agnostic role/content shape.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// History is the append-only conversation log. Entries are immutable once
// appended; the log is cleared wholesale only when a new session starts.
type History struct {
	mu   sync.Mutex
	msgs []Message
}

func NewHistory() *History { return &History{} }

func (h *History) AddUserMessage(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, Message{Role: "user", Content: text})
}

func (h *History) AddAssistantMessage(text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, Message{Role: "assistant", Content: text})
}

// RecentContext returns a copy of the last limit messages.
func (h *History) RecentContext(limit int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.msgs) {
		limit = len(h.msgs)
	}
	out := make([]Message, limit)
	copy(out, h.msgs[len(h.msgs)-limit:])
	return out
}

// All returns a copy of the full log.
func (h *History) All() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Message, len(h.msgs))
	copy(out, h.msgs)
	return out
}

func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.msgs)
}

// Clear empties the log for a new conversation session.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = nil
}
