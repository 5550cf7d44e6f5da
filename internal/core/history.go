package core

import (
	"strings"
	"sync"
	"time"
)

// Role identifies who produced a history entry.
type Role string

// Conversation roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// History defaults.
const (
	// DefaultHistoryLimit is the append count that triggers compaction.
	DefaultHistoryLimit = 50
	// DefaultKeepRecent is how many newest entries survive compaction verbatim.
	DefaultKeepRecent = 20
	// DefaultStride keeps every Nth entry of the older prefix when compacting.
	DefaultStride = 5
	// DefaultContextEntries is how many entries RecentContext renders.
	DefaultContextEntries = 5
	// DefaultContextChars truncates each rendered entry in RecentContext.
	DefaultContextChars = 200
)

// Entry is one conversational exchange half.
type Entry struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// History is an append-only conversation log with lossy compaction. All
// methods are safe for concurrent use; an append and the compaction it
// triggers happen under one lock acquisition, so no reader ever observes
// the list over limit without the compaction applied.
type History struct {
	mu           sync.Mutex
	entries      []Entry
	limit        int
	keepRecent   int
	stride       int
	contextChars int
}

// HistoryOption configures a History.
type HistoryOption func(*History)

// WithLimit sets the entry count that triggers compaction.
func WithLimit(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.limit = n
		}
	}
}

// WithKeepRecent sets how many newest entries compaction preserves verbatim.
func WithKeepRecent(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.keepRecent = n
		}
	}
}

// WithStride sets the subsampling interval for the compacted prefix.
func WithStride(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.stride = n
		}
	}
}

// WithContextChars sets the per-entry truncation width for RecentContext.
func WithContextChars(n int) HistoryOption {
	return func(h *History) {
		if n > 0 {
			h.contextChars = n
		}
	}
}

// NewHistory creates a History. keepRecent is clamped to the limit so
// compaction always has a prefix to sample.
func NewHistory(opts ...HistoryOption) *History {
	h := &History{
		limit:        DefaultHistoryLimit,
		keepRecent:   DefaultKeepRecent,
		stride:       DefaultStride,
		contextChars: DefaultContextChars,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.keepRecent > h.limit {
		h.keepRecent = h.limit
	}
	return h
}

// Append records an exchange half. When the log grows past the limit it is
// compacted in the same critical section.
func (h *History) Append(role Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, Entry{
		Role:    role,
		Content: content,
		At:      time.Now().UTC(),
	})
	if len(h.entries) > h.limit {
		h.compactLocked()
	}
}

// compactLocked keeps the newest keepRecent entries verbatim and replaces
// everything older with every stride-th entry, oldest first. Compaction is
// lossy and irreversible. Caller must hold mu.
func (h *History) compactLocked() {
	if len(h.entries) <= h.keepRecent {
		return
	}
	cut := len(h.entries) - h.keepRecent
	older := h.entries[:cut]

	kept := make([]Entry, 0, len(older)/h.stride+h.keepRecent+1)
	for i := 0; i < len(older); i += h.stride {
		kept = append(kept, older[i])
	}
	kept = append(kept, h.entries[cut:]...)
	h.entries = kept
}

// Snapshot returns a copy of the current entries, oldest first.
func (h *History) Snapshot() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}

// Len reports the current entry count.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Clear drops all entries. Limits and options are unchanged.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
}

// RecentContext renders the last n entries as labeled lines for prompt
// context, each entry truncated to the configured width. Non-positive n
// selects the default of five.
func (h *History) RecentContext(n int) string {
	if n <= 0 {
		n = DefaultContextEntries
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	start := len(h.entries) - n
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i, e := range h.entries[start:] {
		if i > 0 {
			b.WriteString("\n")
		}
		label := "User"
		if e.Role == RoleAssistant {
			label = "Assistant"
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(clip(e.Content, h.contextChars))
	}
	return b.String()
}

// clip truncates s to max runes, marking the cut with an ellipsis.
func clip(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
