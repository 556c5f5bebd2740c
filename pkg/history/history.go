// Package history implements the message log backing a chat client. The
// store has two slots, main and temporary; a reference-counted swap lets a
// caller run scoped sub-conversations that leave the main log untouched.
package history

import (
	"sync"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

// History is a dual-slot message store. Exactly one slot is active at any
// instant; the temporary slot is active while the swap depth is above zero.
// All mutations serialize under one mutex; reads return snapshot copies.
type History struct {
	mu        sync.Mutex
	main      []types.Message
	temp      []types.Message
	swapDepth int
}

// New creates an empty history with the main slot active.
func New() *History {
	return &History{}
}

func (h *History) active() *[]types.Message {
	if h.swapDepth > 0 {
		return &h.temp
	}
	return &h.main
}

// EnterTemp switches the active slot to the temporary store. Nesting is
// permitted; only the outermost call flips the slot pointer.
func (h *History) EnterTemp() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.swapDepth++
}

// ExitTemp leaves one level of the temporary store. The call matching the
// outermost EnterTemp switches back to main. Exiting at depth zero is a
// no-op.
func (h *History) ExitTemp() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.swapDepth == 0 {
		return
	}
	h.swapDepth--
}

// InTemp reports whether the temporary slot is active.
func (h *History) InTemp() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.swapDepth > 0
}

// SwapDepth returns the current nesting level.
func (h *History) SwapDepth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.swapDepth
}

// Add appends a message to the active slot.
func (h *History) Add(msg types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.active()
	*active = append(*active, msg)
}

// AddWithLimit appends a message and then drops oldest entries until the
// active slot holds at most limit messages. A non-positive limit disables
// truncation.
func (h *History) AddWithLimit(msg types.Message, limit int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.active()
	*active = append(*active, msg)
	if limit > 0 && len(*active) > limit {
		*active = append([]types.Message(nil), (*active)[len(*active)-limit:]...)
	}
}

// Get returns a copy of the active slot.
func (h *History) Get() []types.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.active()
	out := make([]types.Message, len(*active))
	copy(out, *active)
	return out
}

// Set replaces the active slot.
func (h *History) Set(msgs []types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.active()
	*active = append([]types.Message(nil), msgs...)
}

// ShrinkToFit drops the oldest entries of the active slot until its size is
// at most max.
func (h *History) ShrinkToFit(max int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.active()
	if max < 0 {
		max = 0
	}
	if len(*active) <= max {
		return
	}
	*active = append([]types.Message(nil), (*active)[len(*active)-max:]...)
}

// Clear empties the active slot only.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	active := h.active()
	*active = nil
}

// ClearAll empties both slots unconditionally.
func (h *History) ClearAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.main = nil
	h.temp = nil
}

// IsEmpty reports whether the active slot holds no messages.
func (h *History) IsEmpty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(*h.active()) == 0
}
