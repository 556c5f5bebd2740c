package chat

import (
	"sync"

	"github.com/convoforge/go-chat/pkg/provider/types"
)

// pendingInvocation pairs the assistant message that represents tool calls
// in history with the calls themselves. The message is appended right
// before the results when the tools run.
type pendingInvocation struct {
	message types.Message
	calls   []types.ToolCall
}

// chatRequest is one queued request: the provider-shaped body plus the
// per-request state the drain loop needs.
type chatRequest struct {
	callback Callback
	body     map[string]interface{}
	model    string

	// pending holds the tool invocations collected while streaming this
	// request's response.
	pending []pendingInvocation
}

// requestQueue is the FIFO the engine drains serially. Queue order is the
// only ordering guarantee offered between concurrent callers.
type requestQueue struct {
	mu    sync.Mutex
	items []*chatRequest
}

func (q *requestQueue) popFront() *chatRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	front := q.items[0]
	q.items = q.items[1:]
	return front
}

func (q *requestQueue) pushBack(r *chatRequest) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

func (q *requestQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
}

func (q *requestQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *requestQueue) empty() bool {
	return q.size() == 0
}
