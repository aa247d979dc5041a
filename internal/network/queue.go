package network

import "sync"

// ResponseQueue is an unbounded FIFO of raw inbound payloads. Push never
// blocks; consumers wait on Wake and then Drain everything queued.
type ResponseQueue struct {
	mu    sync.Mutex
	items []string
	wake  chan struct{}
}

func NewResponseQueue() *ResponseQueue {
	return &ResponseQueue{wake: make(chan struct{}, 1)}
}

// Push appends a payload and signals a waiting consumer.
func (q *ResponseQueue) Push(payload string) {
	q.mu.Lock()
	q.items = append(q.items, payload)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
		// a wake-up is already pending
	}
}

// Wake is signalled at least once after every Push.
func (q *ResponseQueue) Wake() <-chan struct{} {
	return q.wake
}

// Drain removes and returns every queued payload in arrival order.
func (q *ResponseQueue) Drain() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued payloads.
func (q *ResponseQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
