package manager

import (
	"sync"
)

// fifo is an unbounded first-in first-out queue of closures with a blocking pop.
//
// The manager uses one fifo for operations (drained by the worker goroutine)
// and a second one for completion callbacks (drained by the delivery
// goroutine), so a slow callback never delays the next operation.
type fifo struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []func()
	limit  int
	closed bool
}

func newFIFO(limit int) *fifo {
	q := &fifo{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends fn. It fails with errQueueClosed after close, or errQueueFull
// when a limit is set and reached.
func (q *fifo) push(fn func()) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return errQueueFull
	}
	q.items = append(q.items, fn)
	q.cond.Signal()
	return nil
}

// pop blocks until an item is available. It returns false once the queue is
// closed and fully drained.
func (q *fifo) pop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

// close rejects further pushes. Queued items are still returned by pop.
func (q *fifo) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

func (q *fifo) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type queueError string

func (e queueError) Error() string { return string(e) }

const (
	errQueueClosed queueError = "queue closed"
	errQueueFull   queueError = "queue full"
)
