package object

import "sync"

// taskQueue is the bounded single-consumer work queue behind a watcher's
// dispatch goroutine. Live notification batches, replay decisions and
// refresh swaps all go through it, so exactly one task runs at a time and
// tasks run in arrival order.
//
// Unlike a ring channel, a full queue blocks the producer instead of
// discarding the oldest entry: notification batches must not be dropped.
type taskQueue struct {
	mu     sync.Mutex
	ch     chan func()
	quit   chan struct{}
	closed bool
}

func newTaskQueue(capacity int) *taskQueue {
	if capacity <= 0 {
		panic("taskqueue: capacity must be > 0")
	}
	return &taskQueue{
		ch:   make(chan func(), capacity),
		quit: make(chan struct{}),
	}
}

// Push enqueues a task, blocking while the queue is full.
// Returns false if the queue was closed before the task could be accepted.
func (q *taskQueue) Push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.mu.Unlock()

	select {
	case q.ch <- fn:
		return true
	case <-q.quit:
		return false
	}
}

// Run consumes tasks until the queue is closed. It is the only consumer.
func (q *taskQueue) Run() {
	for {
		select {
		case <-q.quit:
			return
		case fn := <-q.ch:
			fn()
		}
	}
}

// Close stops the queue. Pending tasks are discarded. Idempotent.
func (q *taskQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.quit)
	}
}
