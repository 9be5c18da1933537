package streamer

import (
	"time"

	"github.com/hypothesis/h-sub005/errors"
)

// WorkQueue is the bounded FIFO shared by every producer (bus consumers,
// connection read loops) and drained by the single dispatcher goroutine.
// Put never blocks longer than the configured timeout; producers hold bus
// delivery callbacks and socket read loops, so a full queue drops work
// instead of applying backpressure upstream.
type WorkQueue struct {
	ch         chan Message
	putTimeout time.Duration
}

// NewWorkQueue creates a queue with the given capacity and enqueue timeout.
func NewWorkQueue(capacity int, putTimeout time.Duration) *WorkQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &WorkQueue{
		ch:         make(chan Message, capacity),
		putTimeout: putTimeout,
	}
}

// Put enqueues msg, waiting at most the configured timeout. Returns
// errors.ErrQueueFull when the queue does not drain in time.
func (q *WorkQueue) Put(msg Message) error {
	select {
	case q.ch <- msg:
		return nil
	default:
	}

	timer := time.NewTimer(q.putTimeout)
	defer timer.Stop()

	select {
	case q.ch <- msg:
		return nil
	case <-timer.C:
		return errors.ErrQueueFull
	}
}

// C returns the receive side of the queue for the dispatcher.
func (q *WorkQueue) C() <-chan Message {
	return q.ch
}

// Len returns the current queue depth.
func (q *WorkQueue) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *WorkQueue) Cap() int {
	return cap(q.ch)
}
