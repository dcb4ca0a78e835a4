package session

import (
	"sync"
)

// queue is an unbounded FIFO of callbacks run by a single goroutine.
// push never blocks, so producers on audio or network goroutines cannot stall.
type queue struct {
	mu      sync.Mutex
	items   []func()
	stopped bool
	drain   bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

func newQueue() *queue {
	return &queue{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (q *queue) start() {
	q.once.Do(func() { go q.run() })
}

// push appends fn. It reports false once the queue is stopped.
func (q *queue) push(fn func()) bool {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// stop ends the run loop. With drain, already queued callbacks still run.
// stop does not wait; use done for that.
func (q *queue) stop(drain bool) {
	q.mu.Lock()
	if !q.stopped {
		q.stopped = true
		q.drain = drain
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		if q.stopped && (!q.drain || len(q.items) == 0) {
			q.items = nil
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			<-q.wake
			continue
		}
		fn := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn()
	}
}
