package auth

import "sync"

// deferQueue runs functions one at a time, in push order, on its own goroutine.
type deferQueue struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending []func()
	busy    bool
	closed  bool
	wake    chan struct{}
	done    chan struct{}
}

func newDeferQueue() *deferQueue {
	q := &deferQueue{wake: make(chan struct{}, 1), done: make(chan struct{})}
	q.idle = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *deferQueue) push(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *deferQueue) run() {
	defer close(q.done)
	for range q.wake {
		for {
			q.mu.Lock()
			if len(q.pending) == 0 || q.closed {
				q.busy = false
				q.idle.Broadcast()
				closed := q.closed
				q.mu.Unlock()
				if closed {
					return
				}
				break
			}
			fn := q.pending[0]
			q.pending = q.pending[1:]
			q.busy = true
			q.mu.Unlock()

			fn()
		}
	}
}

// wait blocks until nothing is pending or running. It must not be called from a queued function.
func (q *deferQueue) wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && (len(q.pending) > 0 || q.busy) {
		q.idle.Wait()
	}
}

func (q *deferQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0 && !q.busy
}

// close drops pending work and stops the goroutine once the running function returns.
func (q *deferQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.idle.Broadcast()
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}
