package automation

import "sync/atomic"

// defaultQueueDepthCap is the default maximum number of jobs waiting in the
// queue, i.e. enqueued but not yet dequeued by the worker; the job the worker
// is currently running is not counted (see Store.retentionCap for the
// analogous terminal-job cap).
const defaultQueueDepthCap = 200

// Queue is the Queue (Q): a buffered in-memory channel (4096 slots) carrying
// job ids from the HTTP listener (producer) to the Worker (single consumer),
// paired with an atomic depth counter that enforces the documented cap
// independently of the channel's own capacity. The channel is not
// unbounded: once 4096 ids are waiting in it, Enqueue fails rather than
// blocks. The counter is
// incremented before a successful enqueue and decremented either when the
// worker dequeues the job or when the enqueue attempt itself fails and must
// be rolled back.
type Queue struct {
	ch       chan string
	depth    atomic.Int64
	depthCap int64
}

// NewQueue creates a Queue with the given depth cap. depthCap <= 0 uses the
// documented default of 200.
func NewQueue(depthCap int) *Queue {
	if depthCap <= 0 {
		depthCap = defaultQueueDepthCap
	}
	return &Queue{ch: make(chan string, 4096), depthCap: int64(depthCap)}
}

// Depth returns the current queue depth counter value.
func (q *Queue) Depth() int64 {
	return q.depth.Load()
}

// HasCapacity reports whether another job may be enqueued without exceeding
// the depth cap.
func (q *Queue) HasCapacity() bool {
	return q.depth.Load() < q.depthCap
}

// Enqueue increments the depth counter and sends id into the channel. The
// channel itself is large enough that the send never blocks in practice, but
// on the (essentially theoretical) send failure Enqueue rolls back its own
// increment before returning false — callers that get false back must not
// also call Rollback, since the depth counter is already back at baseline;
// they only need to undo whatever they did before calling Enqueue (e.g.
// remove the job record it was about to queue).
func (q *Queue) Enqueue(id string) bool {
	q.depth.Add(1)
	select {
	case q.ch <- id:
		return true
	default:
		q.depth.Add(-1)
		return false
	}
}

// Rollback undoes a counted enqueue that Enqueue itself reported successful
// but that the caller must still undo for reasons of its own (e.g. a
// downstream step after a successful Enqueue failed). Do not call this after
// Enqueue already returned false — see Enqueue's doc comment.
func (q *Queue) Rollback() {
	q.depth.Add(-1)
}

// Dequeue blocks until a job id is available or done is closed, decrementing
// the depth counter for whatever it returns. ok is false only when the
// channel was closed with nothing pending.
func (q *Queue) Dequeue(done <-chan struct{}) (id string, ok bool) {
	select {
	case id, ok = <-q.ch:
		if ok {
			q.depth.Add(-1)
		}
		return id, ok
	case <-done:
		return "", false
	}
}
