package campaign

import (
	"context"
	"sync"

	"github.com/Unisami/ProspectAI-sub000/internal/domain"
)

// lane identifies one priority band of the work queue.
type lane int

const (
	lanePriority lane = iota
	laneNormal
	laneRetry
)

// workItem is one unit of pool work: process a single company end to
// end. forced items skip the dedup stage (operator inserts and explicit
// single-company runs).
type workItem struct {
	company domain.Company
	attempt int
	forced  bool
}

// workQueue is the bounded three-lane queue feeding the worker pool.
// Lane order is strict at probe time: a worker drains Priority before
// Normal before Retry. Producers block (push) or drop (tryPush) when a
// lane is full.
type workQueue struct {
	lanes [3]chan workItem
	done  chan struct{}
	once  sync.Once
}

func newWorkQueue(capacity int) *workQueue {
	if capacity <= 0 {
		capacity = 32
	}
	q := &workQueue{done: make(chan struct{})}
	for i := range q.lanes {
		q.lanes[i] = make(chan workItem, capacity)
	}
	return q
}

// close marks production finished. pop keeps draining whatever is
// already queued and then reports no more work.
func (q *workQueue) close() {
	q.once.Do(func() { close(q.done) })
}

// push blocks until the lane accepts the item or ctx ends. This is the
// producer's backpressure point.
func (q *workQueue) push(ctx context.Context, l lane, item workItem) error {
	select {
	case q.lanes[l] <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryPush enqueues without blocking, for callers that must not stall on
// a full lane (the control poller, worker retry requeues).
func (q *workQueue) tryPush(l lane, item workItem) bool {
	select {
	case q.lanes[l] <- item:
		return true
	default:
		return false
	}
}

// pop returns the next item, blocking while every lane is empty. ok is
// false once the queue is closed and drained, or ctx is cancelled. When
// several lanes hold work the highest lane wins; the blocking wait picks
// whichever lane delivers first.
func (q *workQueue) pop(ctx context.Context) (workItem, bool) {
	if item, ok := q.tryPop(); ok {
		return item, true
	}
	select {
	case item := <-q.lanes[lanePriority]:
		return item, true
	case item := <-q.lanes[laneNormal]:
		return item, true
	case item := <-q.lanes[laneRetry]:
		return item, true
	case <-q.done:
		// Drain anything that raced in ahead of close.
		return q.tryPop()
	case <-ctx.Done():
		return workItem{}, false
	}
}

// tryPop probes the lanes in priority order without blocking.
func (q *workQueue) tryPop() (workItem, bool) {
	for _, ch := range q.lanes {
		select {
		case item := <-ch:
			return item, true
		default:
		}
	}
	return workItem{}, false
}
