package qos

import (
	"container/list"
	"strconv"
	"sync"

	"github.com/m-lab/qos-gateway/metrics"
)

// PriorityQueues is an array of FIFO queues, one per priority level in
// [MaxUrgency, minPriority], with a shared bound on the total number of
// queued items. It corresponds to the original filter's array of
// LinkedBlockingQueue<Continuation>, re-expressed with container/list so
// that Remove can drop a specific waiter in O(1) given the *list.Element
// recorded on it at enqueue time.
type PriorityQueues struct {
	mu       sync.Mutex
	byLevel  []*list.List // index 0 == MaxUrgency
	count    int
	maxDepth int
}

// NewPriorityQueues creates one queue per priority level in
// [MaxUrgency, minPriority], bounded in total by maxDepth items.
func NewPriorityQueues(minPriority, maxDepth int) *PriorityQueues {
	n := minPriority - MaxUrgency + 1
	levels := make([]*list.List, n)
	for i := range levels {
		levels[i] = list.New()
	}
	return &PriorityQueues{byLevel: levels, maxDepth: maxDepth}
}

func (q *PriorityQueues) index(priority int) int {
	return priority - MaxUrgency
}

// Enqueue appends w to the queue for its current priority. It returns
// false without modifying any state if the queue is already at maxDepth,
// preserving invariant 3 (queued-count never exceeds maxQueueDepth).
func (q *PriorityQueues) Enqueue(w *Waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.count >= q.maxDepth {
		return false
	}
	idx := q.index(w.currentPriority)
	elem := q.byLevel[idx].PushBack(w)
	w.queueIdx, w.queueElem = idx, elem
	q.count++
	q.reportLocked(idx)
	return true
}

// Remove drops w from whichever queue it currently occupies. It returns
// false if w was not present (e.g. a concurrent PollHighest already took
// it), mirroring LinkedBlockingQueue.remove()'s boolean result, which the
// scheduler uses to arbitrate the timeout-vs-drain race (see DESIGN.md).
func (q *PriorityQueues) Remove(w *Waiter) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if w.queueElem == nil {
		return false
	}
	idx := w.queueIdx
	q.byLevel[idx].Remove(w.queueElem)
	w.queueElem = nil
	q.count--
	q.reportLocked(idx)
	return true
}

// PollHighest returns and removes the oldest waiter from the most urgent
// non-empty queue, or nil if every queue is empty.
func (q *PriorityQueues) PollHighest() *Waiter {
	q.mu.Lock()
	defer q.mu.Unlock()
	for idx, l := range q.byLevel {
		if l.Len() == 0 {
			continue
		}
		elem := l.Front()
		l.Remove(elem)
		q.count--
		w := elem.Value.(*Waiter)
		w.queueElem = nil
		q.reportLocked(idx)
		return w
	}
	return nil
}

// Len returns the total number of items queued across all priority levels.
func (q *PriorityQueues) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// reportLocked publishes the current depth of the queue at idx to the
// qos_scheduler_queue_depth gauge. Callers must hold q.mu.
func (q *PriorityQueues) reportLocked(idx int) {
	priority := idx + MaxUrgency
	metrics.QueueDepth.WithLabelValues(strconv.Itoa(priority)).Set(float64(q.byLevel[idx].Len()))
}
