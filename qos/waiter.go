package qos

import (
	"container/list"
	"time"
)

// Waiter is the per-request state attached to each request that is not
// bypassed, whether it takes the fast path or is queued. It corresponds to the original filter's continuation
// attributes (_attrKeyRequestStartTime, _attrKeyCurrentPriority, etc.),
// re-expressed as a value the scheduler owns for the request's lifetime
// instead of a bag of attributes keyed by string on the request object.
type Waiter struct {
	// ID correlates this waiter's log lines: the completion line of a
	// dispatched request or the rejection line of a rejected one.
	ID string

	arrivalTime      time.Time
	serviceStartTime time.Time
	originalPriority int
	currentPriority  int
	expired          bool

	// resumeCh is closed exactly once, by PriorityQueues.PollHighest's
	// caller, to transfer a slot to this waiter. Every other goroutine
	// only ever reads from it.
	resumeCh chan struct{}

	// queueIdx/queueElem locate this waiter within PriorityQueues while
	// it is enqueued; both are owned and mutated exclusively under
	// PriorityQueues.mu.
	queueIdx  int
	queueElem *list.Element
}

func newWaiter(id string, priority int) *Waiter {
	return &Waiter{
		ID:               id,
		arrivalTime:      time.Now(),
		originalPriority: priority,
		currentPriority:  priority,
		resumeCh:         make(chan struct{}),
	}
}

// CurrentPriority returns the priority level the waiter is presently
// queued at (or was last queued at, once dispatched or rejected).
func (w *Waiter) CurrentPriority() int { return w.currentPriority }

// OriginalPriority returns the priority level assigned at admission.
func (w *Waiter) OriginalPriority() int { return w.originalPriority }

// Expired reports whether the waiter was finally rejected.
func (w *Waiter) Expired() bool { return w.expired }

// ArrivalTime returns the wall time at first entry to the scheduler.
func (w *Waiter) ArrivalTime() time.Time { return w.arrivalTime }

// ServiceStartTime returns the wall time the handler chain began, or the
// zero Time if the request never dispatched.
func (w *Waiter) ServiceStartTime() time.Time { return w.serviceStartTime }
