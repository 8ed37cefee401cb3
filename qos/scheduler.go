// Package qos implements a priority-aware admission-control and
// request-scheduling middleware, generalizing the access.Controller
// pattern used elsewhere in this module. A bounded pool of concurrent
// service slots is shared across all priorities; when the pool is
// saturated, requests are parked in per-priority waiting queues and aged
// toward higher urgency until they either secure a slot or are rejected.
package qos

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	apexlog "github.com/apex/log"

	"github.com/m-lab/qos-gateway/logging"
	"github.com/m-lab/qos-gateway/metrics"
)

// Scheduler is the central admission-control state machine described in
// spec.md §4.6. It implements access.Controller.
type Scheduler struct {
	cfg    *Config
	slots  *SlotPool
	queues *PriorityQueues
	rate   *RollingRateCounter
	avg    *RollingAverageCounter
}

// NewScheduler creates a Scheduler from cfg. cfg should normally come from
// NewConfig or NewDefaultConfig.
func NewScheduler(cfg *Config) (*Scheduler, error) {
	rate, err := NewRollingRateCounter(100, "requests per second")
	if err != nil {
		return nil, err
	}
	avg, err := NewRollingAverageCounter(100, "response time ms")
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:    cfg,
		slots:  NewSlotPool(cfg.MaxConcurrent),
		queues: NewPriorityQueues(cfg.MinPriority, cfg.MaxQueueDepth),
		rate:   rate,
		avg:    avg,
	}, nil
}

// RequestsPerSecond returns the current value of the rolling rate counter.
func (s *Scheduler) RequestsPerSecond() float64 { return s.rate.Value() }

// AverageResponseMs returns the current value of the rolling average
// response-time counter, in milliseconds.
func (s *Scheduler) AverageResponseMs() float64 { return s.avg.Value() }

// Limit implements the access.Controller interface: it wraps next with
// the admission scheduler.
func (s *Scheduler) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.serve(w, r, next)
	})
}

// serve is the admission decision described in spec.md §4.6.1.
func (s *Scheduler) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	priority := ExtractPriority(r, s.cfg.MinPriority)

	if priority == Bypass {
		metrics.Requests.WithLabelValues("bypassed").Inc()
		next.ServeHTTP(w, r)
		return
	}

	wtr := newWaiter(uuid.NewString(), priority)

	// Fast path: only attempted when nothing else is already queued, so
	// that a newly arrived request can never leapfrog requests that are
	// already aging toward higher urgency.
	if s.queues.Len() == 0 && s.slots.TryAcquire(s.cfg.SlotAcquireTimeout) {
		s.dispatch(wtr, w, r, next)
		return
	}

	if !s.queues.Enqueue(wtr) {
		s.reject(wtr, w)
		return
	}
	metrics.Requests.WithLabelValues("queued").Inc()
	s.drain()

	timeout := s.cfg.PromotionInterval
	for {
		timer := time.NewTimer(timeout)
		select {
		case <-wtr.resumeCh:
			timer.Stop()
			s.dispatch(wtr, w, r, next)
			return

		case <-timer.C:
			if !s.queues.Remove(wtr) {
				// A drain already claimed this waiter between the timer
				// firing and us acting on it; wait for the transfer to
				// land instead of second-guessing it (see DESIGN.md,
				// "acquireRequestSlot race").
				<-wtr.resumeCh
				s.dispatch(wtr, w, r, next)
				return
			}

			if wtr.currentPriority <= MaxUrgency {
				s.reject(wtr, w)
				return
			}

			wtr.currentPriority--
			if wtr.currentPriority > MaxUrgency {
				timeout = s.cfg.PromotionInterval
			} else {
				timeout = s.cfg.RequestDeadline - time.Since(wtr.arrivalTime)
				if timeout < 0 {
					timeout = 0
				}
			}
			metrics.Requests.WithLabelValues("promoted").Inc()

			if !s.queues.Enqueue(wtr) {
				s.reject(wtr, w)
				return
			}
			s.drain()
		}
	}
}

// dispatch marks wtr as being serviced and synchronously invokes next,
// then runs the completion accounting described in spec.md §4.6.6. Unlike
// the original filter, where completion is an asynchronous continuation
// listener that can race with a pending timeout, serve only calls dispatch
// after wtr's promotion timer has been stopped or has already fired (the
// fast path never starts one), so no timeout can fire for a dispatched
// request: completion and timeout are mutually exclusive here
// by construction rather than by the expired-flag bookkeeping the
// original needs (see DESIGN.md).
func (s *Scheduler) dispatch(wtr *Waiter, w http.ResponseWriter, r *http.Request, next http.Handler) {
	wtr.serviceStartTime = time.Now()
	metrics.SlotsInUse.Inc()
	next.ServeHTTP(w, r)
	metrics.SlotsInUse.Dec()

	now := time.Now()
	wait := wtr.serviceStartTime.Sub(wtr.arrivalTime)
	response := now.Sub(wtr.serviceStartTime)

	s.avg.Record(int(response.Milliseconds()))
	s.rate.Record()
	metrics.ResponseTimeMs.Set(s.avg.Value())
	metrics.RequestRate.Set(s.rate.Value())
	metrics.Requests.WithLabelValues("dispatched").Inc()

	logging.Logger.WithFields(apexlog.Fields{
		"request_id":   wtr.ID,
		"wait_ms":      wait.Milliseconds(),
		"response_ms":  response.Milliseconds(),
		"expired":      false,
		"request_rate": s.rate.Value(),
		"avg_response": s.avg.Value(),
	}).Debug("qos: request completed")

	s.slots.Release()
	s.drain()
}

// reject marks wtr expired and sends a 503. No slot is released because
// none was ever held; per spec.md §7, a failure to write the error
// response is swallowed, and the request is still marked expired.
func (s *Scheduler) reject(wtr *Waiter, w http.ResponseWriter) {
	wtr.expired = true
	metrics.Requests.WithLabelValues("rejected").Inc()

	func() {
		defer func() {
			// A client that has already disconnected can make
			// WriteHeader panic via its underlying conn; the original
			// filter's sendError swallows the analogous IOException.
			if rec := recover(); rec != nil {
				logging.Logger.WithField("request_id", wtr.ID).Debug("qos: error response failed")
			}
		}()
		w.WriteHeader(http.StatusServiceUnavailable)
	}()

	logging.Logger.WithFields(apexlog.Fields{
		"request_id": wtr.ID,
		"wait_ms":    time.Since(wtr.arrivalTime).Milliseconds(),
		"expired":    true,
	}).Debug("qos: request rejected")

	s.drain()
}

// drain repeatedly hands a freshly acquired slot to the most urgent
// queued request, per spec.md §4.6.5.
func (s *Scheduler) drain() {
	for s.queues.Len() > 0 && s.slots.TryAcquire(0) {
		wtr := s.queues.PollHighest()
		if wtr == nil {
			// Queue emptied out between the Len() check and PollHighest;
			// give back the slot we speculatively acquired.
			s.slots.Release()
			return
		}
		close(wtr.resumeCh)
	}
}
