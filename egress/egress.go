// Package egress implements a Controller that rejects requests once the
// server's egress bandwidth on a named device exceeds a configured rate.
// It is meant to be chained ahead of the qos package's admission scheduler,
// so traffic that would blow an egress budget never occupies a priority
// queue slot in the first place.
package egress

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/prometheus/procfs"
)

var (
	procPath = "/proc"
	device   string
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qos_egress_controller_requests_total",
			Help: "Total number of requests handled by the egress controller.",
		},
		[]string{"request"},
	)
)

func init() {
	flag.StringVar(&device, "egress.device", "eth0", "Calculate bytes transmitted from this device.")
}

// Controller calculates the bytes transmitted every period from the named
// device and rejects requests once that rate exceeds limit.
type Controller struct {
	period  time.Duration
	device  string
	current uint64
	limit   uint64
	pfs     procfs.FS
}

// New creates a new instance initialized to run every second.
// Caller should run Watch in a goroutine to regularly update the current rate.
func New(rate uint64) (*Controller, error) {
	pfs, err := procfs.NewFS(procPath)
	if err != nil {
		return nil, err
	}
	// Read the device once to verify that the device exists.
	_, err = readNetDevLine(pfs, device)
	if err != nil {
		return nil, err
	}
	tx := &Controller{
		device: device,
		limit:  rate,
		pfs:    pfs,
		period: time.Second,
	}
	return tx, err
}

// Limit enforces that the egress rate limit is respected before running
// the next handler. If the rate is unspecified (zero), all requests are accepted.
func (tx *Controller) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := atomic.LoadUint64(&tx.current)
		if tx.limit > 0 && cur > tx.limit {
			requests.WithLabelValues("rejected").Inc()
			// 503 - https://tools.ietf.org/html/rfc7231#section-6.6.4
			w.WriteHeader(http.StatusServiceUnavailable)
			// Return without additional response.
			return
		}
		requests.WithLabelValues("accepted").Inc() // accepted != success.
		next.ServeHTTP(w, r)
	})
}

// Watch updates the current rate every period. If the context is cancelled, the
// context error is returned. If the Controller's rate is zero, Watch returns
// immediately. Callers should typically run Watch in a goroutine.
func (tx *Controller) Watch(ctx context.Context) error {
	if tx.limit == 0 {
		// No need to do anything.
		return nil
	}
	t := time.NewTicker(tx.period)
	defer t.Stop()

	// Read current value of TxBytes for device to initialize the following loop.
	v, err := readNetDevLine(tx.pfs, tx.device)
	if err != nil {
		return err
	}

	// Check the device every period until the context returns an error.
	for prev := v.TxBytes; ctx.Err() == nil; <-t.C {
		v, err := readNetDevLine(tx.pfs, tx.device)
		if err != nil {
			log.Println("Error reading /proc/net/dev:", err)
			continue
		}
		cur := (v.TxBytes - prev) * 8
		atomic.StoreUint64(&tx.current, cur)
		prev = v.TxBytes
	}
	return ctx.Err()
}

func readNetDevLine(pfs procfs.FS, device string) (procfs.NetDevLine, error) {
	nd, err := pfs.NetDev()
	if err != nil {
		return procfs.NetDevLine{}, err
	}
	// Check at creation time whether device exists.
	v, ok := nd[device]
	if !ok {
		return procfs.NetDevLine{}, fmt.Errorf("given device not found: %q", device)
	}
	return v, nil
}
