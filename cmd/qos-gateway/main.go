package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m-lab/go/rtx"
	"github.com/m-lab/go/warnonerror"

	"github.com/m-lab/qos-gateway/authtoken"
	"github.com/m-lab/qos-gateway/echo"
	"github.com/m-lab/qos-gateway/egress"
	"github.com/m-lab/qos-gateway/logging"
	"github.com/m-lab/qos-gateway/qos"
)

var (
	listenAddr  = flag.String("listen", ":8080", "Address to serve the protected endpoint on.")
	metricsAddr = flag.String("metrics.address", ":9090", "Address to serve Prometheus metrics on.")
	machineName = flag.String("machine", "", "This server's name, used as the audience for access tokens.")
	pubKeyFile  = flag.String("authtoken.publickey", "", "PEM-encoded RSA public key used to verify access tokens. Whether tokens are required is set by -authtoken.required.")
	egressRate  = flag.Uint64("egress.rate", 0, "Maximum egress bitrate in bits/second before requests are rejected. Zero disables the check.")

	qosMinPriority    = flag.String("qos.minpriority", "", "Lowest-urgency priority level a queued request may hold.")
	qosMaxConcurrent  = flag.String("qos.maxreq", "", "Number of concurrent service slots.")
	qosMaxQueue       = flag.String("qos.maxqueue", "", "Total number of items allowed across all priority queues.")
	qosLockTimeout    = flag.String("qos.locktimeout", "", "Milliseconds the fast path waits for a free slot.")
	qosRequestTimeout = flag.String("qos.requesttimeout", "", "Milliseconds from arrival to service start before a request is rejected.")
	qosPriorityTO     = flag.String("qos.prioritytimeout", "", "Milliseconds a request waits at each priority level before promotion.")
)

// qosParams collects only the flags the operator actually set, so that
// unset flags fall back to qos.NewConfig's defaults instead of the zero
// value of an empty flag.String.
func qosParams() map[string]string {
	params := map[string]string{}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "qos.minpriority":
			params["minpriority"] = *qosMinPriority
		case "qos.maxreq":
			params["maxreq"] = *qosMaxConcurrent
		case "qos.maxqueue":
			params["maxqueue"] = *qosMaxQueue
		case "qos.locktimeout":
			params["locktimeout"] = *qosLockTimeout
		case "qos.requesttimeout":
			params["requesttimeout"] = *qosRequestTimeout
		case "qos.prioritytimeout":
			params["prioritytimeout"] = *qosPriorityTO
		}
	})
	return params
}

func newVerifier() authtoken.Verifier {
	if *pubKeyFile == "" {
		return nil
	}
	pemBytes, err := os.ReadFile(*pubKeyFile)
	rtx.Must(err, "Could not read access token public key")
	verifier, err := authtoken.NewRSAVerifier(pemBytes)
	rtx.Must(err, "Could not parse access token public key")
	return verifier
}

func main() {
	flag.Parse()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		err := http.ListenAndServe(*metricsAddr, mux)
		logging.Logger.WithError(err).Fatal("qos-gateway: metrics server exited")
	}()

	cfg, err := qos.NewConfig(qosParams())
	rtx.Must(err, "Invalid qos configuration")
	scheduler, err := qos.NewScheduler(cfg)
	rtx.Must(err, "Could not create admission scheduler")

	tx, err := egress.New(*egressRate)
	rtx.Must(err, "Could not create egress controller")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := tx.Watch(ctx); err != nil && ctx.Err() == nil {
			logging.Logger.WithError(err).Error("egress: watch loop exited")
		}
	}()

	tokens := authtoken.New(*machineName, newVerifier())

	chain := alice.New(tokens.Limit, tx.Limit, scheduler.Limit).Then(echo.NewHandler())
	handler := logging.MakeAccessLogHandler(chain)

	logging.Logger.WithField("address", *listenAddr).Info("qos-gateway: starting")
	defer warnonerror.Close(ioCloserFunc(cancel), "qos-gateway: could not stop egress watcher cleanly")
	rtx.Must(http.ListenAndServe(*listenAddr, handler), fmt.Sprintf("Could not listen on %s", *listenAddr))
}

// ioCloserFunc adapts a context.CancelFunc to an io.Closer so it can be
// deferred through warnonerror.Close alongside everything else that needs
// orderly shutdown.
type ioCloserFunc func()

func (f ioCloserFunc) Close() error {
	f()
	return nil
}
