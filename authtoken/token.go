// Package authtoken implements a Controller that gates access on a signed
// JWT access_token query parameter, so only authenticated clients ever
// reach the priority scheduler.
package authtoken

import (
	"context"
	"flag"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gopkg.in/square/go-jose.v2/jwt"

	"github.com/m-lab/qos-gateway/access"
)

// Controller manages access control for clients providing access_token parameters.
type Controller struct {
	token   Verifier
	machine string
}

const monitorIssuer = "monitoring"

var (
	requests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "qos_authtoken_controller_requests_total",
			Help: "Total number of requests handled by the authtoken controller.",
		},
		[]string{"request"},
	)
	requireTokens bool
)

func init() {
	flag.BoolVar(&requireTokens, "authtoken.required", false, "Whether access tokens are required by HTTP-based clients.")
}

// Verifier is used by the Controller to verify JWT claims in access tokens.
type Verifier interface {
	Verify(token string, exp jwt.Expected) (*jwt.Claims, error)
}

// New creates a new token controller.
func New(name string, verifier Verifier) *Controller {
	return &Controller{
		token:   verifier,
		machine: name,
	}
}

// Limit implements the access.Controller interface by checking clients'
// provided access_tokens.
func (t *Controller) Limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		verified, ctx := t.isVerified(r)
		if !verified {
			// 401 - https://tools.ietf.org/html/rfc7231#section-6.5.2
			w.WriteHeader(http.StatusUnauthorized)
			// Return without additional response.
			return
		}
		// Clone the request with the context provided by isVerified.
		next.ServeHTTP(w, r.Clone(ctx))
	})
}

// isVerified validates the access_token and if the access token issuer is
// monitoring, add a context value derived from the given request context.
func (t *Controller) isVerified(r *http.Request) (bool, context.Context) {
	ctx := r.Context()
	token := r.FormValue("access_token")
	if token == "" && !requireTokens {
		requests.WithLabelValues("accepted").Inc()
		return true, ctx
	}
	// Attempt to verify the token.
	cl, err := t.token.Verify(token, jwt.Expected{
		// Do not specify the Issuer here so we can check for monitoring below.
		Subject:  "qos-gateway",
		Audience: jwt.Audience{t.machine}, // current server.
		Time:     time.Now(),
	})
	if err != nil {
		// The access token was invalid; reject this request.
		requests.WithLabelValues("rejected").Inc()
		return false, ctx
	}
	// If the claim was for monitoring, set the context value so subsequent
	// controllers can check the advisory information to exempt the request.
	requests.WithLabelValues("accepted").Inc()
	return true, access.SetMonitoring(ctx, cl.Issuer == monitorIssuer)
}
