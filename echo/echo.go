// Package echo implements a minimal WebSocket echo handler, standing in
// for the protected backend service that sits behind the admission
// scheduler. It exists so that cmd/qos-gateway has a real, connectable
// handler to gate rather than a placeholder.
package echo

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/m-lab/qos-gateway/logging"
)

// Handler upgrades a request to a WebSocket connection and echoes back
// every message it receives until the client disconnects.
type Handler struct {
	Upgrader websocket.Upgrader
}

// NewHandler returns a Handler with permissive origin checking, matching
// the behavior of a public-facing measurement endpoint.
func NewHandler() *Handler {
	return &Handler{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.WithError(err).Warn("echo: upgrade failed")
		return
	}
	defer conn.Close()

	for {
		mt, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, message); err != nil {
			return
		}
	}
}
