/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for rate limiting,
deriving the client identity from its network origin, upgrading the HTTP connection to
WebSocket, and initiating the connection-session lifecycle.
*/
package handler

import (
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"lanchat/internal/app/chat"
	"lanchat/internal/pkg/errs"
	"lanchat/internal/pkg/limiter"
	"lanchat/internal/pkg/logx"
	"lanchat/internal/pkg/resp"
)

// clientIdentity derives the participant identity from the request's network
// origin. chi's middleware.RealIP has already folded X-Forwarded-For into
// RemoteAddr by the time this runs.
func clientIdentity(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}

	if ip == "" {
		ip = "unknown_ip"
	}

	return ip
}

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
func HandleWebSocket(upgrader websocket.Upgrader, rateLimiter *limiter.IPRateLimiter, deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := clientIdentity(r)

		if !rateLimiter.GetLimiter(identity).Allow() {
			logx.Warn("WebSocket connection rejected: Rate limit exceeded.", "ip", identity)
			rateLimitErr := errs.NewError(errs.ErrRateLimitExceeded)
			resp.RespondError(w, r, rateLimitErr)
			return
		}

		logx.Info("Attempting to upgrade connection", "identity", identity)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		client := chat.NewClient(deps.Hub, conn, identity)

		go client.WritePump()

		logx.Info("WebSocket connection established", "conn_id", client.ID(), "identity", identity)

		deps.Hub.Register(client)

		client.ReadPump()
	}
}
