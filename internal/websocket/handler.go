package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"chatpulse/internal/relay"
	"chatpulse/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is deferred to the deployment's reverse proxy.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// TokenVerifier resolves a token string to the user identity it was issued
// for. Satisfied by the auth package's TokenService.
type TokenVerifier interface {
	Verify(tokenString string) (string, error)
}

// Options carries the transport tuning knobs from configuration.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Handler upgrades HTTP requests to WebSocket connections and pumps inbound
// frames into the relay. The connection's identity is derived from the
// token presented at the handshake, before the upgrade happens; client
// payloads are never trusted for identity.
type Handler struct {
	relay    *relay.Relay
	verifier TokenVerifier
	opts     Options
}

// NewHandler creates a WebSocket handler.
func NewHandler(relay *relay.Relay, verifier TokenVerifier, opts Options) *Handler {
	return &Handler{relay: relay, verifier: verifier, opts: opts}
}

// HandleWebSocket authenticates, upgrades and serves one connection.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
		return
	}

	userID, err := h.verifier.Verify(token)
	if err != nil {
		log.Printf("WebSocket handshake rejected: %v", err)
		http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}
	if !types.IsValidUserID(userID) {
		http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed for user %s: %v", userID, err)
		return
	}

	conn := NewConnection(wsConn, userID, h.opts.BufferSize, h.opts.WriteTimeout)
	log.Printf("Connection opened: conn=%s user=%s", conn.ID(), userID)

	go h.serveConnection(conn)
}

// bearerToken pulls the token from the Authorization header or, since
// browser WebSocket clients cannot set headers, from the token query
// parameter.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// serveConnection runs the read pump and heartbeat for one connection and
// guarantees the relay disconnect path runs exactly once on exit. A
// connection that stops answering pings exceeds the read deadline and
// leaves through the same path as an explicit close.
func (h *Handler) serveConnection(conn *Connection) {
	ctx := context.Background()
	defer func() {
		h.relay.Disconnect(ctx, conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline for conn=%s: %v", conn.ID(), err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Read error on conn=%s: %v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("Malformed frame from conn=%s, dropped: %v", conn.ID(), err)
			continue
		}
		// Dispatch runs to completion before the next read, so outbound
		// order follows inbound processing order per connection.
		h.relay.Dispatch(ctx, conn, frame)
	}
}

// pingLoop probes connection liveness until the connection dies.
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				return
			}
		case <-conn.Done():
			return
		}
	}
}
