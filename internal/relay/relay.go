package relay

import (
	"context"
	"log"

	"chatpulse/internal/fanout"
	"chatpulse/internal/presence"
	"chatpulse/internal/room"
	"chatpulse/internal/session"
	"chatpulse/pkg/types"
)

// Conn is a live connection as the relay sees it. UserID is the identity
// derived server-side from the handshake token; the relay never keys the
// registry on anything a client asserted in an event payload.
type Conn interface {
	types.Emitter
	UserID() string
}

// Relay is the connection-level protocol handler: it dispatches inbound
// frames to the session registry, room router, presence tracker and fan-out
// dispatcher, and emits outbound events back to sessions and rooms.
//
// Failure semantics: a malformed payload is logged and dropped with no
// response to the client; a registry or room lookup miss means zero
// recipients; nothing a single connection sends can take the relay down.
type Relay struct {
	registry   *session.Registry
	rooms      *room.Router
	presence   *presence.Tracker
	dispatcher *fanout.Dispatcher
	limiter    *RateLimiter
}

// NewRelay wires the relay over its collaborating components.
func NewRelay(registry *session.Registry, rooms *room.Router, presence *presence.Tracker, dispatcher *fanout.Dispatcher, limiter *RateLimiter) *Relay {
	return &Relay{
		registry:   registry,
		rooms:      rooms,
		presence:   presence,
		dispatcher: dispatcher,
		limiter:    limiter,
	}
}

// Dispatch routes one inbound frame. Handlers run to completion on the
// connection's read goroutine, so per-connection outbound order follows the
// order inbound events were processed.
func (r *Relay) Dispatch(ctx context.Context, conn Conn, frame types.Frame) {
	if !r.limiter.Allow(conn.ID()) {
		log.Printf("Rate limit exceeded: conn=%s user=%s event=%q", conn.ID(), conn.UserID(), frame.Event)
		return
	}

	switch frame.Event {
	case types.EventSetup:
		r.handleSetup(ctx, conn, frame)
	case types.EventJoinChat:
		r.handleJoinChat(conn, frame)
	case types.EventTyping, types.EventStopTyping:
		r.handleTyping(conn, frame)
	case types.EventNewMessage:
		r.handleNewMessage(conn, frame)
	case types.EventReactionUpdate:
		r.handleReactionUpdate(conn, frame)
	case types.EventMessagesRead:
		r.handleMessagesRead(conn, frame)
	case types.EventGetOnlineUsers:
		r.handleGetOnlineUsers(ctx, conn, frame)
	default:
		log.Printf("Unknown event %q from conn=%s, dropped", frame.Event, conn.ID())
	}
}

// Disconnect runs the full teardown path for a connection: leave every
// room, drop the registry entry, and fire the presence offline transition
// when this was the user's last session. Safe to call more than once.
func (r *Relay) Disconnect(ctx context.Context, conn Conn) {
	r.rooms.LeaveAll(conn.ID())
	r.limiter.Forget(conn.ID())
	userID, wentOffline := r.registry.Unregister(conn.ID())
	if wentOffline {
		r.presence.HandleOffline(ctx, userID)
	}
	if userID != "" {
		log.Printf("Connection closed: conn=%s user=%s", conn.ID(), userID)
	}
}

// handleSetup registers the connection under its token-derived identity and
// acknowledges to that connection only. The payload's user id is advisory;
// a mismatch against the token identity is logged and ignored.
func (r *Relay) handleSetup(ctx context.Context, conn Conn, frame types.Frame) {
	if len(frame.Data) > 0 {
		var payload types.SetupPayload
		if err := types.DecodeAndValidate(frame.Data, &payload); err != nil {
			log.Printf("Malformed setup payload from conn=%s: %v", conn.ID(), err)
			return
		}
		if payload.UserID != "" && payload.UserID != conn.UserID() {
			log.Printf("Setup identity mismatch: conn=%s token=%s payload=%s, using token identity",
				conn.ID(), conn.UserID(), payload.UserID)
		}
	}

	wentOnline := r.registry.Register(conn.UserID(), conn)
	if wentOnline {
		r.presence.HandleOnline(ctx, conn.UserID())
	}

	if err := conn.EmitEvent(types.EventConnected, nil); err != nil {
		log.Printf("Failed to ack setup for conn=%s: %v", conn.ID(), err)
	}
	log.Printf("Connection set up: conn=%s user=%s", conn.ID(), conn.UserID())
}

// registered reports whether the connection has completed setup. Events
// arriving before setup have no presence semantics and are dropped.
func (r *Relay) registered(conn Conn) bool {
	_, ok := r.registry.Owner(conn.ID())
	return ok
}

func (r *Relay) handleJoinChat(conn Conn, frame types.Frame) {
	if !r.registered(conn) {
		log.Printf("join chat before setup from conn=%s, dropped", conn.ID())
		return
	}

	var payload types.JoinChatPayload
	if err := types.DecodeAndValidate(frame.Data, &payload); err != nil {
		log.Printf("Malformed join chat payload from conn=%s: %v", conn.ID(), err)
		return
	}

	r.rooms.Join(payload.ChatID, conn)
	log.Printf("Joined room: conn=%s user=%s chat=%s", conn.ID(), conn.UserID(), payload.ChatID)
}

// handleTyping broadcasts typing state to the chat's room. The typist's own
// connection is excluded so the active typist never receives their own echo;
// this is per-event policy, not a room router invariant.
func (r *Relay) handleTyping(conn Conn, frame types.Frame) {
	if !r.registered(conn) {
		log.Printf("%s before setup from conn=%s, dropped", frame.Event, conn.ID())
		return
	}

	var payload types.TypingPayload
	if err := types.DecodeAndValidate(frame.Data, &payload); err != nil {
		log.Printf("Malformed %s payload from conn=%s: %v", frame.Event, conn.ID(), err)
		return
	}

	r.rooms.Broadcast(payload.ChatID, frame.Event, payload, conn.ID())
}

// handleNewMessage triggers live fan-out for a message the REST layer has
// already committed to the store. A missing member list is logged and the
// delivery silently skipped; the sender already got their HTTP response.
func (r *Relay) handleNewMessage(conn Conn, frame types.Frame) {
	if !r.registered(conn) {
		log.Printf("new message before setup from conn=%s, dropped", conn.ID())
		return
	}

	var envelope types.MessageEnvelope
	if err := types.DecodeAndValidate(frame.Data, &envelope); err != nil {
		log.Printf("Malformed message envelope from conn=%s: %v", conn.ID(), err)
		return
	}

	if envelope.SenderID != conn.UserID() {
		log.Printf("Envelope sender mismatch: conn=%s token=%s envelope=%s, using token identity",
			conn.ID(), conn.UserID(), envelope.SenderID)
		envelope.SenderID = conn.UserID()
	}

	if err := envelope.Validate(); err != nil {
		log.Printf("Invalid envelope from conn=%s: %v", conn.ID(), err)
		return
	}

	r.dispatcher.Deliver(&envelope)
}

func (r *Relay) handleReactionUpdate(conn Conn, frame types.Frame) {
	if !r.registered(conn) {
		log.Printf("reaction update before setup from conn=%s, dropped", conn.ID())
		return
	}

	var payload types.ReactionUpdatePayload
	if err := types.DecodeAndValidate(frame.Data, &payload); err != nil {
		log.Printf("Malformed reaction update from conn=%s: %v", conn.ID(), err)
		return
	}

	// No exclusion: the actor's other sessions must see the update too.
	r.dispatcher.DeliverToMembers(payload.Members, types.EventReactionUpdated, payload.Message)
}

func (r *Relay) handleMessagesRead(conn Conn, frame types.Frame) {
	if !r.registered(conn) {
		log.Printf("messages read before setup from conn=%s, dropped", conn.ID())
		return
	}

	var payload types.MessagesReadPayload
	if err := types.DecodeAndValidate(frame.Data, &payload); err != nil {
		log.Printf("Malformed messages read from conn=%s: %v", conn.ID(), err)
		return
	}

	r.dispatcher.DeliverToMembers(payload.Members, types.EventMessagesMarkedRead, types.MessagesMarkedRead{
		ChatID: payload.ChatID,
		ReadBy: payload.ReadBy,
	})
}

func (r *Relay) handleGetOnlineUsers(ctx context.Context, conn Conn, frame types.Frame) {
	if !r.registered(conn) {
		log.Printf("get online users before setup from conn=%s, dropped", conn.ID())
		return
	}

	var payload types.OnlineUsersPayload
	if err := types.DecodeAndValidate(frame.Data, &payload); err != nil {
		log.Printf("Malformed get online users from conn=%s: %v", conn.ID(), err)
		return
	}

	statuses := r.presence.Statuses(ctx, payload.UserIDs)
	if err := conn.EmitEvent(types.EventOnlineUsers, statuses); err != nil {
		log.Printf("Failed to send online users to conn=%s: %v", conn.ID(), err)
	}
}
