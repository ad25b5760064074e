package fanout

import (
	"log"

	"chatpulse/internal/session"
	"chatpulse/pkg/types"
)

// Dispatcher pushes a newly created message to every recipient's live
// sessions. This is a best-effort, fire-and-forget layer: the message is
// already committed to the store before fan-out is attempted, so a member
// with no live sessions simply sees it on the next fetch. No retries, no
// queuing, no blocking I/O.
type Dispatcher struct {
	registry *session.Registry
}

// NewDispatcher creates a dispatcher over the session registry.
func NewDispatcher(registry *session.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Deliver emits a "message received" event carrying the full envelope to
// every live connection of every member except the sender. Delivery is
// at-most-once per live connection per call.
func (d *Dispatcher) Deliver(envelope *types.MessageEnvelope) {
	if len(envelope.Members) == 0 {
		log.Printf("Envelope for chat %s has no member list, skipping fan-out", envelope.ChatID)
		return
	}

	for _, member := range envelope.Members {
		if member == envelope.SenderID {
			continue
		}
		for _, conn := range d.registry.SessionsOf(member) {
			if err := conn.EmitEvent(types.EventMessageReceived, envelope); err != nil {
				log.Printf("Failed to deliver message %s to connection %s: %v", envelope.ID, conn.ID(), err)
			}
		}
	}
}

// DeliverToMembers emits an event to every member's live sessions with no
// exclusion. Reaction and read-receipt updates use this shape: the actor's
// other sessions must see the update too.
func (d *Dispatcher) DeliverToMembers(members []string, event string, payload interface{}) {
	for _, member := range members {
		for _, conn := range d.registry.SessionsOf(member) {
			if err := conn.EmitEvent(event, payload); err != nil {
				log.Printf("Failed to deliver %s to connection %s: %v", event, conn.ID(), err)
			}
		}
	}
}
