// Package router turns inbound client events into registry mutations and
// room broadcasts. It holds no room state of its own: membership lives in
// the state manager, delivery goes through each member's transport
// connection.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/relay"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state"
	"github.com/google/uuid"
)

type EventRouter struct {
	logger *slog.Logger
	state  state.Manager
	relay  *relay.Relay
}

func NewEventRouter(logger *slog.Logger, stateManager state.Manager) *EventRouter {
	return &EventRouter{
		logger: logger.With(slog.String("component", "event_router")),
		state:  stateManager,
	}
}

// SetRelay attaches the provider relay. Wired after construction because
// the relay delivers its responses back through this router.
func (r *EventRouter) SetRelay(rl *relay.Relay) {
	r.relay = rl
}

// HandleMessage is the transport's message callback. A malformed or unknown
// event is logged and dropped; nothing a client sends may tear down the
// read loop.
func (r *EventRouter) HandleMessage(ctx context.Context, connID uuid.UUID, msg []byte) {
	var clientMsg ClientMessage
	if err := json.Unmarshal(msg, &clientMsg); err != nil {
		r.logger.Warn("Failed to unmarshal client message", "connID", connID, "error", err)
		return
	}

	switch clientMsg.Event {
	case EventJoinRoom:
		r.handleJoinRoom(connID, clientMsg.Payload)
	case EventCodeChange:
		r.handleCodeChange(connID, clientMsg.Payload)
	case EventCursorMove:
		r.handleCursorMove(connID, clientMsg.Payload)
	case EventAIRequest:
		r.handleAIRequest(connID, clientMsg.Payload)
	case EventRunRequest:
		r.handleRunRequest(connID, clientMsg.Payload)
	default:
		r.logger.Warn("Received unknown event", "event", clientMsg.Event, "connID", connID)
	}
}

// HandleDisconnect is the transport's close callback: remove the connection
// from its room, tell whoever remains, then forget the connection.
func (r *EventRouter) HandleDisconnect(connID uuid.UUID, err error) {
	departure, left := r.state.LeaveRoom(connID)
	if left {
		r.BroadcastToRoom(departure.RoomID, EventUserLeft, PresencePayload{
			Users:   departure.Remaining,
			Message: fmt.Sprintf("%s left the room.", departure.Username),
			UserID:  connID,
		}, uuid.Nil)
	}
	if dErr := r.state.DeregisterConnection(connID); dErr != nil {
		r.logger.Error("Failed to deregister connection", slog.Any("error", dErr))
	}
}

// --- Dispatch primitives ---

// BroadcastToRoom delivers the event to every current member of the room
// except exclude (uuid.Nil excludes nobody). Delivery is best-effort and
// per-recipient independent: a full send buffer on one member drops that
// one copy without blocking the rest.
func (r *EventRouter) BroadcastToRoom(roomID, event string, payload any, exclude uuid.UUID) {
	members, err := r.state.RoomMembers(roomID)
	if err != nil {
		r.logger.Warn("Broadcast to missing room", slog.String("roomID", roomID), slog.String("event", event))
		return
	}

	encoded, err := encodeEvent(event, payload)
	if err != nil {
		r.logger.Error("Failed to encode broadcast event", slog.String("event", event), slog.Any("error", err))
		return
	}

	for _, member := range members {
		if member.ConnectionID == exclude {
			continue
		}
		conn, ok := r.state.GetConnection(member.ConnectionID)
		if !ok {
			continue
		}
		conn.Transport.TrySend(encoded)
	}
}

// SendToConnection unicasts one event: the initial document snapshot on
// join, and provider responses.
func (r *EventRouter) SendToConnection(connID uuid.UUID, event string, payload any) error {
	conn, ok := r.state.GetConnection(connID)
	if !ok {
		return state.ErrUnknownConnection
	}
	encoded, err := encodeEvent(event, payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", event, err)
	}
	conn.Transport.Send(encoded)
	return nil
}

func encodeEvent(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ClientMessage{Event: event, Payload: raw})
}
