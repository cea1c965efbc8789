package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// handleJoinRoom admits the connection into the room, broadcasts the new
// member list to everyone in it (the joiner included, so all clients
// converge on one list), then unicasts the current document text to the
// joiner only. Re-joining the same room repeats those side effects on
// purpose — reconnecting clients rely on the snapshot replay.
func (r *EventRouter) handleJoinRoom(connID uuid.UUID, payload json.RawMessage) {
	roomID := gjson.GetBytes(payload, "roomId").String()
	username := gjson.GetBytes(payload, "username").String()
	if username == "" {
		username = "Anonymous"
	}

	snapshot, departure, err := r.state.JoinRoom(connID, roomID, username)
	if err != nil {
		if errors.Is(err, state.ErrEmptyRoomID) {
			r.logger.Warn("join-room without a roomId", "connID", connID)
			return
		}
		r.logger.Error("Join failed", slog.String("roomID", roomID), slog.Any("error", err))
		return
	}

	// The join may have implicitly moved the connection out of another
	// room; that room's members still get their user-left.
	if departure != nil {
		r.BroadcastToRoom(departure.RoomID, EventUserLeft, PresencePayload{
			Users:   departure.Remaining,
			Message: fmt.Sprintf("%s left the room.", departure.Username),
			UserID:  connID,
		}, uuid.Nil)
	}

	r.BroadcastToRoom(snapshot.RoomID, EventUserJoined, PresencePayload{
		Users:   snapshot.Members,
		Message: fmt.Sprintf("%s joined the room.", username),
		UserID:  connID,
	}, uuid.Nil)

	if err := r.SendToConnection(connID, EventLoadCode, snapshot.DocumentText); err != nil {
		r.logger.Warn("Failed to send document snapshot", "connID", connID, "error", err)
	}
}

// handleCodeChange overwrites the room's authoritative text and fans the
// new text out to everyone except the author. Last write wins by arrival
// order; the author is excluded so the echo cannot race local typing.
func (r *EventRouter) handleCodeChange(connID uuid.UUID, payload json.RawMessage) {
	roomID, ok := r.currentRoom(connID, payload)
	if !ok {
		return
	}
	code := gjson.GetBytes(payload, "code").String()

	if err := r.state.SetDocumentText(roomID, code); err != nil {
		// Stale edit for a room that was just destroyed. Drop it.
		r.logger.Warn("code-change for missing room", slog.String("roomID", roomID))
		return
	}
	r.BroadcastToRoom(roomID, EventCodeUpdate, CodeUpdatePayload{Code: code}, connID)
}

// handleCursorMove forwards the position to the other members. No state is
// kept; a late cursor for a departed member is harmless on the client.
func (r *EventRouter) handleCursorMove(connID uuid.UUID, payload json.RawMessage) {
	roomID, ok := r.currentRoom(connID, payload)
	if !ok {
		return
	}
	position := gjson.GetBytes(payload, "position")
	if !position.Exists() {
		return
	}
	r.BroadcastToRoom(roomID, EventCursorUpdate, CursorUpdatePayload{
		UserID:   connID,
		Position: json.RawMessage(position.Raw),
	}, connID)
}

func (r *EventRouter) handleAIRequest(connID uuid.UUID, payload json.RawMessage) {
	prompt := gjson.GetBytes(payload, "prompt").String()
	if prompt == "" {
		r.logger.Warn("ai-request without a prompt", "connID", connID)
		return
	}
	r.relay.SubmitAIQuery(connID, provider.AIRequest{
		Prompt:      prompt,
		ContextCode: gjson.GetBytes(payload, "code").String(),
		Language:    gjson.GetBytes(payload, "language").String(),
	})
}

func (r *EventRouter) handleRunRequest(connID uuid.UUID, payload json.RawMessage) {
	code := gjson.GetBytes(payload, "code").String()
	if code == "" {
		r.logger.Warn("run-request without code", "connID", connID)
		return
	}
	r.relay.SubmitExecution(connID, provider.ExecutionRequest{
		SourceCode: code,
		Language:   gjson.GetBytes(payload, "language").String(),
		Stdin:      gjson.GetBytes(payload, "stdin").String(),
	})
}

// currentRoom validates that the payload's roomId matches the room the
// connection actually belongs to. Events sent while not joined, or naming
// some other room, are defensive no-ops.
func (r *EventRouter) currentRoom(connID uuid.UUID, payload json.RawMessage) (string, bool) {
	roomID := gjson.GetBytes(payload, "roomId").String()
	if roomID == "" {
		return "", false
	}
	conn, ok := r.state.GetConnection(connID)
	if !ok || conn.RoomID != roomID {
		r.logger.Warn("Event for a room the connection is not in",
			"connID", connID,
			slog.String("roomID", roomID),
		)
		return "", false
	}
	return roomID, true
}
