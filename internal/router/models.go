package router

import (
	"encoding/json"

	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state"
	"github.com/google/uuid"
)

// ClientMessage is the envelope for every event in either direction:
// {"event": "...", "payload": {...}}.
type ClientMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// Inbound events.
const (
	EventJoinRoom   = "join-room"
	EventCodeChange = "code-change"
	EventCursorMove = "cursor-move"
	EventAIRequest  = "ai-request"
	EventRunRequest = "run-request"
)

// Outbound events.
const (
	EventUserJoined   = "user-joined"
	EventUserLeft     = "user-left"
	EventCodeUpdate   = "code-update"
	EventLoadCode     = "load-code"
	EventCursorUpdate = "cursor-update"
	EventAIResponse   = "ai-response"
	EventRunResponse  = "run-response"
)

// PresencePayload carries the converged member list for user-joined and
// user-left, so every client renders the same set.
type PresencePayload struct {
	Users   []state.Member `json:"users"`
	Message string         `json:"message"`
	UserID  uuid.UUID      `json:"userId"`
}

type CodeUpdatePayload struct {
	Code string `json:"code"`
}

// CursorUpdatePayload forwards the position verbatim; the server does not
// interpret editor coordinates.
type CursorUpdatePayload struct {
	UserID   uuid.UUID       `json:"userId"`
	Position json.RawMessage `json:"position"`
}
