package state

import (
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/transport"
	"github.com/google/uuid"
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn *transport.Connection, ipAddr string) (*Connection, error)
	DeregisterConnection(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	GetAllConnections() []*Connection

	// --- Connection accounting (per source IP, for the limiter) ---
	CountConnectionsForIP(ipAddr string) int
	FindOldestConnectionForIP(ipAddr string) (*Connection, bool)

	// --- Room Membership ---
	// JoinRoom adds the connection to the room, creating the room if it
	// doesn't exist. A connection belongs to at most one room; joining a
	// different room removes it from the previous one and the returned
	// Departure (nil otherwise) describes that removal. Joining the room it
	// is already in is idempotent on membership.
	JoinRoom(connID uuid.UUID, roomID, username string) (*RoomSnapshot, *Departure, error)

	// LeaveRoom removes the connection from its current room, deleting the
	// room when the member set empties. The bool is false if the connection
	// was not in any room.
	LeaveRoom(connID uuid.UUID) (*Departure, bool)

	RoomMembers(roomID string) ([]Member, error)

	// --- Document Text ---
	SetDocumentText(roomID, text string) error
	GetDocumentText(roomID string) (string, error)
}
