package state

import (
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/transport"
	"github.com/google/uuid"
)

// representation of a single transport-layer connection.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport *transport.Connection // The actual connection for sending messages
	Username  string                // display name supplied on join, not unique
	RoomID    string                // empty until the connection joins a room
	CreatedAt time.Time
}

// Member is a connection's presence record inside a room, in the shape the
// protocol sends to clients.
type Member struct {
	ConnectionID uuid.UUID `json:"userId"`
	Username     string    `json:"username"`
}

// Room is the authoritative state for one collaboration session. The member
// slice keeps insertion order so presence lists render in join order.
type Room struct {
	ID           string
	Members      []*Connection
	DocumentText string
}

// RoomSnapshot is what a successful join hands back: the converged member
// list and the latest document text.
type RoomSnapshot struct {
	RoomID       string
	Members      []Member
	DocumentText string
	Created      bool // true if this join created the room
}

// Departure describes a connection's removal from a room, for the user-left
// broadcast to whoever remains.
type Departure struct {
	RoomID    string
	Username  string
	Remaining []Member
}
