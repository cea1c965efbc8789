package statemanager

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/state"
	"github.com/TheAihtesham/ai-collaborative-code-editor/pkg/transport"
	"github.com/google/uuid"
)

// InMemoryManager holds every live connection and room for the process.
// A single mutex guards both maps: join and leave mutate connection state
// and room membership together, and one lock keeps that atomic without any
// ordering discipline between separate locks.
type InMemoryManager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*state.Connection
	rooms map[string]*state.Room

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn *transport.Connection, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, fmt.Errorf("connection %s is already registered", connID)
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

// DeregisterConnection forgets the connection. The caller is responsible for
// running LeaveRoom first so the departure can still be broadcast to the
// room; a connection that skipped that is cleaned out of its room here
// anyway, as the last line of defense against membership leaks.
func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// connection is already deregistered
		return nil
	}
	if conn.RoomID != "" {
		m.removeFromRoomLocked(conn)
	}
	delete(m.conns, connID)
	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) GetAllConnections() []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]*state.Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	return conns
}

func (m *InMemoryManager) CountConnectionsForIP(ipAddr string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, c := range m.conns {
		if c.IPAddress == ipAddr {
			count++
		}
	}
	return count
}

func (m *InMemoryManager) FindOldestConnectionForIP(ipAddr string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *state.Connection
	for _, c := range m.conns {
		if c.IPAddress != ipAddr {
			continue
		}
		if oldest == nil || c.CreatedAt.Before(oldest.CreatedAt) {
			oldest = c
		}
	}
	return oldest, oldest != nil
}

// --- Room Membership ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, roomID, username string) (*state.RoomSnapshot, *state.Departure, error) {
	if roomID == "" {
		return nil, nil, state.ErrEmptyRoomID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil, nil, state.ErrUnknownConnection
	}

	// Moving rooms: drop out of the old one first.
	var departure *state.Departure
	if conn.RoomID != "" && conn.RoomID != roomID {
		departure = m.removeFromRoomLocked(conn)
	}
	conn.Username = username

	// Find or create the room.
	room, created := m.rooms[roomID], false
	if room == nil {
		room = &state.Room{ID: roomID}
		m.rooms[roomID] = room
		created = true
		m.logger.Debug("Created room", slog.String("roomID", roomID))
	}

	// Re-joining the room it is already in must not duplicate the member.
	if !roomContains(room, connID) {
		room.Members = append(room.Members, conn)
	}
	conn.RoomID = roomID

	snapshot := &state.RoomSnapshot{
		RoomID:       roomID,
		Members:      memberList(room),
		DocumentText: room.DocumentText,
		Created:      created,
	}
	m.logger.Debug("Connection joined room",
		slog.String("connID", connID.String()),
		slog.String("roomID", roomID),
		slog.String("username", username),
	)
	return snapshot, departure, nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID) (*state.Departure, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok || conn.RoomID == "" {
		return nil, false
	}
	departure := m.removeFromRoomLocked(conn)
	return departure, departure != nil
}

// removeFromRoomLocked detaches the connection from its current room and
// deletes the room if it emptied. Caller must hold m.mu.
func (m *InMemoryManager) removeFromRoomLocked(conn *state.Connection) *state.Departure {
	room, ok := m.rooms[conn.RoomID]
	if !ok {
		m.logger.Warn("Connection referenced a room that doesn't exist",
			slog.String("connID", conn.ID.String()),
			slog.String("roomID", conn.RoomID),
		)
		conn.RoomID = ""
		return nil
	}

	filtered := room.Members[:0]
	for _, member := range room.Members {
		if member.ID != conn.ID {
			filtered = append(filtered, member)
		}
	}
	room.Members = filtered

	departure := &state.Departure{
		RoomID:    room.ID,
		Username:  conn.Username,
		Remaining: memberList(room),
	}
	conn.RoomID = ""

	if len(room.Members) == 0 {
		// Rooms exist only while occupied; the document text dies with it.
		delete(m.rooms, room.ID)
		m.logger.Debug("Removed empty room", slog.String("roomID", room.ID))
	}
	return departure
}

func (m *InMemoryManager) RoomMembers(roomID string) ([]state.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return nil, state.ErrRoomNotFound
	}
	return memberList(room), nil
}

// --- Document Text ---

func (m *InMemoryManager) SetDocumentText(roomID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room, ok := m.rooms[roomID]
	if !ok {
		// A stale edit for a destroyed room must not recreate it.
		return state.ErrRoomNotFound
	}
	room.DocumentText = text
	return nil
}

func (m *InMemoryManager) GetDocumentText(roomID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[roomID]
	if !ok {
		return "", state.ErrRoomNotFound
	}
	return room.DocumentText, nil
}

func roomContains(room *state.Room, connID uuid.UUID) bool {
	for _, member := range room.Members {
		if member.ID == connID {
			return true
		}
	}
	return false
}

func memberList(room *state.Room) []state.Member {
	members := make([]state.Member, 0, len(room.Members))
	for _, c := range room.Members {
		members = append(members, state.Member{ConnectionID: c.ID, Username: c.Username})
	}
	return members
}
