package statemanager

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/transport"
	"github.com/google/uuid"
)

// InMemoryManager keeps the whole presence and room state of one process.
// It is lost on restart, which is acceptable: presence is transient by
// nature and clients re-establish it on reconnect.
type InMemoryManager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*state.Connection
	users map[string]*state.User
	rooms map[string]*state.Room

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		rooms:  make(map[string]*state.Room),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) RegisterConnection(conn transport.Conn, ipAddr string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}
	newConn := &state.Connection{
		ID:        connID,
		IPAddress: ipAddr,
		Transport: conn,
		Rooms:     make(map[string]struct{}),
		CreatedAt: time.Now(),
	}
	m.conns[connID] = newConn
	m.logger.Debug("Connection registered", slog.String("connID", connID.String()))
	return newConn, nil
}

func (m *InMemoryManager) DeregisterConnection(connID uuid.UUID) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered
		return "", false, nil
	}
	delete(m.conns, connID)

	// Drop room memberships this connection still holds.
	for roomID := range conn.Rooms {
		m.removeFromRoomLocked(conn, roomID)
	}

	if conn.User == nil {
		m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()))
		return "", false, nil
	}

	user := conn.User
	delete(user.Connections, connID)
	m.logger.Debug("Detached connection from user",
		slog.String("connID", connID.String()),
		slog.String("userID", user.ID),
	)

	if len(user.Connections) > 0 {
		return user.ID, false, nil
	}
	delete(m.users, user.ID)
	m.logger.Debug("User fully offline", slog.String("userID", user.ID))
	return user.ID, true, nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldest *state.Connection
	for _, conn := range user.Connections {
		if oldest == nil || conn.CreatedAt.Before(oldest.CreatedAt) {
			oldest = conn
		}
	}
	if oldest == nil {
		return nil, false
	}
	return oldest, true
}

// --- User / Presence Management ---

func (m *InMemoryManager) AssociateUser(connID uuid.UUID, userID, userName string, verified bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return false, errors.New("cannot associate user with unknown connection")
	}

	user, exists := m.users[userID]
	if !exists {
		user = &state.User{
			ID:          userID,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[userID] = user
		m.logger.Debug("Created new user session", slog.String("userID", userID))
	}

	if userName != "" {
		user.Name = userName
	}

	// Idempotent for an already associated connection.
	if _, associated := user.Connections[connID]; associated {
		return false, nil
	}

	conn.User = user
	conn.Verified = verified
	user.Connections[connID] = conn

	m.logger.Debug("Associated connection with user",
		slog.String("connID", connID.String()),
		slog.String("userID", userID),
	)
	return !exists, nil
}

func (m *InMemoryManager) ConnectionIdentity(connID uuid.UUID) (string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok || conn.User == nil {
		return "", ""
	}
	return conn.User.ID, conn.User.Name
}

func (m *InMemoryManager) FindUser(userID string) (*state.User, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	return user, ok
}

func (m *InMemoryManager) GetUserConnectionCount(userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0, nil // User doesn't exist yet, so they have 0 connections.
	}
	return len(user.Connections), nil
}

func (m *InMemoryManager) GetAllUsers() []*state.User {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := make([]*state.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	return users
}

func (m *InMemoryManager) IsOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	user, ok := m.users[userID]
	return ok && len(user.Connections) > 0
}

// Snapshot returns the current online view, sorted by user id so repeated
// snapshots of the same state compare equal.
func (m *InMemoryManager) Snapshot() state.OnlineStatsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	online := make([]state.OnlineUser, 0, len(m.users))
	for _, u := range m.users {
		online = append(online, state.OnlineUser{ID: u.ID, Name: u.Name})
	}
	sort.Slice(online, func(i, j int) bool { return online[i].ID < online[j].ID })

	return state.OnlineStatsSnapshot{
		TotalOnline: len(online),
		OnlineUsers: online,
	}
}

// --- Room Membership ---

func (m *InMemoryManager) JoinRoom(connID uuid.UUID, roomID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return false, errors.New("cannot join room: connection not found")
	}
	if _, member := conn.Rooms[roomID]; member {
		return true, nil
	}

	roomObj, exists := m.rooms[roomID]
	if !exists {
		roomObj = &state.Room{
			ID:    roomID,
			Conns: make(map[uuid.UUID]*state.Connection),
		}
		m.rooms[roomID] = roomObj
	}

	roomObj.Conns[connID] = conn
	conn.Rooms[roomID] = struct{}{}

	m.logger.Debug("Connection joined room",
		slog.String("connID", connID.String()),
		slog.String("roomID", roomID),
	)
	return false, nil
}

func (m *InMemoryManager) LeaveRoom(connID uuid.UUID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		m.logger.Warn("failed to leave room: connection doesn't exist",
			slog.String("connID", connID.String()),
			slog.String("roomID", roomID),
		)
		return nil
	}
	m.removeFromRoomLocked(conn, roomID)
	delete(conn.Rooms, roomID)
	m.logger.Debug("Connection left room",
		slog.String("connID", connID.String()),
		slog.String("roomID", roomID),
	)
	return nil
}

func (m *InMemoryManager) InRoom(connID uuid.UUID, roomID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok {
		return false
	}
	_, member := conn.Rooms[roomID]
	return member
}

func (m *InMemoryManager) RoomConnections(roomID string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roomObj, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	conns := make([]*state.Connection, 0, len(roomObj.Conns))
	for _, c := range roomObj.Conns {
		conns = append(conns, c)
	}
	return conns
}

// RoomUsers copies the identities out under the lock. Handing out the live
// *state.User pointers would let callers race AssociateUser renames.
func (m *InMemoryManager) RoomUsers(roomID string) []state.OnlineUser {
	m.mu.RLock()
	defer m.mu.RUnlock()

	roomObj, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	seen := make(map[string]struct{}, len(roomObj.Conns))
	users := make([]state.OnlineUser, 0, len(roomObj.Conns))
	for _, c := range roomObj.Conns {
		if c.User == nil || c.User.ID == "" {
			continue
		}
		if _, dup := seen[c.User.ID]; dup {
			continue
		}
		seen[c.User.ID] = struct{}{}
		users = append(users, state.OnlineUser{ID: c.User.ID, Name: c.User.Name})
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users
}

func (m *InMemoryManager) ConnectionRooms(connID uuid.UUID) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[connID]
	if !ok {
		return nil
	}
	rooms := make([]string, 0, len(conn.Rooms))
	for roomID := range conn.Rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms
}

// removeFromRoomLocked drops the connection from the room map and removes
// the room once it is empty. Callers hold m.mu.
func (m *InMemoryManager) removeFromRoomLocked(conn *state.Connection, roomID string) {
	roomObj, ok := m.rooms[roomID]
	if !ok {
		return
	}
	delete(roomObj.Conns, conn.ID)
	if len(roomObj.Conns) == 0 {
		delete(m.rooms, roomID)
		m.logger.Debug("Removed empty room", slog.String("roomID", roomID))
	}
}
