package state

import (
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/transport"
	"github.com/google/uuid"
)

type Manager interface {
	// --- Connection Lifecycle ---
	RegisterConnection(conn transport.Conn, ipAddr string) (*Connection, error)
	// DeregisterConnection detaches the connection from every room and from
	// its user. wentOffline reports that this was the user's last
	// connection; userID is empty for connections that never authenticated.
	DeregisterConnection(connID uuid.UUID) (userID string, wentOffline bool, err error)
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- User / Presence Management ---
	// AssociateUser links a connection to a user, creating the user if they
	// don't exist. first reports that this is the user's first live
	// connection. A non-empty userName updates the stored display name.
	AssociateUser(connID uuid.UUID, userID, userName string, verified bool) (first bool, err error)
	// ConnectionIdentity returns copies of the user id and display name
	// attached to the connection, empty for unknown or anonymous
	// connections. Unlike reading through GetConnection, the values are
	// taken under the manager's lock, so a concurrent AssociateUser rename
	// cannot be observed mid-write.
	ConnectionIdentity(connID uuid.UUID) (userID, userName string)
	FindUser(userID string) (*User, bool)
	GetUserConnectionCount(userID string) (int, error)
	GetAllUsers() []*User
	IsOnline(userID string) bool
	Snapshot() OnlineStatsSnapshot

	// --- Room Membership ---
	// JoinRoom is idempotent; already reports the connection was a member
	// before the call.
	JoinRoom(connID uuid.UUID, roomID string) (already bool, err error)
	LeaveRoom(connID uuid.UUID, roomID string) error
	InRoom(connID uuid.UUID, roomID string) bool
	RoomConnections(roomID string) []*Connection
	// RoomUsers returns the identified users behind the sockets currently in
	// the room, one entry per user, sorted by id. The entries are copies
	// taken under the manager's lock.
	RoomUsers(roomID string) []OnlineUser
	ConnectionRooms(connID uuid.UUID) []string
}
