package state

import (
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/transport"
	"github.com/google/uuid"
)

// Connection is the canonical representation of a single transport-layer
// connection and its ephemeral session state.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport transport.Conn
	User      *User // nil until associated
	// Verified marks an identity proven by a handshake token. Legacy
	// session-cookie connections are admitted unverified and only reach the
	// global room.
	Verified bool
	// Rooms mirrors the rooms this connection has joined, so peers can be
	// reverse-notified on disconnect.
	Rooms     map[string]struct{}
	CreatedAt time.Time
}

// User aggregates all active connections of one person. An entry exists
// exactly while the user has at least one live connection; presence is
// derived from that lifetime.
type User struct {
	ID          string
	Name        string
	Connections map[uuid.UUID]*Connection
}

// Room is a broadcast group. Membership is tracked per connection, not per
// user, so rosters and exclude-origin broadcasts work at socket granularity.
type Room struct {
	ID    string
	Conns map[uuid.UUID]*Connection
}

// OnlineUser is one entry of an online-stats snapshot.
type OnlineUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// OnlineStatsSnapshot is a derived view over the user map. It is recomputed
// on demand and never stored.
type OnlineStatsSnapshot struct {
	TotalOnline int          `json:"totalOnline"`
	OnlineUsers []OnlineUser `json:"onlineUsers"`
}
