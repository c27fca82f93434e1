// Package session owns the lifecycle of every socket connection: admission
// after the handshake, the per-socket message handlers, presence
// bookkeeping and the online-stats subscriber registry.
package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/authz"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/broadcast"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/event"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/metrics"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/room"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/transport"
	"github.com/google/uuid"
)

type Manager struct {
	logger      *slog.Logger
	state       state.Manager
	authz       *authz.Resolver
	broadcaster *broadcast.Broadcaster
	metrics     *metrics.Metrics

	statsMu   sync.Mutex
	statsSubs map[uuid.UUID]transport.Conn
}

func NewManager(logger *slog.Logger, st state.Manager, resolver *authz.Resolver, bc *broadcast.Broadcaster, m *metrics.Metrics) *Manager {
	return &Manager{
		logger:      logger.With(slog.String("component", "session_manager")),
		state:       st,
		authz:       resolver,
		broadcaster: bc,
		metrics:     m,
		statsSubs:   make(map[uuid.UUID]transport.Conn),
	}
}

// Admit registers an accepted connection and performs the post-handshake
// bootstrap: presence tracking, the automatic personal-room and global-room
// joins, and the first-connection announcement to online-stats subscribers.
//
// A connection whose identity was not proven by a handshake token (the
// legacy session-cookie path) is admitted to the global room only.
func (m *Manager) Admit(conn transport.Conn, ipAddr, userID, userName string, verified bool) (*state.Connection, error) {
	stateConn, err := m.state.RegisterConnection(conn, ipAddr)
	if err != nil {
		return nil, err
	}
	m.metrics.ActiveConnections.Inc()

	connLogger := m.logger.With(
		slog.String("connID", stateConn.ID.String()),
		slog.String("userID", userID),
	)

	if userID != "" {
		first, err := m.state.AssociateUser(stateConn.ID, userID, userName, verified)
		if err != nil {
			return nil, err
		}
		if first {
			joined := event.UserJoined{UserID: userID, UserName: userName}
			m.notifySubscribers(event.TypeUserJoined, &joined)
			m.pushStatsToSubscribers()
		}
	}

	if verified && userID != "" {
		if _, err := m.state.JoinRoom(stateConn.ID, room.User(userID)); err != nil {
			connLogger.Error("Failed to auto-join personal room", slog.Any("error", err))
		}
		if _, err := m.state.JoinRoom(stateConn.ID, room.Global); err != nil {
			connLogger.Error("Failed to auto-join global room", slog.Any("error", err))
		}
		connLogger.Info("Connection admitted")
	} else {
		// An unverified identity never reaches its personal room.
		if _, err := m.state.JoinRoom(stateConn.ID, room.Global); err != nil {
			connLogger.Error("Failed to auto-join global room", slog.Any("error", err))
		}
		connLogger.Warn("Connection admitted without verified handshake, global room only")
	}

	m.metrics.OnlineUsers.Set(float64(m.state.Snapshot().TotalOnline))
	return stateConn, nil
}

// HandleMessage dispatches one inbound client frame.
func (m *Manager) HandleMessage(ctx context.Context, connID uuid.UUID, raw []byte) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		m.logger.Warn("Failed to unmarshal client message",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		return
	}

	conn, ok := m.state.GetConnection(connID)
	if !ok {
		m.logger.Warn("Message from unknown connection", slog.String("connID", connID.String()))
		return
	}

	switch env.Event {
	case event.MsgJoinRoom:
		var req event.JoinRoomRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.Room == "" {
			m.logger.Warn("join_room with invalid payload", slog.String("connID", connID.String()))
			return
		}
		m.handleJoinRoom(ctx, conn, req.Room)

	case event.MsgLeaveRoom:
		var req event.LeaveRoomRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.Room == "" {
			m.logger.Warn("leave_room with invalid payload", slog.String("connID", connID.String()))
			return
		}
		m.handleLeaveRoom(conn, req.Room)

	case event.MsgPing:
		m.send(conn.Transport, string(event.TypePong), nil)

	case event.MsgGetOnlineStats:
		m.subscribeStats(conn)

	case event.MsgUnsubscribeStats:
		m.unsubscribeStats(connID)

	case event.MsgGetRehearsalUsers:
		var req event.GetRehearsalUsersRequest
		if err := json.Unmarshal(env.Payload, &req); err != nil || req.RehearsalID == "" {
			m.logger.Warn("get_rehearsal_users with invalid payload", slog.String("connID", connID.String()))
			return
		}
		m.handleRehearsalUsers(conn, req.RehearsalID)

	default:
		m.logger.Warn("Received unknown event",
			slog.String("event", env.Event),
			slog.String("connID", connID.String()),
		)
	}
}

// handleJoinRoom authorizes and performs a room join. A repeated join of an
// already-joined room is a no-op before any side effect: no second
// authorization lookup, no second presence event. Denials are silent
// towards the client so room existence is not leaked.
func (m *Manager) handleJoinRoom(ctx context.Context, conn *state.Connection, roomName string) {
	if m.state.InRoom(conn.ID, roomName) {
		return
	}

	userID, userName := m.state.ConnectionIdentity(conn.ID)
	if !m.authz.Allowed(ctx, conn.ID, userID, roomName) {
		return
	}

	// The authorization lookup may have suspended on the membership
	// backend; the connection can be gone by now. JoinRoom rejects unknown
	// connections, which closes that race.
	already, err := m.state.JoinRoom(conn.ID, roomName)
	if err != nil {
		m.logger.Debug("Join after authorization failed",
			slog.String("connID", conn.ID.String()),
			slog.String("room", roomName),
			slog.Any("error", err),
		)
		return
	}
	if already {
		return
	}

	if room.IsRehearsal(roomName) && userID != "" && userName != "" {
		presence := event.UserPresence{
			UserID:      userID,
			UserName:    userName,
			RehearsalID: room.Parse(roomName).ID,
			Action:      event.PresenceJoin,
		}
		m.broadcaster.Broadcast(event.TypeUserPresence, &presence, []string{roomName}, conn.ID)
	}
}

func (m *Manager) handleLeaveRoom(conn *state.Connection, roomName string) {
	wasMember := m.state.InRoom(conn.ID, roomName)
	if err := m.state.LeaveRoom(conn.ID, roomName); err != nil {
		m.logger.Warn("leave_room failed",
			slog.String("connID", conn.ID.String()),
			slog.String("room", roomName),
			slog.Any("error", err),
		)
		return
	}
	if !wasMember {
		return
	}

	userID, userName := m.state.ConnectionIdentity(conn.ID)
	if room.IsRehearsal(roomName) && userID != "" && userName != "" {
		presence := event.UserPresence{
			UserID:      userID,
			UserName:    userName,
			RehearsalID: room.Parse(roomName).ID,
			Action:      event.PresenceLeave,
		}
		m.broadcaster.Broadcast(event.TypeUserPresence, &presence, []string{roomName}, conn.ID)
	}
}

// handleRehearsalUsers replies to the requester only with the roster of
// sockets currently in the rehearsal room. Sockets without an authenticated
// user are skipped.
func (m *Manager) handleRehearsalUsers(conn *state.Connection, rehearsalID string) {
	users := m.state.RoomUsers(room.Rehearsal(rehearsalID))
	list := event.RehearsalUsersList{
		Meta:        event.NewMeta(event.TypeRehearsalUsersList),
		RehearsalID: rehearsalID,
		Users:       users,
	}
	m.send(conn.Transport, string(event.TypeRehearsalUsersList), list)
}

// HandleDisconnect tears a connection down: peers of its rehearsal rooms
// see a presence leave even though the transport already dropped, the
// online-stats subscription is released, and the user's offline transition
// is announced when this was their last connection.
func (m *Manager) HandleDisconnect(connID uuid.UUID, cause error) {
	if _, ok := m.state.GetConnection(connID); !ok {
		return
	}
	userID, userName := m.state.ConnectionIdentity(connID)

	for _, roomName := range m.state.ConnectionRooms(connID) {
		if !room.IsRehearsal(roomName) || userID == "" || userName == "" {
			continue
		}
		presence := event.UserPresence{
			UserID:      userID,
			UserName:    userName,
			RehearsalID: room.Parse(roomName).ID,
			Action:      event.PresenceLeave,
		}
		m.broadcaster.Broadcast(event.TypeUserPresence, &presence, []string{roomName}, connID)
	}

	m.unsubscribeStats(connID)

	deregUserID, wentOffline, err := m.state.DeregisterConnection(connID)
	if err != nil {
		m.logger.Error("Failed to deregister connection",
			slog.String("connID", connID.String()),
			slog.Any("error", err),
		)
		return
	}
	m.metrics.ActiveConnections.Dec()
	m.metrics.OnlineUsers.Set(float64(m.state.Snapshot().TotalOnline))

	m.logger.Info("Connection closed",
		slog.String("connID", connID.String()),
		slog.String("userID", deregUserID),
		slog.Any("cause", cause),
	)

	if wentOffline {
		left := event.UserLeft{UserID: deregUserID}
		m.notifySubscribers(event.TypeUserLeft, &left)
		m.pushStatsToSubscribers()
	}
}

// --- online-stats subscriptions ---

func (m *Manager) subscribeStats(conn *state.Connection) {
	m.statsMu.Lock()
	m.statsSubs[conn.ID] = conn.Transport
	m.statsMu.Unlock()

	// The fresh subscriber gets the current snapshot immediately, alone.
	snap := event.OnlineStats{
		Meta:                event.NewMeta(event.TypeOnlineStats),
		OnlineStatsSnapshot: m.state.Snapshot(),
	}
	m.send(conn.Transport, string(event.TypeOnlineStats), snap)
}

func (m *Manager) unsubscribeStats(connID uuid.UUID) {
	m.statsMu.Lock()
	delete(m.statsSubs, connID)
	m.statsMu.Unlock()
}

// notifySubscribers stamps the payload and sends it to every online-stats
// subscriber.
func (m *Manager) notifySubscribers(t event.Type, payload broadcast.Stampable) {
	payload.SetMeta(event.NewMeta(t))
	frame, err := event.Encode(string(t), payload)
	if err != nil {
		m.logger.Error("Failed to encode subscriber event", slog.String("type", string(t)), slog.Any("error", err))
		return
	}
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	for _, sub := range m.statsSubs {
		sub.Send(frame)
	}
}

func (m *Manager) pushStatsToSubscribers() {
	snap := event.OnlineStats{OnlineStatsSnapshot: m.state.Snapshot()}
	m.notifySubscribers(event.TypeOnlineStats, &snap)
}

func (m *Manager) send(conn transport.Conn, eventName string, payload any) {
	frame, err := event.Encode(eventName, payload)
	if err != nil {
		m.logger.Error("Failed to encode reply", slog.String("event", eventName), slog.Any("error", err))
		return
	}
	conn.Send(frame)
}
