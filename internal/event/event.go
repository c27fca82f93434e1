// Package event defines the wire format shared by the socket server and the
// HTTP bridge. Every message travels in an Envelope; outbound domain events
// additionally carry a type discriminant and a server-assigned timestamp in
// their payload.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state"
)

// Type discriminates the domain event union.
type Type string

// Server→client event types.
const (
	TypeAttendanceUpdated   Type = "attendance_updated"
	TypeRehearsalCreated    Type = "rehearsal_created"
	TypeRehearsalUpdated    Type = "rehearsal_updated"
	TypeNotificationCreated Type = "notification_created"
	TypeUserPresence        Type = "user_presence"
	TypeUserJoined          Type = "user_joined"
	TypeUserLeft            Type = "user_left"
	TypeOnlineStats         Type = "online_stats_update"
	TypeRehearsalUsersList  Type = "rehearsal_users_list"
	TypeOnboardingDashboard Type = "onboarding_dashboard_update"
	TypeServerAnalytics     Type = "server_analytics_update"
	TypePong                Type = "pong"
)

// Client→server message names.
const (
	MsgJoinRoom          = "join_room"
	MsgLeaveRoom         = "leave_room"
	MsgPing              = "ping"
	MsgGetOnlineStats    = "get_online_stats"
	MsgUnsubscribeStats  = "unsubscribe_online_stats"
	MsgGetRehearsalUsers = "get_rehearsal_users"
)

// Envelope is the framing for every message in either direction.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Meta is embedded in every outbound domain event payload. The timestamp is
// assigned at broadcast time, never taken from the originating caller.
type Meta struct {
	Type      Type   `json:"type"`
	Timestamp string `json:"timestamp"`
}

// NewMeta stamps an event with the current server time.
func NewMeta(t Type) Meta {
	return Meta{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339Nano)}
}

// SetMeta lets the broadcaster stamp any payload that embeds Meta.
func (m *Meta) SetMeta(v Meta) { *m = v }

// PresenceJoin and PresenceLeave are the two actions of a user_presence
// event.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

type AttendanceUpdate struct {
	Meta
	RehearsalID  string          `json:"rehearsalId"`
	TargetUserID string          `json:"targetUserId"`
	Status       string          `json:"status,omitempty"`
	ActorUserID  string          `json:"actorUserId,omitempty"`
	Attendance   json.RawMessage `json:"attendance,omitempty"`
}

type RehearsalChange struct {
	Meta
	RehearsalID string          `json:"rehearsalId,omitempty"`
	Rehearsal   json.RawMessage `json:"rehearsal,omitempty"`
}

type Notification struct {
	Meta
	TargetUserID string          `json:"targetUserId"`
	Notification json.RawMessage `json:"notification,omitempty"`
}

type UserPresence struct {
	Meta
	UserID      string `json:"userId"`
	UserName    string `json:"userName"`
	RehearsalID string `json:"rehearsalId"`
	Action      string `json:"action"`
}

type UserJoined struct {
	Meta
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

type UserLeft struct {
	Meta
	UserID string `json:"userId"`
}

type OnlineStats struct {
	Meta
	state.OnlineStatsSnapshot
}

type RehearsalUsersList struct {
	Meta
	RehearsalID string             `json:"rehearsalId"`
	Users       []state.OnlineUser `json:"users"`
}

// DashboardUpdate carries opaque snapshot payloads submitted through the
// bridge for the onboarding and server-analytics dashboards.
type DashboardUpdate struct {
	Meta
	Payload json.RawMessage `json:"payload,omitempty"`
}

// --- Inbound request payloads ---

type JoinRoomRequest struct {
	Room string `json:"room"`
}

type LeaveRoomRequest struct {
	Room string `json:"room"`
}

type GetRehearsalUsersRequest struct {
	RehearsalID string `json:"rehearsalId"`
}

// Encode wraps a payload in an Envelope and marshals the whole frame.
func Encode(eventName string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventName, err)
		}
		raw = b
	}
	frame, err := json.Marshal(Envelope{Event: eventName, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", eventName, err)
	}
	return frame, nil
}
