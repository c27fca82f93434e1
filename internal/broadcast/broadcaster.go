// Package broadcast fans typed domain events out to the sockets currently
// joined to the target rooms. Delivery is fire-and-forget: offline users
// receive nothing, and durable state is the data layer's job.
package broadcast

import (
	"encoding/json"
	"log/slog"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/event"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/metrics"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/room"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state"
	"github.com/google/uuid"
)

// Stampable is implemented by every outbound event payload through its
// embedded Meta. The broadcaster assigns the timestamp; callers never do.
type Stampable interface {
	SetMeta(event.Meta)
}

type Broadcaster struct {
	logger  *slog.Logger
	state   state.Manager
	metrics *metrics.Metrics
}

func New(logger *slog.Logger, st state.Manager, m *metrics.Metrics) *Broadcaster {
	return &Broadcaster{
		logger:  logger.With(slog.String("component", "broadcaster")),
		state:   st,
		metrics: m,
	}
}

// Broadcast stamps the payload and delivers it to every socket in the given
// rooms. A socket joined to several of the rooms receives the event once.
// exclude (uuid.Nil for none) suppresses the echo to the originating socket.
func (b *Broadcaster) Broadcast(t event.Type, payload Stampable, rooms []string, exclude uuid.UUID) {
	payload.SetMeta(event.NewMeta(t))

	frame, err := event.Encode(string(t), payload)
	if err != nil {
		b.logger.Error("Failed to encode event", slog.String("type", string(t)), slog.Any("error", err))
		return
	}

	delivered := 0
	seen := make(map[uuid.UUID]struct{})
	for _, roomName := range rooms {
		for _, conn := range b.state.RoomConnections(roomName) {
			if conn.ID == exclude {
				continue
			}
			if _, dup := seen[conn.ID]; dup {
				continue
			}
			seen[conn.ID] = struct{}{}
			conn.Transport.Send(frame)
			delivered++
		}
	}

	b.metrics.EventsBroadcast.WithLabelValues(string(t)).Inc()
	b.logger.Debug("Event broadcast",
		slog.String("type", string(t)),
		slog.Any("rooms", rooms),
		slog.Int("delivered", delivered),
	)
}

// BroadcastAttendanceUpdate delivers to the rehearsal's room and to the
// target user's personal room, so the affected user always hears about it
// even when they are not watching the rehearsal.
func (b *Broadcaster) BroadcastAttendanceUpdate(upd event.AttendanceUpdate) {
	b.Broadcast(event.TypeAttendanceUpdated, &upd, []string{
		room.Rehearsal(upd.RehearsalID),
		room.User(upd.TargetUserID),
	}, uuid.Nil)
}

// BroadcastRehearsalCreated notifies each invited user in their personal
// room. Nobody is in the new rehearsal's room yet.
func (b *Broadcaster) BroadcastRehearsalCreated(rehearsal json.RawMessage, targetUserIDs []string) {
	payload := event.RehearsalChange{Rehearsal: rehearsal}
	b.Broadcast(event.TypeRehearsalCreated, &payload, userRooms(targetUserIDs), uuid.Nil)
}

// BroadcastRehearsalUpdated notifies the rehearsal's room plus each target
// user's personal room.
func (b *Broadcaster) BroadcastRehearsalUpdated(rehearsalID string, rehearsal json.RawMessage, targetUserIDs []string) {
	rooms := append(userRooms(targetUserIDs), room.Rehearsal(rehearsalID))
	payload := event.RehearsalChange{RehearsalID: rehearsalID, Rehearsal: rehearsal}
	b.Broadcast(event.TypeRehearsalUpdated, &payload, rooms, uuid.Nil)
}

// SendNotification delivers only to the target user's personal room.
func (b *Broadcaster) SendNotification(targetUserID string, notification json.RawMessage) {
	payload := event.Notification{TargetUserID: targetUserID, Notification: notification}
	b.Broadcast(event.TypeNotificationCreated, &payload, []string{room.User(targetUserID)}, uuid.Nil)
}

func userRooms(userIDs []string) []string {
	rooms := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		rooms = append(rooms, room.User(id))
	}
	return rooms
}
