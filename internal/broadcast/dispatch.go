package broadcast

import (
	"encoding/json"
	"fmt"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/event"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/room"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// dispatchFunc turns a raw bridge payload into a broadcast. Each event type
// owns its target-room computation here, so adding a variant means adding
// exactly one table entry.
type dispatchFunc func(b *Broadcaster, payload []byte) error

var dispatchTable = map[event.Type]dispatchFunc{
	event.TypeAttendanceUpdated:   dispatchAttendanceUpdated,
	event.TypeRehearsalCreated:    dispatchRehearsalCreated,
	event.TypeRehearsalUpdated:    dispatchRehearsalUpdated,
	event.TypeNotificationCreated: dispatchNotificationCreated,
	event.TypeOnboardingDashboard: dispatchToGlobal(event.TypeOnboardingDashboard),
	event.TypeServerAnalytics:     dispatchToGlobal(event.TypeServerAnalytics),
}

// Dispatch routes an event submitted through the HTTP bridge into the same
// fan-out pipeline used by in-process callers.
func (b *Broadcaster) Dispatch(eventType string, payload []byte) error {
	fn, ok := dispatchTable[event.Type(eventType)]
	if !ok {
		return fmt.Errorf("unknown event type %q", eventType)
	}
	return fn(b, payload)
}

func dispatchAttendanceUpdated(b *Broadcaster, payload []byte) error {
	rehearsalID := gjson.GetBytes(payload, "rehearsalId").String()
	targetUserID := gjson.GetBytes(payload, "targetUserId").String()
	if rehearsalID == "" || targetUserID == "" {
		return fmt.Errorf("attendance_updated requires rehearsalId and targetUserId")
	}
	b.BroadcastAttendanceUpdate(event.AttendanceUpdate{
		RehearsalID:  rehearsalID,
		TargetUserID: targetUserID,
		Status:       gjson.GetBytes(payload, "status").String(),
		ActorUserID:  gjson.GetBytes(payload, "actorUserId").String(),
		Attendance:   rawField(payload, "attendance"),
	})
	return nil
}

func dispatchRehearsalCreated(b *Broadcaster, payload []byte) error {
	targets := stringSlice(payload, "targetUserIds")
	if len(targets) == 0 {
		return fmt.Errorf("rehearsal_created requires targetUserIds")
	}
	b.BroadcastRehearsalCreated(rawField(payload, "rehearsal"), targets)
	return nil
}

func dispatchRehearsalUpdated(b *Broadcaster, payload []byte) error {
	rehearsalID := gjson.GetBytes(payload, "rehearsalId").String()
	if rehearsalID == "" {
		return fmt.Errorf("rehearsal_updated requires rehearsalId")
	}
	b.BroadcastRehearsalUpdated(rehearsalID, rawField(payload, "rehearsal"), stringSlice(payload, "targetUserIds"))
	return nil
}

func dispatchNotificationCreated(b *Broadcaster, payload []byte) error {
	targetUserID := gjson.GetBytes(payload, "targetUserId").String()
	if targetUserID == "" {
		return fmt.Errorf("notification_created requires targetUserId")
	}
	b.SendNotification(targetUserID, rawField(payload, "notification"))
	return nil
}

// dispatchToGlobal covers the dashboard snapshot events, which fan out to
// everyone currently connected.
func dispatchToGlobal(t event.Type) dispatchFunc {
	return func(b *Broadcaster, payload []byte) error {
		upd := event.DashboardUpdate{Payload: json.RawMessage(payload)}
		b.Broadcast(t, &upd, []string{room.Global}, uuid.Nil)
		return nil
	}
}

func rawField(payload []byte, field string) json.RawMessage {
	res := gjson.GetBytes(payload, field)
	if !res.Exists() {
		return nil
	}
	return json.RawMessage(res.Raw)
}

func stringSlice(payload []byte, field string) []string {
	res := gjson.GetBytes(payload, field)
	if !res.IsArray() {
		return nil
	}
	var out []string
	res.ForEach(func(_, value gjson.Result) bool {
		if s := value.String(); s != "" {
			out = append(out, s)
		}
		return true
	})
	return out
}
