package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/Schlossparktheater-Altrossthal/realtime/internal/authz"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/broadcast"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/event"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/metrics"
	"github.com/Schlossparktheater-Altrossthal/realtime/internal/session"
	"github.com/Schlossparktheater-Altrossthal/realtime/pkg/state/statemanager"
	"github.com/google/uuid"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeConn struct {
	id   uuid.UUID
	mu   sync.Mutex
	sent [][]byte
	done chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{id: uuid.New(), done: make(chan struct{})}
}

func (f *fakeConn) ID() uuid.UUID { return f.id }
func (f *fakeConn) Send(msg []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}
func (f *fakeConn) Close(error)           {}
func (f *fakeConn) Done() <-chan struct{} { return f.done }

// received returns the decoded envelopes, optionally filtered by event name.
func (f *fakeConn) received(t *testing.T, eventName string) []event.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []event.Envelope
	for _, raw := range f.sent {
		var env event.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("received frame is not a valid envelope: %v", err)
		}
		if eventName == "" || env.Event == eventName {
			out = append(out, env)
		}
	}
	return out
}

type fixture struct {
	state   *statemanager.InMemoryManager
	store   *authz.StaticStore
	manager *session.Manager
}

func newFixture() *fixture {
	logger := newTestLogger()
	st := statemanager.NewInMemoryManager(logger)
	m := metrics.New()
	store := authz.NewStaticStore()
	resolver := authz.NewResolver(logger, store, m)
	bc := broadcast.New(logger, st, m)
	return &fixture{
		state:   st,
		store:   store,
		manager: session.NewManager(logger, st, resolver, bc, m),
	}
}

func (fx *fixture) admit(t *testing.T, userID, userName string) *fakeConn {
	t.Helper()
	conn := newFakeConn()
	if _, err := fx.manager.Admit(conn, "127.0.0.1", userID, userName, true); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}
	return conn
}

func frame(eventName string, payload string) []byte {
	if payload == "" {
		return []byte(fmt.Sprintf(`{"event":%q}`, eventName))
	}
	return []byte(fmt.Sprintf(`{"event":%q,"payload":%s}`, eventName, payload))
}

func TestAdmitJoinsPersonalAndGlobalRooms(t *testing.T) {
	fx := newFixture()
	conn := fx.admit(t, "U1", "Ada")

	if !fx.state.InRoom(conn.ID(), "user_U1") {
		t.Error("Admitted connection must be in its personal room")
	}
	if !fx.state.InRoom(conn.ID(), "global") {
		t.Error("Admitted connection must be in the global room")
	}
}

func TestAdmitUnverifiedOnlyGlobal(t *testing.T) {
	fx := newFixture()
	conn := newFakeConn()
	if _, err := fx.manager.Admit(conn, "127.0.0.1", "U1", "Ada", false); err != nil {
		t.Fatalf("Admit failed: %v", err)
	}

	if !fx.state.InRoom(conn.ID(), "global") {
		t.Error("Unverified connection must still reach the global room")
	}
	if fx.state.InRoom(conn.ID(), "user_U1") {
		t.Error("Unverified connection must not be auto-joined to a personal room")
	}
	if !fx.state.IsOnline("U1") {
		t.Error("Unverified but identified connection must still count for presence")
	}
}

func TestFirstConnectionNotifiesStatsSubscribers(t *testing.T) {
	fx := newFixture()
	watcher := fx.admit(t, "W1", "Watcher")
	fx.manager.HandleMessage(context.Background(), watcher.ID(), frame("get_online_stats", ""))

	// Immediate snapshot on subscribe, pushed to the requester alone.
	if got := watcher.received(t, "online_stats_update"); len(got) != 1 {
		t.Fatalf("Expected 1 immediate snapshot, got %d", len(got))
	}

	fx.admit(t, "U1", "Ada")

	if got := watcher.received(t, "user_joined"); len(got) != 1 {
		t.Errorf("Expected 1 user_joined, got %d", len(got))
	}
	if got := watcher.received(t, "online_stats_update"); len(got) != 2 {
		t.Errorf("Expected refreshed snapshot after first connection, got %d snapshots", len(got))
	}

	// A second tab of the same user is not a join transition.
	fx.admit(t, "U1", "Ada")
	if got := watcher.received(t, "user_joined"); len(got) != 1 {
		t.Errorf("Second tab caused a user_joined broadcast, got %d", len(got))
	}
}

func TestUnsubscribeStopsUpdates(t *testing.T) {
	fx := newFixture()
	watcher := fx.admit(t, "W1", "Watcher")
	fx.manager.HandleMessage(context.Background(), watcher.ID(), frame("get_online_stats", ""))
	fx.manager.HandleMessage(context.Background(), watcher.ID(), frame("unsubscribe_online_stats", ""))

	fx.admit(t, "U1", "Ada")

	if got := watcher.received(t, "user_joined"); len(got) != 0 {
		t.Errorf("Unsubscribed watcher still received %d user_joined events", len(got))
	}
}

func TestJoinRehearsalRoomEmitsPresenceToPeers(t *testing.T) {
	fx := newFixture()
	fx.store.GrantRehearsal("R1", "U1", "U2")
	peer := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), peer.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	joiner := fx.admit(t, "U2", "Ben")
	fx.manager.HandleMessage(context.Background(), joiner.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	got := peer.received(t, "user_presence")
	if len(got) != 1 {
		t.Fatalf("Peer expected 1 presence event, got %d", len(got))
	}
	var presence event.UserPresence
	if err := json.Unmarshal(got[0].Payload, &presence); err != nil {
		t.Fatalf("presence decode failed: %v", err)
	}
	if presence.UserID != "U2" || presence.Action != "join" || presence.RehearsalID != "R1" {
		t.Errorf("Unexpected presence payload: %+v", presence)
	}

	// The joiner must not receive its own presence event.
	if got := joiner.received(t, "user_presence"); len(got) != 0 {
		t.Errorf("Joiner received its own presence event")
	}
}

func TestRepeatedJoinIsIdempotent(t *testing.T) {
	fx := newFixture()
	fx.store.GrantRehearsal("R1", "U1", "U2")
	peer := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), peer.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	joiner := fx.admit(t, "U2", "Ben")
	fx.manager.HandleMessage(context.Background(), joiner.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))
	fx.manager.HandleMessage(context.Background(), joiner.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	if got := peer.received(t, "user_presence"); len(got) != 1 {
		t.Errorf("Two rapid joins produced %d presence broadcasts, want exactly 1", len(got))
	}
}

func TestUnauthorizedJoinNeverReachesRoster(t *testing.T) {
	fx := newFixture()
	fx.store.GrantRehearsal("R1", "U1")
	member := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), member.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	intruder := fx.admit(t, "U9", "Mallory")
	fx.manager.HandleMessage(context.Background(), intruder.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	// No error event reaches the denied client.
	if got := intruder.received(t, ""); len(got) != 0 {
		t.Errorf("Denied client received %d frames, want silence", len(got))
	}

	fx.manager.HandleMessage(context.Background(), member.ID(), frame("get_rehearsal_users", `{"rehearsalId":"R1"}`))
	rosters := member.received(t, "rehearsal_users_list")
	if len(rosters) != 1 {
		t.Fatalf("Expected 1 roster reply, got %d", len(rosters))
	}
	var list event.RehearsalUsersList
	if err := json.Unmarshal(rosters[0].Payload, &list); err != nil {
		t.Fatalf("roster decode failed: %v", err)
	}
	if len(list.Users) != 1 || list.Users[0].ID != "U1" {
		t.Errorf("Roster must contain only the authorized member, got %+v", list.Users)
	}
}

func TestPersonalRoomOnlyForOwner(t *testing.T) {
	fx := newFixture()
	owner := fx.admit(t, "A", "Ada")
	other := fx.admit(t, "B", "Ben")

	fx.manager.HandleMessage(context.Background(), other.ID(), frame("join_room", `{"room":"user_A"}`))
	if fx.state.InRoom(other.ID(), "user_A") {
		t.Error("User B joined user A's personal room")
	}
	// The owner is already a member via the admission auto-join.
	if !fx.state.InRoom(owner.ID(), "user_A") {
		t.Error("Owner missing from their personal room")
	}
}

func TestPingPong(t *testing.T) {
	fx := newFixture()
	conn := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), conn.ID(), frame("ping", ""))

	if got := conn.received(t, "pong"); len(got) != 1 {
		t.Errorf("Expected 1 pong, got %d", len(got))
	}
}

func TestDisconnectSecondTabTriggersSingleUserLeft(t *testing.T) {
	fx := newFixture()
	watcher := fx.admit(t, "W1", "Watcher")
	fx.manager.HandleMessage(context.Background(), watcher.ID(), frame("get_online_stats", ""))

	tab1 := fx.admit(t, "U1", "Ada")
	tab2 := fx.admit(t, "U1", "Ada")

	fx.manager.HandleDisconnect(tab1.ID(), nil)
	if !fx.state.IsOnline("U1") {
		t.Fatal("User must stay online while a tab remains")
	}
	if got := watcher.received(t, "user_left"); len(got) != 0 {
		t.Errorf("user_left broadcast before the user was fully offline")
	}

	fx.manager.HandleDisconnect(tab2.ID(), nil)
	if fx.state.IsOnline("U1") {
		t.Fatal("User must be offline after the last tab closed")
	}
	if got := watcher.received(t, "user_left"); len(got) != 1 {
		t.Errorf("Expected exactly 1 user_left, got %d", len(got))
	}
}

func TestDisconnectNotifiesRehearsalPeers(t *testing.T) {
	fx := newFixture()
	fx.store.GrantRehearsal("R1", "U1", "U2")
	peer := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), peer.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	leaver := fx.admit(t, "U2", "Ben")
	fx.manager.HandleMessage(context.Background(), leaver.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	fx.manager.HandleDisconnect(leaver.ID(), nil)

	presences := peer.received(t, "user_presence")
	if len(presences) != 2 {
		t.Fatalf("Peer expected join+leave presence events, got %d", len(presences))
	}
	var leave event.UserPresence
	if err := json.Unmarshal(presences[1].Payload, &leave); err != nil {
		t.Fatalf("presence decode failed: %v", err)
	}
	if leave.Action != "leave" || leave.UserID != "U2" {
		t.Errorf("Unexpected leave presence: %+v", leave)
	}
}

func TestLeaveRoomEmitsPresenceLeave(t *testing.T) {
	fx := newFixture()
	fx.store.GrantRehearsal("R1", "U1", "U2")
	peer := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), peer.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	leaver := fx.admit(t, "U2", "Ben")
	fx.manager.HandleMessage(context.Background(), leaver.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))
	fx.manager.HandleMessage(context.Background(), leaver.ID(), frame("leave_room", `{"room":"rehearsal_R1"}`))

	if fx.state.InRoom(leaver.ID(), "rehearsal_R1") {
		t.Error("Connection still in room after leave_room")
	}
	if got := peer.received(t, "user_presence"); len(got) != 2 {
		t.Errorf("Peer expected join+leave presence events, got %d", len(got))
	}
}

// A roster request must not observe a concurrent tab login rewriting the
// user's display name; run with -race.
func TestRosterDuringConcurrentTabLogin(t *testing.T) {
	fx := newFixture()
	fx.store.GrantRehearsal("R1", "U1")
	member := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), member.ID(), frame("join_room", `{"room":"rehearsal_R1"}`))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			tab := newFakeConn()
			if _, err := fx.manager.Admit(tab, "127.0.0.1", "U1", fmt.Sprintf("Ada-%d", i), true); err != nil {
				t.Errorf("Admit failed: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 200; i++ {
		fx.manager.HandleMessage(context.Background(), member.ID(), frame("get_rehearsal_users", `{"rehearsalId":"R1"}`))
	}
	<-done

	rosters := member.received(t, "rehearsal_users_list")
	if len(rosters) != 200 {
		t.Fatalf("Expected 200 roster replies, got %d", len(rosters))
	}
	var list event.RehearsalUsersList
	if err := json.Unmarshal(rosters[len(rosters)-1].Payload, &list); err != nil {
		t.Fatalf("roster decode failed: %v", err)
	}
	if len(list.Users) != 1 || list.Users[0].ID != "U1" {
		t.Errorf("Roster must merge all tabs into one user, got %+v", list.Users)
	}
}

func TestUnknownEventIsIgnored(t *testing.T) {
	fx := newFixture()
	conn := fx.admit(t, "U1", "Ada")
	fx.manager.HandleMessage(context.Background(), conn.ID(), frame("do_something_else", `{}`))

	if got := conn.received(t, ""); len(got) != 0 {
		t.Errorf("Unknown event produced %d reply frames", len(got))
	}
}
