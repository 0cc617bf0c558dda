package ws

import (
	"encoding/json"
	"testing"
)

// testClient builds a hub client without a network connection. Only paths
// that never touch the socket run here; the upgrade and replace paths are
// covered by the httptest suite in handler_test.go.
func testClient(h *Hub, connID string) *Client {
	return &Client{
		connID: connID,
		send:   make(chan []byte, 8),
		hub:    h,
	}
}

// nextFrame pops one queued frame off a client's send buffer
func nextFrame(t *testing.T, c *Client) map[string]interface{} {
	t.Helper()
	select {
	case data := <-c.send:
		var frame map[string]interface{}
		if err := json.Unmarshal(data, &frame); err != nil {
			t.Fatalf("Queued frame is not JSON: %v", err)
		}
		return frame
	default:
		t.Fatal("No frame queued")
		return nil
	}
}

// drainFrames discards everything queued for a client and reports the count
func drainFrames(c *Client) int {
	n := 0
	for {
		select {
		case <-c.send:
			n++
		default:
			return n
		}
	}
}

func TestBindUserMarksOnlineAndBroadcastsRoster(t *testing.T) {
	hub := NewHub(10)
	client := testClient(hub, "conn-1")

	hub.BindUser(client, "alice", "Alice")

	if !hub.IsOnline("alice") {
		t.Error("alice should be online after bind")
	}
	if got := hub.UserOf(client); got != "alice" {
		t.Errorf("UserOf = %q, want alice", got)
	}

	frame := nextFrame(t, client)
	if frame["type"] != "onlineUsers" {
		t.Fatalf("Expected an onlineUsers roster, got %v", frame["type"])
	}
	users, ok := frame["users"].([]interface{})
	if !ok || len(users) != 1 {
		t.Fatalf("Roster = %v, want 1 entry", frame["users"])
	}
	entry := users[0].(map[string]interface{})
	if entry["id"] != "alice" || entry["name"] != "Alice" {
		t.Errorf("Roster entry = %v", entry)
	}
}

func TestUnbindNotifiesRemainingUsers(t *testing.T) {
	hub := NewHub(10)
	clientA := testClient(hub, "conn-a")
	clientB := testClient(hub, "conn-b")
	hub.BindUser(clientA, "alice", "Alice")
	hub.BindUser(clientB, "bob", "Bob")
	drainFrames(clientA)
	drainFrames(clientB)

	hub.UnbindUser(clientA)

	if hub.IsOnline("alice") {
		t.Error("alice should be offline after unbind")
	}
	if hub.UserOf(clientA) != "" {
		t.Error("Client identity should be cleared")
	}

	// The remaining user sees the shrunken roster; the unbound socket does not
	frame := nextFrame(t, clientB)
	users := frame["users"].([]interface{})
	if len(users) != 1 || users[0].(map[string]interface{})["id"] != "bob" {
		t.Errorf("Roster after unbind = %v, want [bob]", frame["users"])
	}
	if n := drainFrames(clientA); n != 0 {
		t.Errorf("Unbound socket received %d frame(s)", n)
	}
}

func TestUnbindAnonymousClientIsNoop(t *testing.T) {
	hub := NewHub(10)
	bound := testClient(hub, "conn-a")
	hub.BindUser(bound, "alice", "Alice")
	drainFrames(bound)

	hub.UnbindUser(testClient(hub, "conn-anon"))

	// No roster churn for a socket that was never bound
	if n := drainFrames(bound); n != 0 {
		t.Errorf("Anonymous unbind broadcast %d frame(s)", n)
	}
}

func TestOnlineUsersSortedByID(t *testing.T) {
	hub := NewHub(10)
	hub.BindUser(testClient(hub, "c1"), "zoe", "Zoe")
	hub.BindUser(testClient(hub, "c2"), "adam", "Adam")
	hub.BindUser(testClient(hub, "c3"), "mia", "Mia")

	users := hub.OnlineUsers()
	if len(users) != 3 {
		t.Fatalf("Roster size = %d, want 3", len(users))
	}
	if users[0].ID != "adam" || users[1].ID != "mia" || users[2].ID != "zoe" {
		t.Errorf("Roster not sorted by id: %v", users)
	}
}

func TestSendToUserDeliversToBoundClientOnly(t *testing.T) {
	hub := NewHub(10)
	clientA := testClient(hub, "conn-a")
	clientB := testClient(hub, "conn-b")
	hub.BindUser(clientA, "alice", "Alice")
	hub.BindUser(clientB, "bob", "Bob")
	drainFrames(clientA)
	drainFrames(clientB)

	hub.SendToUser("alice", map[string]string{"type": "ping"})

	if frame := nextFrame(t, clientA); frame["type"] != "ping" {
		t.Errorf("alice got %v", frame)
	}
	if n := drainFrames(clientB); n != 0 {
		t.Errorf("bob received %d stray frame(s)", n)
	}

	// Unknown recipient: logged and dropped
	hub.SendToUser("nobody", map[string]string{"type": "ping"})
}

func TestBroadcastToUsersSkipsOffline(t *testing.T) {
	hub := NewHub(10)
	client := testClient(hub, "conn-a")
	hub.BindUser(client, "alice", "Alice")
	drainFrames(client)

	hub.BroadcastToUsers([]string{"alice", "ghost"}, map[string]string{"type": "update"})

	if frame := nextFrame(t, client); frame["type"] != "update" {
		t.Errorf("alice got %v", frame)
	}
}

func TestBroadcastToAllSkipsAnonymousSockets(t *testing.T) {
	hub := NewHub(10)
	clientA := testClient(hub, "conn-a")
	clientB := testClient(hub, "conn-b")
	anon := testClient(hub, "conn-anon") // connected, never bound
	hub.BindUser(clientA, "alice", "Alice")
	hub.BindUser(clientB, "bob", "Bob")
	drainFrames(clientA)
	drainFrames(clientB)

	hub.BroadcastToAll(map[string]string{"type": "announce"})

	if frame := nextFrame(t, clientA); frame["type"] != "announce" {
		t.Errorf("alice got %v", frame)
	}
	if frame := nextFrame(t, clientB); frame["type"] != "announce" {
		t.Errorf("bob got %v", frame)
	}
	if n := drainFrames(anon); n != 0 {
		t.Errorf("Anonymous socket received %d frame(s) from a bound-only broadcast", n)
	}
}

func TestRebindSameSocketToNewIdentity(t *testing.T) {
	hub := NewHub(10)
	client := testClient(hub, "conn-1")
	hub.BindUser(client, "alice", "Alice")
	drainFrames(client)

	hub.BindUser(client, "alicia", "Alicia")

	if hub.IsOnline("alice") {
		t.Error("Old identity should be dropped when the socket rebinds")
	}
	if !hub.IsOnline("alicia") {
		t.Error("New identity not bound")
	}
	if got := hub.UserOf(client); got != "alicia" {
		t.Errorf("UserOf = %q, want alicia", got)
	}
}

func TestCanAcceptHonorsCap(t *testing.T) {
	hub := NewHub(1)
	if !hub.CanAccept() {
		t.Error("Empty hub should accept")
	}

	hub.conns["conn-1"] = testClient(hub, "conn-1")

	if hub.CanAccept() {
		t.Error("Full hub should not accept")
	}
}
