package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func registerTestClient(t *testing.T, h *Hub, userID string) *Client {
	t.Helper()
	client := &Client{hub: h, userID: userID, send: make(chan []byte, 8)}
	select {
	case h.register <- client:
	case <-time.After(time.Second):
		t.Fatal("register blocked")
	}
	return client
}

func waitForConnections(t *testing.T, h *Hub, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if h.Connections(userID) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("user %s never reached %d connections", userID, want)
}

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()
	stats := h.Stats()

	if stats["connectedClients"] != int64(0) {
		t.Errorf("expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["connectedUsers"] != 0 {
		t.Errorf("expected 0 connected users, got %v", stats["connectedUsers"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	c1 := registerTestClient(t, h, "alice")
	registerTestClient(t, h, "alice")
	registerTestClient(t, h, "bob")

	waitForConnections(t, h, "alice", 2)
	waitForConnections(t, h, "bob", 1)

	h.unregister <- c1
	waitForConnections(t, h, "alice", 1)
}

func TestHub_PushReachesOnlyTargetUser(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	alice1 := registerTestClient(t, h, "alice")
	alice2 := registerTestClient(t, h, "alice")
	bob := registerTestClient(t, h, "bob")
	waitForConnections(t, h, "alice", 2)
	waitForConnections(t, h, "bob", 1)

	h.Push("alice", map[string]string{"tradeId": "trd_1"})

	for _, c := range []*Client{alice1, alice2} {
		select {
		case msg := <-c.send:
			var got map[string]string
			if err := json.Unmarshal(msg, &got); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			if got["tradeId"] != "trd_1" {
				t.Errorf("expected trade id trd_1, got %v", got)
			}
		case <-time.After(time.Second):
			t.Fatal("alice connection never received the push")
		}
	}

	select {
	case msg := <-bob.send:
		t.Errorf("bob should not receive alice's push, got %s", msg)
	default:
	}
}

func TestHub_PushToAbsentUserIsNoOp(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	// No connections registered for carol; must not panic or block.
	h.Push("carol", map[string]string{"tradeId": "trd_1"})
}

func TestHub_SlowClientDropped(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	slow := &Client{hub: h, userID: "alice", send: make(chan []byte)} // unbuffered, never drained
	h.register <- slow
	waitForConnections(t, h, "alice", 1)

	h.Push("alice", map[string]string{"tradeId": "trd_1"})
	waitForConnections(t, h, "alice", 0)
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	registerTestClient(t, h, "alice")
	waitForConnections(t, h, "alice", 1)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop on context cancellation")
	}

	if h.Connections("alice") != 0 {
		t.Error("expected all connections closed on shutdown")
	}
}

func TestHub_RegisterAfterStopDoesNotBlock(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	// The run loop is gone; registration must bail out instead of hanging.
	accepted := make(chan bool, 1)
	go func() {
		accepted <- h.tryRegister(&Client{hub: h, userID: "alice", send: make(chan []byte, 8)})
	}()

	select {
	case ok := <-accepted:
		if ok {
			t.Error("expected registration to be refused after shutdown")
		}
	case <-time.After(time.Second):
		t.Fatal("registration blocked after hub shutdown")
	}
}
