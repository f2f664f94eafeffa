package websocket_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	ws "github.com/tripwire/agent/internal/server/websocket"
)

func newTestBroadcaster() *ws.Broadcaster {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return ws.NewBroadcaster(logger, 16)
}

// TestBroadcasterRegisterUnregister verifies that Register/Unregister work and
// that ClientCount tracks the number of connected clients.
func TestBroadcasterRegisterUnregister(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()

	if got := bc.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients after init, got %d", got)
	}

	c1 := bc.Register("c1")
	c2 := bc.Register("c2")

	if got := bc.ClientCount(); got != 2 {
		t.Fatalf("expected 2 clients, got %d", got)
	}

	if c1.ID() != "c1" {
		t.Errorf("client ID mismatch: got %q, want %q", c1.ID(), "c1")
	}

	bc.Unregister("c1")
	if got := bc.ClientCount(); got != 1 {
		t.Fatalf("expected 1 client after unregister, got %d", got)
	}

	// Send channel should be closed after unregister.
	select {
	case _, ok := <-c1.Send():
		if ok {
			t.Error("expected send channel to be closed after Unregister")
		}
	default:
		t.Error("expected send channel to be closed (readable), not blocked")
	}

	bc.Unregister("c2")
	_ = c2
	if got := bc.ClientCount(); got != 0 {
		t.Fatalf("expected 0 clients, got %d", got)
	}
}

// TestBroadcasterBroadcast verifies that Broadcast delivers the message to all
// registered clients with correct JSON structure.
func TestBroadcasterBroadcast(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()

	c1 := bc.Register("c1")
	c2 := bc.Register("c2")
	defer bc.Unregister("c1")
	defer bc.Unregister("c2")

	msg := ws.AlertMessage{
		Type: "alert_fired",
		Data: ws.AlertFiredData{
			SystemID:   "sys-1",
			RuleID:     7,
			RuleName:   "high-cpu",
			Severity:   "critical",
			Expression: "cpu_usage_percent > 90",
			Message:    "cpu_usage_percent 95.00 > 90",
			FiredAt:    "2026-07-30T10:00:00Z",
		},
	}

	bc.Broadcast(msg)

	// Both clients should receive the message within a short timeout.
	deadline := time.After(100 * time.Millisecond)
	for _, ch := range []<-chan []byte{c1.Send(), c2.Send()} {
		select {
		case raw, ok := <-ch:
			if !ok {
				t.Fatal("send channel closed unexpectedly")
			}
			var got ws.AlertMessage
			if err := json.Unmarshal(raw, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got.Type != "alert_fired" {
				t.Errorf("got type %q, want %q", got.Type, "alert_fired")
			}
			if got.Data.SystemID != "sys-1" {
				t.Errorf("got system_id %q, want %q", got.Data.SystemID, "sys-1")
			}
			if got.Data.Severity != "critical" {
				t.Errorf("got severity %q, want %q", got.Data.Severity, "critical")
			}
		case <-deadline:
			t.Fatal("timeout waiting for broadcast message")
		}
	}
}

// TestBroadcasterDropsWhenBufferFull verifies that a slow client's send buffer
// fills up and subsequent messages are dropped (Dropped counter is incremented).
func TestBroadcasterDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bc := ws.NewBroadcaster(logger, 2) // tiny buffer

	c := bc.Register("slow-client")
	defer bc.Unregister("slow-client")

	msg := ws.AlertMessage{Type: "alert_fired", Data: ws.AlertFiredData{SystemID: "sys-1"}}

	// Fill the buffer (2 slots).
	bc.Broadcast(msg)
	bc.Broadcast(msg)

	// This one should be dropped.
	bc.Broadcast(msg)

	if got := c.Dropped.Load(); got < 1 {
		t.Errorf("expected at least 1 drop, got %d", got)
	}
}

// TestBroadcasterUnregisterNonexistent verifies that unregistering an unknown
// client ID is a no-op and does not panic.
func TestBroadcasterUnregisterNonexistent(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	// Should not panic.
	bc.Unregister("does-not-exist")
}

// TestBroadcastEmptyRoom verifies that broadcasting with no clients registered
// does not panic or block.
func TestBroadcastEmptyRoom(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	// Should not panic or block.
	bc.Broadcast(ws.AlertMessage{Type: "alert_fired", Data: ws.AlertFiredData{SystemID: "x"}})
}

// TestBroadcasterPublishFansOutToSubscribersAndClients verifies that Publish
// delivers the raw AlertFired to anonymous subscribers and the JSON-encoded
// AlertMessage to registered WebSocket clients.
func TestBroadcasterPublishFansOutToSubscribersAndClients(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub := bc.Subscribe(ctx)
	defer bc.Unsubscribe(sub)

	client := bc.Register("dash-1")
	defer bc.Unregister("dash-1")

	fired := ws.AlertFired{
		SystemID:   "sys-7",
		RuleID:     3,
		RuleName:   "disk-full",
		Severity:   "warning",
		Expression: "disk_usage_percent > 85",
		Message:    "disk_usage_percent 90.00 > 85",
		FiredAt:    time.Now(),
	}
	bc.Publish(fired)

	select {
	case got := <-sub:
		if got.SystemID != "sys-7" || got.RuleID != 3 {
			t.Errorf("unexpected subscriber event: %+v", got)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for subscriber event")
	}

	select {
	case raw := <-client.Send():
		var msg ws.AlertMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if msg.Data.SystemID != "sys-7" || msg.Data.RuleName != "disk-full" {
			t.Errorf("unexpected client message: %+v", msg)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for client message")
	}
}

// TestBroadcasterUnsubscribeClosesChannel verifies that Unsubscribe closes
// the subscriber channel so a range loop over it terminates.
func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	sub := bc.Subscribe(context.Background())
	bc.Unsubscribe(sub)

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected subscriber channel to be closed")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for closed channel")
	}
}

// TestBroadcasterClose verifies that Close tears down all clients and
// subscribers and leaves the broadcaster in an inert state.
func TestBroadcasterClose(t *testing.T) {
	t.Parallel()

	bc := newTestBroadcaster()
	c := bc.Register("c1")
	sub := bc.Subscribe(context.Background())

	bc.Close()

	if got := bc.ClientCount(); got != 0 {
		t.Errorf("expected 0 clients after close, got %d", got)
	}

	select {
	case _, ok := <-c.Send():
		if ok {
			t.Error("expected client channel closed after Close")
		}
	default:
		t.Error("expected client channel closed (readable)")
	}

	select {
	case _, ok := <-sub:
		if ok {
			t.Error("expected subscriber channel closed after Close")
		}
	default:
		t.Error("expected subscriber channel closed (readable)")
	}

	// Publish/Broadcast after Close must not panic.
	bc.Publish(ws.AlertFired{SystemID: "sys-1"})
	bc.Broadcast(ws.AlertMessage{Type: "alert_fired"})
}
