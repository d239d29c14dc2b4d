package memory

import (
	"context"
	"testing"
	"time"

	"quiz-sync/internal/transport"
)

func receive(t *testing.T, c transport.Conn) transport.Message {
	t.Helper()
	select {
	case m := <-c.Messages():
		return m
	case <-time.After(time.Second):
		t.Fatalf("no message received")
	}
	return transport.Message{}
}

func TestHubWildcardDeliversOncePerSubscription(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	sub, err := hub.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	pub, _ := hub.Dial(ctx)

	if err := sub.Subscribe(ctx, "room.*.join"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := pub.Publish(ctx, "room.42.join", []byte("p1")); err != nil {
		t.Fatalf("publish: %v", err)
	}

	m := receive(t, sub)
	if m.Topic != "room.42.join" || m.Subscription != "room.*.join" || string(m.Payload) != "p1" {
		t.Fatalf("unexpected message %+v", m)
	}
	select {
	case extra := <-sub.Messages():
		t.Fatalf("unexpected extra delivery %+v", extra)
	default:
	}
}

func TestHubDownRejectsDial(t *testing.T) {
	hub := NewHub()
	hub.SetDown(true)
	if _, err := hub.Dial(context.Background()); err == nil {
		t.Fatalf("expected dial to fail while down")
	}
	hub.SetDown(false)
	if _, err := hub.Dial(context.Background()); err != nil {
		t.Fatalf("expected dial to succeed, got %v", err)
	}
}

func TestHubDropAllClosesConnections(t *testing.T) {
	hub := NewHub()
	c, _ := hub.Dial(context.Background())
	hub.DropAll()

	select {
	case <-c.Done():
	default:
		t.Fatalf("expected connection to be closed")
	}
	if hub.Connections() != 0 {
		t.Fatalf("expected no open connections, got %d", hub.Connections())
	}
	if err := c.Publish(context.Background(), "room.1", nil); err == nil {
		t.Fatalf("expected publish on closed conn to fail")
	}
}

func TestHubPublishCopiesPayload(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	sub, _ := hub.Dial(ctx)
	_ = sub.Subscribe(ctx, "room.1")

	payload := []byte("abc")
	pub, _ := hub.Dial(ctx)
	_ = pub.Publish(ctx, "room.1", payload)
	payload[0] = 'z'

	if got := string(receive(t, sub).Payload); got != "abc" {
		t.Fatalf("expected payload copy, got %s", got)
	}
}
