package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"quiz-sync/internal/transport"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestBrokerPatternSubscription(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	broker := NewBroker(newClient(mr))
	ctx := context.Background()
	c, err := broker.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	if err := c.Subscribe(ctx, "room.*.join"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "pattern registered", func() bool { return mr.PubSubNumPat() == 1 })

	// Does not match a single token and must be filtered out.
	if err := c.Publish(ctx, "room.1.extra.join", []byte(`{}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := c.Publish(ctx, "room.7.join", []byte(`{"player":{"id":"p1"}}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case m := <-c.Messages():
		if m.Topic != "room.7.join" || m.Subscription != "room.*.join" {
			t.Fatalf("unexpected message %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no message received")
	}
}

func TestBrokerExactSubscriptionAndUnsubscribe(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	broker := NewBroker(newClient(mr))
	ctx := context.Background()
	c, err := broker.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()

	_ = c.Subscribe(ctx, "room.3.question")
	waitFor(t, "channel registered", func() bool { return mr.PubSubNumSub("room.3.question")["room.3.question"] == 1 })

	mr.Publish("room.3.question", "q")
	m := <-c.Messages()
	if m.Subscription != "room.3.question" || string(m.Payload) != "q" {
		t.Fatalf("unexpected message %+v", m)
	}

	_ = c.Unsubscribe(ctx, "room.3.question")
	waitFor(t, "channel removed", func() bool { return mr.PubSubNumSub("room.3.question")["room.3.question"] == 0 })
}

func TestBrokerConnLostWhenServerStops(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}

	broker := NewBroker(newClient(mr))
	ctx := context.Background()
	c, err := broker.Dial(ctx)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	_ = c.Subscribe(ctx, "room.1")
	waitFor(t, "channel registered", func() bool { return mr.PubSubNumSub("room.1")["room.1"] == 1 })

	mr.Close()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatalf("expected connection to report loss")
	}

	if _, err := broker.Dial(ctx); err == nil {
		t.Fatalf("expected dial to fail while server is down")
	}
}

var _ transport.Dialer = (*Broker)(nil)
