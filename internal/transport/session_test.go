package transport_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/memory"
	"quiz-sync/internal/transport"
)

func newTestSession(hub *memory.Hub, attempts int) *transport.Session {
	return transport.NewSession(hub, transport.Config{
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: attempts,
		QueueSize:            16,
	})
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) handle(m transport.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, string(m.Payload))
	r.mu.Unlock()
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubscribeBeforeConnect(t *testing.T) {
	hub := memory.NewHub()
	s := newTestSession(hub, 3)
	defer s.Close()

	rec := &recorder{}
	s.Subscribe("room.1.question", rec.handle)
	s.Connect(context.Background())

	if !s.WaitForConnection(context.Background(), time.Second) {
		t.Fatalf("expected session to connect")
	}
	hub.Publish("room.1.question", []byte("q0"))

	waitFor(t, "delivery", func() bool { return len(rec.all()) == 1 })
	if got := rec.all()[0]; got != "q0" {
		t.Fatalf("expected q0, got %s", got)
	}
}

func TestQueuedPublishFlushedAfterSubscriptionsRestored(t *testing.T) {
	hub := memory.NewHub()

	// A responder answers every request on the reply topic.
	responder := newTestSession(hub, 5)
	defer responder.Close()
	responder.Subscribe("room.1.question.request", func(m transport.Message) {
		responder.Publish("room.1.question", append([]byte("reply:"), m.Payload...))
	})
	responder.Connect(context.Background())
	waitFor(t, "responder connected", responder.IsConnected)

	hub.SetDown(true)
	s := newTestSession(hub, 50)
	defer s.Close()
	rec := &recorder{}
	s.Connect(context.Background())

	// Both the subscription and the request are registered while offline.
	s.Subscribe("room.1.question", rec.handle)
	s.Publish("room.1.question.request", []byte("0"))
	if s.Stats().Queued != 1 {
		t.Fatalf("expected one queued message, got %d", s.Stats().Queued)
	}

	hub.SetDown(false)
	waitFor(t, "reply", func() bool { return len(rec.all()) == 1 })
	if rec.all()[0] != "reply:0" {
		t.Fatalf("unexpected reply %q", rec.all()[0])
	}
	if s.Stats().Queued != 0 {
		t.Fatalf("expected queue drained")
	}
}

func TestReconnectRestoresSubscriptionsWithoutDuplicates(t *testing.T) {
	hub := memory.NewHub()
	s := newTestSession(hub, 5)
	defer s.Close()

	question, scores := &recorder{}, &recorder{}
	s.Subscribe("room.1.question", question.handle)
	s.Subscribe("room.1.scores.update", scores.handle)
	s.Connect(context.Background())
	waitFor(t, "connect", s.IsConnected)

	for i := 0; i < 3; i++ {
		hub.DropAll()
		waitFor(t, "disconnect noticed", func() bool { return hub.Connections() == 1 && s.IsConnected() })
	}

	hub.Publish("room.1.question", []byte("q1"))
	hub.Publish("room.1.scores.update", []byte("s1"))
	waitFor(t, "deliveries", func() bool { return len(question.all()) >= 1 && len(scores.all()) >= 1 })
	time.Sleep(20 * time.Millisecond)

	if n := len(question.all()); n != 1 {
		t.Fatalf("expected exactly one question delivery, got %d", n)
	}
	if n := len(scores.all()); n != 1 {
		t.Fatalf("expected exactly one score delivery, got %d", n)
	}
}

func TestDuplicateSubscribeReplacesHandler(t *testing.T) {
	hub := memory.NewHub()
	s := newTestSession(hub, 3)
	defer s.Close()

	first, second := &recorder{}, &recorder{}
	s.Subscribe("room.1", first.handle)
	s.Subscribe("room.1", second.handle)
	s.Connect(context.Background())
	waitFor(t, "connect", s.IsConnected)

	hub.Publish("room.1", []byte("x"))
	waitFor(t, "delivery", func() bool { return len(second.all()) == 1 })
	if len(first.all()) != 0 {
		t.Fatalf("expected replaced handler to receive nothing")
	}
	if s.Stats().Subscriptions != 1 {
		t.Fatalf("expected a single subscription, got %d", s.Stats().Subscriptions)
	}
}

func TestUnsubscribeWhileDisconnectedDropsPendingRegistration(t *testing.T) {
	hub := memory.NewHub()
	hub.SetDown(true)
	s := newTestSession(hub, 50)
	defer s.Close()

	rec := &recorder{}
	s.Subscribe("room.1.timer.expired", rec.handle)
	s.Unsubscribe("room.1.timer.expired")
	s.Unsubscribe("room.1.timer.expired")
	s.Connect(context.Background())
	hub.SetDown(false)
	waitFor(t, "connect", s.IsConnected)

	hub.Publish("room.1.timer.expired", []byte("0"))
	time.Sleep(20 * time.Millisecond)
	if len(rec.all()) != 0 {
		t.Fatalf("expected no delivery after unsubscribe")
	}
}

func TestQueueDropsOldestWhenFull(t *testing.T) {
	hub := memory.NewHub()
	hub.SetDown(true)
	s := transport.NewSession(hub, transport.Config{ReconnectDelay: 5 * time.Millisecond, MaxReconnectAttempts: 50, QueueSize: 2})
	defer s.Close()

	listener := newTestSession(hub, 50)
	defer listener.Close()
	rec := &recorder{}
	listener.Subscribe("room.1.answer", rec.handle)

	for _, p := range []string{"a", "b", "c"} {
		s.Publish("room.1.answer", []byte(p))
	}
	if got := s.Stats().Queued; got != 2 {
		t.Fatalf("expected bounded queue of 2, got %d", got)
	}

	hub.SetDown(false)
	listener.Connect(context.Background())
	waitFor(t, "listener", listener.IsConnected)
	s.Connect(context.Background())

	waitFor(t, "flush", func() bool { return len(rec.all()) == 2 })
	if got := rec.all(); got[0] != "b" || got[1] != "c" {
		t.Fatalf("expected FIFO replay of b,c got %v", got)
	}
}

func TestReconnectExhaustionIsFatal(t *testing.T) {
	hub := memory.NewHub()
	hub.SetDown(true)
	s := newTestSession(hub, 2)
	defer s.Close()

	s.Connect(context.Background())
	select {
	case <-s.Failed():
	case <-time.After(2 * time.Second):
		t.Fatalf("expected session to give up")
	}
	if !errors.Is(s.Err(), domain.ErrReconnectExhausted) {
		t.Fatalf("expected exhausted error, got %v", s.Err())
	}
	if !s.Stats().Failed {
		t.Fatalf("expected stats to report failure")
	}

	// No further automatic retries once failed.
	hub.SetDown(false)
	time.Sleep(30 * time.Millisecond)
	if s.IsConnected() {
		t.Fatalf("expected no reconnect after exhaustion")
	}
}

func TestWaitForConnectionTimesOut(t *testing.T) {
	hub := memory.NewHub()
	hub.SetDown(true)
	s := newTestSession(hub, 50)
	defer s.Close()
	s.Connect(context.Background())

	if s.WaitForConnection(context.Background(), 20*time.Millisecond) {
		t.Fatalf("expected timeout while broker is down")
	}
}

func TestStateListenerSeesTransitions(t *testing.T) {
	hub := memory.NewHub()
	s := newTestSession(hub, 5)
	defer s.Close()

	var mu sync.Mutex
	var states []domain.ConnState
	s.OnStateChange(func(st domain.ConnState) {
		mu.Lock()
		states = append(states, st)
		mu.Unlock()
	})
	s.Connect(context.Background())
	waitFor(t, "connect", s.IsConnected)
	hub.DropAll()
	waitFor(t, "reconnect", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(states) >= 4
	})

	mu.Lock()
	defer mu.Unlock()
	want := []domain.ConnState{domain.ConnConnecting, domain.ConnConnected, domain.ConnDisconnected, domain.ConnConnecting}
	for i, st := range want {
		if states[i] != st {
			t.Fatalf("transition %d: want %s got %s (all %v)", i, st, states[i], states)
		}
	}
}
