package app_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-sync/internal/app"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/memory"
	"quiz-sync/internal/transport"
)

const roomID domain.ID = "r1"

// harness plays the backend: it publishes broadcasts straight onto the hub
// while room clients run against real sessions and a shared fake clock.
type harness struct {
	t     *testing.T
	hub   *memory.Hub
	clock *clockwork.FakeClock
	ctx   context.Context
}

func newHarness(t *testing.T) *harness {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{t: t, hub: memory.NewHub(), clock: clockwork.NewFakeClock(), ctx: ctx}
}

func (h *harness) session() *transport.Session {
	s := transport.NewSession(h.hub, transport.Config{
		ReconnectDelay:       5 * time.Millisecond,
		MaxReconnectAttempts: 20,
		QueueSize:            64,
	})
	h.t.Cleanup(func() { _ = s.Close() })
	s.Connect(h.ctx)
	if !s.WaitForConnection(h.ctx, time.Second) {
		h.t.Fatalf("session did not connect")
	}
	return s
}

func (h *harness) client(id, nickname string) (*app.RoomClient, *transport.Session) {
	h.t.Helper()
	s := h.session()
	c := app.NewRoomClient(s, app.Options{
		RoomID: roomID,
		Player: domain.PlayerProfile{ID: domain.ID(id), Nickname: nickname},
		Clock:  h.clock,
	})
	go func() { _ = c.Run(h.ctx) }()
	waitView(h.t, c, "connected", func(v app.View) bool { return v.Connection == domain.ConnConnected })
	return c, s
}

func (h *harness) publish(topic string, v any) {
	h.t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		h.t.Fatalf("marshal: %v", err)
	}
	h.hub.Publish(topic, payload)
}

// room broadcasts a complete roster where the first player owns the room.
func (h *harness) room(questionCount int, ids ...string) {
	players := make([]domain.PlayerProfile, 0, len(ids))
	for i, id := range ids {
		players = append(players, domain.PlayerProfile{ID: domain.ID(id), Nickname: "nick-" + id, IsOwner: i == 0})
	}
	h.publish(domain.RoomTopic(roomID), domain.RoomEvent{
		Type: domain.RoomUpdate,
		Room: &domain.RoomState{
			ID:            roomID,
			OwnerID:       domain.ID(ids[0]),
			Status:        domain.RoomWaiting,
			QuestionCount: questionCount,
		},
		Players: players,
	})
}

func (h *harness) completeGeneration(quizID string, count int) {
	progress := 100
	h.publish(domain.GenerationTopic(roomID), domain.GenerationEvent{
		Status:        domain.GenerationCompleted,
		Progress:      &progress,
		QuizID:        quizID,
		QuestionCount: count,
	})
}

func (h *harness) deliver(quizID string, q domain.QuestionState, total int) {
	h.publish(domain.QuestionTopic(roomID), domain.QuestionEvent{
		Type:           domain.QuestionSingle,
		QuizID:         quizID,
		Question:       &q,
		TotalQuestions: total,
	})
}

func question(index int, last bool) domain.QuestionState {
	return domain.QuestionState{
		Index:        index,
		Text:         "question",
		Choices:      []string{"a", "b", "c", "d"},
		CorrectIndex: 2,
		TimeLimitSec: 15,
		IsLast:       last,
	}
}

// tap records every payload published on the given topics, in arrival order.
type tap struct {
	mu   sync.Mutex
	msgs []transport.Message
}

func (h *harness) tap(topics ...string) *tap {
	s := h.session()
	tp := &tap{}
	for _, topic := range topics {
		s.Subscribe(topic, func(m transport.Message) {
			tp.mu.Lock()
			tp.msgs = append(tp.msgs, m)
			tp.mu.Unlock()
		})
	}
	return tp
}

func (tp *tap) all() []transport.Message {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return append([]transport.Message(nil), tp.msgs...)
}

func (tp *tap) requests() []domain.QuestionRequest {
	var out []domain.QuestionRequest
	for _, m := range tp.all() {
		var req domain.QuestionRequest
		if json.Unmarshal(m.Payload, &req) == nil {
			out = append(out, req)
		}
	}
	return out
}

func (tp *tap) requested(index int) bool {
	for _, r := range tp.requests() {
		if r.Index == index {
			return true
		}
	}
	return false
}

func waitView(t *testing.T, c *app.RoomClient, what string, cond func(app.View) bool) app.View {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if v := c.View(); cond(v) {
			return v
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s; last view phase=%s players=%d", what, c.View().Phase, len(c.View().Players))
	return app.View{}
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

func activeAt(index int) func(app.View) bool {
	return func(v app.View) bool {
		return v.Phase == app.PhaseActive && v.Question != nil && v.Question.Index == index
	}
}

// startQuiz drives every client from the lobby to an active first question.
func (h *harness) startQuiz(requests *tap, quizID string, count int, clients ...*app.RoomClient) {
	h.t.Helper()
	h.completeGeneration(quizID, count)
	for _, c := range clients {
		waitView(h.t, c, "generation completed", func(v app.View) bool {
			return v.Generation.Status == domain.GenerationCompleted
		})
	}
	h.clock.Advance(app.DefaultTiming().SettleDelay)
	waitFor(h.t, "first question request", func() bool { return len(requests.requests()) >= len(clients) })
	h.deliver(quizID, question(0, count == 1), count)
	for _, c := range clients {
		waitView(h.t, c, "question 0 active", activeAt(0))
	}
}
