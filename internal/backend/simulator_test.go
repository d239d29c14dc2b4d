package backend_test

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-sync/internal/backend"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/memory"
	"quiz-sync/internal/transport"
)

type fixture struct {
	t     *testing.T
	ctx   context.Context
	hub   *memory.Hub
	clock *clockwork.FakeClock
	bus   *transport.Session
}

func newFixture(t *testing.T, cfg backend.Config) *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	f := &fixture{t: t, ctx: ctx, hub: memory.NewHub(), clock: clockwork.NewFakeClock()}
	f.bus = f.session()

	cfg.Clock = f.clock
	quizzes := memory.NewQuizRepository(memory.NewStaticQuizLoader(backend.SampleBanks()), time.Minute)
	sim := backend.NewSimulator(f.bus, memory.NewRoomStore(), quizzes, cfg)
	go func() { _ = sim.Run(ctx) }()
	waitFor(t, "simulator subscriptions", func() bool { return f.bus.Stats().Subscriptions == 9 })
	return f
}

func (f *fixture) session() *transport.Session {
	s := transport.NewSession(f.hub, transport.Config{ReconnectDelay: 5 * time.Millisecond, QueueSize: 64})
	f.t.Cleanup(func() { _ = s.Close() })
	s.Connect(f.ctx)
	if !s.WaitForConnection(f.ctx, time.Second) {
		f.t.Fatalf("session did not connect")
	}
	return s
}

func (f *fixture) publish(topic string, v any) {
	payload, _ := json.Marshal(v)
	f.hub.Publish(topic, payload)
}

type recorder struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (f *fixture) record(topic string) *recorder {
	r := &recorder{}
	f.session().Subscribe(topic, func(m transport.Message) {
		r.mu.Lock()
		r.msgs = append(r.msgs, m.Payload)
		r.mu.Unlock()
	})
	return r
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) decode(t *testing.T, i int, v any) {
	t.Helper()
	r.mu.Lock()
	raw := r.msgs[i]
	r.mu.Unlock()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
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

func (f *fixture) join(id string) {
	f.publish(domain.JoinTopic("r1"), domain.MembershipIntent{RoomID: "r1", Player: domain.PlayerProfile{ID: domain.ID(id), Nickname: "nick-" + id}})
}

func TestJoinBroadcastsRosterWithOwner(t *testing.T) {
	f := newFixture(t, backend.Config{})
	events := f.record(domain.RoomTopic("r1"))

	f.join("p1")
	f.join("p2")
	waitFor(t, "four roster events", func() bool { return events.len() == 4 })

	var joined, update domain.RoomEvent
	events.decode(t, 2, &joined)
	events.decode(t, 3, &update)
	if joined.Type != domain.RoomPlayerJoined || joined.Player.ID != "p2" {
		t.Fatalf("unexpected join event %+v", joined)
	}
	if update.Type != domain.RoomUpdate || len(update.Players) != 2 || update.Room.OwnerID != "p1" {
		t.Fatalf("unexpected roster %+v", update)
	}
	if !update.Players[0].IsOwner || update.Players[1].IsOwner {
		t.Fatalf("expected only p1 flagged owner, got %+v", update.Players)
	}
}

func TestOwnerLeavingPromotesNextPlayer(t *testing.T) {
	f := newFixture(t, backend.Config{})
	events := f.record(domain.RoomTopic("r1"))
	f.join("p1")
	f.join("p2")
	waitFor(t, "joins", func() bool { return events.len() == 4 })

	f.publish(domain.LeaveTopic("r1"), domain.MembershipIntent{RoomID: "r1", Player: domain.PlayerProfile{ID: "p1"}})
	waitFor(t, "leave event", func() bool { return events.len() == 5 })
	var left domain.RoomEvent
	events.decode(t, 4, &left)
	if left.Type != domain.RoomPlayerLeft || left.Player.ID != "p1" || left.Room.OwnerID != "p2" {
		t.Fatalf("unexpected leave event %+v", left)
	}
}

func TestGenerationProgressAndQuestionServing(t *testing.T) {
	f := newFixture(t, backend.Config{Stages: 3, StageDelay: time.Second})
	rosters := f.record(domain.RoomTopic("r1"))
	progress := f.record(domain.GenerationTopic("r1"))
	questions := f.record(domain.QuestionTopic("r1"))

	f.join("p1")
	waitFor(t, "join", func() bool { return rosters.len() == 2 })
	f.publish(domain.GenerateTopic("r1"), domain.GenerateRequest{RoomID: "r1", Count: 3, RequestedBy: "p1"})

	waitFor(t, "started", func() bool { return progress.len() == 1 })
	for stage := 1; stage <= 3; stage++ {
		if err := f.clock.BlockUntilContext(f.ctx, 1); err != nil {
			t.Fatalf("block: %v", err)
		}
		f.clock.Advance(time.Second)
		want := stage + 1
		waitFor(t, "stage event", func() bool { return progress.len() >= want })
	}
	waitFor(t, "completion", func() bool { return progress.len() == 5 })

	last := -1
	var done domain.GenerationEvent
	for i := 0; i < 5; i++ {
		var ev domain.GenerationEvent
		progress.decode(t, i, &ev)
		if ev.Progress == nil || *ev.Progress < last {
			t.Fatalf("progress must be present and monotone, event %d: %+v", i, ev)
		}
		last = *ev.Progress
		done = ev
	}
	if done.Status != domain.GenerationCompleted || done.QuestionCount != 3 || done.QuizID == "" {
		t.Fatalf("unexpected completion %+v", done)
	}

	req := domain.QuestionRequest{RoomID: "r1", QuizID: done.QuizID, Index: 0}
	f.publish(domain.QuestionRequestTopic("r1"), req)
	f.publish(domain.QuestionRequestTopic("r1"), req)
	req.Index = 2
	f.publish(domain.QuestionNextTopic("r1"), req)
	waitFor(t, "two questions", func() bool { return questions.len() == 2 })

	var first, third domain.QuestionEvent
	questions.decode(t, 0, &first)
	questions.decode(t, 1, &third)
	if first.Question.Index != 0 || first.TotalQuestions != 3 || first.QuizID != done.QuizID {
		t.Fatalf("unexpected first question %+v", first)
	}
	if third.Question.Index != 2 || !third.Question.IsLast {
		t.Fatalf("expected the last question, got %+v", third.Question)
	}
}

func TestGenerationFailsForMissingBank(t *testing.T) {
	f := newFixture(t, backend.Config{Stages: 1, StageDelay: time.Second, Banks: map[string]string{"history": "bank-history"}})
	rosters := f.record(domain.RoomTopic("r1"))
	progress := f.record(domain.GenerationTopic("r1"))

	f.join("p1")
	waitFor(t, "join", func() bool { return rosters.len() == 2 })
	// Only the owner may start a build.
	f.publish(domain.GenerateTopic("r1"), domain.GenerateRequest{RoomID: "r1", Category: "history", RequestedBy: "p2"})
	f.publish(domain.GenerateTopic("r1"), domain.GenerateRequest{RoomID: "r1", Category: "history", RequestedBy: "p1"})

	waitFor(t, "started", func() bool { return progress.len() == 1 })
	if err := f.clock.BlockUntilContext(f.ctx, 1); err != nil {
		t.Fatalf("block: %v", err)
	}
	f.clock.Advance(time.Second)
	waitFor(t, "failure", func() bool { return progress.len() == 3 })

	var failed domain.GenerationEvent
	progress.decode(t, 2, &failed)
	if failed.Status != domain.GenerationFailed || !strings.Contains(failed.Message, "bank-history") {
		t.Fatalf("unexpected failure event %+v", failed)
	}
}
