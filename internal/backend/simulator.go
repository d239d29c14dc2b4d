package backend

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/transport"
)

// Bus is the slice of the transport session the simulator needs.
type Bus interface {
	Subscribe(topic string, handler transport.Handler)
	Unsubscribe(topic string)
	PublishJSON(topic string, v any)
}

// QuizRepository loads bank quizzes and stores generated ones.
type QuizRepository interface {
	GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
	PutQuiz(ctx context.Context, quiz domain.Quiz) error
}

// Config tunes the simulated generator.
type Config struct {
	// Stages is the number of IN_PROGRESS events before completion.
	Stages     int
	StageDelay time.Duration
	// DefaultBank is the bank quiz used for categories without an entry in Banks.
	DefaultBank string
	Banks       map[string]string
	// DedupWindow collapses identical question requests from several clients.
	DedupWindow time.Duration
	Clock       clockwork.Clock
}

func (c Config) withDefaults() Config {
	if c.Stages <= 0 {
		c.Stages = 3
	}
	if c.StageDelay <= 0 {
		c.StageDelay = 500 * time.Millisecond
	}
	if c.DefaultBank == "" {
		c.DefaultBank = "bank-general"
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Second
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Simulator stands in for the room and quiz-generation backend: it keeps the
// authoritative rosters, builds quizzes from a question bank and serves
// question requests.
type Simulator struct {
	bus     Bus
	rooms   RoomStore
	quizzes QuizRepository
	cfg     Config

	mu  sync.Mutex
	rnd *rand.Rand
	wg  sync.WaitGroup
}

func NewSimulator(bus Bus, rooms RoomStore, quizzes QuizRepository, cfg Config) *Simulator {
	cfg = cfg.withDefaults()
	return &Simulator{
		bus:     bus,
		rooms:   rooms,
		quizzes: quizzes,
		cfg:     cfg,
		rnd:     rand.New(rand.NewSource(cfg.Clock.Now().UnixNano())),
	}
}

func (s *Simulator) handlers(ctx context.Context) map[string]transport.Handler {
	return map[string]transport.Handler{
		"room.*.join":         decode(s.onJoin),
		"room.*.leave":        decode(s.onLeave),
		"room.*.owner.change": decode(s.onOwnerChange),
		"room.*.status":       decode(s.onStatus),
		"room.*.quiz.generate": decode(func(roomID domain.ID, req domain.GenerateRequest) {
			s.onGenerate(ctx, roomID, req)
		}),
		"room.*.question.request": decode(s.onQuestionRequest),
		"room.*.question.next":    decode(s.onQuestionRequest),
		"room.*.answer":           decode(s.onAnswer),
		"room.*.game.end":         decode(s.onGameEnd),
	}
}

// Run serves until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	handlers := s.handlers(ctx)
	for pattern, h := range handlers {
		s.bus.Subscribe(pattern, h)
	}
	log.Info().Int("stages", s.cfg.Stages).Str("bank", s.cfg.DefaultBank).Msg("backend simulator running")

	<-ctx.Done()
	for pattern := range handlers {
		s.bus.Unsubscribe(pattern)
	}
	s.wg.Wait()
	return nil
}

// decode resolves the room from the topic and decodes the payload.
func decode[T any](apply func(domain.ID, T)) transport.Handler {
	return func(m transport.Message) {
		roomID, ok := domain.RoomIDFromTopic(m.Topic)
		if !ok {
			return
		}
		var v T
		if err := domain.Decode(m.Payload, &v); err != nil {
			log.Warn().Err(err).Str("topic", m.Topic).Msg("backend dropped message")
			return
		}
		apply(roomID, v)
	}
}

func (s *Simulator) broadcast(room *Room, typ domain.RoomEventType, player *domain.PlayerProfile) {
	state, players := room.Snapshot()
	ev := domain.RoomEvent{Type: typ, Room: &state, Player: player}
	if typ == domain.RoomUpdate {
		ev.Players = players
	}
	s.bus.PublishJSON(domain.RoomTopic(state.ID), ev)
}

func (s *Simulator) onJoin(roomID domain.ID, in domain.MembershipIntent) {
	if in.Player.ID == "" {
		return
	}
	room := s.rooms.GetOrCreate(roomID)
	p := in.Player
	if room.Join(p) {
		log.Info().Str("room", string(roomID)).Str("player", string(p.ID)).Msg("player joined")
		s.broadcast(room, domain.RoomPlayerJoined, &p)
	} else {
		s.broadcast(room, domain.RoomPlayerReady, &p)
	}
	s.broadcast(room, domain.RoomUpdate, nil)
}

func (s *Simulator) onLeave(roomID domain.ID, in domain.MembershipIntent) {
	room, ok := s.rooms.Get(roomID)
	if !ok || !room.Leave(in.Player.ID) {
		return
	}
	log.Info().Str("room", string(roomID)).Str("player", string(in.Player.ID)).Msg("player left")
	p := domain.PlayerProfile{ID: in.Player.ID, Nickname: in.Player.Nickname}
	s.broadcast(room, domain.RoomPlayerLeft, &p)
	s.rooms.DeleteIfEmpty(roomID)
}

func (s *Simulator) onOwnerChange(roomID domain.ID, oc domain.OwnerChange) {
	if room, ok := s.rooms.Get(roomID); ok && room.TransferOwner(oc.PreviousOwnerID, oc.NewOwnerID) {
		log.Info().Str("room", string(roomID)).Str("owner", string(oc.NewOwnerID)).Msg("ownership transferred")
	}
}

// onStatus follows an owner restarting a finished room.
func (s *Simulator) onStatus(roomID domain.ID, st domain.StatusSnapshot) {
	room, ok := s.rooms.Get(roomID)
	if !ok || st.Room.OwnerID != room.Owner() {
		return
	}
	state, _ := room.Snapshot()
	if state.Status == domain.RoomFinished && st.Room.Status == domain.RoomWaiting {
		room.Reopen()
	}
}

func (s *Simulator) onGenerate(ctx context.Context, roomID domain.ID, req domain.GenerateRequest) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		log.Warn().Str("room", string(roomID)).Msg("generation requested for unknown room")
		return
	}
	if req.RequestedBy != "" && req.RequestedBy != room.Owner() {
		log.Warn().Str("room", string(roomID)).Str("player", string(req.RequestedBy)).Msg("generation requested by non-owner")
		return
	}
	room.Configure(req.Category, req.Difficulty, req.Count)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.generate(ctx, room, roomID, req)
	}()
}

func (s *Simulator) progress(roomID domain.ID, ev domain.GenerationEvent) {
	ev.TotalStages = s.cfg.Stages
	s.bus.PublishJSON(domain.GenerationTopic(roomID), ev)
}

func (s *Simulator) generate(ctx context.Context, room *Room, roomID domain.ID, req domain.GenerateRequest) {
	zero := 0
	s.progress(roomID, domain.GenerationEvent{Status: domain.GenerationStarted, Progress: &zero})
	for stage := 1; stage <= s.cfg.Stages; stage++ {
		select {
		case <-ctx.Done():
			return
		case <-s.cfg.Clock.After(s.cfg.StageDelay):
		}
		pct := stage * 90 / s.cfg.Stages
		s.progress(roomID, domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: &pct, Stage: stage})
	}

	quiz, err := s.build(ctx, req)
	if err != nil {
		log.Warn().Err(err).Str("room", string(roomID)).Msg("quiz generation failed")
		s.progress(roomID, domain.GenerationEvent{Status: domain.GenerationFailed, Message: err.Error()})
		return
	}
	room.AssignQuiz(quiz.ID, len(quiz.Questions))
	done := 100
	s.progress(roomID, domain.GenerationEvent{
		Status:        domain.GenerationCompleted,
		Progress:      &done,
		Stage:         s.cfg.Stages,
		QuizID:        quiz.ID,
		QuestionCount: len(quiz.Questions),
	})
	log.Info().Str("room", string(roomID)).Str("quiz", quiz.ID).Int("questions", len(quiz.Questions)).Msg("quiz generated")
}

// build samples the requested number of questions from the category's bank
// and stores the result under a fresh quiz id.
func (s *Simulator) build(ctx context.Context, req domain.GenerateRequest) (domain.Quiz, error) {
	bankID := s.cfg.DefaultBank
	if id, ok := s.cfg.Banks[req.Category]; ok {
		bankID = id
	}
	bank, err := s.quizzes.GetQuiz(ctx, bankID)
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load bank %s: %w", bankID, err)
	}
	if len(bank.Questions) == 0 {
		return domain.Quiz{}, fmt.Errorf("bank %s: %w", bankID, domain.ErrQuestionNotFound)
	}
	count := req.Count
	if count <= 0 || count > len(bank.Questions) {
		count = len(bank.Questions)
	}

	s.mu.Lock()
	order := s.rnd.Perm(len(bank.Questions))[:count]
	s.mu.Unlock()

	quiz := domain.Quiz{
		ID:         uuid.NewString(),
		Category:   req.Category,
		Difficulty: req.Difficulty,
		Questions:  make([]domain.Question, 0, count),
	}
	for _, i := range order {
		quiz.Questions = append(quiz.Questions, bank.Questions[i])
	}
	if err := s.quizzes.PutQuiz(ctx, quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("store quiz: %w", err)
	}
	return quiz, nil
}

func (s *Simulator) onQuestionRequest(roomID domain.ID, req domain.QuestionRequest) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	quizID := req.QuizID
	if quizID == "" {
		quizID = room.QuizID()
	}
	if quizID == "" || !room.Serve(req.Index, s.cfg.Clock.Now(), s.cfg.DedupWindow) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	quiz, err := s.quizzes.GetQuiz(ctx, quizID)
	if err != nil {
		log.Warn().Err(err).Str("quiz", quizID).Msg("question request for unavailable quiz")
		return
	}
	q, err := quiz.QuestionAt(req.Index)
	if err != nil {
		log.Warn().Err(err).Str("quiz", quizID).Int("index", req.Index).Msg("question request out of range")
		return
	}
	s.bus.PublishJSON(domain.QuestionTopic(roomID), domain.QuestionEvent{
		Type:           domain.QuestionSingle,
		QuizID:         quizID,
		Question:       &q,
		TotalQuestions: len(quiz.Questions),
	})
}

func (s *Simulator) onAnswer(roomID domain.ID, a domain.AnswerSubmission) {
	log.Debug().Str("room", string(roomID)).Str("player", string(a.PlayerID)).
		Int("index", a.QuestionIndex).Bool("correct", a.Correct).Msg("answer submitted")
}

func (s *Simulator) onGameEnd(roomID domain.ID, end domain.GameEnd) {
	room, ok := s.rooms.Get(roomID)
	if !ok {
		return
	}
	room.Finish()
	ev := log.Info().Str("room", string(roomID)).Str("quiz", end.QuizID)
	if len(end.Scores) > 0 {
		ev = ev.Str("winner", string(end.Scores[0].PlayerID)).Int("score", end.Scores[0].Score)
	}
	ev.Msg("game ended")
}
