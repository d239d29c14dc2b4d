package app

import (
	"time"

	"github.com/jonboulle/clockwork"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/generation"
	"quiz-sync/internal/roster"
	"quiz-sync/internal/scoring"
)

// gameSession is the loop-owned state of one room. Only the event loop
// touches it.
type gameSession struct {
	roster  roster.Roster
	monitor *generation.Monitor
	ledger  *scoring.Ledger
	board   *scoring.Board

	quizID     string
	bufferQuiz string
	questions  map[int]domain.QuestionState
	totalHint  int

	running     bool
	phase       Phase
	active      *domain.QuestionState
	startedAt   time.Time
	deadlineAt  time.Time
	answered    bool
	awaiting    int
	placeholder bool
	started     int

	deadline clockwork.Timer
	barrier  clockwork.Timer
	advance  clockwork.Timer
	settle   clockwork.Timer
	fallback clockwork.Timer
}

func newGameSession(room domain.RoomState, self domain.ID, now func() time.Time) *gameSession {
	return &gameSession{
		roster:    roster.New(room, self),
		monitor:   generation.NewMonitor(),
		ledger:    scoring.NewLedger(),
		board:     scoring.NewBoardWithClock(now),
		questions: make(map[int]domain.QuestionState),
		phase:     PhaseIdle,
		awaiting:  -1,
	}
}

func (g *gameSession) activeIndex() int {
	if g.active == nil {
		return -1
	}
	return g.active.Index
}

// unreleased reports whether the active question still awaits its barrier.
func (g *gameSession) unreleased() bool {
	return g.phase == PhaseActive || g.phase == PhaseExpired
}

// questionCount prefers the room metadata, then the generator's count, then
// the delivery hint. Zero means unknown.
func (g *gameSession) questionCount() int {
	if g.roster.Room.QuestionCount > 0 {
		return g.roster.Room.QuestionCount
	}
	if n := g.monitor.QuestionCount(); n > 0 {
		return n
	}
	return g.totalHint
}

func (g *gameSession) stopCycleTimers() {
	stop(&g.deadline)
	stop(&g.barrier)
	stop(&g.advance)
	stop(&g.fallback)
}

func (g *gameSession) stopAll() {
	g.stopCycleTimers()
	stop(&g.settle)
}

// reset returns the session to the lobby for a new game, keeping the roster.
func (g *gameSession) reset() {
	g.stopAll()
	g.monitor.Reset()
	g.ledger.Reset()
	g.board.Reset()
	for _, p := range g.roster.Players {
		g.board.Ensure(p.ID, p.Nickname)
	}
	g.quizID, g.bufferQuiz = "", ""
	g.questions = make(map[int]domain.QuestionState)
	g.totalHint = 0
	g.running = false
	g.phase = PhaseIdle
	g.active = nil
	g.answered = false
	g.awaiting = -1
	g.placeholder = false
	g.started = 0
	g.roster.Room.Status = domain.RoomWaiting
	g.roster.Room.QuizID = ""
}

func stop(t *clockwork.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
