package app

import (
	"time"

	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
)

// startGame runs once the settle delay after generation completion elapsed.
func (c *RoomClient) startGame() {
	g := c.game
	g.settle = nil
	if g.running || g.phase == PhaseFinished || c.left {
		return
	}
	g.running = true
	g.roster.Room.Status = domain.RoomInGame
	g.roster.Room.QuizID = g.quizID
	if g.bufferQuiz != "" && g.quizID != "" && g.bufferQuiz != g.quizID {
		g.questions = make(map[int]domain.QuestionState)
	}
	c.requestQuestion(0)
}

// requestQuestion activates index from the buffer or asks the backend for it.
func (c *RoomClient) requestQuestion(index int) {
	g := c.game
	if index < 0 {
		index = 0
	}
	g.phase = PhaseIdle
	g.awaiting = index
	if q, ok := g.questions[index]; ok {
		c.activate(q)
		return
	}
	stop(&g.fallback)
	g.fallback = c.after(c.timing.QuestionFallbackDelay, func() { c.deliveryTimeout(index) })
	c.bus.PublishJSON(domain.QuestionRequestTopic(c.roomID), domain.QuestionRequest{
		RoomID: c.roomID,
		QuizID: g.quizID,
		Index:  index,
	})
}

// deliveryTimeout installs the placeholder set when the backend never sent
// the awaited question. Real data that arrived first wins.
func (c *RoomClient) deliveryTimeout(index int) {
	g := c.game
	g.fallback = nil
	if !g.running || g.placeholder || g.awaiting != index || g.phase != PhaseIdle {
		return
	}
	if _, ok := g.questions[index]; ok {
		return
	}
	set := placeholderSet(c.roomID, g.quizID, g.questionCount())
	g.placeholder = true
	g.questions = make(map[int]domain.QuestionState, len(set))
	for _, q := range set {
		g.questions[q.Index] = q
	}
	c.notice("question service unavailable, playing offline questions")
	log.Warn().Str("room", string(c.roomID)).Int("index", index).Msg("no question delivered, using placeholders")
	if q, ok := g.questions[index]; ok {
		c.activate(q)
		return
	}
	c.finish()
}

func (c *RoomClient) onQuestion(ev domain.QuestionEvent) {
	g := c.game
	if g.placeholder || g.phase == PhaseFinishing || g.phase == PhaseFinished {
		return
	}
	if ev.QuizID != "" && g.quizID != "" && ev.QuizID != g.quizID {
		log.Debug().Str("quiz", ev.QuizID).Msg("question for another quiz ignored")
		return
	}
	if ev.QuizID != "" && g.quizID == "" {
		g.bufferQuiz = ev.QuizID
	}
	if ev.TotalQuestions > 0 {
		g.totalHint = ev.TotalQuestions
	}

	var delivered []domain.QuestionState
	if ev.Question != nil {
		delivered = append(delivered, *ev.Question)
	}
	delivered = append(delivered, ev.Questions...)

	highest := -1
	for _, q := range delivered {
		if q.Index <= g.activeIndex() {
			continue
		}
		g.questions[q.Index] = q
		if q.Index > highest {
			highest = q.Index
		}
	}
	if len(delivered) > 0 {
		stop(&g.fallback)
	}

	if !g.running {
		return
	}
	switch {
	case ev.Type == domain.QuestionIndexed && ev.Index > g.activeIndex() && ev.Index != g.awaiting:
		c.moveTo(ev.Index)
	case g.phase == PhaseIdle && g.awaiting >= 0:
		if _, ok := g.questions[g.awaiting]; ok {
			c.activate(g.questions[g.awaiting])
		}
	case g.unreleased() && highest > g.activeIndex() && ev.Type != domain.QuestionSet:
		// Peers already moved on: settle the current question first.
		c.moveTo(highest)
	}
}

// moveTo jumps to index, releasing an unreleased question first.
func (c *RoomClient) moveTo(index int) {
	g := c.game
	if index <= g.activeIndex() {
		return
	}
	if g.unreleased() {
		c.release()
	}
	if g.phase == PhaseAdvancing {
		stop(&g.advance)
	}
	c.requestQuestion(index)
}

func (c *RoomClient) activate(q domain.QuestionState) {
	g := c.game
	g.stopCycleTimers()
	now := c.clock.Now()
	limit := q.TimeLimit(c.timing.DefaultTimeLimit)

	g.active = &q
	g.phase = PhaseActive
	g.awaiting = -1
	g.answered = false
	g.startedAt = now
	g.deadlineAt = now.Add(limit)
	g.started++
	for i := range g.questions {
		if i <= q.Index {
			delete(g.questions, i)
		}
	}
	for _, p := range g.roster.Players {
		g.board.Ensure(p.ID, p.Nickname)
	}

	index := q.Index
	g.deadline = c.after(limit, func() { c.expire(index, true) })
	log.Debug().Str("room", string(c.roomID)).Int("index", index).Dur("limit", limit).Msg("question active")
}

// expire moves the active question to EXPIRED. Only the first expiry for an
// index has any effect; local expiries are rebroadcast to peers.
func (c *RoomClient) expire(index int, local bool) {
	g := c.game
	if g.phase != PhaseActive || g.activeIndex() != index {
		return
	}
	g.phase = PhaseExpired
	stop(&g.deadline)
	if !g.answered {
		limit := g.active.TimeLimit(c.timing.DefaultTimeLimit)
		c.submitOwn(domain.TimeoutChoice, false, 0, limit)
	}
	if local {
		c.bus.PublishJSON(domain.TimerExpiredTopic(c.roomID), domain.TimerExpired{QuestionIndex: index, PlayerID: c.self.ID})
	}
	g.barrier = c.after(c.timing.BarrierFallbackDelay, func() {
		if c.game.phase == PhaseExpired && c.game.activeIndex() == index {
			log.Debug().Int("index", index).Msg("barrier fallback elapsed")
			c.release()
		}
	})
	c.checkBarrier()
}

// submitOwn records the local player's answer and announces it.
func (c *RoomClient) submitOwn(choice int, correct bool, delta int, elapsed time.Duration) {
	g := c.game
	sub := domain.AnswerSubmission{
		PlayerID:      c.self.ID,
		Nickname:      c.self.Nickname,
		QuestionIndex: g.active.Index,
		Choice:        choice,
		Correct:       correct,
		Delta:         delta,
		Elapsed:       elapsed,
	}
	g.ledger.Submit(sub)
	g.answered = true
	c.bus.PublishJSON(domain.AnswerTopic(c.roomID), sub)
	c.bus.PublishJSON(domain.ScoresUpdateTopic(c.roomID), domain.ScoreUpdate{
		PlayerID:      sub.PlayerID,
		Nickname:      sub.Nickname,
		QuestionIndex: sub.QuestionIndex,
		Delta:         sub.Delta,
		Correct:       sub.Correct,
		Choice:        sub.Choice,
	})
}

func (c *RoomClient) checkBarrier() {
	g := c.game
	if !g.unreleased() {
		return
	}
	if g.ledger.Ready(g.activeIndex(), g.roster.IDs()) {
		c.release()
	}
}

// release applies the active question's ledger exactly once and schedules
// the advance.
func (c *RoomClient) release() {
	g := c.game
	if !g.unreleased() {
		return
	}
	index := g.activeIndex()
	entries := g.ledger.Release(index)
	g.board.Apply(entries)
	stop(&g.deadline)
	stop(&g.barrier)
	g.phase = PhaseAdvancing

	if g.roster.IsOwner {
		c.bus.PublishJSON(domain.ScoresSyncTopic(c.roomID), domain.ScoreSync{
			ThroughIndex: index,
			Scores:       g.board.Snapshot(),
		})
	}
	g.advance = c.after(c.timing.AdvanceDelay, func() { c.advanceFrom(index) })
	log.Debug().Str("room", string(c.roomID)).Int("index", index).Int("applied", len(entries)).Msg("barrier released")
}

func (c *RoomClient) advanceFrom(index int) {
	g := c.game
	g.advance = nil
	if g.phase != PhaseAdvancing || g.activeIndex() != index {
		return
	}
	if c.isLast(index) {
		c.finish()
		return
	}
	next := index + 1
	if g.roster.IsOwner {
		c.bus.PublishJSON(domain.QuestionNextTopic(c.roomID), domain.QuestionRequest{RoomID: c.roomID, QuizID: g.quizID, Index: next})
	}
	c.requestQuestion(next)
}

// isLast compares against the authoritative question count rather than the
// buffered questions, which may be sparse.
func (c *RoomClient) isLast(index int) bool {
	g := c.game
	if n := g.questionCount(); n > 0 {
		return index+1 >= n
	}
	return g.active != nil && g.active.IsLast
}

func (c *RoomClient) finish() {
	g := c.game
	g.phase = PhaseFinishing
	g.stopCycleTimers()

	end := domain.GameEnd{RoomID: c.roomID, QuizID: g.quizID, Scores: g.board.Snapshot()}
	c.bus.PublishJSON(domain.FinishTopic(c.roomID), end)
	if g.roster.IsOwner {
		c.bus.PublishJSON(domain.GameEndTopic(c.roomID), end)
	}
	g.running = false
	g.roster.Room.Status = domain.RoomFinished
	g.phase = PhaseFinished

	own, _ := g.board.Get(c.self.ID)
	log.Info().Str("room", string(c.roomID)).Int("score", own.Score).Msg("game finished")
	if c.api == nil {
		return
	}
	ctx := c.runCtx
	go func() {
		if err := c.api.SaveExperience(ctx, c.self.ID, own.Score); err != nil {
			err = c.apiErr("save experience", err)
			log.Warn().Err(err).Msg("experience not saved")
			c.post(func() { c.notice("could not save experience points") })
		}
	}()
}
