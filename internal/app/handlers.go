package app

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/roster"
	"quiz-sync/internal/transport"
)

func (c *RoomClient) topics() []string {
	return []string{
		domain.RoomTopic(c.roomID),
		domain.StatusTopic(c.roomID),
		domain.OwnerChangeTopic(c.roomID),
		domain.GenerationTopic(c.roomID),
		domain.QuestionTopic(c.roomID),
		domain.TimerExpiredTopic(c.roomID),
		domain.ScoresUpdateTopic(c.roomID),
		domain.ScoresSyncTopic(c.roomID),
		domain.ChatTopic(c.roomID),
	}
}

func (c *RoomClient) subscribeAll() {
	c.bus.Subscribe(domain.RoomTopic(c.roomID), handle(c, c.onRoomEvent))
	c.bus.Subscribe(domain.StatusTopic(c.roomID), handle(c, c.onStatus))
	c.bus.Subscribe(domain.OwnerChangeTopic(c.roomID), handle(c, c.onOwnerChange))
	c.bus.Subscribe(domain.GenerationTopic(c.roomID), handle(c, c.onGeneration))
	c.bus.Subscribe(domain.QuestionTopic(c.roomID), handle(c, c.onQuestion))
	c.bus.Subscribe(domain.TimerExpiredTopic(c.roomID), handle(c, c.onTimerExpired))
	c.bus.Subscribe(domain.ScoresUpdateTopic(c.roomID), handle(c, c.onScoreUpdate))
	c.bus.Subscribe(domain.ScoresSyncTopic(c.roomID), handle(c, c.onScoreSync))
	c.bus.Subscribe(domain.ChatTopic(c.roomID), handle(c, c.onChat))
}

// handle decodes on the transport goroutine and applies on the event loop.
// Malformed payloads are logged and dropped.
func handle[T any](c *RoomClient, apply func(T)) transport.Handler {
	return func(m transport.Message) {
		var v T
		if err := domain.Decode(m.Payload, &v); err != nil {
			log.Warn().Err(err).Str("topic", m.Topic).Msg("dropping inbound message")
			return
		}
		c.post(func() {
			if c.left {
				return
			}
			apply(v)
		})
	}
}

func (c *RoomClient) onConnState(st domain.ConnState) {
	prev := c.conn
	c.conn = st
	if st == domain.ConnConnected && prev != domain.ConnConnected && c.game.roster.IsOwner && !c.left {
		// Peers may have missed broadcasts while we were away.
		c.publishStatus()
	}
}

func (c *RoomClient) onRoomEvent(ev domain.RoomEvent) {
	g := c.game
	prevOwner := g.roster.IsOwner
	switch ev.Type {
	case domain.RoomPlayerJoined:
		var players []domain.PlayerProfile
		if ev.Player != nil {
			players = append(players, *ev.Player)
		}
		g.roster = roster.Reconcile(g.roster, roster.Broadcast{Room: ev.Room, Players: players, Partial: true})
	case domain.RoomPlayerLeft:
		if ev.Room != nil {
			g.roster = roster.Reconcile(g.roster, roster.Broadcast{Room: ev.Room})
		}
		if ev.Player != nil {
			g.roster = roster.ApplyLeave(g.roster, ev.Player.ID)
			g.ledger.Forget(ev.Player.ID)
		}
	case domain.RoomPlayerReady:
		if ev.Room != nil {
			g.roster = roster.Reconcile(g.roster, roster.Broadcast{Room: ev.Room})
		}
		if ev.Player != nil {
			g.roster = roster.ApplyReady(g.roster, ev.Player.ID, ev.Player.IsReady)
		}
	default:
		g.roster = roster.Reconcile(g.roster, roster.Broadcast{Room: ev.Room, Players: ev.Players})
	}
	c.afterRosterChange(prevOwner)
}

func (c *RoomClient) onStatus(s domain.StatusSnapshot) {
	g := c.game
	prevOwner := g.roster.IsOwner
	room := s.Room
	g.roster = roster.Reconcile(g.roster, roster.Broadcast{Room: &room, Players: s.Players})

	if g.phase == PhaseFinished && s.Room.Status == domain.RoomWaiting {
		g.reset()
		c.afterRosterChange(prevOwner)
		return
	}
	if s.GameStatus != nil && s.GameStatus.Status != domain.GenerationIdle {
		progress := s.GameStatus.Progress
		c.onGeneration(domain.GenerationEvent{
			Status:      s.GameStatus.Status,
			Progress:    &progress,
			Stage:       s.GameStatus.Stage,
			TotalStages: s.GameStatus.TotalStages,
			QuizID:      s.GameStatus.QuizID,
			Message:     s.GameStatus.Message,
		})
	}
	// A client that joined mid-game catches up from the owner's snapshot.
	if !g.running && g.phase == PhaseIdle && s.Room.Status == domain.RoomInGame && s.Room.QuizID != "" && g.settle == nil {
		g.quizID = s.Room.QuizID
		g.running = true
		c.requestQuestion(s.QuestionIndex)
	}
	c.afterRosterChange(prevOwner)
}

func (c *RoomClient) onOwnerChange(oc domain.OwnerChange) {
	prevOwner := c.game.roster.IsOwner
	c.game.roster = roster.ApplyOwnerChange(c.game.roster, oc.NewOwnerID)
	c.afterRosterChange(prevOwner)
}

// afterRosterChange keeps the board and barrier in step with membership.
func (c *RoomClient) afterRosterChange(wasOwner bool) {
	g := c.game
	for _, p := range g.roster.Players {
		g.board.Ensure(p.ID, p.Nickname)
	}
	if g.roster.IsOwner && !wasOwner {
		log.Info().Str("room", string(c.roomID)).Msg("became room owner")
		c.publishStatus()
	}
	c.checkBarrier()
}

func (c *RoomClient) onGeneration(ev domain.GenerationEvent) {
	g := c.game
	// A start after a failure opens a new cycle; duplicates of a finished
	// one are ignored by the monitor.
	if ev.Status == domain.GenerationStarted && g.monitor.Status().Status == domain.GenerationFailed {
		g.monitor.Reset()
	}
	tr := g.monitor.Apply(ev)
	switch {
	case tr.Completed:
		if tr.Status.QuizID != "" {
			g.quizID = tr.Status.QuizID
		}
		log.Info().Str("room", string(c.roomID)).Str("quiz", g.quizID).Msg("quiz generation completed")
		stop(&g.settle)
		g.settle = c.after(c.timing.SettleDelay, c.startGame)
	case tr.Failed:
		g.roster.Room.Status = domain.RoomWaiting
		msg := tr.Status.Message
		if msg == "" {
			msg = "please try again"
		}
		c.err = fmt.Errorf("%w: %s", domain.ErrGenerationFailed, msg)
		c.notice("quiz generation failed: " + msg)
		log.Warn().Str("room", string(c.roomID)).Str("reason", msg).Msg("quiz generation failed")
	}
}

func (c *RoomClient) onTimerExpired(e domain.TimerExpired) {
	c.expire(e.QuestionIndex, false)
}

func (c *RoomClient) onScoreUpdate(u domain.ScoreUpdate) {
	g := c.game
	sub := domain.AnswerSubmission{
		PlayerID:      u.PlayerID,
		Nickname:      u.Nickname,
		QuestionIndex: u.QuestionIndex,
		Choice:        u.Choice,
		Correct:       u.Correct,
		Delta:         u.Delta,
	}
	if !g.ledger.Submit(sub) {
		log.Debug().Str("player", string(u.PlayerID)).Int("index", u.QuestionIndex).Msg("score update for released question dropped")
		return
	}
	g.board.Ensure(u.PlayerID, u.Nickname)
	if u.QuestionIndex == g.activeIndex() {
		c.checkBarrier()
	}
}

func (c *RoomClient) onScoreSync(s domain.ScoreSync) {
	g := c.game
	if s.ThroughIndex < g.ledger.LastReleased() {
		// Local totals already include later questions.
		log.Debug().Int("through", s.ThroughIndex).Int("released", g.ledger.LastReleased()).Msg("stale score sync dropped")
		return
	}
	g.board.Sync(s.Scores)
	g.ledger.Discard(s.ThroughIndex)
	// The snapshot already covers the active question; move on without
	// applying it a second time.
	if g.unreleased() && g.activeIndex() <= s.ThroughIndex {
		c.release()
	}
}

func (c *RoomClient) onChat(m domain.ChatMessage) {
	c.chat = append(c.chat, m)
	if len(c.chat) > chatHistory {
		c.chat = c.chat[len(c.chat)-chatHistory:]
	}
	if strings.HasPrefix(m.Text, domain.SystemPrefix) {
		c.notice(strings.TrimSpace(strings.TrimPrefix(m.Text, domain.SystemPrefix)))
	}
}
