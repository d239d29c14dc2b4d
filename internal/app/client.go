package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/roster"
	"quiz-sync/internal/transport"
)

// Bus is the slice of the transport session the room client needs.
type Bus interface {
	Subscribe(topic string, handler transport.Handler)
	Unsubscribe(topic string)
	Publish(topic string, payload []byte)
	PublishJSON(topic string, v any)
	IsConnected() bool
	OnStateChange(fn func(domain.ConnState))
	Failed() <-chan struct{}
	Err() error
}

// RoomService is the REST collaborator for membership and experience points.
type RoomService interface {
	JoinRoom(ctx context.Context, roomID domain.ID, player domain.PlayerProfile) (domain.RoomState, error)
	LeaveRoom(ctx context.Context, roomID, playerID domain.ID) error
	SetReady(ctx context.Context, roomID, playerID domain.ID, ready bool) error
	SaveExperience(ctx context.Context, playerID domain.ID, points int) error
}

// Options configures a RoomClient.
type Options struct {
	RoomID domain.ID
	Player domain.PlayerProfile
	Timing Timing
	Clock  clockwork.Clock
	// API is optional; without it membership is purely pub/sub.
	API RoomService
	// OnAuthFailure receives ErrUnauthorized and ErrForbidden from the API.
	OnAuthFailure func(error)
}

// GenerateOptions parameterizes a quiz build.
type GenerateOptions struct {
	Category   string
	Difficulty string
	Count      int
}

const (
	inboxSize   = 256
	chatHistory = 50
	noticeLimit = 20
)

// RoomClient keeps one player's view of a room in sync with its peers. All
// room state is owned by the goroutine running Run; transport handlers,
// timers and the public methods post closures into its inbox.
type RoomClient struct {
	bus    Bus
	roomID domain.ID
	self   domain.PlayerProfile
	timing Timing
	clock  clockwork.Clock
	api    RoomService
	onAuth func(error)

	inbox   chan func()
	stopped chan struct{}
	runOnce sync.Once
	runCtx  context.Context

	views *viewHub

	// loop-owned
	game      *gameSession
	conn      domain.ConnState
	chat      []domain.ChatMessage
	notices   []string
	err       error
	left      bool
	heartbeat clockwork.Timer
}

func NewRoomClient(bus Bus, opts Options) *RoomClient {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	self := opts.Player
	self.ID = domain.NormalizeID(string(self.ID))
	if self.SessionID == "" {
		self.SessionID = uuid.NewString()
	}
	roomID := domain.NormalizeID(string(opts.RoomID))

	c := &RoomClient{
		bus:     bus,
		roomID:  roomID,
		self:    self,
		timing:  opts.Timing.withDefaults(),
		clock:   opts.Clock,
		api:     opts.API,
		onAuth:  opts.OnAuthFailure,
		inbox:   make(chan func(), inboxSize),
		stopped: make(chan struct{}),
		runCtx:  context.Background(),
		views:   newViewHub(),
		conn:    domain.ConnDisconnected,
	}
	c.game = newGameSession(domain.RoomState{ID: roomID, Status: domain.RoomWaiting}, self.ID, c.clock.Now)
	c.views.publish(c.buildView())
	return c
}

// Run subscribes to the room topics and processes events until ctx is done
// or the transport gives up reconnecting.
func (c *RoomClient) Run(ctx context.Context) error {
	started := false
	c.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("room client already running")
	}
	c.runCtx = ctx
	defer close(c.stopped)
	defer c.stopTimers()

	c.subscribeAll()
	c.bus.OnStateChange(func(st domain.ConnState) {
		c.post(func() { c.onConnState(st) })
	})
	if c.bus.IsConnected() {
		c.conn = domain.ConnConnected
	}
	c.armHeartbeat()
	c.refresh()

	failed := c.bus.Failed()
	for {
		select {
		case fn := <-c.inbox:
			fn()
			c.refresh()
		case <-failed:
			c.err = domain.ErrReconnectExhausted
			c.notice("connection lost: reconnect attempts exhausted")
			c.refresh()
			return fmt.Errorf("room %s: %w", c.roomID, domain.ErrReconnectExhausted)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// View returns the latest snapshot.
func (c *RoomClient) View() View { return c.views.get() }

// Subscribe streams snapshots. The caller must invoke cancel.
func (c *RoomClient) Subscribe() (<-chan View, func()) { return c.views.subscribe() }

// Join enters the room: the REST collaborator first, then the join intent.
func (c *RoomClient) Join(ctx context.Context) error {
	var room domain.RoomState
	if c.api != nil {
		r, err := c.api.JoinRoom(ctx, c.roomID, c.self)
		if err != nil {
			return c.apiErr("join room", err)
		}
		room = r
	}
	return c.do(ctx, func() error {
		g := c.game
		if room.ID != "" {
			g.roster = roster.Reconcile(g.roster, roster.Broadcast{Room: &room})
		}
		g.roster = roster.ApplyJoin(g.roster, c.self)
		g.board.Ensure(c.self.ID, c.self.Nickname)
		c.left = false
		c.bus.PublishJSON(domain.JoinTopic(c.roomID), domain.MembershipIntent{RoomID: c.roomID, Player: c.self})
		log.Info().Str("room", string(c.roomID)).Str("player", string(c.self.ID)).Msg("joined room")
		return nil
	})
}

// Leave hands ownership to the successor if needed, then leaves the room.
func (c *RoomClient) Leave(ctx context.Context) error {
	err := c.do(ctx, func() error {
		g := c.game
		if g.roster.IsOwner {
			if next, ok := roster.Successor(g.roster, c.self.ID); ok {
				c.bus.PublishJSON(domain.OwnerChangeTopic(c.roomID), domain.OwnerChange{
					RoomID:          c.roomID,
					PreviousOwnerID: c.self.ID,
					NewOwnerID:      next,
				})
				g.roster = roster.ApplyOwnerChange(g.roster, next)
			}
		}
		c.bus.PublishJSON(domain.LeaveTopic(c.roomID), domain.MembershipIntent{RoomID: c.roomID, Player: c.self})
		g.roster = roster.ApplyLeave(g.roster, c.self.ID)
		g.stopAll()
		c.left = true
		return nil
	})
	if err != nil {
		return err
	}
	for _, topic := range c.topics() {
		c.bus.Unsubscribe(topic)
	}
	if c.api != nil {
		if err := c.api.LeaveRoom(ctx, c.roomID, c.self.ID); err != nil {
			return c.apiErr("leave room", err)
		}
	}
	return nil
}

// SetReady toggles the local ready flag and announces it.
func (c *RoomClient) SetReady(ctx context.Context, ready bool) error {
	if c.api != nil {
		if err := c.api.SetReady(ctx, c.roomID, c.self.ID, ready); err != nil {
			return c.apiErr("set ready", err)
		}
	}
	return c.do(ctx, func() error {
		g := c.game
		g.roster = roster.ApplyReady(g.roster, c.self.ID, ready)
		profile := c.self
		if p, ok := g.roster.Find(c.self.ID); ok {
			profile = p
		}
		profile.IsReady = ready
		c.bus.PublishJSON(domain.JoinTopic(c.roomID), domain.MembershipIntent{RoomID: c.roomID, Player: profile})
		return nil
	})
}

// StartGeneration asks the backend to build a quiz. Owner only.
func (c *RoomClient) StartGeneration(ctx context.Context, opts GenerateOptions) error {
	return c.do(ctx, func() error {
		g := c.game
		if !g.roster.IsOwner {
			return domain.ErrNotOwner
		}
		if g.running || g.monitor.Active() {
			return domain.ErrGameInProgress
		}
		g.monitor.Reset()
		g.quizID, g.bufferQuiz = "", ""
		g.questions = make(map[int]domain.QuestionState)
		if opts.Category != "" {
			g.roster.Room.Category = opts.Category
		}
		if opts.Difficulty != "" {
			g.roster.Room.Difficulty = opts.Difficulty
		}
		if opts.Count > 0 {
			g.roster.Room.QuestionCount = opts.Count
		}
		c.bus.PublishJSON(domain.GenerateTopic(c.roomID), domain.GenerateRequest{
			RoomID:      c.roomID,
			Category:    g.roster.Room.Category,
			Difficulty:  g.roster.Room.Difficulty,
			Count:       g.roster.Room.QuestionCount,
			RequestedBy: c.self.ID,
		})
		return nil
	})
}

// Answer submits choice for the active question.
func (c *RoomClient) Answer(ctx context.Context, choice int) error {
	return c.do(ctx, func() error {
		g := c.game
		if g.phase != PhaseActive || g.active == nil {
			return domain.ErrNoActiveQuestion
		}
		if g.answered {
			return domain.ErrAlreadyAnswered
		}
		limit := g.active.TimeLimit(c.timing.DefaultTimeLimit)
		elapsed := c.clock.Since(g.startedAt)
		correct, delta, err := domain.ScoreAnswer(*g.active, choice, elapsed, limit)
		if err != nil {
			return err
		}
		c.submitOwn(choice, correct, delta, elapsed)
		c.checkBarrier()
		return nil
	})
}

// SendChat posts a chat line to the room.
func (c *RoomClient) SendChat(ctx context.Context, text string) error {
	if text == "" {
		return nil
	}
	return c.do(ctx, func() error {
		c.bus.PublishJSON(domain.ChatTopic(c.roomID), domain.ChatMessage{
			SenderID: c.self.ID,
			Nickname: c.self.Nickname,
			Text:     text,
			SentAt:   c.clock.Now(),
		})
		return nil
	})
}

// Restart returns a finished room to the lobby. The owner announces the
// reset so peers follow.
func (c *RoomClient) Restart(ctx context.Context) error {
	return c.do(ctx, func() error {
		g := c.game
		if g.phase != PhaseFinished {
			return domain.ErrGameInProgress
		}
		g.reset()
		if g.roster.IsOwner {
			c.publishStatus()
		}
		return nil
	})
}

func (c *RoomClient) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.stopped:
	}
}

// do runs fn on the event loop and waits for its result.
func (c *RoomClient) do(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	select {
	case c.inbox <- func() { errc <- fn() }:
	case <-c.stopped:
		return domain.ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-errc:
		return err
	case <-c.stopped:
		return domain.ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// after arms a timer whose callback runs on the event loop.
func (c *RoomClient) after(d time.Duration, fn func()) clockwork.Timer {
	return c.clock.AfterFunc(d, func() { c.post(fn) })
}

func (c *RoomClient) apiErr(op string, err error) error {
	if errors.Is(err, domain.ErrUnauthorized) || errors.Is(err, domain.ErrForbidden) {
		if c.onAuth != nil {
			c.onAuth(err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (c *RoomClient) stopTimers() {
	c.game.stopAll()
	stop(&c.heartbeat)
}

func (c *RoomClient) armHeartbeat() {
	if c.timing.HeartbeatInterval <= 0 {
		return
	}
	c.heartbeat = c.after(c.timing.HeartbeatInterval, func() {
		if c.game.roster.IsOwner && !c.left {
			c.publishStatus()
		}
		c.armHeartbeat()
	})
}

func (c *RoomClient) publishStatus() {
	g := c.game
	status := g.monitor.Status()
	index := g.activeIndex()
	if index < 0 {
		index = 0
	}
	c.bus.PublishJSON(domain.StatusTopic(c.roomID), domain.StatusSnapshot{
		Room:          g.roster.Room,
		Players:       g.roster.Players,
		GameStatus:    &status,
		QuestionIndex: index,
	})
}

func (c *RoomClient) notice(text string) {
	c.notices = append(c.notices, text)
	if len(c.notices) > noticeLimit {
		c.notices = c.notices[len(c.notices)-noticeLimit:]
	}
}

func (c *RoomClient) refresh() { c.views.publish(c.buildView()) }

func (c *RoomClient) buildView() View {
	g := c.game
	v := View{
		Room:             g.roster.Room,
		Players:          append([]domain.PlayerProfile(nil), g.roster.Players...),
		Self:             c.self.ID,
		IsOwner:          g.roster.IsOwner,
		IsReady:          g.roster.IsReady,
		Connection:       c.conn,
		Generation:       g.monitor.Status(),
		Phase:            g.phase,
		Answered:         g.answered,
		Placeholder:      g.placeholder,
		QuestionsStarted: g.started,
		Scores:           g.board.Snapshot(),
		Chat:             append([]domain.ChatMessage(nil), c.chat...),
		Notices:          append([]string(nil), c.notices...),
		Err:              c.err,
		UpdatedAt:        c.clock.Now(),
	}
	v.Room.PlayerIDs = append([]domain.ID(nil), g.roster.Room.PlayerIDs...)
	if g.active != nil {
		q := *g.active
		v.Question = &q
		v.Deadline = g.deadlineAt
	}
	return v
}
