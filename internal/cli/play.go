package cli

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-sync/internal/app"
	"quiz-sync/internal/config"
	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/api"
	"quiz-sync/internal/infra/memory"
	"quiz-sync/internal/transport"
)

type playOptions struct {
	room       string
	player     string
	nickname   string
	generate   bool
	minPlayers int
	count      int
	category   string
	difficulty string
	accuracy   float64
	think      time.Duration
	once       bool
}

// NewPlayCmd runs a headless player that joins a room and answers questions.
func NewPlayCmd(configPath *string) *cobra.Command {
	opts := playOptions{}
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Join a room as a headless bot player",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlay(cmd.Context(), *configPath, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.room, "room", "lobby", "room id to join")
	f.StringVar(&opts.player, "player", "", "player id (random when empty)")
	f.StringVar(&opts.nickname, "nickname", "", "display name")
	f.BoolVar(&opts.generate, "generate", false, "start a quiz when this bot owns the room")
	f.IntVar(&opts.minPlayers, "min-players", 1, "players required before the owner starts a quiz")
	f.IntVar(&opts.count, "count", 5, "questions per quiz")
	f.StringVar(&opts.category, "category", "", "quiz category")
	f.StringVar(&opts.difficulty, "difficulty", "", "quiz difficulty")
	f.Float64Var(&opts.accuracy, "accuracy", 0.7, "probability of answering correctly")
	f.DurationVar(&opts.think, "think", 4*time.Second, "maximum think time per question")
	f.BoolVar(&opts.once, "once", true, "leave after the first finished game")
	return cmd
}

func runPlay(ctx context.Context, configPath string, opts playOptions) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// A separate process cannot share the relay's in-process hub.
	if cfg.Transport.Kind == "" || cfg.Transport.Kind == "memory" {
		cfg.Transport.Kind = "ws"
		if cfg.Transport.URL == "" {
			cfg.Transport.URL = "ws://localhost:" + cfg.Server.Port + wsPath(cfg)
		}
	}
	rc := newRedisClient(cfg)
	if rc != nil {
		defer rc.Close()
	}
	dialer, err := brokerDialer(cfg, memory.NewHub(), rc)
	if err != nil {
		return err
	}
	session := transport.NewSession(dialer, sessionConfig(cfg))
	defer session.Close()
	session.Connect(ctx)
	if !session.WaitForConnection(ctx, 10*time.Second) {
		log.Warn().Str("url", cfg.Transport.URL).Msg("not connected yet, publishes are queued")
	}

	if opts.player == "" {
		opts.player = uuid.NewString()[:8]
	}
	if opts.nickname == "" {
		opts.nickname = "bot-" + opts.player
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var roomAPI app.RoomService
	if cfg.API.BaseURL != "" {
		roomAPI = api.NewClient(api.Config{
			BaseURL:    cfg.API.BaseURL,
			Token:      cfg.API.Token,
			Timeout:    config.Duration(cfg.API.Timeout, 5*time.Second),
			MaxRetries: uint64(cfg.API.MaxRetries),
		})
	}
	client := app.NewRoomClient(session, app.Options{
		RoomID: domain.ID(opts.room),
		Player: domain.PlayerProfile{ID: domain.ID(opts.player), Nickname: opts.nickname},
		Timing: timing(cfg),
		API:    roomAPI,
		OnAuthFailure: func(err error) {
			log.Error().Err(err).Msg("room service rejected credentials")
			cancel()
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- client.Run(ctx) }()

	if err := client.Join(ctx); err != nil {
		return err
	}
	if err := client.SetReady(ctx, true); err != nil {
		return err
	}
	log.Info().Str("room", opts.room).Str("player", opts.player).Msg("bot joined")

	b := &bot{client: client, opts: opts, rnd: rand.New(rand.NewSource(time.Now().UnixNano())), answered: -1}
	views, unsubscribe := client.Subscribe()
	defer unsubscribe()

	for {
		select {
		case err := <-runErr:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case v, ok := <-views:
			if !ok {
				return nil
			}
			if done := b.step(ctx, v); done {
				leaveCtx, cancelLeave := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancelLeave()
				return client.Leave(leaveCtx)
			}
		}
	}
}

type bot struct {
	client   *app.RoomClient
	opts     playOptions
	rnd      *rand.Rand
	answered int
	building bool
}

// step reacts to one view. It reports true once the bot is done playing.
func (b *bot) step(ctx context.Context, v app.View) bool {
	switch v.Phase {
	case app.PhaseIdle:
		gen := v.Generation.Status
		idle := gen == domain.GenerationIdle || gen == domain.GenerationFailed
		if b.opts.generate && v.IsOwner && idle && !b.building && len(v.Players) >= b.opts.minPlayers && v.Room.Status != domain.RoomInGame {
			b.building = true
			go func() {
				err := b.client.StartGeneration(ctx, app.GenerateOptions{
					Category:   b.opts.category,
					Difficulty: b.opts.difficulty,
					Count:      b.opts.count,
				})
				if err != nil {
					log.Warn().Err(err).Msg("could not start quiz")
				}
			}()
		}
	case app.PhaseActive:
		if v.Question == nil || v.Answered || b.answered == v.Question.Index {
			return false
		}
		b.answered = v.Question.Index
		choice := b.pick(*v.Question)
		wait := time.Duration(b.rnd.Int63n(int64(b.opts.think) + 1))
		time.AfterFunc(wait, func() {
			if err := b.client.Answer(ctx, choice); err != nil && !errors.Is(err, domain.ErrNoActiveQuestion) {
				log.Warn().Err(err).Msg("answer rejected")
			}
		})
	case app.PhaseFinished:
		b.building = false
		b.answered = -1
		for i, s := range v.Scores {
			log.Info().Int("rank", i+1).Str("player", s.Nickname).Int("score", s.Score).Int("correct", s.CorrectCount).Msg("final standings")
		}
		if b.opts.once {
			return true
		}
		go func() { _ = b.client.Restart(ctx) }()
	}
	return false
}

func (b *bot) pick(q domain.QuestionState) int {
	if len(q.Choices) == 0 {
		return domain.TimeoutChoice
	}
	if b.rnd.Float64() < b.opts.accuracy {
		return q.CorrectIndex
	}
	return b.rnd.Intn(len(q.Choices))
}
