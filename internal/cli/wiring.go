package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"

	"quiz-sync/internal/app"
	"quiz-sync/internal/backend"
	"quiz-sync/internal/config"
	"quiz-sync/internal/infra/memory"
	natsbroker "quiz-sync/internal/infra/nats"
	pgloader "quiz-sync/internal/infra/postgres"
	redisinfra "quiz-sync/internal/infra/redis"
	"quiz-sync/internal/transport"
	wstransport "quiz-sync/internal/transport/http"
)

func newRedisClient(cfg config.Config) *redis.Client {
	if cfg.Redis.Addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// brokerDialer picks the pub/sub backend named by transport.kind. The hub is
// used for the in-process "memory" kind.
func brokerDialer(cfg config.Config, hub *memory.Hub, rc *redis.Client) (transport.Dialer, error) {
	switch cfg.Transport.Kind {
	case "", "memory":
		return hub, nil
	case "redis":
		if rc == nil {
			return nil, fmt.Errorf("transport kind redis needs redis.addr")
		}
		return redisinfra.NewBroker(rc), nil
	case "nats":
		url := cfg.NATS.URL
		if url == "" {
			url = cfg.Transport.URL
		}
		return natsbroker.NewBroker(natsbroker.Config{
			URL:            url,
			Name:           cfg.NATS.Name,
			ConnectTimeout: config.Duration(cfg.NATS.ConnectTimeout, 2*time.Second),
		}), nil
	case "ws":
		if cfg.Transport.URL == "" {
			return nil, fmt.Errorf("transport kind ws needs transport.url")
		}
		return wstransport.NewDialer(cfg.Transport.URL, cfg.Transport.Token), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Transport.Kind)
	}
}

func sessionConfig(cfg config.Config) transport.Config {
	def := transport.DefaultConfig()
	return transport.Config{
		ReconnectDelay:       config.Duration(cfg.Transport.ReconnectDelay, def.ReconnectDelay),
		MaxReconnectAttempts: cfg.Transport.MaxReconnectAttempts,
		QueueSize:            cfg.Transport.QueueSize,
	}
}

func timing(cfg config.Config) app.Timing {
	def := app.DefaultTiming()
	return app.Timing{
		SettleDelay:           config.Duration(cfg.Timing.Settle, def.SettleDelay),
		AdvanceDelay:          config.Duration(cfg.Timing.Advance, def.AdvanceDelay),
		BarrierFallbackDelay:  config.Duration(cfg.Timing.BarrierFallback, def.BarrierFallbackDelay),
		QuestionFallbackDelay: config.Duration(cfg.Timing.QuestionFallback, def.QuestionFallbackDelay),
		HeartbeatInterval:     config.Duration(cfg.Timing.Heartbeat, def.HeartbeatInterval),
		DefaultTimeLimit:      config.Duration(cfg.Timing.DefaultTimeLimit, def.DefaultTimeLimit),
	}
}

// quizRepository wires the question bank loader (static or Postgres) behind
// the Redis or in-memory cache.
func quizRepository(ctx context.Context, cfg config.Config, rc *redis.Client) (backend.QuizRepository, func(), error) {
	cleanup := func() {}
	var loader memory.QuizLoader = memory.NewStaticQuizLoader(backend.SampleBanks())
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, cleanup, fmt.Errorf("connect postgres: %w", err)
		}
		cleanup = pool.Close
		loader = pgloader.NewQuizLoader(pool)
	}

	quizTTL := config.Duration(cfg.Quiz.TTL, 10*time.Minute)
	if rc != nil {
		return redisinfra.NewQuizRepository(rc, loader, quizTTL), cleanup, nil
	}
	return memory.NewQuizRepository(loader, quizTTL), cleanup, nil
}

func roomStore(cfg config.Config, rc *redis.Client) backend.RoomStore {
	if rc != nil {
		return redisinfra.NewRoomStore(rc, config.Duration(cfg.Redis.TTL, 10*time.Minute))
	}
	return memory.NewRoomStore()
}

func backendConfig(cfg config.Config) backend.Config {
	return backend.Config{
		Stages:      cfg.Backend.Stages,
		StageDelay:  config.Duration(cfg.Backend.StageDelay, 0),
		DefaultBank: cfg.Backend.DefaultBank,
		Banks:       cfg.Backend.Banks,
		DedupWindow: config.Duration(cfg.Backend.DedupWindow, 0),
	}
}
