package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-sync/internal/backend"
	"quiz-sync/internal/config"
	"quiz-sync/internal/infra/memory"
	"quiz-sync/internal/transport"
	wstransport "quiz-sync/internal/transport/http"
)

// NewRelayCmd builds the CLI subcommand that serves the WebSocket relay and,
// unless disabled, the backend simulator.
func NewRelayCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:     "relay",
		Aliases: []string{"start"},
		Short:   "Start the WebSocket relay and backend simulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(cmd.Context(), *configPath, *port)
		},
	}
}

func runRelay(ctx context.Context, configPath, portFlag string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Transport.Kind == "ws" {
		return errors.New("relay needs a broker transport (memory, redis or nats), not ws")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, false); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	rc := newRedisClient(cfg)
	if rc != nil {
		defer rc.Close()
	}
	hub := memory.NewHub()
	broker, err := brokerDialer(cfg, hub, rc)
	if err != nil {
		return err
	}

	if cfg.Backend.Enabled {
		stop, err := startBackend(ctx, cfg, broker, rc)
		if err != nil {
			return err
		}
		defer stop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc(wsPath(cfg), wstransport.NewRelayHandler(broker).ServeWS)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		log.Info().Str("port", finalPort).Str("transport", cfg.Transport.Kind).Msg("starting quiz relay")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("failed to start server")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutting down relay...")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down relay...")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

func wsPath(cfg config.Config) string {
	if cfg.Server.WSPath == "" {
		return "/ws"
	}
	return cfg.Server.WSPath
}

// startBackend runs the simulator on its own transport session against the
// relay's broker. The returned func stops it and waits for in-flight work.
func startBackend(ctx context.Context, cfg config.Config, broker transport.Dialer, rc *redis.Client) (func(), error) {
	quizzes, cleanup, err := quizRepository(ctx, cfg, rc)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	session := transport.NewSession(broker, sessionConfig(cfg))
	session.Connect(ctx)

	sim := backend.NewSimulator(session, roomStore(cfg, rc), quizzes, backendConfig(cfg))
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sim.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
		_ = session.Close()
		cleanup()
	}, nil
}
