package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-sync/internal/backend"
	"quiz-sync/internal/config"
	pgloader "quiz-sync/internal/infra/postgres"
	pgmigrations "quiz-sync/internal/infra/postgres/migrations"
)

// NewMigrateCmd applies database migrations.
func NewMigrateCmd(configPath *string) *cobra.Command {
	var seed bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runMigrationsWithConfig(cmd.Context(), cfg, seed)
		},
	}
	cmd.Flags().BoolVar(&seed, "seed", false, "store the sample question banks after migrating")
	return cmd
}

var errNoPostgres = errors.New("postgres url not configured")

func runMigrationsWithConfig(ctx context.Context, cfg config.Config, seed bool) error {
	if cfg.Postgres.URL == "" {
		return errNoPostgres
	}

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)

	if err := migrator.Init(ctx); err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}

	group, err := migrator.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if group.IsZero() {
		log.Info().Msg("database schema up to date")
	} else {
		log.Info().Str("group", group.String()).Msg("migrations applied")
	}
	if !seed {
		return nil
	}
	return seedBanks(ctx, cfg.Postgres.URL)
}

func seedBanks(ctx context.Context, url string) error {
	pool, err := pgxpool.Connect(ctx, url)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	loader := pgloader.NewQuizLoader(pool)
	banks := backend.SampleBanks()
	ids := make([]string, 0, len(banks))
	for id := range banks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := loader.SaveQuiz(ctx, banks[id]); err != nil {
			return fmt.Errorf("seed %s: %w", id, err)
		}
		log.Info().Str("quiz", id).Int("questions", len(banks[id].Questions)).Msg("question bank seeded")
	}
	return nil
}
