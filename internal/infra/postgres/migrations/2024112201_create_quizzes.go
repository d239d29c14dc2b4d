package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

// Migrations holds the question-bank schema.
var Migrations = migrate.NewMigrations()

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createQuizzesSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			if _, err := db.ExecContext(ctx, `DROP INDEX IF EXISTS quizzes_category_idx`); err != nil {
				return err
			}
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS quizzes`)
			return err
		},
	)
}
