package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-sync/internal/domain"
)

// QuizLoader loads question banks stored as JSONB from Postgres.
type QuizLoader struct {
	pool *pgxpool.Pool
}

func NewQuizLoader(pool *pgxpool.Pool) *QuizLoader {
	return &QuizLoader{pool: pool}
}

func (l *QuizLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	var raw []byte
	err := l.pool.QueryRow(ctx, `SELECT data FROM quizzes WHERE id=$1`, quizID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Quiz{}, fmt.Errorf("load quiz %s: %w", quizID, domain.ErrQuizNotFound)
	}
	if err != nil {
		return domain.Quiz{}, fmt.Errorf("load quiz: %w", err)
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		return domain.Quiz{}, fmt.Errorf("unmarshal quiz: %w", err)
	}
	if quiz.ID == "" {
		quiz.ID = quizID
	}
	return quiz, nil
}

// SaveQuiz upserts a question bank; used to seed the demo banks.
func (l *QuizLoader) SaveQuiz(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	_, err = l.pool.Exec(ctx, `
		INSERT INTO quizzes (id, category, difficulty, data)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET category = EXCLUDED.category, difficulty = EXCLUDED.difficulty, data = EXCLUDED.data, updated_at = now()`,
		quiz.ID, quiz.Category, quiz.Difficulty, raw)
	if err != nil {
		return fmt.Errorf("save quiz %s: %w", quiz.ID, err)
	}
	return nil
}
