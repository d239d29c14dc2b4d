package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/domain"
)

// QuizLoader fetches question banks from a backing store (e.g., Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches quizzes in Redis as JSON documents and falls back to
// a loader on cache miss. Generated quizzes are only ever in Redis, so every
// relay instance behind the same Redis can serve their questions.
//
//	SET quiz:{quizID} {json} EX ttl
type QuizRepository struct {
	client *redis.Client
	loader QuizLoader
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewQuizRepository(client *redis.Client, loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := r.cached(ctx, quizID); ok {
		return quiz, nil
	}

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		// Re-check cache in case another instance filled it.
		if quiz, ok := r.cached(ctx, quizID); ok {
			return quiz, nil
		}
		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}
		if err := r.store(ctx, quiz); err != nil {
			log.Warn().Err(err).Str("quiz", quizID).Msg("quiz cache write failed")
		}
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// PutQuiz stores a generated quiz.
func (r *QuizRepository) PutQuiz(ctx context.Context, quiz domain.Quiz) error {
	return r.store(ctx, quiz)
}

func (r *QuizRepository) cached(ctx context.Context, quizID string) (domain.Quiz, bool) {
	raw, err := r.client.Get(ctx, r.key(quizID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("quiz", quizID).Msg("quiz cache read failed")
		}
		return domain.Quiz{}, false
	}
	var quiz domain.Quiz
	if err := json.Unmarshal(raw, &quiz); err != nil {
		// Drop the corrupt entry so the next read reloads it.
		_ = r.client.Del(ctx, r.key(quizID)).Err()
		return domain.Quiz{}, false
	}
	return quiz, true
}

func (r *QuizRepository) store(ctx context.Context, quiz domain.Quiz) error {
	raw, err := json.Marshal(quiz)
	if err != nil {
		return fmt.Errorf("marshal quiz: %w", err)
	}
	return r.client.Set(ctx, r.key(quiz.ID), raw, r.ttlWithJitter()).Err()
}

func (r *QuizRepository) key(quizID string) string {
	return "quiz:" + quizID
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
