package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-sync/internal/domain"
)

// QuizLoader fetches question banks from a backing store (e.g., Postgres).
type QuizLoader interface {
	LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error)
}

// QuizRepository caches bank quizzes with TTL to avoid repeated DB hits and
// holds generated quizzes, which exist only in the cache.
type QuizRepository struct {
	loader QuizLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache     map[string]cachedQuiz
	generated map[string]cachedQuiz
}

type cachedQuiz struct {
	quiz      domain.Quiz
	expiresAt time.Time
}

func NewQuizRepository(loader QuizLoader, ttl time.Duration) *QuizRepository {
	return &QuizRepository{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:     make(map[string]cachedQuiz),
		generated: make(map[string]cachedQuiz),
	}
}

func (r *QuizRepository) GetQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.generated[quizID]; ok && entry.live(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	if entry, ok := r.cache[quizID]; ok && entry.live(now) {
		r.mu.RUnlock()
		return entry.quiz, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(quizID, func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[quizID]; ok && entry.live(now) {
			r.mu.RUnlock()
			return entry.quiz, nil
		}
		r.mu.RUnlock()

		quiz, err := r.loader.LoadQuiz(ctx, quizID)
		if err != nil {
			return domain.Quiz{}, err
		}

		r.mu.Lock()
		r.cache[quizID] = cachedQuiz{
			quiz:      quiz,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return quiz, nil
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	return result.(domain.Quiz), nil
}

// PutQuiz stores a generated quiz for one TTL window; a non-positive TTL
// keeps it until the process exits.
func (r *QuizRepository) PutQuiz(_ context.Context, quiz domain.Quiz) error {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := cachedQuiz{quiz: quiz}
	if r.ttl > 0 {
		entry.expiresAt = now.Add(r.ttlWithJitter())
	}
	r.generated[quiz.ID] = entry
	for id, entry := range r.generated {
		if !entry.live(now) {
			delete(r.generated, id)
		}
	}
	return nil
}

func (c cachedQuiz) live(now time.Time) bool {
	return c.expiresAt.IsZero() || c.expiresAt.After(now)
}

// StaticQuizLoader is a simple loader backed by an in-memory map (useful for tests and the relay's demo banks).
type StaticQuizLoader struct {
	quizzes map[string]domain.Quiz
}

func NewStaticQuizLoader(quizzes map[string]domain.Quiz) *StaticQuizLoader {
	return &StaticQuizLoader{quizzes: quizzes}
}

func (l *StaticQuizLoader) LoadQuiz(_ context.Context, quizID string) (domain.Quiz, error) {
	if quiz, ok := l.quizzes[quizID]; ok {
		return quiz, nil
	}
	return domain.Quiz{}, domain.ErrQuizNotFound
}

func (r *QuizRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
