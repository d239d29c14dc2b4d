package redis

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-sync/internal/domain"
	"quiz-sync/internal/infra/memory"
)

func TestQuizRepositoryCachesInRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	loader := &countingLoader{
		QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{
			"bank-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	quiz, err := repo.GetQuiz(context.Background(), "bank-1")
	if err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if len(quiz.Questions) != 1 || quiz.Questions[0].Prompt == "" {
		t.Fatalf("unexpected quiz %+v", quiz)
	}

	// Second call should hit cache, loader not incremented.
	cached, _ := repo.GetQuiz(context.Background(), "bank-1")
	if loader.count() != 1 {
		t.Fatalf("expected cache hit, loader calls=%d", loader.count())
	}
	if cached.Questions[0].Options[1].Correct != true {
		t.Fatalf("cached quiz lost its answer key: %+v", cached)
	}
	if !mr.Exists("quiz:bank-1") {
		t.Fatalf("expected quiz document in redis")
	}
}

func TestGeneratedQuizSharedAcrossRepositories(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	empty := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(nil)}
	writer := NewQuizRepository(newClient(mr), empty, time.Minute)
	reader := NewQuizRepository(newClient(mr), empty, time.Minute)

	generated := sampleQuiz()
	generated.ID = "generated-1"
	if err := writer.PutQuiz(context.Background(), generated); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := reader.GetQuiz(context.Background(), "generated-1")
	if err != nil || got.ID != "generated-1" {
		t.Fatalf("expected generated quiz from the other instance, got %+v / %v", got, err)
	}
	if empty.count() != 0 {
		t.Fatalf("generated quiz must not hit the loader")
	}
}

func TestCorruptCacheEntryIsReloaded(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	_ = mr.Set("quiz:bank-1", "{broken")
	loader := &countingLoader{QuizLoader: memory.NewStaticQuizLoader(map[string]domain.Quiz{"bank-1": sampleQuiz()})}
	repo := NewQuizRepository(newClient(mr), loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "bank-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	raw, _ := mr.Get("quiz:bank-1")
	var stored domain.Quiz
	if err := json.Unmarshal([]byte(raw), &stored); err != nil || stored.ID != "bank-1" {
		t.Fatalf("expected cache repaired, got %q", raw)
	}
}

type countingLoader struct {
	memory.QuizLoader

	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}

func (l *countingLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func sampleQuiz() domain.Quiz {
	return domain.Quiz{
		ID: "bank-1",
		Questions: []domain.Question{
			{
				ID:     "q1",
				Prompt: "What is 2 + 2?",
				Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
