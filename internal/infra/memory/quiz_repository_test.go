package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quiz-sync/internal/domain"
)

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"bank-1": sampleQuiz(),
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "bank-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if _, err := repo.GetQuiz(context.Background(), "bank-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if got := loader.count(); got != 1 {
		t.Fatalf("expected cache hit, loader calls %d", got)
	}
}

func TestQuizRepositoryReloadsAfterTTL(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"bank-1": sampleQuiz()})}
	repo := NewQuizRepository(loader, time.Minute)
	now := time.Date(2024, 11, 22, 10, 0, 0, 0, time.UTC)
	repo.clock = func() time.Time { return now }

	_, _ = repo.GetQuiz(context.Background(), "bank-1")
	now = now.Add(2 * time.Minute)
	_, _ = repo.GetQuiz(context.Background(), "bank-1")
	if got := loader.count(); got != 2 {
		t.Fatalf("expected reload after expiry, loader calls %d", got)
	}
}

func TestQuizRepositoryCollapsesConcurrentLoads(t *testing.T) {
	release := make(chan struct{})
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{"bank-1": sampleQuiz()}), gate: release}
	repo := NewQuizRepository(loader, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.GetQuiz(context.Background(), "bank-1"); err != nil {
				t.Errorf("get quiz: %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	if got := loader.count(); got != 1 {
		t.Fatalf("expected one load for concurrent misses, got %d", got)
	}
}

func TestGeneratedQuizzesBypassLoader(t *testing.T) {
	loader := &countingLoader{QuizLoader: NewStaticQuizLoader(nil)}
	repo := NewQuizRepository(loader, time.Minute)

	generated := sampleQuiz()
	generated.ID = "generated-1"
	if err := repo.PutQuiz(context.Background(), generated); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := repo.GetQuiz(context.Background(), "generated-1")
	if err != nil || len(got.Questions) != 1 {
		t.Fatalf("expected generated quiz, got %+v / %v", got, err)
	}
	if loader.count() != 0 {
		t.Fatalf("generated quiz must not hit the loader")
	}
	if _, err := repo.GetQuiz(context.Background(), "missing"); !errors.Is(err, domain.ErrQuizNotFound) {
		t.Fatalf("expected ErrQuizNotFound, got %v", err)
	}
}

type countingLoader struct {
	QuizLoader
	gate <-chan struct{}

	mu    sync.Mutex
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.mu.Lock()
	l.calls++
	l.mu.Unlock()
	if l.gate != nil {
		<-l.gate
	}
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
