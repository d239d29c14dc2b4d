package app

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"quiz-sync/internal/domain"
)

// DefaultPlaceholderCount is used when the question count is unknown.
const DefaultPlaceholderCount = 5

var distractorOffsets = []int{-4, -3, -2, -1, 1, 2, 3, 4}

// placeholderSet builds a local question set for when the generator never
// delivers. The seed depends only on room and quiz id, so every peer that
// falls back plays the same questions.
func placeholderSet(roomID domain.ID, quizID string, count int) []domain.QuestionState {
	if count <= 0 {
		count = DefaultPlaceholderCount
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(roomID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(quizID))
	rnd := rand.New(rand.NewSource(int64(h.Sum64())))

	out := make([]domain.QuestionState, 0, count)
	for i := 0; i < count; i++ {
		a, b := rnd.Intn(20)+1, rnd.Intn(20)+1
		sum := a + b
		correct := rnd.Intn(4)
		perm := rnd.Perm(len(distractorOffsets))

		choices := make([]string, 4)
		next := 0
		for slot := range choices {
			if slot == correct {
				choices[slot] = fmt.Sprint(sum)
				continue
			}
			choices[slot] = fmt.Sprint(sum + distractorOffsets[perm[next]])
			next++
		}
		out = append(out, domain.QuestionState{
			Index:        i,
			Text:         fmt.Sprintf("What is %d + %d?", a, b),
			Choices:      choices,
			CorrectIndex: correct,
			Explanation:  fmt.Sprintf("%d + %d = %d", a, b, sum),
			IsLast:       i == count-1,
		})
	}
	return out
}
