package domain

import "time"

const (
	// BasePoints is awarded for any correct answer.
	BasePoints = 100
	// MaxSpeedBonus is added on top, scaled by the share of time left.
	MaxSpeedBonus = 100
)

// ScoreAnswer computes correctness and the score delta for a choice made
// elapsed into a question with the given limit. Timeouts and wrong answers score zero.
func ScoreAnswer(q QuestionState, choice int, elapsed, limit time.Duration) (bool, int, error) {
	if choice == TimeoutChoice {
		return false, 0, nil
	}
	if choice < 0 || choice >= len(q.Choices) {
		return false, 0, ErrInvalidChoice
	}
	if choice != q.CorrectIndex {
		return false, 0, nil
	}
	if limit <= 0 {
		return true, BasePoints, nil
	}
	left := limit - elapsed
	if left < 0 {
		left = 0
	}
	bonus := int(int64(MaxSpeedBonus) * int64(left) / int64(limit))
	return true, BasePoints + bonus, nil
}
