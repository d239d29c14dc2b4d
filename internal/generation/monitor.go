// Package generation tracks asynchronous quiz-build progress.
package generation

import "quiz-sync/internal/domain"

const (
	// StartFloor is shown as soon as a build starts.
	StartFloor = 10
	// SynthIncrement advances progress for updates that carry no value.
	SynthIncrement = 7
	// SynthCeiling caps synthesized progress below completion.
	SynthCeiling = 95
)

// Transition reports what an Apply call changed.
type Transition struct {
	Changed   bool
	Completed bool
	Failed    bool
	Status    domain.GenerationStatus
}

// Monitor folds generation events into a displayed status whose progress
// never decreases until Reset.
type Monitor struct {
	status        domain.GenerationStatus
	questionCount int
}

func NewMonitor() *Monitor {
	return &Monitor{status: domain.GenerationStatus{Status: domain.GenerationIdle}}
}

// Reset starts a new generation cycle.
func (m *Monitor) Reset() {
	m.status = domain.GenerationStatus{Status: domain.GenerationIdle}
	m.questionCount = 0
}

func (m *Monitor) Status() domain.GenerationStatus { return m.status }

// QuestionCount is the count announced by the generator, zero if unknown.
func (m *Monitor) QuestionCount() int { return m.questionCount }

// Terminal reports whether the cycle already completed or failed.
func (m *Monitor) Terminal() bool {
	return m.status.Status == domain.GenerationCompleted || m.status.Status == domain.GenerationFailed
}

// Active reports whether a build is in flight.
func (m *Monitor) Active() bool {
	return m.status.Status == domain.GenerationStarted || m.status.Status == domain.GenerationInProgress
}

// Apply folds ev into the status. Events after a terminal state are ignored.
func (m *Monitor) Apply(ev domain.GenerationEvent) Transition {
	if m.Terminal() {
		return Transition{Status: m.status}
	}
	prev := m.status
	next := prev

	switch ev.Status {
	case domain.GenerationStarted:
		next.Status = domain.GenerationStarted
		next.Progress = maxInt(prev.Progress, StartFloor)
		if ev.Progress != nil {
			next.Progress = maxInt(next.Progress, clamp(*ev.Progress))
		}
	case domain.GenerationInProgress:
		next.Status = domain.GenerationInProgress
		if ev.Progress != nil {
			next.Progress = maxInt(prev.Progress, clamp(*ev.Progress))
		} else {
			next.Progress = maxInt(prev.Progress, minInt(prev.Progress+SynthIncrement, SynthCeiling))
		}
	case domain.GenerationCompleted:
		next.Status = domain.GenerationCompleted
		next.Progress = 100
	case domain.GenerationFailed:
		next.Status = domain.GenerationFailed
	default:
		return Transition{Status: m.status}
	}

	if ev.Stage > 0 {
		next.Stage = ev.Stage
	}
	if ev.TotalStages > 0 {
		next.TotalStages = ev.TotalStages
	}
	if ev.QuizID != "" {
		next.QuizID = ev.QuizID
	}
	if ev.Message != "" {
		next.Message = ev.Message
	}
	if ev.QuestionCount > 0 {
		m.questionCount = ev.QuestionCount
	}
	m.status = next

	return Transition{
		Changed:   next != prev,
		Completed: next.Status == domain.GenerationCompleted,
		Failed:    next.Status == domain.GenerationFailed,
		Status:    next,
	}
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
