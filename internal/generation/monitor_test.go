package generation

import (
	"testing"

	"quiz-sync/internal/domain"
)

func progress(v int) *int { return &v }

func TestDisplayedProgressNeverDecreases(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationStarted})

	last := m.Status().Progress
	for _, raw := range []int{0, 15, 40, 70, 100} {
		m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(raw)})
		got := m.Status().Progress
		if got < last {
			t.Fatalf("progress decreased from %d to %d on raw %d", last, got, raw)
		}
		last = got
	}
	if last != 100 {
		t.Fatalf("expected 100, got %d", last)
	}
}

func TestStartedUsesFloor(t *testing.T) {
	m := NewMonitor()
	tr := m.Apply(domain.GenerationEvent{Status: domain.GenerationStarted, Progress: progress(0)})
	if !tr.Changed || tr.Status.Progress != StartFloor {
		t.Fatalf("expected floor %d, got %+v", StartFloor, tr)
	}
}

func TestNoisyRawValuesAreIgnored(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(50)})
	m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(30)})
	m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(-5)})
	if got := m.Status().Progress; got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestSynthesizedProgressCapsBelowCompletion(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationStarted})
	m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress})
	if got := m.Status().Progress; got != StartFloor+SynthIncrement {
		t.Fatalf("expected %d, got %d", StartFloor+SynthIncrement, got)
	}
	for i := 0; i < 30; i++ {
		m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress})
	}
	if got := m.Status().Progress; got != SynthCeiling {
		t.Fatalf("expected ceiling %d, got %d", SynthCeiling, got)
	}
}

func TestReplayedStartKeepsProgress(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(60)})
	m.Apply(domain.GenerationEvent{Status: domain.GenerationStarted})
	if got := m.Status().Progress; got != 60 {
		t.Fatalf("expected 60 after replayed start, got %d", got)
	}
}

func TestCompletionIsReportedOnce(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationStarted})
	tr := m.Apply(domain.GenerationEvent{Status: domain.GenerationCompleted, QuizID: "quiz-9", QuestionCount: 5})
	if !tr.Completed || tr.Status.Progress != 100 || tr.Status.QuizID != "quiz-9" {
		t.Fatalf("unexpected completion %+v", tr)
	}
	if m.QuestionCount() != 5 {
		t.Fatalf("expected question count 5, got %d", m.QuestionCount())
	}

	dup := m.Apply(domain.GenerationEvent{Status: domain.GenerationCompleted, QuizID: "quiz-9"})
	if dup.Completed || dup.Changed {
		t.Fatalf("expected duplicate completion to be a no-op, got %+v", dup)
	}
	late := m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(20)})
	if late.Changed || m.Status().Progress != 100 {
		t.Fatalf("expected late progress ignored, got %+v", late)
	}
}

func TestFailureKeepsProgressAndMessage(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationInProgress, Progress: progress(40)})
	tr := m.Apply(domain.GenerationEvent{Status: domain.GenerationFailed, Message: "model unavailable"})
	if !tr.Failed || tr.Status.Progress != 40 || tr.Status.Message != "model unavailable" {
		t.Fatalf("unexpected failure transition %+v", tr)
	}
	if again := m.Apply(domain.GenerationEvent{Status: domain.GenerationFailed}); again.Failed {
		t.Fatalf("expected duplicate failure to be a no-op")
	}
}

func TestResetStartsNewCycle(t *testing.T) {
	m := NewMonitor()
	m.Apply(domain.GenerationEvent{Status: domain.GenerationCompleted, QuestionCount: 3})
	m.Reset()
	if m.Status().Status != domain.GenerationIdle || m.Status().Progress != 0 || m.QuestionCount() != 0 {
		t.Fatalf("expected idle status after reset, got %+v", m.Status())
	}
	if tr := m.Apply(domain.GenerationEvent{Status: domain.GenerationStarted}); !tr.Changed {
		t.Fatalf("expected a fresh cycle to accept events")
	}
}
