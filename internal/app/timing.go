package app

import "time"

// Timing groups every deliberate delay of the room client so tests can
// shorten them or drive them with a fake clock.
type Timing struct {
	// SettleDelay runs between generation completion and the first question.
	SettleDelay time.Duration
	// AdvanceDelay runs between a barrier release and the next question.
	AdvanceDelay time.Duration
	// BarrierFallbackDelay bounds how long an expired question waits for
	// missing peers before releasing anyway.
	BarrierFallbackDelay time.Duration
	// QuestionFallbackDelay bounds how long a question request may go
	// unanswered before placeholder questions are used.
	QuestionFallbackDelay time.Duration
	// HeartbeatInterval is how often the owner republishes the room status.
	// Zero disables the heartbeat.
	HeartbeatInterval time.Duration
	// DefaultTimeLimit applies to questions without a time limit.
	DefaultTimeLimit time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		SettleDelay:           1500 * time.Millisecond,
		AdvanceDelay:          3 * time.Second,
		BarrierFallbackDelay:  3 * time.Second,
		QuestionFallbackDelay: 8 * time.Second,
		HeartbeatInterval:     10 * time.Second,
		DefaultTimeLimit:      15 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	def := DefaultTiming()
	if t.SettleDelay <= 0 {
		t.SettleDelay = def.SettleDelay
	}
	if t.AdvanceDelay <= 0 {
		t.AdvanceDelay = def.AdvanceDelay
	}
	if t.BarrierFallbackDelay <= 0 {
		t.BarrierFallbackDelay = def.BarrierFallbackDelay
	}
	if t.QuestionFallbackDelay <= 0 {
		t.QuestionFallbackDelay = def.QuestionFallbackDelay
	}
	if t.DefaultTimeLimit <= 0 {
		t.DefaultTimeLimit = def.DefaultTimeLimit
	}
	return t
}
