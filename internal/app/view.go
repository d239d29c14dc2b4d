package app

import (
	"sync"
	"time"

	"quiz-sync/internal/domain"
)

// Phase is where the room client is in the question cycle.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseActive    Phase = "ACTIVE"
	PhaseExpired   Phase = "EXPIRED"
	PhaseAdvancing Phase = "ADVANCING"
	PhaseFinishing Phase = "FINISHING"
	PhaseFinished  Phase = "FINISHED"
)

// View is an immutable snapshot of a room client for rendering.
type View struct {
	Room       domain.RoomState
	Players    []domain.PlayerProfile
	Self       domain.ID
	IsOwner    bool
	IsReady    bool
	Connection domain.ConnState
	Generation domain.GenerationStatus

	Phase            Phase
	Question         *domain.QuestionState
	Deadline         time.Time
	Answered         bool
	Placeholder      bool
	QuestionsStarted int

	Scores  []domain.ScoreEntry
	Chat    []domain.ChatMessage
	Notices []string
	Err     error

	UpdatedAt time.Time
}

// TimeLeft is the remaining time on the active question at now.
func (v View) TimeLeft(now time.Time) time.Duration {
	if v.Phase != PhaseActive || v.Deadline.IsZero() {
		return 0
	}
	if left := v.Deadline.Sub(now); left > 0 {
		return left
	}
	return 0
}

// Score returns the cumulative entry for id.
func (v View) Score(id domain.ID) (domain.ScoreEntry, bool) {
	id = domain.NormalizeID(string(id))
	for _, e := range v.Scores {
		if e.PlayerID == id {
			return e, true
		}
	}
	return domain.ScoreEntry{}, false
}

// viewHub stores the latest view and fans it out to observers. Slow
// observers lose stale views rather than blocking the event loop.
type viewHub struct {
	mu          sync.RWMutex
	current     View
	subscribers map[chan View]struct{}
}

func newViewHub() *viewHub {
	return &viewHub{subscribers: make(map[chan View]struct{})}
}

func (h *viewHub) get() View {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

func (h *viewHub) publish(v View) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = v
	for ch := range h.subscribers {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (h *viewHub) subscribe() (<-chan View, func()) {
	ch := make(chan View, 8)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	initial := h.current
	h.mu.Unlock()

	ch <- initial

	cancel := func() {
		h.mu.Lock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}
