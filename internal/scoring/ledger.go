// Package scoring buffers per-question answer deltas and applies them to
// cumulative scores once a barrier condition is met.
package scoring

import (
	"sort"

	"quiz-sync/internal/domain"
)

// Ledger holds pending submissions keyed by (player, question index).
type Ledger struct {
	pending  map[int]map[domain.ID]domain.AnswerSubmission
	released int
}

func NewLedger() *Ledger {
	return &Ledger{
		pending:  make(map[int]map[domain.ID]domain.AnswerSubmission),
		released: -1,
	}
}

// Submit records a, replacing any earlier entry for the same player and
// question. Submissions for an index that was already released are dropped
// and reported as false.
func (l *Ledger) Submit(a domain.AnswerSubmission) bool {
	if a.QuestionIndex <= l.released {
		return false
	}
	a.PlayerID = domain.NormalizeID(string(a.PlayerID))
	byPlayer, ok := l.pending[a.QuestionIndex]
	if !ok {
		byPlayer = make(map[domain.ID]domain.AnswerSubmission)
		l.pending[a.QuestionIndex] = byPlayer
	}
	byPlayer[a.PlayerID] = a
	return true
}

// Responded is the number of distinct players with an entry for index.
func (l *Ledger) Responded(index int) int { return len(l.pending[index]) }

// HasResponded reports whether id already submitted for index.
func (l *Ledger) HasResponded(index int, id domain.ID) bool {
	_, ok := l.pending[index][domain.NormalizeID(string(id))]
	return ok
}

// Ready reports whether every player in players has responded for index.
// Entries from ids outside players do not count. An empty roster is ready as
// soon as any submission lands.
func (l *Ledger) Ready(index int, players []domain.ID) bool {
	if index <= l.released {
		return false
	}
	entries := l.pending[index]
	if len(players) == 0 {
		return len(entries) > 0
	}
	for _, id := range players {
		if _, ok := entries[domain.NormalizeID(string(id))]; !ok {
			return false
		}
	}
	return true
}

// Forget drops id's pending entries for every unreleased question.
func (l *Ledger) Forget(id domain.ID) {
	id = domain.NormalizeID(string(id))
	for _, byPlayer := range l.pending {
		delete(byPlayer, id)
	}
}

// LastReleased is the highest released or discarded index, or -1.
func (l *Ledger) LastReleased() int { return l.released }

// Released reports whether index was already released or discarded.
func (l *Ledger) Released(index int) bool { return index <= l.released }

// Release removes and returns the entries for index, ordered by player id.
// Releasing an index twice, or an index at or below one already released,
// returns nil.
func (l *Ledger) Release(index int) []domain.AnswerSubmission {
	if index <= l.released {
		return nil
	}
	entries := l.pending[index]
	for i := range l.pending {
		if i <= index {
			delete(l.pending, i)
		}
	}
	l.released = index
	if len(entries) == 0 {
		return nil
	}
	out := make([]domain.AnswerSubmission, 0, len(entries))
	for _, a := range entries {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlayerID < out[j].PlayerID })
	return out
}

// Discard drops every entry at or below upTo without applying it; used when
// an authoritative snapshot already includes those questions.
func (l *Ledger) Discard(upTo int) {
	for i := range l.pending {
		if i <= upTo {
			delete(l.pending, i)
		}
	}
	if upTo > l.released {
		l.released = upTo
	}
}

// Reset clears the ledger for a new session.
func (l *Ledger) Reset() {
	l.pending = make(map[int]map[domain.ID]domain.AnswerSubmission)
	l.released = -1
}
