package scoring

import (
	"sort"
	"time"

	"quiz-sync/internal/domain"
)

type standing struct {
	entry   domain.ScoreEntry
	updated time.Time
}

// Board is the authoritative cumulative score view of one client.
type Board struct {
	now    func() time.Time
	scores map[domain.ID]*standing
}

func NewBoard() *Board {
	return NewBoardWithClock(time.Now)
}

// NewBoardWithClock allows deterministic tie-breaks in tests.
func NewBoardWithClock(now func() time.Time) *Board {
	return &Board{now: now, scores: make(map[domain.ID]*standing)}
}

// Ensure adds a zero entry for a roster player and refreshes the nickname.
func (b *Board) Ensure(id domain.ID, nickname string) {
	s := b.get(id)
	if nickname != "" {
		s.entry.Nickname = nickname
	}
}

// Apply adds released deltas to the cumulative totals.
func (b *Board) Apply(entries []domain.AnswerSubmission) {
	now := b.now()
	for _, a := range entries {
		s := b.get(a.PlayerID)
		if a.Nickname != "" {
			s.entry.Nickname = a.Nickname
		}
		s.entry.Score += a.Delta
		s.entry.LastAnswerCorrect = a.Correct
		if a.Correct {
			s.entry.CorrectCount++
		}
		s.updated = now
	}
}

// Sync overwrites totals with an authoritative snapshot. Players missing from
// the snapshot keep their local entry.
func (b *Board) Sync(scores []domain.ScoreEntry) {
	now := b.now()
	for _, e := range scores {
		s := b.get(e.PlayerID)
		nickname := s.entry.Nickname
		s.entry = e
		s.entry.PlayerID = domain.NormalizeID(string(e.PlayerID))
		if s.entry.Nickname == "" {
			s.entry.Nickname = nickname
		}
		s.updated = now
	}
}

// Get returns the entry for id.
func (b *Board) Get(id domain.ID) (domain.ScoreEntry, bool) {
	s, ok := b.scores[domain.NormalizeID(string(id))]
	if !ok {
		return domain.ScoreEntry{}, false
	}
	return s.entry, true
}

// Snapshot returns entries ordered by score, then by who reached the score
// first, then by nickname.
func (b *Board) Snapshot() []domain.ScoreEntry {
	standings := make([]*standing, 0, len(b.scores))
	for _, s := range b.scores {
		standings = append(standings, s)
	}
	sort.Slice(standings, func(i, j int) bool {
		a, c := standings[i], standings[j]
		if a.entry.Score != c.entry.Score {
			return a.entry.Score > c.entry.Score
		}
		if !a.updated.Equal(c.updated) {
			return a.updated.Before(c.updated)
		}
		if a.entry.Nickname != c.entry.Nickname {
			return a.entry.Nickname < c.entry.Nickname
		}
		return a.entry.PlayerID < c.entry.PlayerID
	})
	out := make([]domain.ScoreEntry, 0, len(standings))
	for _, s := range standings {
		out = append(out, s.entry)
	}
	return out
}

// Reset clears every score.
func (b *Board) Reset() {
	b.scores = make(map[domain.ID]*standing)
}

func (b *Board) get(id domain.ID) *standing {
	id = domain.NormalizeID(string(id))
	s, ok := b.scores[id]
	if !ok {
		s = &standing{entry: domain.ScoreEntry{PlayerID: id}}
		b.scores[id] = s
	}
	return s
}
