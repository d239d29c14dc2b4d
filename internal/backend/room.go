package backend

import (
	"sync"
	"time"

	"quiz-sync/internal/domain"
)

// RoomStore abstracts where the simulator keeps its rooms (in-memory, Redis, etc).
type RoomStore interface {
	GetOrCreate(roomID domain.ID) *Room
	Get(roomID domain.ID) (*Room, bool)
	DeleteIfEmpty(roomID domain.ID)
}

// Room is the backend's authoritative record of one room.
type Room struct {
	mu      sync.Mutex
	state   domain.RoomState
	players []domain.PlayerProfile
	served  map[int]time.Time
}

func NewRoom(id domain.ID) *Room {
	return &Room{
		state:  domain.RoomState{ID: id, Status: domain.RoomWaiting, Capacity: 8},
		served: make(map[int]time.Time),
	}
}

// Join adds or refreshes a player. The first player owns the room. It
// reports whether the player was new.
func (r *Room) Join(p domain.PlayerProfile) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.ID = domain.NormalizeID(string(p.ID))
	if r.state.OwnerID == "" {
		r.state.OwnerID = p.ID
	}
	for i := range r.players {
		if r.players[i].ID == p.ID {
			if p.Nickname != "" {
				r.players[i].Nickname = p.Nickname
			}
			if p.AvatarURL != "" {
				r.players[i].AvatarURL = p.AvatarURL
			}
			r.players[i].IsReady = p.IsReady
			r.players[i].SessionID = p.SessionID
			return false
		}
	}
	p.IsOwner = false
	r.players = append(r.players, p)
	return true
}

// Leave removes a player, passing ownership to the earliest remaining one.
func (r *Room) Leave(id domain.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	id = domain.NormalizeID(string(id))
	for i := range r.players {
		if r.players[i].ID != id {
			continue
		}
		r.players = append(r.players[:i], r.players[i+1:]...)
		if r.state.OwnerID == id {
			r.state.OwnerID = ""
			if len(r.players) > 0 {
				r.state.OwnerID = r.players[0].ID
			}
		}
		return true
	}
	return false
}

// TransferOwner follows an explicit hand-off announced by the current owner.
func (r *Room) TransferOwner(from, to domain.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.OwnerID != from {
		return false
	}
	for _, p := range r.players {
		if p.ID == to {
			r.state.OwnerID = to
			return true
		}
	}
	return false
}

func (r *Room) Owner() domain.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.OwnerID
}

func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.players) == 0
}

// Snapshot returns the room and its roster with ownership flags applied.
func (r *Room) Snapshot() (domain.RoomState, []domain.PlayerProfile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) snapshotLocked() (domain.RoomState, []domain.PlayerProfile) {
	state := r.state
	players := make([]domain.PlayerProfile, len(r.players))
	state.PlayerIDs = make([]domain.ID, len(r.players))
	for i, p := range r.players {
		p.IsOwner = p.ID == r.state.OwnerID
		players[i] = p
		state.PlayerIDs[i] = p.ID
	}
	state.CurrentPlayers = len(players)
	return state, players
}

// Configure records the parameters of a requested quiz build.
func (r *Room) Configure(category, difficulty string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if category != "" {
		r.state.Category = category
	}
	if difficulty != "" {
		r.state.Difficulty = difficulty
	}
	if count > 0 {
		r.state.QuestionCount = count
	}
}

// AssignQuiz attaches a generated quiz and forgets previously served questions.
func (r *Room) AssignQuiz(quizID string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.QuizID = quizID
	r.state.QuestionCount = count
	r.served = make(map[int]time.Time)
}

func (r *Room) QuizID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.QuizID
}

// Serve reports whether index should be broadcast now. Every client asks for
// the same question, so repeats inside window are collapsed.
func (r *Room) Serve(index int, now time.Time, window time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if at, ok := r.served[index]; ok && now.Sub(at) < window {
		return false
	}
	r.served[index] = now
	r.state.Status = domain.RoomInGame
	return true
}

func (r *Room) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = domain.RoomFinished
}

// Reopen returns a finished room to the lobby.
func (r *Room) Reopen() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Status = domain.RoomWaiting
	r.state.QuizID = ""
	r.served = make(map[int]time.Time)
}
