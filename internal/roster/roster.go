// Package roster reconciles a room's player list from join/leave deltas,
// full-roster broadcasts and heartbeat snapshots.
package roster

import "quiz-sync/internal/domain"

// Roster is one client's reconciled view of a room.
type Roster struct {
	Room    domain.RoomState
	Players []domain.PlayerProfile
	Self    domain.ID

	// IsOwner and IsReady describe Self and are recomputed on every pass.
	IsOwner bool
	IsReady bool
}

// Broadcast is an inbound roster message. Partial broadcasts upsert their
// players into the cached roster; complete ones replace it.
type Broadcast struct {
	Room    *domain.RoomState
	Players []domain.PlayerProfile
	Partial bool
}

// New returns an empty roster for self in room.
func New(room domain.RoomState, self domain.ID) Roster {
	r := Roster{Room: room, Self: domain.NormalizeID(string(self))}
	settle(&r, "")
	return r
}

// Len is the reconciled player count.
func (r Roster) Len() int { return len(r.Players) }

// Owner returns the current owner id, if any.
func (r Roster) Owner() (domain.ID, bool) {
	for _, p := range r.Players {
		if p.IsOwner {
			return p.ID, true
		}
	}
	return "", false
}

// Find returns the profile for id.
func (r Roster) Find(id domain.ID) (domain.PlayerProfile, bool) {
	if i := r.index(domain.NormalizeID(string(id))); i >= 0 {
		return r.Players[i], true
	}
	return domain.PlayerProfile{}, false
}

// IDs returns player ids in roster order.
func (r Roster) IDs() []domain.ID {
	out := make([]domain.ID, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, p.ID)
	}
	return out
}

// Reconcile merges in into cached and returns the new roster; cached is not
// modified.
func Reconcile(cached Roster, in Broadcast) Roster {
	out := cached.clone()
	priorOwner, _ := cached.Owner()
	if in.Room != nil {
		out.Room = mergeRoom(out.Room, *in.Room)
	}

	incoming := collapse(in.Players, cached)
	switch {
	case len(incoming) == 0:
		// An empty array is never trusted over a known roster.
	case in.Partial:
		for _, p := range incoming {
			out.upsert(p)
		}
	default:
		// The broadcast's own id list, when present, replaces the local one
		// as the reference for merge-back.
		reference := cached.Room.PlayerIDs
		if in.Room != nil && len(in.Room.PlayerIDs) > 0 {
			reference = in.Room.PlayerIDs
		}
		players := make([]domain.PlayerProfile, 0, len(incoming)+len(reference))
		seen := make(map[domain.ID]bool, len(incoming))
		for _, p := range incoming {
			if prev, ok := cached.Find(p.ID); ok {
				p = mergeProfile(prev, p)
			}
			players = append(players, p)
			seen[p.ID] = true
		}
		// Referenced ids missing from the array survive a stale broadcast.
		for _, raw := range reference {
			id := domain.NormalizeID(string(raw))
			if seen[id] {
				continue
			}
			if prev, ok := cached.Find(id); ok {
				players = append(players, prev)
				seen[id] = true
			}
		}
		out.Players = players
	}

	settle(&out, priorOwner)
	return out
}

// ApplyJoin adds or refreshes a single player.
func ApplyJoin(r Roster, p domain.PlayerProfile) Roster {
	return Reconcile(r, Broadcast{Players: []domain.PlayerProfile{p}, Partial: true})
}

// ApplyLeave removes id from the roster. A departing owner leaves the room
// ownerless until an explicit ownership change arrives.
func ApplyLeave(r Roster, id domain.ID) Roster {
	out := r.clone()
	id = domain.NormalizeID(string(id))
	if i := out.index(id); i >= 0 {
		out.Players = append(out.Players[:i], out.Players[i+1:]...)
	}
	if domain.NormalizeID(string(out.Room.OwnerID)) == id {
		out.Room.OwnerID = ""
	}
	settle(&out, "")
	return out
}

// ApplyReady toggles a player's ready flag.
func ApplyReady(r Roster, id domain.ID, ready bool) Roster {
	out := r.clone()
	if i := out.index(domain.NormalizeID(string(id))); i >= 0 {
		out.Players[i].IsReady = ready
	}
	prior, _ := r.Owner()
	settle(&out, prior)
	return out
}

// ApplyOwnerChange records an explicit ownership transfer. Unknown owners are
// ignored.
func ApplyOwnerChange(r Roster, newOwner domain.ID) Roster {
	newOwner = domain.NormalizeID(string(newOwner))
	if r.index(newOwner) < 0 {
		return r
	}
	out := r.clone()
	out.Room.OwnerID = newOwner
	settle(&out, newOwner)
	return out
}

// Successor picks the player that inherits ownership when leaving departs:
// the first remaining player in roster order.
func Successor(r Roster, leaving domain.ID) (domain.ID, bool) {
	leaving = domain.NormalizeID(string(leaving))
	for _, p := range r.Players {
		if p.ID != leaving {
			return p.ID, true
		}
	}
	return "", false
}

// ReadyCount returns how many players are ready.
func ReadyCount(r Roster) int {
	n := 0
	for _, p := range r.Players {
		if p.IsReady {
			n++
		}
	}
	return n
}

func (r Roster) clone() Roster {
	out := r
	out.Players = append([]domain.PlayerProfile(nil), r.Players...)
	out.Room.PlayerIDs = append([]domain.ID(nil), r.Room.PlayerIDs...)
	return out
}

func (r Roster) index(id domain.ID) int {
	for i, p := range r.Players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

func (r *Roster) upsert(p domain.PlayerProfile) {
	if i := r.index(p.ID); i >= 0 {
		r.Players[i] = mergeProfile(r.Players[i], p)
		return
	}
	r.Players = append(r.Players, p)
}

// collapse normalizes ids and folds duplicate entries. Among duplicates the
// entry whose session matches the cached one wins; otherwise the first does.
func collapse(players []domain.PlayerProfile, cached Roster) []domain.PlayerProfile {
	out := make([]domain.PlayerProfile, 0, len(players))
	pos := make(map[domain.ID]int, len(players))
	for _, p := range players {
		p.ID = domain.NormalizeID(string(p.ID))
		if p.ID == "" {
			continue
		}
		i, dup := pos[p.ID]
		if !dup {
			pos[p.ID] = len(out)
			out = append(out, p)
			continue
		}
		prev, ok := cached.Find(p.ID)
		if ok && prev.SessionID != "" && p.SessionID == prev.SessionID && out[i].SessionID != prev.SessionID {
			out[i] = p
		}
	}
	return out
}

// settle enforces the single-owner rule and recomputes derived fields.
// preferred is the owner to keep when several entries claim ownership.
func settle(r *Roster, preferred domain.ID) {
	owner := resolveOwner(*r, preferred)
	for i := range r.Players {
		r.Players[i].IsOwner = owner != "" && r.Players[i].ID == owner
	}
	if owner != "" {
		r.Room.OwnerID = owner
	}

	r.Room.PlayerIDs = r.IDs()
	r.Room.CurrentPlayers = len(r.Players)

	r.IsOwner, r.IsReady = false, false
	if i := r.index(r.Self); i >= 0 {
		r.IsOwner = r.Players[i].IsOwner
		r.IsReady = r.Players[i].IsReady
	}
}

func resolveOwner(r Roster, preferred domain.ID) domain.ID {
	if id := domain.NormalizeID(string(r.Room.OwnerID)); id != "" && r.index(id) >= 0 {
		return id
	}
	var first domain.ID
	for _, p := range r.Players {
		if !p.IsOwner {
			continue
		}
		if preferred != "" && p.ID == preferred {
			return p.ID
		}
		if first == "" {
			first = p.ID
		}
	}
	if first != "" {
		return first
	}
	// Ownership is never inferred from absence of flags.
	if preferred != "" && r.index(preferred) >= 0 {
		return preferred
	}
	return ""
}

func mergeProfile(known, in domain.PlayerProfile) domain.PlayerProfile {
	out := known
	out.ID = in.ID
	if in.Nickname != "" {
		out.Nickname = in.Nickname
	}
	if in.AvatarURL != "" {
		out.AvatarURL = in.AvatarURL
	}
	if in.SessionID != "" {
		out.SessionID = in.SessionID
	}
	out.IsReady = in.IsReady
	out.IsOwner = in.IsOwner
	return out
}

// mergeRoom overlays the non-empty fields of in onto known.
func mergeRoom(known, in domain.RoomState) domain.RoomState {
	out := known
	if id := domain.NormalizeID(string(in.ID)); id != "" {
		out.ID = id
	}
	if in.Title != "" {
		out.Title = in.Title
	}
	if in.Capacity > 0 {
		out.Capacity = in.Capacity
	}
	if id := domain.NormalizeID(string(in.OwnerID)); id != "" {
		out.OwnerID = id
	}
	if in.Status != "" {
		out.Status = in.Status
	}
	if in.Difficulty != "" {
		out.Difficulty = in.Difficulty
	}
	if in.Category != "" {
		out.Category = in.Category
	}
	if in.QuestionCount > 0 {
		out.QuestionCount = in.QuestionCount
	}
	if in.QuizID != "" {
		out.QuizID = in.QuizID
	}
	return out
}
