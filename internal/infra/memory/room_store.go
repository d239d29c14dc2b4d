package memory

import (
	"sync"

	"quiz-sync/internal/backend"
	"quiz-sync/internal/domain"
)

// RoomStore is an in-memory implementation of backend.RoomStore.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[domain.ID]*backend.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[domain.ID]*backend.Room),
	}
}

func (s *RoomStore) GetOrCreate(roomID domain.ID) *backend.Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		return room
	}
	room := backend.NewRoom(roomID)
	s.rooms[roomID] = room
	return room
}

func (s *RoomStore) Get(roomID domain.ID) (*backend.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	return room, ok
}

func (s *RoomStore) DeleteIfEmpty(roomID domain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return
	}
	if room.IsEmpty() {
		delete(s.rooms, roomID)
	}
}
