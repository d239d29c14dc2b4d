package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"quiz-sync/internal/backend"
	"quiz-sync/internal/domain"
)

// RoomStore is a Redis-aware implementation of backend.RoomStore.
//   - Rooms live in a local map; the simulator owns their state in process.
//   - Redis holds a liveness key per room, refreshed on every lookup, plus
//     the set of active room ids so operators can list them.
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration

	mu    sync.RWMutex
	rooms map[domain.ID]*backend.Room
}

const activeRoomsKey = "rooms:active"

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[domain.ID]*backend.Room),
	}
}

func (s *RoomStore) GetOrCreate(roomID domain.ID) *backend.Room {
	s.mu.Lock()
	room, ok := s.rooms[roomID]
	if !ok {
		room = backend.NewRoom(roomID)
		s.rooms[roomID] = room
	}
	s.mu.Unlock()
	s.touch(roomID)
	return room
}

func (s *RoomStore) Get(roomID domain.ID) (*backend.Room, bool) {
	s.mu.RLock()
	room, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok {
		s.touch(roomID)
	}
	return room, ok
}

func (s *RoomStore) DeleteIfEmpty(roomID domain.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok || !room.IsEmpty() {
		return
	}
	delete(s.rooms, roomID)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.key(roomID))
	pipe.SRem(ctx, activeRoomsKey, string(roomID))
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("room", string(roomID)).Msg("room liveness cleanup failed")
	}
}

// Active lists the rooms currently marked live in Redis.
func (s *RoomStore) Active(ctx context.Context) ([]domain.ID, error) {
	ids, err := s.client.SMembers(ctx, activeRoomsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ID, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.ID(id))
	}
	return out, nil
}

// touch is a best-effort liveness marker.
func (s *RoomStore) touch(roomID domain.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(roomID), "1", s.ttl)
	pipe.SAdd(ctx, activeRoomsKey, string(roomID))
	_, _ = pipe.Exec(ctx)
}

func (s *RoomStore) key(roomID domain.ID) string {
	return "room:live:" + string(roomID)
}
