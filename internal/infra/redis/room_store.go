package redis

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quizroom-service/internal/app"
)

// RoomStore is a Redis-aware implementation of app.RoomStore.
// Notes:
//   - Rooms remain in-process actors; the local map is authoritative so
//     the engine's single-goroutine serialization is preserved.
//   - Redis marks room liveness with TTL keys (and could be extended to
//     route cross-instance pub/sub for multi-node fan-out).
type RoomStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
	rooms  map[string]*app.Room
}

func NewRoomStore(client *redis.Client, ttl time.Duration) *RoomStore {
	return &RoomStore{
		client: client,
		ttl:    ttl,
		rooms:  make(map[string]*app.Room),
	}
}

func (s *RoomStore) Put(code string, room *app.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	s.rooms[code] = room
	// best-effort liveness marker
	_ = s.client.Set(context.Background(), s.key(code), "1", s.ttl).Err()
	return true
}

func (s *RoomStore) Get(code string) (*app.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	return room, ok
}

func (s *RoomStore) Delete(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; !ok {
		return
	}
	delete(s.rooms, code)
	_ = s.client.Del(context.Background(), s.key(code)).Err()
}

func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *RoomStore) key(code string) string {
	return "room:live:" + code
}
