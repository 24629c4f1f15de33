package memory

import (
	"sync"

	"quizroom-service/internal/app"
)

// RoomStore is an in-memory implementation of app.RoomStore.
type RoomStore struct {
	mu    sync.RWMutex
	rooms map[string]*app.Room
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[string]*app.Room),
	}
}

// Put inserts the room under code, reporting false on a code collision.
func (s *RoomStore) Put(code string, room *app.Room) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[code]; ok {
		return false
	}
	s.rooms[code] = room
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
	delete(s.rooms, code)
}

func (s *RoomStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
