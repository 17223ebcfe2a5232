package chatstore

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// MemoryStore is a size-limited, in-memory MessageStore. It mirrors the
// ordering semantics of the SQLite store so that swapping implementations
// does not change what the UI renders.
type MemoryStore struct {
	mu              sync.Mutex
	maxPerRoom      int
	rooms           map[string][]Message
	seen            map[string]map[string]struct{}
}

var _ MessageStore = &MemoryStore{}

func NewMemoryStore(maxPerRoom int) *MemoryStore {
	if maxPerRoom <= 0 {
		maxPerRoom = 2000
	}
	return &MemoryStore{
		maxPerRoom: maxPerRoom,
		rooms:      map[string][]Message{},
		seen:       map[string]map[string]struct{}{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) Append(ctx context.Context, msg Message) (bool, error) {
	if s == nil {
		return false, errors.New("memory store: nil store")
	}
	if msg.ID == "" {
		return false, errors.New("memory store: message id is empty")
	}
	if msg.RoomID == "" {
		return false, errors.New("memory store: room id is empty")
	}
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.seen[msg.RoomID]
	if ids == nil {
		ids = map[string]struct{}{}
		s.seen[msg.RoomID] = ids
	}
	if _, ok := ids[msg.ID]; ok {
		return false, nil
	}
	ids[msg.ID] = struct{}{}

	room := append(s.rooms[msg.RoomID], msg)
	sort.SliceStable(room, func(i, j int) bool { return room[i].SentAt.Before(room[j].SentAt) })
	if len(room) > s.maxPerRoom {
		for _, old := range room[:len(room)-s.maxPerRoom] {
			delete(ids, old.ID)
		}
		room = room[len(room)-s.maxPerRoom:]
	}
	s.rooms[msg.RoomID] = room
	return true, nil
}

func (s *MemoryStore) Messages(ctx context.Context, roomID string) ([]Message, error) {
	if s == nil {
		return nil, errors.New("memory store: nil store")
	}
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.rooms[roomID]))
	copy(out, s.rooms[roomID])
	return out, nil
}

func (s *MemoryStore) LastMessage(ctx context.Context, roomID string) (Message, bool, error) {
	if s == nil {
		return Message{}, false, errors.New("memory store: nil store")
	}
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	room := s.rooms[roomID]
	if len(room) == 0 {
		return Message{}, false, nil
	}
	return room[len(room)-1], true, nil
}
