// Package directory holds the list of rooms shown before joining one.
package directory

import (
	"slices"
	"sync"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type Store struct {
	mu    sync.RWMutex
	rooms []protocol.Room
}

func NewStore() *Store {
	return &Store{}
}

// Upsert replaces the room with the same id in place, or appends it.
func (s *Store) Upsert(room protocol.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsert(room)
}

func (s *Store) upsert(room protocol.Room) {
	room = room.Clone()
	for i := range s.rooms {
		if s.rooms[i].ID == room.ID {
			s.rooms[i] = room
			return
		}
	}
	s.rooms = append(s.rooms, room)
}

func (s *Store) Remove(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = slices.DeleteFunc(s.rooms, func(r protocol.Room) bool { return r.ID == roomID })
}

// Merge adds rooms from a fetched snapshot whose ids are not present yet.
// Entries already in the store came from live events and are newer than
// any snapshot that was requested before them.
func (s *Store) Merge(rooms []protocol.Room) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rooms {
		if r.ID == "" || s.indexOf(r.ID) >= 0 {
			continue
		}
		s.rooms = append(s.rooms, r.Clone())
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms = nil
}

func (s *Store) Get(roomID string) (protocol.Room, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := s.indexOf(roomID); i >= 0 {
		return s.rooms[i].Clone(), true
	}
	return protocol.Room{}, false
}

// List returns a copy in insertion/update order.
func (s *Store) List() []protocol.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]protocol.Room, len(s.rooms))
	for i, r := range s.rooms {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.rooms, func(r protocol.Room) bool { return r.ID == id })
}

// Joinable filters rooms a player could join right now. Display code
// decides whether to apply it; the store keeps everything it is told about.
func Joinable(rooms []protocol.Room) []protocol.Room {
	out := make([]protocol.Room, 0, len(rooms))
	for _, r := range rooms {
		if r.Joinable() {
			out = append(out, r)
		}
	}
	return out
}
