// Package history records finished matches.
package history

import (
	"context"
	"time"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

// Match is one finished game as seen by the local client.
type Match struct {
	RoomID         string     `json:"roomId"`
	RoomName       string     `json:"roomName"`
	PlayerID       string     `json:"playerId"`
	HostID         string     `json:"hostId"`
	HostName       string     `json:"hostName,omitempty"`
	HostCharacter  string     `json:"hostCharacter,omitempty"`
	GuestID        string     `json:"guestId,omitempty"`
	GuestName      string     `json:"guestName,omitempty"`
	GuestCharacter string     `json:"guestCharacter,omitempty"`
	WinnerID       string     `json:"winnerId"`
	Turns          int        `json:"turns"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	EndedAt        time.Time  `json:"endedAt"`
	BattleLog      []string   `json:"battleLog"`
}

// Won reports whether the local player won.
func (m Match) Won() bool {
	return m.PlayerID != "" && m.PlayerID == m.WinnerID
}

type Recorder interface {
	Record(ctx context.Context, m Match) error
}

// Nop discards matches.
type Nop struct{}

func (Nop) Record(context.Context, Match) error { return nil }

// FromRoom builds a Match from a completed room.
func FromRoom(room protocol.Room, playerID string) Match {
	m := Match{
		RoomID:    room.ID,
		RoomName:  room.Name,
		PlayerID:  playerID,
		HostID:    room.HostID,
		HostName:  room.HostName,
		GuestID:   room.GuestID,
		GuestName: room.GuestName,
		WinnerID:  room.GameData.Winner,
		Turns:     room.GameData.TurnCount,
		BattleLog: append([]string(nil), room.GameData.BattleLog...),
	}
	if room.HostCharacter != nil {
		m.HostCharacter = room.HostCharacter.ID
	}
	if room.GuestCharacter != nil {
		m.GuestCharacter = room.GuestCharacter.ID
	}
	if room.GameData.StartTime != nil {
		t := *room.GameData.StartTime
		m.StartedAt = &t
	}
	if room.GameData.EndTime != nil {
		m.EndedAt = *room.GameData.EndTime
	} else {
		m.EndedAt = time.Now()
	}
	return m
}
