package protocol

import (
	"slices"
	"time"
)

// MaxPlayers is fixed for every room: one host and one guest.
const MaxPlayers = 2

type RoomStatus string

const (
	StatusWaiting    RoomStatus = "waiting"
	StatusReady      RoomStatus = "ready"
	StatusInProgress RoomStatus = "in-progress"
	StatusCompleted  RoomStatus = "completed"
)

type Room struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	HostID         string     `json:"hostId"`
	HostName       string     `json:"hostName,omitempty"`
	HostCharacter  *Character `json:"hostCharacter,omitempty"`
	GuestID        string     `json:"guestId,omitempty"` // "" means no guest
	GuestName      string     `json:"guestName,omitempty"`
	GuestCharacter *Character `json:"guestCharacter,omitempty"`
	Status         RoomStatus `json:"status"`
	Players        []string   `json:"players"`
	MaxPlayers     int        `json:"maxPlayers"`
	GameData       GameData   `json:"gameData"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastActivity   time.Time  `json:"lastActivity"`
	IsPrivate      bool       `json:"isPrivate,omitempty"`
}

type GameData struct {
	TurnCount   int        `json:"turnCount"`
	CurrentTurn string     `json:"currentTurn,omitempty"`
	BattleLog   []string   `json:"battleLog"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Winner      string     `json:"winner,omitempty"`
}

type Player struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Character *Character `json:"character,omitempty"`
	IsReady   bool       `json:"isReady"`
	Health    int        `json:"health"`
	MaxHealth int        `json:"maxHealth"`
	Mana      int        `json:"mana"`
	MaxMana   int        `json:"maxMana"`
}

// Character is opaque to the client apart from the starting Health and Mana.
type Character struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Health    int       `json:"health"`
	Mana      int       `json:"mana"`
	Abilities []Ability `json:"abilities,omitempty"`
}

type Ability struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Damage      int    `json:"damage,omitempty"`
	Healing     int    `json:"healing,omitempty"`
	ManaCost    int    `json:"manaCost,omitempty"`
	Description string `json:"description,omitempty"`
}

type ActionType string

const (
	ActionAttack  ActionType = "attack"
	ActionAbility ActionType = "ability"
	ActionDefend  ActionType = "defend"
)

// ActionResult carries the server-computed outcome of one game action. Nil
// stat pointers mean the field was not part of the result.
type ActionResult struct {
	ActingPlayerID     string `json:"actingPlayerId"`
	ActingPlayerHealth *int   `json:"actingPlayerHealth,omitempty"`
	ActingPlayerMana   *int   `json:"actingPlayerMana,omitempty"`
	TargetPlayerID     string `json:"targetPlayerId,omitempty"`
	TargetPlayerHealth *int   `json:"targetPlayerHealth,omitempty"`
	TargetPlayerMana   *int   `json:"targetPlayerMana,omitempty"`
	Damage             int    `json:"damage,omitempty"`
	Healing            int    `json:"healing,omitempty"`
	Message            string `json:"message,omitempty"`
}

// Int returns a pointer to v, for building ActionResult values.
func Int(v int) *int { return &v }

func (r Room) HasPlayer(id string) bool {
	return id != "" && slices.Contains(r.Players, id)
}

func (r Room) IsFull() bool {
	limit := r.MaxPlayers
	if limit <= 0 {
		limit = MaxPlayers
	}
	return len(r.Players) >= limit
}

// Joinable reports whether the room should be offered in a directory listing.
func (r Room) Joinable() bool {
	return r.Status == StatusWaiting && !r.IsFull() && !r.IsPrivate
}

func (r Room) Clone() Room {
	out := r
	out.Players = slices.Clone(r.Players)
	out.HostCharacter = r.HostCharacter.Clone()
	out.GuestCharacter = r.GuestCharacter.Clone()
	out.GameData = r.GameData.Clone()
	return out
}

func (g GameData) Clone() GameData {
	out := g
	out.BattleLog = slices.Clone(g.BattleLog)
	if g.StartTime != nil {
		t := *g.StartTime
		out.StartTime = &t
	}
	if g.EndTime != nil {
		t := *g.EndTime
		out.EndTime = &t
	}
	return out
}

func (p Player) Clone() Player {
	out := p
	out.Character = p.Character.Clone()
	return out
}

func (c *Character) Clone() *Character {
	if c == nil {
		return nil
	}
	out := *c
	out.Abilities = slices.Clone(c.Abilities)
	return &out
}

// Ability looks up one of the character's abilities by id.
func (c *Character) Ability(id string) (Ability, bool) {
	if c == nil {
		return Ability{}, false
	}
	for _, a := range c.Abilities {
		if a.ID == id {
			return a, true
		}
	}
	return Ability{}, false
}
