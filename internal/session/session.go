// Package session holds the local view of the active room and game. Only the
// client's event loop mutates a Store; everyone else reads snapshots.
package session

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type Phase string

const (
	PhaseIdle            Phase = "idle"
	PhaseConnecting      Phase = "connecting"
	PhaseDirectory       Phase = "directory"
	PhaseInRoom          Phase = "in-room"
	PhaseCharacterSelect Phase = "character-select"
	PhaseReadyWait       Phase = "ready-wait"
	PhaseCountdown       Phase = "countdown"
	PhaseInGame          Phase = "in-game"
	PhaseGameOver        Phase = "game-over"
)

const (
	MaxBattleLog = 20
	MaxChatLog   = 50
)

type ChatLine struct {
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Message    string    `json:"message"`
	At         time.Time `json:"at"`
}

// Snapshot is a deep copy of the store; callers may keep and modify it.
type Snapshot struct {
	Phase            Phase               `json:"phase"`
	PlayerID         string              `json:"playerId,omitempty"`
	PlayerName       string              `json:"playerName,omitempty"`
	IsHost           bool                `json:"isHost"`
	Room             *protocol.Room      `json:"room,omitempty"`
	Players          []protocol.Player   `json:"players"`
	Countdown        *int                `json:"countdown,omitempty"`
	PendingCharacter *protocol.Character `json:"pendingCharacter,omitempty"`
	Chat             []ChatLine          `json:"chat"`
}

// Player returns the roster entry for id.
func (s Snapshot) Player(id string) (protocol.Player, bool) {
	for _, p := range s.Players {
		if p.ID == id {
			return p, true
		}
	}
	return protocol.Player{}, false
}

type Store struct {
	mu  sync.RWMutex
	log *zap.Logger
	now func() time.Time

	phase      Phase
	playerID   string
	playerName string
	room       *protocol.Room
	players    map[string]*protocol.Player
	countdown  *int
	tentative  *protocol.Character
	chat       []ChatLine
}

func New(log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		log:     log,
		now:     time.Now,
		phase:   PhaseIdle,
		players: make(map[string]*protocol.Player),
	}
}

func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

func (s *Store) PlayerID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.playerID
}

// RoomID returns the active room id, or "" outside a room.
func (s *Store) RoomID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return ""
	}
	return s.room.ID
}

func (s *Store) InRoom() bool {
	return s.RoomID() != ""
}

// SetPlayerName records the display name used for the local player.
func (s *Store) SetPlayerName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playerName = name
}

// BeginConnecting moves an idle store to connecting.
func (s *Store) BeginConnecting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseIdle {
		s.phase = PhaseConnecting
	}
}

// Reset discards identity and all room, player and game state. The store is
// left connecting when the transport is about to retry, idle otherwise.
func (s *Store) Reset(reconnecting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(reconnecting)
}

func (s *Store) reset(reconnecting bool) {
	s.clearRoom()
	s.playerID = ""
	s.phase = PhaseIdle
	if reconnecting {
		s.phase = PhaseConnecting
	}
}

// LeaveRoom drops the active room locally and returns to the directory. It
// reports the id of the room that was left.
func (s *Store) LeaveRoom() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.room == nil {
		return "", false
	}
	id := s.room.ID
	s.clearRoom()
	s.phase = PhaseDirectory
	return id, true
}

// SetTentativeCharacter records a local pick that is shown until the server
// confirms or rejects it.
func (s *Store) SetTentativeCharacter(c protocol.Character) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tentative = c.Clone()
}

func (s *Store) ClearTentativeCharacter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tentative = nil
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Phase:            s.phase,
		PlayerID:         s.playerID,
		PlayerName:       s.playerName,
		PendingCharacter: s.tentative.Clone(),
		Players:          []protocol.Player{},
		Chat:             slices.Clone(s.chat),
	}
	if snap.Chat == nil {
		snap.Chat = []ChatLine{}
	}
	if s.countdown != nil {
		v := *s.countdown
		snap.Countdown = &v
	}
	if s.room != nil {
		r := s.room.Clone()
		snap.Room = &r
		snap.IsHost = s.isHost()
		for _, id := range s.room.Players {
			if p, ok := s.players[id]; ok {
				snap.Players = append(snap.Players, p.Clone())
			}
		}
	}
	return snap
}

// Apply merges one inbound event and reports whether it changed anything.
func (s *Store) Apply(ev protocol.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case protocol.ConnectionSuccess:
		return s.applyConnected(e)
	case protocol.RoomCreated:
		return s.enterRoom(e.Room, ev.EventName())
	case protocol.RoomJoined:
		return s.enterRoom(e.Room, ev.EventName())
	case protocol.PlayerJoined:
		return s.applyPlayerJoined(e)
	case protocol.PlayerLeft:
		return s.applyPlayerLeft(e)
	case protocol.RoomUpdated:
		return s.applyRoomUpdated(e)
	case protocol.CharacterSelected:
		return s.applyCharacterSelected(e)
	case protocol.SelectCharacterError:
		changed := s.tentative != nil
		s.tentative = nil
		return changed
	case protocol.PlayerReadyUpdated:
		return s.applyReady(e)
	case protocol.GameCountdown:
		return s.applyCountdown(e)
	case protocol.GameStarted:
		return s.applyGameStarted(e)
	case protocol.GameActionPerformed:
		return s.applyAction(e)
	case protocol.GameOver:
		return s.applyGameOver(e)
	case protocol.ChatMessage:
		return s.applyChat(e)
	case protocol.Disconnected:
		s.reset(e.Reconnecting)
		return true
	case protocol.Reconnecting:
		if s.phase == PhaseIdle {
			s.phase = PhaseConnecting
			return true
		}
	case protocol.ConnectionFailed:
		s.reset(false)
		return true
	}
	return false
}

func (s *Store) applyConnected(e protocol.ConnectionSuccess) bool {
	s.playerID = e.PlayerID
	if e.PlayerData != nil && e.PlayerData.Name != "" {
		s.playerName = e.PlayerData.Name
	}
	if s.room == nil {
		s.phase = PhaseDirectory
	}
	return true
}

func (s *Store) enterRoom(room protocol.Room, name protocol.Name) bool {
	if s.room != nil {
		s.log.Debug("dropping room ack while in a room",
			zap.String("event", string(name)),
			zap.String("room", s.room.ID),
			zap.String("ackRoom", room.ID),
		)
		return false
	}

	r := room.Clone()
	if r.MaxPlayers == 0 {
		r.MaxPlayers = protocol.MaxPlayers
	}
	s.room = &r
	s.players = make(map[string]*protocol.Player)
	s.countdown = nil
	s.syncRoster()

	if s.playerID != "" {
		if _, ok := s.players[s.playerID]; !ok {
			s.players[s.playerID] = &protocol.Player{ID: s.playerID, Name: s.playerName}
			if !slices.Contains(s.room.Players, s.playerID) && !s.room.IsFull() {
				s.room.Players = append(s.room.Players, s.playerID)
			}
		}
	}
	s.room.GameData.BattleLog = capTail(s.room.GameData.BattleLog, MaxBattleLog)
	s.phase = s.lobbyPhase()
	return true
}

func (s *Store) applyPlayerJoined(e protocol.PlayerJoined) bool {
	if s.room == nil {
		return false
	}
	in := e.Player
	_, known := s.players[in.ID]
	if !known && !slices.Contains(s.room.Players, in.ID) && s.room.IsFull() {
		s.log.Warn("player joined a full room", zap.String("player", in.ID), zap.String("room", s.room.ID))
		return false
	}
	if p, ok := s.players[in.ID]; ok {
		if in.Name != "" {
			p.Name = in.Name
		}
	} else {
		p := in.Clone()
		s.players[in.ID] = &p
	}
	if !slices.Contains(s.room.Players, in.ID) && !s.room.IsFull() {
		s.room.Players = append(s.room.Players, in.ID)
	}
	if in.ID != s.room.HostID && s.room.GuestID == "" {
		s.room.GuestID = in.ID
		s.room.GuestName = in.Name
	}
	s.settleLobbyPhase()
	return true
}

func (s *Store) applyPlayerLeft(e protocol.PlayerLeft) bool {
	if s.room == nil {
		return false
	}
	if e.PlayerID == s.playerID {
		s.clearRoom()
		s.phase = PhaseDirectory
		return true
	}

	name := e.PlayerName
	if p, ok := s.players[e.PlayerID]; ok && name == "" {
		name = p.Name
	}
	_, known := s.players[e.PlayerID]
	delete(s.players, e.PlayerID)
	s.room.Players = slices.DeleteFunc(s.room.Players, func(id string) bool { return id == e.PlayerID })

	switch e.PlayerID {
	case s.room.GuestID:
		s.clearGuest()
	case s.room.HostID:
		s.room.HostID = s.room.GuestID
		s.room.HostName = s.room.GuestName
		s.room.HostCharacter = s.room.GuestCharacter
		s.clearGuest()
	default:
		if !known {
			return false
		}
	}

	switch s.phase {
	case PhaseInGame:
		if name == "" {
			name = e.PlayerID
		}
		s.appendLog(fmt.Sprintf("%s left the battle.", name))
	case PhaseCountdown:
		s.countdown = nil
		s.phase = s.lobbyPhase()
	default:
		s.settleLobbyPhase()
	}
	return true
}

func (s *Store) applyRoomUpdated(e protocol.RoomUpdated) bool {
	if s.room == nil || e.Room.ID != s.room.ID {
		return false
	}
	battleLog := s.room.GameData.BattleLog
	winner := s.room.GameData.Winner
	turns := s.room.GameData.TurnCount

	r := e.Room.Clone()
	if r.MaxPlayers == 0 {
		r.MaxPlayers = protocol.MaxPlayers
	}
	if len(r.GameData.BattleLog) == 0 {
		r.GameData.BattleLog = battleLog
	}
	r.GameData.BattleLog = capTail(r.GameData.BattleLog, MaxBattleLog)
	if s.phase == PhaseGameOver {
		r.GameData.Winner = winner
		r.Status = protocol.StatusCompleted
	}
	if s.phase == PhaseInGame && r.GameData.TurnCount < turns {
		r.GameData.TurnCount = turns
	}
	s.room = &r
	s.syncRoster()

	if s.phase == PhaseCountdown && r.Status == protocol.StatusWaiting {
		s.countdown = nil
		s.phase = s.lobbyPhase()
	}
	s.settleLobbyPhase()
	return true
}

func (s *Store) applyCharacterSelected(e protocol.CharacterSelected) bool {
	if s.room == nil {
		return false
	}
	p, ok := s.players[e.PlayerID]
	if !ok {
		p = &protocol.Player{ID: e.PlayerID, Name: e.PlayerName}
		s.players[e.PlayerID] = p
		if !slices.Contains(s.room.Players, e.PlayerID) && !s.room.IsFull() {
			s.room.Players = append(s.room.Players, e.PlayerID)
		}
	}
	if p.Name == "" {
		p.Name = e.PlayerName
	}
	equip(p, &e.Character)

	switch e.PlayerID {
	case s.room.HostID:
		s.room.HostCharacter = e.Character.Clone()
	case s.room.GuestID:
		s.room.GuestCharacter = e.Character.Clone()
	default:
		if s.room.GuestID == "" {
			s.room.GuestID = e.PlayerID
			s.room.GuestName = p.Name
			s.room.GuestCharacter = e.Character.Clone()
		}
	}
	if e.PlayerID == s.playerID {
		s.tentative = nil
	}
	s.settleLobbyPhase()
	return true
}

func (s *Store) applyReady(e protocol.PlayerReadyUpdated) bool {
	if s.room == nil {
		return false
	}
	p, ok := s.players[e.PlayerID]
	if !ok {
		s.log.Debug("ready update for unknown player", zap.String("player", e.PlayerID))
		return false
	}
	p.IsReady = e.IsReady
	return true
}

func (s *Store) applyCountdown(e protocol.GameCountdown) bool {
	if s.room == nil {
		return false
	}
	switch s.phase {
	case PhaseInRoom, PhaseCharacterSelect, PhaseReadyWait, PhaseCountdown:
	default:
		return false
	}
	v := e.Countdown
	s.countdown = &v
	s.phase = PhaseCountdown
	return true
}

func (s *Store) applyGameStarted(e protocol.GameStarted) bool {
	if s.room == nil || (e.Room.ID != "" && e.Room.ID != s.room.ID) {
		return false
	}
	r := s.room.Clone()
	if e.Room.ID != "" {
		r = e.Room.Clone()
	}
	if r.MaxPlayers == 0 {
		r.MaxPlayers = protocol.MaxPlayers
	}
	r.GameData = e.GameData.Clone()
	r.GameData.Winner = ""
	r.GameData.EndTime = nil
	r.GameData.BattleLog = capTail(r.GameData.BattleLog, MaxBattleLog)
	if r.GameData.BattleLog == nil {
		r.GameData.BattleLog = []string{}
	}
	if !r.HasPlayer(r.GameData.CurrentTurn) {
		r.GameData.CurrentTurn = ""
	}
	if r.GameData.StartTime == nil {
		t := s.now()
		r.GameData.StartTime = &t
	}
	r.Status = protocol.StatusInProgress
	s.room = &r
	s.syncRoster()

	for _, p := range s.players {
		p.Health = p.MaxHealth
		p.Mana = p.MaxMana
	}
	s.countdown = nil
	s.phase = PhaseInGame
	return true
}

func (s *Store) applyAction(e protocol.GameActionPerformed) bool {
	if s.room == nil || s.phase != PhaseInGame {
		return false
	}
	gd := &s.room.GameData
	if e.GameData.TurnCount > gd.TurnCount {
		gd.TurnCount = e.GameData.TurnCount
	}
	if s.room.HasPlayer(e.GameData.CurrentTurn) {
		gd.CurrentTurn = e.GameData.CurrentTurn
	} else {
		gd.CurrentTurn = ""
	}

	res := e.Result
	if len(e.GameData.BattleLog) > 0 {
		s.appendLog(e.GameData.BattleLog...)
	} else {
		s.appendLog(s.fallbackLine(e))
	}

	s.patchStats(res.ActingPlayerID, res.ActingPlayerHealth, res.ActingPlayerMana)
	if res.TargetPlayerID != "" {
		s.patchStats(res.TargetPlayerID, res.TargetPlayerHealth, res.TargetPlayerMana)
	}
	return true
}

func (s *Store) fallbackLine(e protocol.GameActionPerformed) string {
	if e.Result.Message != "" {
		return e.Result.Message
	}
	actor := s.nameOf(e.Result.ActingPlayerID)
	switch e.Action.Type {
	case protocol.ActionAttack:
		if e.Result.Damage > 0 {
			return fmt.Sprintf("%s attacks for %d damage.", actor, e.Result.Damage)
		}
		return fmt.Sprintf("%s attacks.", actor)
	case protocol.ActionDefend:
		return fmt.Sprintf("%s defends.", actor)
	case protocol.ActionAbility:
		if e.Action.AbilityID != "" {
			return fmt.Sprintf("%s uses %s.", actor, e.Action.AbilityID)
		}
	}
	return fmt.Sprintf("%s acts.", actor)
}

func (s *Store) patchStats(playerID string, health, mana *int) {
	if playerID == "" {
		return
	}
	p, ok := s.players[playerID]
	if !ok {
		s.log.Warn("action result for unknown player", zap.String("player", playerID))
		return
	}
	if health != nil {
		p.Health = clamp(*health, p.MaxHealth)
	}
	if mana != nil {
		p.Mana = clamp(*mana, p.MaxMana)
	}
}

func (s *Store) applyGameOver(e protocol.GameOver) bool {
	if s.room == nil {
		return false
	}
	gd := &s.room.GameData
	if gd.Winner != "" || s.phase == PhaseGameOver {
		s.log.Debug("ignoring repeated game_over", zap.String("winner", e.WinnerID))
		return false
	}
	gd.Winner = e.WinnerID
	if e.GameData.TurnCount > gd.TurnCount {
		gd.TurnCount = e.GameData.TurnCount
	}
	if e.GameData.EndTime != nil {
		t := *e.GameData.EndTime
		gd.EndTime = &t
	} else {
		t := s.now()
		gd.EndTime = &t
	}
	gd.CurrentTurn = ""

	name := e.WinnerName
	if name == "" {
		name = s.nameOf(e.WinnerID)
	}
	s.appendLog(fmt.Sprintf("%s wins the battle!", name))
	s.room.Status = protocol.StatusCompleted
	s.countdown = nil
	s.phase = PhaseGameOver
	return true
}

func (s *Store) applyChat(e protocol.ChatMessage) bool {
	if s.room == nil {
		return false
	}
	at := s.now()
	if e.Timestamp != nil {
		at = *e.Timestamp
	}
	name := e.PlayerName
	if name == "" {
		name = s.nameOf(e.PlayerID)
	}
	s.chat = append(s.chat, ChatLine{PlayerID: e.PlayerID, PlayerName: name, Message: e.Message, At: at})
	s.chat = capTail(s.chat, MaxChatLog)
	return true
}

// syncRoster makes the roster match room.Players. Departed players are
// dropped and new ones are added zeroed, with whatever the room carries
// about them.
func (s *Store) syncRoster() {
	for id := range s.players {
		if !slices.Contains(s.room.Players, id) {
			delete(s.players, id)
		}
	}
	for _, id := range s.room.Players {
		p, ok := s.players[id]
		if !ok {
			p = &protocol.Player{ID: id}
			s.players[id] = p
		}
		var c *protocol.Character
		switch id {
		case s.room.HostID:
			if p.Name == "" {
				p.Name = s.room.HostName
			}
			c = s.room.HostCharacter
		case s.room.GuestID:
			if p.Name == "" {
				p.Name = s.room.GuestName
			}
			c = s.room.GuestCharacter
		}
		if id == s.playerID && p.Name == "" {
			p.Name = s.playerName
		}
		if c != nil && (p.Character == nil || p.Character.ID != c.ID) {
			equip(p, c)
		}
	}
}

func (s *Store) settleLobbyPhase() {
	switch s.phase {
	case PhaseInRoom, PhaseCharacterSelect, PhaseReadyWait:
		s.phase = s.lobbyPhase()
	}
}

func (s *Store) lobbyPhase() Phase {
	if len(s.room.Players) < protocol.MaxPlayers {
		return PhaseInRoom
	}
	if me, ok := s.players[s.playerID]; !ok || me.Character == nil {
		return PhaseCharacterSelect
	}
	return PhaseReadyWait
}

func (s *Store) isHost() bool {
	return s.room != nil && s.playerID != "" && s.room.HostID == s.playerID
}

func (s *Store) nameOf(id string) string {
	if p, ok := s.players[id]; ok && p.Name != "" {
		return p.Name
	}
	if s.room != nil {
		switch id {
		case s.room.HostID:
			if s.room.HostName != "" {
				return s.room.HostName
			}
		case s.room.GuestID:
			if s.room.GuestName != "" {
				return s.room.GuestName
			}
		}
	}
	if id == "" {
		return "Someone"
	}
	return id
}

func (s *Store) appendLog(lines ...string) {
	gd := &s.room.GameData
	gd.BattleLog = capTail(append(gd.BattleLog, lines...), MaxBattleLog)
}

func (s *Store) clearGuest() {
	s.room.GuestID = ""
	s.room.GuestName = ""
	s.room.GuestCharacter = nil
}

func (s *Store) clearRoom() {
	s.room = nil
	s.players = make(map[string]*protocol.Player)
	s.countdown = nil
	s.tentative = nil
	s.chat = nil
}

func equip(p *protocol.Player, c *protocol.Character) {
	p.Character = c.Clone()
	p.Health, p.MaxHealth = c.Health, c.Health
	p.Mana, p.MaxMana = c.Mana, c.Mana
}

// clamp bounds v to [0, limit]. A zero limit leaves only the lower bound.
func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if limit > 0 && v > limit {
		return limit
	}
	return v
}

func capTail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return slices.Clone(s[len(s)-n:])
}
