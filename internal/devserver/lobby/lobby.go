// Package lobby runs one duel room as an actor: every join, leave, command and
// countdown tick is handled on the room's own goroutine.
package lobby

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/devserver/engine"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

const (
	DefaultCountdownFrom = 3
	DefaultCountdownTick = time.Second
	maxBattleLog         = 20
)

// Envelope is one outbound event for a connection. RequestID is set only on
// the copy that answers the sender's command.
type Envelope struct {
	Event     protocol.Event
	RequestID string
}

type Member struct {
	ID     string
	Name   string
	Outbox chan<- Envelope
}

type Msg interface{ isLobbyMsg() }

// Join seats a member. Reply receives false when the room refused them; the
// refusal itself has already been sent to the member's outbox.
type Join struct {
	Member    Member
	RequestID string
	Create    bool
	Reply     chan bool
}

type Leave struct{ PlayerID string }

type FromClient struct {
	PlayerID  string
	Cmd       protocol.Command
	RequestID string
}

type GetState struct {
	Reply chan View
}

type Shutdown struct{}

type countdownTick struct{ gen int }

func (Join) isLobbyMsg()          {}
func (Leave) isLobbyMsg()         {}
func (FromClient) isLobbyMsg()    {}
func (GetState) isLobbyMsg()      {}
func (Shutdown) isLobbyMsg()      {}
func (countdownTick) isLobbyMsg() {}

type View struct {
	Room       protocol.Room
	NumClients int
}

// NotifyFunc is told about every externally visible room change. closed is
// true once the last member has left and the lobby has stopped.
type NotifyFunc func(room protocol.Room, closed bool)

type Options struct {
	CountdownFrom int
	CountdownTick time.Duration
	Notify        NotifyFunc
	Logger        *zap.Logger
}

type seat struct {
	player protocol.Player
	out    chan<- Envelope
}

type Lobby struct {
	inbox chan Msg
	opts  Options
	log   *zap.Logger
	now   func() time.Time

	room    protocol.Room
	members map[string]*seat
	battle  engine.State

	countdown int
	timerGen  int
	timer     *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewLobby(parent context.Context, room protocol.Room, opts Options) *Lobby {
	if opts.CountdownFrom <= 0 {
		opts.CountdownFrom = DefaultCountdownFrom
	}
	if opts.CountdownTick <= 0 {
		opts.CountdownTick = DefaultCountdownTick
	}
	if opts.Notify == nil {
		opts.Notify = func(protocol.Room, bool) {}
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(parent)
	l := &Lobby{
		inbox:   make(chan Msg, 64),
		opts:    opts,
		log:     log.With(zap.String("room", room.ID)),
		now:     time.Now,
		room:    room.Clone(),
		members: make(map[string]*seat),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	l.room.MaxPlayers = protocol.MaxPlayers
	if l.room.Status == "" {
		l.room.Status = protocol.StatusWaiting
	}
	if l.room.Players == nil {
		l.room.Players = []string{}
	}

	go l.loop()
	return l
}

func (l *Lobby) ID() string { return l.room.ID }

// Inbox exposes the raw inbox for tests and the hub.
func (l *Lobby) Inbox() chan<- Msg { return l.inbox }

// Done is closed when the loop has exited.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Send delivers m unless the lobby has stopped or ctx ends first.
func (l *Lobby) Send(ctx context.Context, m Msg) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.inbox <- m:
		return true
	case <-l.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Lobby) loop() {
	defer close(l.done)
	defer l.stopTimer()

	for {
		select {
		case <-l.ctx.Done():
			return

		case m := <-l.inbox:
			switch msg := m.(type) {
			case Join:
				msg.Reply <- l.join(msg)

			case Leave:
				if l.leave(msg.PlayerID) {
					l.cancel()
					return
				}

			case FromClient:
				if _, ok := l.members[msg.PlayerID]; !ok {
					break
				}
				l.room.LastActivity = l.now()
				l.handle(msg)

			case countdownTick:
				l.tick(msg.gen)

			case GetState:
				msg.Reply <- View{Room: l.room.Clone(), NumClients: len(l.members)}

			case Shutdown:
				l.cancel()
				return
			}
		}
	}
}

func (l *Lobby) join(m Join) bool {
	id := m.Member.ID
	if _, ok := l.members[id]; ok {
		return true
	}
	reject := func(reason string) bool {
		send(l.log, m.Member.Outbox, Envelope{Event: protocol.JoinRoomError{Error: reason}, RequestID: m.RequestID})
		return false
	}
	switch {
	case l.room.Status != protocol.StatusWaiting:
		return reject("game already in progress")
	case l.room.IsFull():
		return reject("room is full")
	}

	p := protocol.Player{ID: id, Name: m.Member.Name}
	l.members[id] = &seat{player: p, out: m.Member.Outbox}
	if l.room.HostID == "" {
		l.room.HostID, l.room.HostName = id, p.Name
	} else {
		l.room.GuestID, l.room.GuestName = id, p.Name
	}
	l.room.Players = append(l.room.Players, id)
	l.room.LastActivity = l.now()

	var ack protocol.Event = protocol.RoomJoined{Room: l.room.Clone()}
	if m.Create {
		ack = protocol.RoomCreated{Room: l.room.Clone()}
	}
	l.sendTo(id, ack, m.RequestID)
	l.broadcastExcept(id, protocol.PlayerJoined{Player: p})
	l.log.Info("player joined", zap.String("player", id))
	l.notify(false)
	return true
}

// leave removes a member and reports whether the room is now empty.
func (l *Lobby) leave(id string) bool {
	s, ok := l.members[id]
	if !ok {
		return false
	}
	delete(l.members, id)
	l.room.Players = slices.DeleteFunc(l.room.Players, func(p string) bool { return p == id })
	l.room.LastActivity = l.now()
	l.log.Info("player left", zap.String("player", id))

	switch id {
	case l.room.HostID:
		l.room.HostID, l.room.HostName, l.room.HostCharacter = l.room.GuestID, l.room.GuestName, l.room.GuestCharacter
		l.clearGuest()
	case l.room.GuestID:
		l.clearGuest()
	}

	if len(l.members) == 0 {
		l.opts.Notify(l.room.Clone(), true)
		return true
	}

	l.broadcast(protocol.PlayerLeft{PlayerID: id, PlayerName: s.player.Name}, "", "")
	switch l.room.Status {
	case protocol.StatusInProgress:
		// the remaining player wins by forfeit
		l.gameOver(l.room.Players[0])
	case protocol.StatusReady:
		l.cancelCountdown()
	default:
		l.broadcast(protocol.RoomUpdated{Room: l.room.Clone()}, "", "")
	}
	l.notify(false)
	return false
}

func (l *Lobby) clearGuest() {
	l.room.GuestID, l.room.GuestName, l.room.GuestCharacter = "", "", nil
}

func (l *Lobby) handle(m FromClient) {
	switch cmd := m.Cmd.(type) {
	case protocol.SelectCharacter:
		l.selectCharacter(m.PlayerID, cmd, m.RequestID)
	case protocol.PlayerReady:
		l.setReady(m.PlayerID, cmd.IsReady, m.RequestID)
	case protocol.GameAction:
		l.act(m.PlayerID, cmd, m.RequestID)
	case protocol.SendChat:
		s := l.members[m.PlayerID]
		t := l.now()
		l.broadcast(protocol.ChatMessage{
			PlayerID:   m.PlayerID,
			PlayerName: s.player.Name,
			Message:    cmd.Message,
			Timestamp:  &t,
		}, "", "")
	default:
		l.sendTo(m.PlayerID, protocol.ServerError{Error: "unsupported command"}, m.RequestID)
	}
}

func (l *Lobby) selectCharacter(id string, cmd protocol.SelectCharacter, rid string) {
	if l.room.Status != protocol.StatusWaiting {
		l.sendTo(id, protocol.SelectCharacterError{Error: "characters are locked"}, rid)
		return
	}
	c, ok := engine.Lookup(cmd.Character.ID)
	if !ok {
		l.sendTo(id, protocol.SelectCharacterError{Error: "unknown character"}, rid)
		return
	}

	s := l.members[id]
	s.player.Character = c.Clone()
	s.player.Health, s.player.MaxHealth = c.Health, c.Health
	s.player.Mana, s.player.MaxMana = c.Mana, c.Mana
	if id == l.room.HostID {
		l.room.HostCharacter = c.Clone()
	} else {
		l.room.GuestCharacter = c.Clone()
	}
	l.broadcast(protocol.CharacterSelected{PlayerID: id, PlayerName: s.player.Name, Character: c}, id, rid)
}

func (l *Lobby) setReady(id string, ready bool, rid string) {
	s := l.members[id]
	switch {
	case s.player.Character == nil:
		l.sendTo(id, protocol.ServerError{Error: "select a character first"}, rid)
		return
	case l.room.Status == protocol.StatusInProgress || l.room.Status == protocol.StatusCompleted:
		l.sendTo(id, protocol.ServerError{Error: "game already started"}, rid)
		return
	}

	s.player.IsReady = ready
	l.broadcast(protocol.PlayerReadyUpdated{PlayerID: id, IsReady: ready}, id, rid)

	if !ready {
		if l.room.Status == protocol.StatusReady {
			l.cancelCountdown()
			l.notify(false)
		}
		return
	}
	if len(l.members) == protocol.MaxPlayers && l.allReady() && l.room.Status == protocol.StatusWaiting {
		l.startCountdown()
	}
}

func (l *Lobby) allReady() bool {
	for _, s := range l.members {
		if !s.player.IsReady {
			return false
		}
	}
	return true
}

func (l *Lobby) startCountdown() {
	l.room.Status = protocol.StatusReady
	l.countdown = l.opts.CountdownFrom
	l.broadcast(protocol.GameCountdown{Countdown: l.countdown}, "", "")
	l.armTimer()
	l.notify(false)
}

func (l *Lobby) cancelCountdown() {
	l.stopTimer()
	l.countdown = 0
	l.room.Status = protocol.StatusWaiting
	l.broadcast(protocol.RoomUpdated{Room: l.room.Clone()}, "", "")
}

func (l *Lobby) tick(gen int) {
	if gen != l.timerGen || l.room.Status != protocol.StatusReady {
		return
	}
	l.countdown--
	if l.countdown > 0 {
		l.broadcast(protocol.GameCountdown{Countdown: l.countdown}, "", "")
		l.armTimer()
		return
	}
	l.startGame()
}

func (l *Lobby) armTimer() {
	l.stopTimer()
	gen := l.timerGen
	l.timer = time.AfterFunc(l.opts.CountdownTick, func() {
		select {
		case l.inbox <- countdownTick{gen: gen}:
		case <-l.ctx.Done():
		}
	})
}

// stopTimer invalidates any pending tick, fired or not.
func (l *Lobby) stopTimer() {
	l.timerGen++
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Lobby) startGame() {
	host, guest := l.members[l.room.HostID], l.members[l.room.GuestID]
	if host == nil || guest == nil || host.player.Character == nil || guest.player.Character == nil {
		l.cancelCountdown()
		return
	}

	l.battle = engine.NewState(
		engine.NewFighter(host.player.ID, host.player.Name, *host.player.Character),
		engine.NewFighter(guest.player.ID, guest.player.Name, *guest.player.Character),
	)
	for _, s := range l.members {
		s.player.Health, s.player.Mana = s.player.MaxHealth, s.player.MaxMana
	}

	start := l.now()
	l.room.Status = protocol.StatusInProgress
	l.room.GameData = protocol.GameData{
		CurrentTurn: l.battle.CurrentTurn(),
		BattleLog:   []string{"Battle begins!"},
		StartTime:   &start,
	}
	l.log.Info("game started")
	l.broadcast(protocol.GameStarted{Room: l.room.Clone(), GameData: l.room.GameData.Clone()}, "", "")
	l.notify(false)
}

func (l *Lobby) act(id string, action protocol.GameAction, rid string) {
	if l.room.Status != protocol.StatusInProgress {
		l.sendTo(id, protocol.GameActionError{Error: "no game in progress"}, rid)
		return
	}
	out, next, err := engine.Apply(l.battle, id, action)
	if err != nil {
		l.sendTo(id, protocol.GameActionError{Error: err.Error()}, rid)
		return
	}
	l.battle = next

	for _, f := range next.Fighters {
		if s, ok := l.members[f.ID]; ok {
			s.player.Health, s.player.Mana = f.Health, f.Mana
		}
	}
	gd := &l.room.GameData
	gd.TurnCount = next.TurnCount
	gd.CurrentTurn = next.CurrentTurn()
	gd.BattleLog = appendCapped(gd.BattleLog, out.Line)

	l.broadcast(protocol.GameActionPerformed{
		Action: action,
		Result: out.Result,
		GameData: protocol.GameData{
			TurnCount:   gd.TurnCount,
			CurrentTurn: gd.CurrentTurn,
			BattleLog:   []string{out.Line},
		},
	}, id, rid)

	if out.Winner != "" {
		l.gameOver(out.Winner)
	}
}

func (l *Lobby) gameOver(winner string) {
	end := l.now()
	name := ""
	if s, ok := l.members[winner]; ok {
		name = s.player.Name
	}

	l.stopTimer()
	l.room.Status = protocol.StatusCompleted
	gd := &l.room.GameData
	gd.Winner = winner
	gd.CurrentTurn = ""
	gd.EndTime = &end
	l.log.Info("game over", zap.String("winner", winner), zap.Int("turns", gd.TurnCount))

	l.broadcast(protocol.GameOver{WinnerID: winner, WinnerName: name, GameData: gd.Clone()}, "", "")
	l.notify(false)
}

func (l *Lobby) notify(closed bool) {
	l.opts.Notify(l.room.Clone(), closed)
}

func (l *Lobby) sendTo(id string, ev protocol.Event, rid string) {
	if s, ok := l.members[id]; ok {
		send(l.log, s.out, Envelope{Event: ev, RequestID: rid})
	}
}

// broadcast sends ev to every member; only sender's copy carries rid.
func (l *Lobby) broadcast(ev protocol.Event, sender, rid string) {
	for id, s := range l.members {
		env := Envelope{Event: ev}
		if id == sender {
			env.RequestID = rid
		}
		send(l.log, s.out, env)
	}
}

func (l *Lobby) broadcastExcept(skip string, ev protocol.Event) {
	for id, s := range l.members {
		if id != skip {
			send(l.log, s.out, Envelope{Event: ev})
		}
	}
}

// send never blocks the room; a full outbox loses the event.
func send(log *zap.Logger, out chan<- Envelope, env Envelope) {
	select {
	case out <- env:
	default:
		log.Warn("outbox full, dropping event", zap.String("event", string(env.Event.EventName())))
	}
}

func appendCapped(lines []string, line string) []string {
	lines = append(lines, line)
	if len(lines) > maxBattleLog {
		lines = slices.Clone(lines[len(lines)-maxBattleLog:])
	}
	return lines
}
