package client

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/errs"
	"github.com/DoyleJ11/duel-sync/internal/guard"
	"github.com/DoyleJ11/duel-sync/internal/history"
	"github.com/DoyleJ11/duel-sync/internal/session"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type msg interface{ isClientMsg() }

type beginConnect struct{ reply chan error }

type connectFailed struct{}

// connected finishes Connect once the handshake and the directory fetch are
// done, so the caller sees a populated session when Connect returns.
type connected struct {
	playerID string
	rooms    []protocol.Room
	reply    chan error
}

type disconnect struct{ reply chan error }

type createRoom struct {
	name      string
	isPrivate bool
	reply     chan error
}

type joinRoom struct {
	roomID string
	reply  chan error
}

type leaveRoom struct{ reply chan error }

type selectCharacter struct {
	character protocol.Character
	reply     chan error
}

type setReady struct {
	isReady bool
	reply   chan error
}

type performAction struct {
	action protocol.GameAction
	reply  chan error
}

type sendChat struct {
	text  string
	reply chan error
}

// expired is posted by the guard when an operation got no acknowledgment.
type expired struct {
	kind      guard.Kind
	requestID string
}

// directoryLoaded carries a background directory refresh.
type directoryLoaded struct {
	rooms []protocol.Room
}

func (beginConnect) isClientMsg()    {}
func (connectFailed) isClientMsg()   {}
func (connected) isClientMsg()       {}
func (disconnect) isClientMsg()      {}
func (createRoom) isClientMsg()      {}
func (joinRoom) isClientMsg()        {}
func (leaveRoom) isClientMsg()       {}
func (selectCharacter) isClientMsg() {}
func (setReady) isClientMsg()        {}
func (performAction) isClientMsg()   {}
func (sendChat) isClientMsg()        {}
func (expired) isClientMsg()         {}
func (directoryLoaded) isClientMsg() {}

func (c *Client) loop() {
	defer close(c.done)
	events := c.transport.Events()
	for {
		select {
		case <-c.ctx.Done():
			return

		case ev := <-events:
			c.reduce(ev)
			c.dispatcher.Dispatch(ev)

		case m := <-c.inbox:
			switch m := m.(type) {
			case beginConnect:
				c.session.BeginConnecting()
				m.reply <- nil

			case connectFailed:
				if !c.transport.IsConnected() {
					c.session.Reset(false)
				}

			case connected:
				if c.transport.IsConnected() && c.session.PlayerID() != m.playerID {
					c.session.Apply(protocol.ConnectionSuccess{PlayerID: m.playerID})
				}
				c.directoryLoaded(m.rooms)
				m.reply <- nil

			case disconnect:
				c.transport.Disconnect()
				c.publish(protocol.Disconnected{Reason: "client disconnect"})
				m.reply <- nil

			case createRoom:
				m.reply <- c.createRoom(m)

			case joinRoom:
				m.reply <- c.joinRoom(m)

			case leaveRoom:
				c.leaveRoom()
				m.reply <- nil

			case selectCharacter:
				m.reply <- c.selectCharacter(m)

			case setReady:
				m.reply <- c.setReady(m)

			case performAction:
				c.performAction(m)
				m.reply <- nil

			case sendChat:
				c.sendChat(m)
				m.reply <- nil

			case expired:
				c.expired(m)

			case directoryLoaded:
				c.directoryLoaded(m.rooms)
			}
		}
	}
}

// publish applies and dispatches a locally produced event.
func (c *Client) publish(ev protocol.Event) {
	c.reduce(ev)
	c.dispatcher.Dispatch(ev)
}

// reduce merges ev into the guard, the session and the directory. It runs
// before any observer sees ev.
func (c *Client) reduce(ev protocol.Event) {
	self := c.session.PlayerID()

	switch e := ev.(type) {
	case protocol.ConnectionSuccess:
		c.session.Apply(e)
		if c.reconnecting {
			c.reconnecting = false
			c.refreshDirectory()
		}

	case protocol.RoomCreated:
		c.enterRoom(guard.CreateRoom, e.RequestID, e)

	case protocol.RoomJoined:
		c.enterRoom(guard.JoinRoom, e.RequestID, e)

	case protocol.CreateRoomError:
		c.guard.Settle(guard.CreateRoom, e.RequestID)
		c.log.Info("create room rejected", zap.String("error", e.Error))

	case protocol.JoinRoomError:
		c.guard.Settle(guard.JoinRoom, e.RequestID)
		c.log.Info("join room rejected", zap.String("error", e.Error))

	case protocol.CharacterSelected:
		if e.PlayerID == self {
			c.guard.Settle(guard.SelectCharacter, e.RequestID)
		}
		c.session.Apply(e)

	case protocol.SelectCharacterError:
		c.guard.Settle(guard.SelectCharacter, e.RequestID)
		c.session.Apply(e)

	case protocol.PlayerReadyUpdated:
		if e.PlayerID == self {
			c.guard.Settle(guard.SetReady, e.RequestID)
		}
		c.session.Apply(e)

	case protocol.RoomAvailable:
		switch c.session.Phase() {
		case session.PhaseConnecting, session.PhaseDirectory:
			c.rooms.Upsert(e.Room)
		}

	case protocol.RoomUnavailable:
		c.rooms.Remove(e.RoomID)

	case protocol.GameOver:
		if c.session.Apply(e) {
			c.record()
		}

	case protocol.ServerError:
		kind, released := c.guard.Release(e.RequestID)
		if released && kind == guard.SelectCharacter {
			c.session.ClearTentativeCharacter()
		}
		c.log.Warn("server error", zap.String("error", e.Error), zap.String("requestId", e.RequestID))

	case protocol.GameActionError:
		c.log.Info("game action rejected", zap.String("error", e.Error))

	case protocol.Disconnected:
		c.reconnecting = e.Reconnecting
		c.guard.Reset()
		c.rooms.Clear()
		c.session.Apply(e)

	case protocol.ConnectionFailed:
		c.reconnecting = false
		c.guard.Reset()
		c.rooms.Clear()
		c.session.Apply(e)

	case protocol.Unknown:
		c.log.Debug("unhandled event", zap.String("event", string(e.Name)))

	default:
		c.session.Apply(ev)
	}
}

func (c *Client) enterRoom(kind guard.Kind, requestID string, ev protocol.Event) {
	if !c.guard.Settle(kind, requestID) {
		c.log.Debug("dropping repeated acknowledgment",
			zap.String("event", string(ev.EventName())),
			zap.String("requestId", requestID),
		)
		return
	}
	if c.session.Apply(ev) {
		c.rooms.Clear()
	}
}

func (c *Client) createRoom(m createRoom) error {
	if c.session.InRoom() {
		return errs.Validation("create room", "already in a room")
	}
	if !c.transport.IsConnected() {
		return errs.Connection("create room", ErrNotConnected)
	}
	name := strings.TrimSpace(m.name)
	if name == "" {
		name = fmt.Sprintf("%s's Room", c.opts.PlayerName)
	}
	rid, ok := c.guard.TryBegin(guard.CreateRoom)
	if !ok {
		c.log.Debug("create room already pending")
		return nil
	}
	c.transport.Emit(protocol.CreateRoom{Name: name, IsPrivate: m.isPrivate}, rid)
	return nil
}

func (c *Client) joinRoom(m joinRoom) error {
	if c.session.InRoom() {
		return errs.Validation("join room", "already in a room")
	}
	if !c.transport.IsConnected() {
		return errs.Connection("join room", ErrNotConnected)
	}
	rid, ok := c.guard.TryBegin(guard.JoinRoom)
	if !ok {
		c.log.Debug("join room already pending", zap.String("room", m.roomID))
		return nil
	}
	c.transport.Emit(protocol.JoinRoom{RoomID: m.roomID}, rid)
	return nil
}

func (c *Client) leaveRoom() {
	roomID := c.session.RoomID()
	if roomID == "" {
		return
	}
	rid, ok := c.guard.TryBegin(guard.LeaveRoom)
	if !ok {
		c.log.Debug("leave room already pending")
		return
	}
	c.transport.Emit(protocol.LeaveRoom{RoomID: roomID}, rid)
	c.session.LeaveRoom()
	c.guard.End(guard.LeaveRoom)
	c.publish(protocol.RoomLeft{RoomID: roomID})
	if c.transport.IsConnected() {
		c.refreshDirectory()
	}
}

func (c *Client) selectCharacter(m selectCharacter) error {
	if !c.transport.IsConnected() {
		return errs.Connection("select character", ErrNotConnected)
	}
	if !c.session.InRoom() {
		return errs.Validation("select character", "not in a room")
	}
	rid, ok := c.guard.TryBegin(guard.SelectCharacter)
	if !ok {
		c.log.Debug("character selection already pending")
		return nil
	}
	c.session.SetTentativeCharacter(m.character)
	c.transport.Emit(protocol.SelectCharacter{Character: m.character}, rid)
	return nil
}

func (c *Client) setReady(m setReady) error {
	if !c.transport.IsConnected() {
		return errs.Connection("set ready", ErrNotConnected)
	}
	if !c.session.InRoom() {
		return errs.Validation("set ready", "not in a room")
	}
	rid, ok := c.guard.TryBegin(guard.SetReady)
	if !ok {
		c.log.Debug("ready toggle already pending")
		return nil
	}
	c.transport.Emit(protocol.PlayerReady{IsReady: m.isReady}, rid)
	return nil
}

func (c *Client) performAction(m performAction) {
	if c.session.Phase() != session.PhaseInGame {
		c.log.Debug("ignoring action outside a running game", zap.String("type", string(m.action.Type)))
		return
	}
	c.transport.Emit(m.action, newRequestID())
}

func (c *Client) sendChat(m sendChat) {
	roomID := c.session.RoomID()
	if roomID == "" {
		c.log.Debug("ignoring chat outside a room")
		return
	}
	c.transport.Emit(protocol.SendChat{RoomID: roomID, Message: m.text}, "")
}

func (c *Client) expired(m expired) {
	if m.kind == guard.SelectCharacter {
		c.session.ClearTentativeCharacter()
	}
	c.log.Warn("operation timed out",
		zap.String("kind", string(m.kind)),
		zap.String("requestId", m.requestID),
		zap.Error(errs.Timeout(string(m.kind))),
	)
	c.publish(protocol.OperationTimeout{Kind: string(m.kind), RequestID: m.requestID})
}

func (c *Client) directoryLoaded(rooms []protocol.Room) {
	switch c.session.Phase() {
	case session.PhaseConnecting, session.PhaseDirectory:
	default:
		return
	}
	c.rooms.Merge(rooms)
	c.publish(protocol.DirectoryLoaded{Count: c.rooms.Len()})
}

func (c *Client) record() {
	snap := c.session.Snapshot()
	if snap.Room == nil {
		return
	}
	m := history.FromRoom(*snap.Room, snap.PlayerID)
	c.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
		defer cancel()
		if err := c.recorder.Record(ctx, m); err != nil {
			c.log.Warn("record match", zap.String("room", m.RoomID), zap.Error(err))
		}
	})
}
