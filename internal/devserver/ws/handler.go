package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/devserver/hub"
	"github.com/DoyleJ11/duel-sync/internal/devserver/lobby"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

const (
	writeTimeout = 3 * time.Second
	readTimeout  = 5 * time.Minute
	outboxSize   = 64
	maxNameLen   = 32
)

// conn is one player's connection and the room they currently sit in.
type conn struct {
	id   string
	name string
	ws   *websocket.Conn
	out  chan lobby.Envelope
	hub  *hub.Hub
	log  *zap.Logger
	room *lobby.Lobby
}

func Handler(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			// dev only
			OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
		})
		if err != nil {
			log.Warn("websocket accept", zap.Error(err))
			return
		}
		defer wsConn.Close(websocket.StatusNormalClosure, "bye")

		c := &conn{
			id:   uuid.NewString(),
			name: displayName(r.URL.Query().Get("name")),
			ws:   wsConn,
			out:  make(chan lobby.Envelope, outboxSize),
			hub:  h,
		}
		c.log = log.With(zap.String("player", c.id))
		c.serve(r.Context())
	}
}

func (c *conn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	// Writer goroutine
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	// register first so no directory change after the hello is missed
	c.toHub(hub.Register{PlayerID: c.id, Outbox: c.out})
	c.out <- lobby.Envelope{Event: protocol.ConnectionSuccess{
		PlayerID:   c.id,
		PlayerData: &protocol.Player{ID: c.id, Name: c.name},
	}}
	c.log.Info("player connected", zap.String("name", c.name))

	defer func() {
		c.leave(context.Background())
		c.toHub(hub.Unregister{PlayerID: c.id})
		cancel()
		<-writerDone
		c.log.Info("player disconnected")
	}()

	// Reader loop
	for {
		rctx, rcancel := context.WithTimeout(ctx, readTimeout)
		_, data, err := c.ws.Read(rctx)
		rcancel()
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if !errors.Is(err, context.Canceled) {
					c.log.Debug("read", zap.Error(err))
				}
			}
			return
		}

		cmd, rid, err := protocol.DecodeCommand(data)
		if err != nil {
			c.reply(protocol.ServerError{Error: err.Error()}, rid)
			continue
		}
		c.route(ctx, cmd, rid)
	}
}

func (c *conn) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.out:
			payload, err := protocol.EncodeEvent(env.Event, env.RequestID)
			if err != nil {
				c.log.Error("encode event", zap.Error(err))
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = c.ws.Write(wctx, websocket.MessageText, payload)
			cancel()
			if err != nil {
				c.log.Debug("write", zap.Error(err))
				return
			}
		}
	}
}

func (c *conn) route(ctx context.Context, cmd protocol.Command, rid string) {
	switch cmd := cmd.(type) {
	case protocol.CreateRoom:
		if c.room != nil {
			c.reply(protocol.CreateRoomError{Error: "already in a room"}, rid)
			return
		}
		name := strings.TrimSpace(cmd.Name)
		if name == "" {
			name = c.name + "'s Room"
		}
		lb := c.lookup(func(reply chan *lobby.Lobby) hub.HubMsg {
			return hub.CreateRoom{Name: name, IsPrivate: cmd.IsPrivate, Reply: reply}
		})
		if lb == nil || !c.join(ctx, lb, rid, true) {
			c.reply(protocol.CreateRoomError{Error: "could not create room"}, rid)
		}

	case protocol.JoinRoom:
		if c.room != nil {
			c.reply(protocol.JoinRoomError{Error: "already in a room"}, rid)
			return
		}
		lb := c.lookup(func(reply chan *lobby.Lobby) hub.HubMsg {
			return hub.GetRoom{ID: strings.TrimSpace(cmd.RoomID), Reply: reply}
		})
		if lb == nil {
			c.reply(protocol.JoinRoomError{Error: "room not found"}, rid)
			return
		}
		c.join(ctx, lb, rid, false)

	case protocol.LeaveRoom:
		c.leave(ctx)

	default:
		if c.room == nil || !c.room.Send(ctx, lobby.FromClient{PlayerID: c.id, Cmd: cmd, RequestID: rid}) {
			c.room = nil
			c.reply(notInRoom(cmd), rid)
		}
	}
}

// join seats the player in lb. A refusal has already been reported to the
// player by the lobby when join returns false with a live lobby.
func (c *conn) join(ctx context.Context, lb *lobby.Lobby, rid string, create bool) bool {
	reply := make(chan bool, 1)
	msg := lobby.Join{
		Member:    lobby.Member{ID: c.id, Name: c.name, Outbox: c.out},
		RequestID: rid,
		Create:    create,
		Reply:     reply,
	}
	if !lb.Send(ctx, msg) {
		if !create {
			c.reply(protocol.JoinRoomError{Error: "room not found"}, rid)
		}
		return false
	}
	select {
	case ok := <-reply:
		if ok {
			c.room = lb
		}
		return ok
	case <-lb.Done():
		return false
	case <-ctx.Done():
		return false
	}
}

func (c *conn) leave(ctx context.Context) {
	if c.room == nil {
		return
	}
	c.room.Send(ctx, lobby.Leave{PlayerID: c.id})
	c.room = nil
}

func (c *conn) toHub(m hub.HubMsg) bool {
	select {
	case c.hub.Inbox() <- m:
		return true
	case <-c.hub.Done():
		return false
	}
}

func (c *conn) lookup(build func(reply chan *lobby.Lobby) hub.HubMsg) *lobby.Lobby {
	reply := make(chan *lobby.Lobby, 1)
	if !c.toHub(build(reply)) {
		return nil
	}
	select {
	case lb := <-reply:
		return lb
	case <-c.hub.Done():
		return nil
	}
}

func (c *conn) reply(ev protocol.Event, rid string) {
	select {
	case c.out <- lobby.Envelope{Event: ev, RequestID: rid}:
	default:
		c.log.Warn("outbox full, dropping reply", zap.String("event", string(ev.EventName())))
	}
}

func notInRoom(cmd protocol.Command) protocol.Event {
	switch cmd.(type) {
	case protocol.SelectCharacter:
		return protocol.SelectCharacterError{Error: "not in a room"}
	case protocol.GameAction:
		return protocol.GameActionError{Error: "not in a room"}
	default:
		return protocol.ServerError{Error: "not in a room"}
	}
}

func displayName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "Player"
	}
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}
