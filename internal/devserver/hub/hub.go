package hub

import (
	"context"
	"crypto/rand"
	"math/big"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/devserver/lobby"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type HubMsg interface{ isHubMsg() }

// Register subscribes a connection to directory broadcasts.
type Register struct {
	PlayerID string
	Outbox   chan<- lobby.Envelope
}

type Unregister struct{ PlayerID string }

type CreateRoom struct {
	Name      string
	IsPrivate bool
	Reply     chan *lobby.Lobby
}

type GetRoom struct {
	ID    string
	Reply chan *lobby.Lobby // nil when unknown
}

// ListRooms replies with the public, joinable rooms, oldest first.
type ListRooms struct {
	Reply chan []protocol.Room
}

type ShutdownHub struct{}

type roomChanged struct {
	room   protocol.Room
	closed bool
}

func (Register) isHubMsg()    {}
func (Unregister) isHubMsg()  {}
func (CreateRoom) isHubMsg()  {}
func (GetRoom) isHubMsg()     {}
func (ListRooms) isHubMsg()   {}
func (ShutdownHub) isHubMsg() {}
func (roomChanged) isHubMsg() {}

type Options struct {
	CountdownFrom int
	CountdownTick time.Duration
	Logger        *zap.Logger
}

type Hub struct {
	inbox    chan HubMsg
	opts     Options
	log      *zap.Logger
	lobbies  map[string]*lobby.Lobby
	listed   map[string]protocol.Room
	sessions map[string]chan<- lobby.Envelope
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, opts Options) *Hub {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		opts:     opts,
		log:      log,
		lobbies:  make(map[string]*lobby.Lobby),
		listed:   make(map[string]protocol.Room),
		sessions: make(map[string]chan<- lobby.Envelope),
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

// Done is closed once the hub has shut down.
func (h *Hub) Done() <-chan struct{} { return h.ctx.Done() }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case Register:
				h.sessions[msg.PlayerID] = msg.Outbox

			case Unregister:
				delete(h.sessions, msg.PlayerID)

			case CreateRoom:
				msg.Reply <- h.createRoom(msg)

			case GetRoom:
				msg.Reply <- h.lobbies[strings.ToUpper(msg.ID)] // may be nil

			case ListRooms:
				rooms := make([]protocol.Room, 0, len(h.listed))
				for _, r := range h.listed {
					rooms = append(rooms, r.Clone())
				}
				slices.SortFunc(rooms, func(a, b protocol.Room) int { return a.CreatedAt.Compare(b.CreatedAt) })
				msg.Reply <- rooms

			case roomChanged:
				h.roomChanged(msg)

			case ShutdownHub:
				// lobbies run under h.ctx and stop with it
				clear(h.lobbies)
				h.cancel()
			}
		}
	}
}

func (h *Hub) createRoom(m CreateRoom) *lobby.Lobby {
	var code string
	for {
		c, err := GenerateCode()
		if err != nil {
			h.log.Error("generate room code", zap.Error(err))
			return nil
		}
		if h.lobbies[c] == nil {
			code = c
			break
		}
		h.log.Debug("collision on room code, regenerating")
	}

	now := time.Now()
	lb := lobby.NewLobby(h.ctx, protocol.Room{
		ID:           code,
		Name:         m.Name,
		IsPrivate:    m.IsPrivate,
		Status:       protocol.StatusWaiting,
		CreatedAt:    now,
		LastActivity: now,
	}, lobby.Options{
		CountdownFrom: h.opts.CountdownFrom,
		CountdownTick: h.opts.CountdownTick,
		Notify:        h.notify,
		Logger:        h.log,
	})
	h.lobbies[code] = lb
	h.log.Info("room created", zap.String("room", code), zap.Bool("private", m.IsPrivate))
	return lb
}

// notify runs on lobby goroutines.
func (h *Hub) notify(room protocol.Room, closed bool) {
	select {
	case h.inbox <- roomChanged{room: room, closed: closed}:
	case <-h.ctx.Done():
	}
}

func (h *Hub) roomChanged(m roomChanged) {
	id := m.room.ID
	if m.closed {
		delete(h.lobbies, id)
		h.log.Info("room closed", zap.String("room", id))
	}

	_, wasListed := h.listed[id]
	switch {
	case !m.closed && m.room.Joinable():
		h.listed[id] = m.room
		h.broadcast(protocol.RoomAvailable{Room: m.room}, m.room.Players)
	case wasListed:
		delete(h.listed, id)
		h.broadcast(protocol.RoomUnavailable{RoomID: id}, m.room.Players)
	}
}

// broadcast sends ev to every connection outside skip; full outboxes lose it.
func (h *Hub) broadcast(ev protocol.Event, skip []string) {
	for id, out := range h.sessions {
		if slices.Contains(skip, id) {
			continue
		}
		select {
		case out <- lobby.Envelope{Event: ev}:
		default:
			h.log.Warn("outbox full, dropping directory event", zap.String("player", id))
		}
	}
}

// GenerateCode returns a six character room code.
func GenerateCode() (string, error) {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	code := make([]byte, 6)
	for i := range code {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		code[i] = charset[num.Int64()]
	}
	return string(code), nil
}
