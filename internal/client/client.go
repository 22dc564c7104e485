// Package client is the connection controller. A Client owns one transport,
// one session and one room directory, and applies every local operation and
// inbound event on a single event loop goroutine.
package client

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/duel-sync/internal/directory"
	"github.com/DoyleJ11/duel-sync/internal/dispatch"
	"github.com/DoyleJ11/duel-sync/internal/errs"
	"github.com/DoyleJ11/duel-sync/internal/guard"
	"github.com/DoyleJ11/duel-sync/internal/history"
	"github.com/DoyleJ11/duel-sync/internal/session"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

var (
	ErrClosed       = errors.New("client closed")
	ErrNotConnected = errors.New("not connected")
)

const recordTimeout = 10 * time.Second

// Transport is the link to the server. *transport.Adapter implements it.
type Transport interface {
	Connect(ctx context.Context) (string, error)
	Disconnect()
	IsConnected() bool
	Emit(cmd protocol.Command, requestID string)
	Events() <-chan protocol.Event
}

// RoomLister loads the directory snapshot. *directory.Fetcher implements it.
type RoomLister interface {
	FetchRooms(ctx context.Context) []protocol.Room
}

type Options struct {
	PlayerName      string
	CreateJoinGrace time.Duration
	OperationGrace  time.Duration
	Logger          *zap.Logger
	// Recorder receives every finished match. Optional.
	Recorder history.Recorder
}

// Snapshot is the observer view: session state plus connectivity and the
// pending operation flags.
type Snapshot struct {
	session.Snapshot
	Connected bool                `json:"connected"`
	Pending   map[guard.Kind]bool `json:"pending"`
}

type Client struct {
	opts      Options
	log       *zap.Logger
	transport Transport
	lister    RoomLister
	recorder  history.Recorder

	guard      *guard.Guard
	dispatcher *dispatch.Dispatcher
	session    *session.Store
	rooms      *directory.Store

	// owned by the loop
	reconnecting bool

	connecting singleflight.Group

	inbox     chan msg
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	bg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func New(t Transport, lister RoomLister, opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(opts.PlayerName) == "" {
		opts.PlayerName = "Player"
	}
	rec := opts.Recorder
	if rec == nil {
		rec = history.Nop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		opts:       opts,
		log:        log,
		transport:  t,
		lister:     lister,
		recorder:   rec,
		dispatcher: dispatch.New(log),
		session:    session.New(log),
		rooms:      directory.NewStore(),
		inbox:      make(chan msg, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	c.session.SetPlayerName(opts.PlayerName)
	c.guard = guard.New(
		guard.WithGrace(opts.CreateJoinGrace, opts.OperationGrace),
		guard.WithExpireFunc(func(kind guard.Kind, requestID string) {
			c.post(expired{kind: kind, requestID: requestID})
		}),
	)

	go c.loop()
	return c
}

// On registers an observer. Handlers run on the event loop after the state
// for the event has been applied; they must not block on Client methods.
func (c *Client) On(name protocol.Name, h dispatch.Handler) dispatch.Subscription {
	return c.dispatcher.On(name, h)
}

func (c *Client) Off(name protocol.Name) { c.dispatcher.Off(name) }

func (c *Client) Unsubscribe(sub dispatch.Subscription) { c.dispatcher.Unsubscribe(sub) }

func (c *Client) Snapshot() Snapshot {
	return Snapshot{
		Snapshot:  c.session.Snapshot(),
		Connected: c.transport.IsConnected(),
		Pending:   c.guard.Flags(),
	}
}

// Rooms lists the directory in insertion/update order.
func (c *Client) Rooms() []protocol.Room { return c.rooms.List() }

func (c *Client) PlayerName() string { return c.opts.PlayerName }

// Connect dials the server and loads the room directory before returning.
// Concurrent calls share one attempt; a caller whose ctx ends stops waiting
// but does not abort the attempt for the others.
func (c *Client) Connect(ctx context.Context) error {
	if c.ctx.Err() != nil {
		return ErrClosed
	}
	if c.transport.IsConnected() {
		return nil
	}
	ch := c.connecting.DoChan("connect", func() (any, error) {
		sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(c.ctx, cancel)
		defer stop()
		err := c.connect(sctx)
		if err != nil && c.ctx.Err() != nil {
			return nil, ErrClosed
		}
		return nil, err
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) connect(ctx context.Context) error {
	if err := c.do(ctx, func(reply chan error) msg { return beginConnect{reply: reply} }); err != nil {
		return err
	}
	playerID, err := c.transport.Connect(ctx)
	if err != nil {
		c.post(connectFailed{})
		return err
	}
	rooms := c.lister.FetchRooms(ctx)
	return c.do(ctx, func(reply chan error) msg {
		return connected{playerID: playerID, rooms: rooms, reply: reply}
	})
}

func (c *Client) Disconnect() error {
	return c.do(context.Background(), func(reply chan error) msg { return disconnect{reply: reply} })
}

// CreateRoom asks the server for a new room, connecting first when needed.
// A blank name becomes "<player name>'s Room".
func (c *Client) CreateRoom(ctx context.Context, name string, isPrivate bool) error {
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	return c.do(ctx, func(reply chan error) msg {
		return createRoom{name: name, isPrivate: isPrivate, reply: reply}
	})
}

func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return errs.Validation("join room", "room code is required")
	}
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	return c.do(ctx, func(reply chan error) msg { return joinRoom{roomID: roomID, reply: reply} })
}

// LeaveRoom has no acknowledgment: local state is cleared right away.
func (c *Client) LeaveRoom(ctx context.Context) error {
	return c.do(ctx, func(reply chan error) msg { return leaveRoom{reply: reply} })
}

func (c *Client) SelectCharacter(ctx context.Context, character protocol.Character) error {
	if strings.TrimSpace(character.ID) == "" {
		return errs.Validation("select character", "character is required")
	}
	return c.do(ctx, func(reply chan error) msg { return selectCharacter{character: character, reply: reply} })
}

func (c *Client) SetReady(ctx context.Context, isReady bool) error {
	return c.do(ctx, func(reply chan error) msg { return setReady{isReady: isReady, reply: reply} })
}

// PerformAction is a no-op unless a game is running.
func (c *Client) PerformAction(ctx context.Context, action protocol.GameAction) error {
	if action.Type == "" {
		return errs.Validation("perform action", "action type is required")
	}
	return c.do(ctx, func(reply chan error) msg { return performAction{action: action, reply: reply} })
}

func (c *Client) SendChatMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errs.Validation("send chat", "message is empty")
	}
	return c.do(ctx, func(reply chan error) msg { return sendChat{text: text, reply: reply} })
}

// Close stops the loop, drops the connection and waits for background work.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.transport.Disconnect()
		c.guard.Reset()
		c.bg.Wait()
		if closer, ok := c.recorder.(io.Closer); ok {
			c.closeErr = multierr.Append(c.closeErr, closer.Close())
		}
	})
	return c.closeErr
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.transport.IsConnected() {
		return nil
	}
	return c.Connect(ctx)
}

// do posts a message built around a fresh reply channel and waits until the
// loop has handled it.
func (c *Client) do(ctx context.Context, build func(reply chan error) msg) error {
	reply := make(chan error, 1)
	select {
	case c.inbox <- build(reply):
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrClosed
	}
}

// post delivers a message without waiting for it to be handled.
func (c *Client) post(m msg) {
	select {
	case c.inbox <- m:
	case <-c.ctx.Done():
	}
}

func (c *Client) background(fn func()) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn()
	}()
}

func (c *Client) refreshDirectory() {
	c.background(func() {
		rooms := c.lister.FetchRooms(c.ctx)
		c.post(directoryLoaded{rooms: rooms})
	})
}

func newRequestID() string { return uuid.NewString() }
