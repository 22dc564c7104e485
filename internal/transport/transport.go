// Package transport owns the websocket link to the game server. Inbound frames
// are decoded into protocol events and delivered on one channel that outlives
// individual connections, so subscribers never re-register after a reconnect.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/errs"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultWriteTimeout   = 3 * time.Second

	eventBuffer = 256
	readLimit   = 1 << 20
)

var (
	ErrSuperseded         = errors.New("connection superseded")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

type Options struct {
	// URL is the full websocket endpoint including the name query.
	URL               string
	ConnectTimeout    time.Duration
	WriteTimeout      time.Duration
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Logger            *zap.Logger
}

type Adapter struct {
	opts   Options
	log    *zap.Logger
	events chan protocol.Event

	mu       sync.Mutex
	conn     *websocket.Conn
	playerID string
	gen      uint64
	cancel   context.CancelFunc
}

func New(opts Options) *Adapter {
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		opts:   opts,
		log:    log.With(zap.String("component", "transport")),
		events: make(chan protocol.Event, eventBuffer),
	}
}

// Events is the inbound stream. It is never closed.
func (a *Adapter) Events() <-chan protocol.Event { return a.events }

func (a *Adapter) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.conn != nil
}

func (a *Adapter) PlayerID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.playerID
}

// Connect dials the server and waits for connection_success, which is also
// published on Events. It is a no-op returning the current id when already
// connected, and it stops any reconnect loop in progress.
func (a *Adapter) Connect(ctx context.Context) (string, error) {
	a.mu.Lock()
	if a.conn != nil {
		id := a.playerID
		a.mu.Unlock()
		return id, nil
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.gen++
	gen := a.gen
	lctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.mu.Unlock()

	return a.dial(ctx, lctx, gen)
}

// Disconnect closes the link normally and stops reconnecting. Safe to call
// any number of times.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	a.gen++
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	conn := a.conn
	a.conn = nil
	a.playerID = ""
	a.mu.Unlock()

	if conn != nil {
		if err := conn.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil {
			a.log.Debug("close websocket", zap.Error(err))
		}
	}
}

// Emit writes one command frame. Failures are logged, never returned: the
// read side notices a dead link and drives reconnection.
func (a *Adapter) Emit(cmd protocol.Command, requestID string) {
	name := string(cmd.CommandName())
	b, err := protocol.EncodeCommand(cmd, requestID)
	if err != nil {
		a.log.Error("encode command", zap.String("event", name), zap.Error(err))
		return
	}

	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		a.log.Warn("emit while disconnected", zap.String("event", name))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.opts.WriteTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		a.log.Warn("emit failed", zap.String("event", name), zap.String("requestId", requestID), zap.Error(err))
		return
	}
	a.log.Debug("emitted", zap.String("event", name), zap.String("requestId", requestID))
}

func (a *Adapter) dial(ctx, lctx context.Context, gen uint64) (string, error) {
	hctx, cancel := context.WithTimeout(ctx, a.opts.ConnectTimeout)
	defer cancel()
	stop := context.AfterFunc(lctx, cancel)
	defer stop()

	conn, _, err := websocket.Dial(hctx, a.opts.URL, nil)
	if err != nil {
		return "", errs.Connection("connect", err)
	}
	conn.SetReadLimit(readLimit)

	hello, err := a.handshake(hctx, conn)
	if err != nil {
		conn.CloseNow()
		return "", errs.Connection("connect", err)
	}

	a.mu.Lock()
	if a.gen != gen {
		a.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "superseded")
		return "", errs.Connection("connect", ErrSuperseded)
	}
	a.conn = conn
	a.playerID = hello.PlayerID
	a.mu.Unlock()

	a.log.Info("connected", zap.String("playerId", hello.PlayerID))
	a.publish(lctx, hello)
	go a.readLoop(lctx, conn, gen)
	return hello.PlayerID, nil
}

func (a *Adapter) handshake(ctx context.Context, conn *websocket.Conn) (protocol.ConnectionSuccess, error) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return protocol.ConnectionSuccess{}, fmt.Errorf("waiting for %s: %w", protocol.EventConnectionSuccess, ctx.Err())
			}
			return protocol.ConnectionSuccess{}, fmt.Errorf("waiting for %s: %w", protocol.EventConnectionSuccess, err)
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			a.log.Warn("skipping frame during handshake", zap.Error(err))
			continue
		}
		if hello, ok := ev.(protocol.ConnectionSuccess); ok {
			return hello, nil
		}
		a.log.Debug("frame before connection_success", zap.String("event", string(ev.EventName())))
	}
}

func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			a.dropped(ctx, conn, gen, err)
			return
		}
		ev, err := protocol.DecodeEvent(data)
		if err != nil {
			a.log.Warn("skipping undecodable frame", zap.Error(err))
			continue
		}
		a.publish(ctx, ev)
	}
}

// dropped handles a read failure on conn. Failures of a connection that was
// already replaced or closed locally are ignored.
func (a *Adapter) dropped(ctx context.Context, conn *websocket.Conn, gen uint64, err error) {
	a.mu.Lock()
	if a.gen != gen || a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.conn = nil
	a.playerID = ""
	a.mu.Unlock()

	status := websocket.CloseStatus(err)
	clean := status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
	retry := !clean && a.opts.ReconnectAttempts > 0

	a.log.Warn("connection lost", zap.Int("status", int(status)), zap.Bool("reconnecting", retry), zap.Error(err))
	a.publish(ctx, protocol.Disconnected{Reason: reason(status, err), Reconnecting: retry})
	if retry {
		a.reconnect(ctx, gen)
	}
}

func (a *Adapter) reconnect(ctx context.Context, gen uint64) {
	for attempt := 1; attempt <= a.opts.ReconnectAttempts; attempt++ {
		a.publish(ctx, protocol.Reconnecting{Attempt: attempt})

		select {
		case <-time.After(time.Duration(attempt) * a.opts.ReconnectDelay):
		case <-ctx.Done():
			return
		}

		if _, err := a.dial(ctx, ctx, gen); err != nil {
			if errors.Is(err, ErrSuperseded) || ctx.Err() != nil {
				return
			}
			a.log.Warn("reconnect attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			continue
		}
		return
	}
	a.publish(ctx, protocol.ConnectionFailed{Err: errs.Connection("reconnect", ErrReconnectExhausted)})
}

// publish blocks until the event is taken or ctx ends. Never call it with
// a.mu held.
func (a *Adapter) publish(ctx context.Context, ev protocol.Event) {
	select {
	case a.events <- ev:
	case <-ctx.Done():
		a.log.Debug("dropping event after disconnect", zap.String("event", string(ev.EventName())))
	}
}

func reason(status websocket.StatusCode, err error) string {
	if status == -1 {
		return err.Error()
	}
	return status.String()
}
