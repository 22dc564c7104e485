package main

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/client"
	"github.com/DoyleJ11/duel-sync/internal/errs"
	"github.com/DoyleJ11/duel-sync/internal/guard"
	"github.com/DoyleJ11/duel-sync/internal/session"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type flags struct {
	create    string
	private   bool
	join      string
	character string
	autoplay  bool
	once      bool
}

// player drives a client from the command line. Observers run on the client
// loop, so they only nudge the play loop through wake.
type player struct {
	c    *client.Client
	f    flags
	log  *zap.Logger
	wake chan struct{}
	fail chan error
}

func newPlayer(c *client.Client, f flags, log *zap.Logger) *player {
	return &player{
		c:    c,
		f:    f,
		log:  log,
		wake: make(chan struct{}, 1),
		fail: make(chan error, 1),
	}
}

func (p *player) observe() {
	p.c.On(protocol.AnyEvent, func(ev protocol.Event) {
		p.log.Info("event", zap.String("event", string(ev.EventName())))
		select {
		case p.wake <- struct{}{}:
		default:
		}
	})
	p.c.On(protocol.EventGameActionPerformed, func(ev protocol.Event) {
		if e, ok := ev.(protocol.GameActionPerformed); ok && e.Result.Message != "" {
			p.log.Info("battle", zap.String("line", e.Result.Message))
		}
	})
	p.c.On(protocol.EventChatMessage, func(ev protocol.Event) {
		if e, ok := ev.(protocol.ChatMessage); ok {
			p.log.Info("chat", zap.String("from", e.PlayerName), zap.String("message", e.Message))
		}
	})
	p.c.On(protocol.EventConnectionError, func(ev protocol.Event) {
		e, _ := ev.(protocol.ConnectionFailed)
		err := e.Err
		if err == nil {
			err = errs.ErrConnection
		}
		select {
		case p.fail <- err:
		default:
		}
	})
}

func (p *player) run(ctx context.Context) error {
	if err := p.c.Connect(ctx); err != nil {
		return err
	}
	p.log.Info("connected", zap.Int("rooms", len(p.c.Rooms())))

	switch {
	case p.f.join != "":
		if err := p.c.JoinRoom(ctx, p.f.join); err != nil {
			return err
		}
	case p.f.create != "":
		if err := p.c.CreateRoom(ctx, p.f.create, p.f.private); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-p.fail:
			return err
		case <-p.wake:
		}
		done, err := p.step(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// step reacts to the current snapshot and reports whether the run is over.
func (p *player) step(ctx context.Context) (bool, error) {
	snap := p.c.Snapshot()
	if !p.f.autoplay {
		return false, nil
	}
	me, _ := snap.Player(snap.PlayerID)

	var err error
	switch snap.Phase {
	case session.PhaseCharacterSelect:
		if snap.PendingCharacter == nil {
			err = p.c.SelectCharacter(ctx, protocol.Character{ID: p.f.character})
		}
	case session.PhaseReadyWait:
		if !me.IsReady && !snap.Pending[guard.SetReady] {
			err = p.c.SetReady(ctx, true)
		}
	case session.PhaseInGame:
		if snap.Room != nil && snap.Room.GameData.CurrentTurn == snap.PlayerID {
			err = p.c.PerformAction(ctx, protocol.GameAction{Type: protocol.ActionAttack})
		}
	case session.PhaseGameOver:
		if snap.Room != nil {
			p.log.Info("game over",
				zap.String("winner", snap.Room.GameData.Winner),
				zap.Bool("won", snap.Room.GameData.Winner == snap.PlayerID),
			)
		}
		return p.f.once, nil
	}
	if errors.Is(err, errs.ErrValidation) {
		p.log.Debug("skipped", zap.Error(err))
		return false, nil
	}
	return false, err
}
