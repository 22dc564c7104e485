package lobby

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type notification struct {
	room   protocol.Room
	closed bool
}

// receive the next event of type T, skipping others, so tests never hang
func recvEvent[T protocol.Event](t *testing.T, ch <-chan Envelope, within time.Duration) (T, string) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env := <-ch:
			if ev, ok := env.Event.(T); ok {
				return ev, env.RequestID
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero, ""
		}
	}
}

func recvNone[T protocol.Event](t *testing.T, ch <-chan Envelope, within time.Duration) {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case env := <-ch:
			if _, ok := env.Event.(T); ok {
				t.Fatalf("expected no %T within %v, got %+v", env.Event, within, env.Event)
			}
		case <-deadline:
			return
		}
	}
}

func recvView(t *testing.T, l *Lobby) View {
	t.Helper()
	reply := make(chan View, 1)
	l.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for view")
		return View{}
	}
}

func newLobby(t *testing.T, tick time.Duration) (*Lobby, chan notification) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	notes := make(chan notification, 64)
	l := NewLobby(ctx, protocol.Room{ID: "ROOM01", Name: "Arena"}, Options{
		CountdownFrom: 2,
		CountdownTick: tick,
		Notify: func(r protocol.Room, closed bool) {
			select {
			case notes <- notification{room: r, closed: closed}:
			default:
			}
		},
	})
	return l, notes
}

func join(t *testing.T, l *Lobby, id, name string, create bool) chan Envelope {
	t.Helper()
	out := make(chan Envelope, 256)
	reply := make(chan bool, 1)
	l.Inbox() <- Join{Member: Member{ID: id, Name: name, Outbox: out}, RequestID: "join-" + id, Create: create, Reply: reply}
	select {
	case ok := <-reply:
		require.True(t, ok, "join %s", id)
	case <-time.After(time.Second):
		t.Fatalf("timed out joining %s", id)
	}
	return out
}

func pick(t *testing.T, l *Lobby, id, character string, out <-chan Envelope) {
	t.Helper()
	l.Inbox() <- FromClient{PlayerID: id, Cmd: protocol.SelectCharacter{Character: protocol.Character{ID: character}}, RequestID: "pick-" + id}
	for {
		ev, rid := recvEvent[protocol.CharacterSelected](t, out, time.Second)
		if ev.PlayerID == id {
			assert.Equal(t, "pick-"+id, rid)
			return
		}
	}
}

// duel seats Alice (host, knight) and Bob (guest, mage).
func duel(t *testing.T, tick time.Duration) (*Lobby, chan Envelope, chan Envelope, chan notification) {
	t.Helper()
	l, notes := newLobby(t, tick)
	host := join(t, l, "P1", "Alice", true)
	guest := join(t, l, "P2", "Bob", false)
	pick(t, l, "P1", "knight", host)
	pick(t, l, "P2", "mage", guest)
	return l, host, guest, notes
}

func TestLobby_CreateAndJoin(t *testing.T) {
	l, notes := newLobby(t, time.Second)

	host := join(t, l, "P1", "Alice", true)
	created, rid := recvEvent[protocol.RoomCreated](t, host, time.Second)
	assert.Equal(t, "join-P1", rid)
	assert.Equal(t, "P1", created.Room.HostID)
	assert.Equal(t, []string{"P1"}, created.Room.Players)

	guest := join(t, l, "P2", "Bob", false)
	joined, rid := recvEvent[protocol.RoomJoined](t, guest, time.Second)
	assert.Equal(t, "join-P2", rid)
	assert.Equal(t, "P2", joined.Room.GuestID)
	assert.Equal(t, []string{"P1", "P2"}, joined.Room.Players)

	pj, rid := recvEvent[protocol.PlayerJoined](t, host, time.Second)
	assert.Equal(t, "Bob", pj.Player.Name)
	assert.Empty(t, rid)

	n := <-notes
	assert.True(t, n.room.Joinable())
	n = <-notes
	assert.False(t, n.room.Joinable(), "full room is no longer listed")

	// third player is turned away
	out := make(chan Envelope, 4)
	reply := make(chan bool, 1)
	l.Inbox() <- Join{Member: Member{ID: "P3", Outbox: out}, RequestID: "r3", Reply: reply}
	assert.False(t, <-reply)
	jerr, rid := recvEvent[protocol.JoinRoomError](t, out, time.Second)
	assert.Equal(t, "room is full", jerr.Error)
	assert.Equal(t, "r3", rid)
}

func TestLobby_SelectAndReadyValidation(t *testing.T) {
	l, _ := newLobby(t, time.Second)
	host := join(t, l, "P1", "Alice", true)

	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.PlayerReady{IsReady: true}, RequestID: "r1"}
	serr, rid := recvEvent[protocol.ServerError](t, host, time.Second)
	assert.Equal(t, "select a character first", serr.Error)
	assert.Equal(t, "r1", rid)

	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.SelectCharacter{Character: protocol.Character{ID: "dragon"}}, RequestID: "r2"}
	cerr, rid := recvEvent[protocol.SelectCharacterError](t, host, time.Second)
	assert.Equal(t, "unknown character", cerr.Error)
	assert.Equal(t, "r2", rid)

	// stats come from the catalog, not from the client
	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.SelectCharacter{Character: protocol.Character{ID: "mage", Health: 9999}}, RequestID: "r3"}
	sel, _ := recvEvent[protocol.CharacterSelected](t, host, time.Second)
	assert.Equal(t, 80, sel.Character.Health)
	assert.Equal(t, "mage", recvView(t, l).Room.HostCharacter.ID)

	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.GameAction{Type: protocol.ActionAttack}, RequestID: "r4"}
	aerr, _ := recvEvent[protocol.GameActionError](t, host, time.Second)
	assert.Equal(t, "no game in progress", aerr.Error)
}

func TestLobby_CountdownStartsGame(t *testing.T) {
	l, host, guest, _ := duel(t, 10*time.Millisecond)

	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.PlayerReady{IsReady: true}, RequestID: "ready-1"}
	ready, rid := recvEvent[protocol.PlayerReadyUpdated](t, host, time.Second)
	assert.True(t, ready.IsReady)
	assert.Equal(t, "ready-1", rid)
	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.PlayerReady{IsReady: true}}

	cd, _ := recvEvent[protocol.GameCountdown](t, guest, time.Second)
	assert.Equal(t, 2, cd.Countdown)
	cd, _ = recvEvent[protocol.GameCountdown](t, guest, time.Second)
	assert.Equal(t, 1, cd.Countdown)

	started, _ := recvEvent[protocol.GameStarted](t, guest, time.Second)
	assert.Equal(t, protocol.StatusInProgress, started.Room.Status)
	assert.Equal(t, "P1", started.GameData.CurrentTurn)
	assert.Equal(t, []string{"Battle begins!"}, started.GameData.BattleLog)
	require.NotNil(t, started.GameData.StartTime)
}

func TestLobby_UnreadyCancelsCountdown(t *testing.T) {
	l, host, _, _ := duel(t, 50*time.Millisecond)

	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.PlayerReady{IsReady: true}}
	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.PlayerReady{IsReady: true}}
	recvEvent[protocol.GameCountdown](t, host, time.Second)

	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.PlayerReady{IsReady: false}}
	upd, _ := recvEvent[protocol.RoomUpdated](t, host, time.Second)
	assert.Equal(t, protocol.StatusWaiting, upd.Room.Status)

	// the armed tick is stale now
	recvNone[protocol.GameStarted](t, host, 200*time.Millisecond)
	assert.Equal(t, protocol.StatusWaiting, recvView(t, l).Room.Status)
}

func TestLobby_BattleToGameOver(t *testing.T) {
	l, host, guest, _ := duel(t, time.Millisecond)
	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.PlayerReady{IsReady: true}}
	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.PlayerReady{IsReady: true}}
	started, _ := recvEvent[protocol.GameStarted](t, host, time.Second)

	// out-of-turn action is rejected for the sender only
	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.GameAction{Type: protocol.ActionAttack}, RequestID: "oops"}
	aerr, rid := recvEvent[protocol.GameActionError](t, guest, time.Second)
	assert.Equal(t, "not your turn", aerr.Error)
	assert.Equal(t, "oops", rid)

	turn := started.GameData.CurrentTurn
	lastCount := 0
	for i := 0; i < 40; i++ {
		l.Inbox() <- FromClient{PlayerID: turn, Cmd: protocol.GameAction{Type: protocol.ActionAttack}, RequestID: "act"}
		done, _ := recvEvent[protocol.GameActionPerformed](t, host, time.Second)
		require.Len(t, done.GameData.BattleLog, 1, "only the new line is sent")
		assert.Greater(t, done.GameData.TurnCount, lastCount)
		lastCount = done.GameData.TurnCount
		if done.GameData.CurrentTurn == "" {
			break
		}
		turn = done.GameData.CurrentTurn
	}

	over, _ := recvEvent[protocol.GameOver](t, guest, time.Second)
	assert.Equal(t, "P1", over.WinnerID, "the knight moves first and outlasts the mage")
	assert.Equal(t, "Alice", over.WinnerName)
	require.NotNil(t, over.GameData.EndTime)

	view := recvView(t, l)
	assert.Equal(t, protocol.StatusCompleted, view.Room.Status)
	assert.LessOrEqual(t, len(view.Room.GameData.BattleLog), maxBattleLog)
}

func TestLobby_LeaveMidGameForfeits(t *testing.T) {
	l, host, _, _ := duel(t, time.Millisecond)
	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.PlayerReady{IsReady: true}}
	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.PlayerReady{IsReady: true}}
	recvEvent[protocol.GameStarted](t, host, time.Second)

	l.Inbox() <- Leave{PlayerID: "P2"}
	left, _ := recvEvent[protocol.PlayerLeft](t, host, time.Second)
	assert.Equal(t, "Bob", left.PlayerName)
	over, _ := recvEvent[protocol.GameOver](t, host, time.Second)
	assert.Equal(t, "P1", over.WinnerID)
}

func TestLobby_HostLeavePromotesGuest(t *testing.T) {
	l, _, guest, _ := duel(t, time.Second)

	l.Inbox() <- Leave{PlayerID: "P1"}
	recvEvent[protocol.PlayerLeft](t, guest, time.Second)
	upd, _ := recvEvent[protocol.RoomUpdated](t, guest, time.Second)
	assert.Equal(t, "P2", upd.Room.HostID)
	assert.Equal(t, "mage", upd.Room.HostCharacter.ID)
	assert.Empty(t, upd.Room.GuestID)
	assert.True(t, upd.Room.Joinable())
}

func TestLobby_LastLeaveClosesRoom(t *testing.T) {
	l, notes := newLobby(t, time.Second)
	join(t, l, "P1", "Alice", true)
	<-notes

	l.Inbox() <- Leave{PlayerID: "P1"}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("lobby did not stop")
	}
	n := <-notes
	assert.True(t, n.closed)

	ok := l.Send(context.Background(), Leave{PlayerID: "P1"})
	assert.False(t, ok)
}

func TestLobby_FullOutboxDoesNotBlock(t *testing.T) {
	l, _ := newLobby(t, time.Second)
	stuck := make(chan Envelope) // nobody reads
	reply := make(chan bool, 1)
	l.Inbox() <- Join{Member: Member{ID: "P1", Name: "Alice", Outbox: stuck}, Create: true, Reply: reply}
	require.True(t, <-reply)

	l.Inbox() <- FromClient{PlayerID: "P1", Cmd: protocol.SendChat{Message: "hello?"}}
	view := recvView(t, l)
	assert.Equal(t, 1, view.NumClients)
}

func TestLobby_ChatBroadcast(t *testing.T) {
	l, host, guest, _ := duel(t, time.Second)

	l.Inbox() <- FromClient{PlayerID: "P2", Cmd: protocol.SendChat{RoomID: "ROOM01", Message: "gl hf"}}
	for _, out := range []chan Envelope{host, guest} {
		msg, _ := recvEvent[protocol.ChatMessage](t, out, time.Second)
		assert.Equal(t, "Bob", msg.PlayerName)
		assert.Equal(t, "gl hf", msg.Message)
		require.NotNil(t, msg.Timestamp)
	}
}
