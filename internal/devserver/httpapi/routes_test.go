package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-sync/internal/devserver/hub"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	h := hub.NewHub(context.Background(), hub.Options{CountdownFrom: 1, CountdownTick: 10 * time.Millisecond})
	srv := httptest.NewServer(SetupRoutes(h, nil))
	t.Cleanup(func() {
		srv.Close()
		h.Inbox() <- hub.ShutdownHub{}
	})
	return srv
}

type player struct {
	t    *testing.T
	id   string
	conn *websocket.Conn
}

func dial(t *testing.T, srv *httptest.Server, name string) *player {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?name=" + name
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })

	p := &player{t: t, conn: conn}
	hello := recv[protocol.ConnectionSuccess](p)
	require.NotEmpty(t, hello.PlayerID)
	require.NotNil(t, hello.PlayerData)
	assert.Equal(t, name, hello.PlayerData.Name)
	p.id = hello.PlayerID
	return p
}

func (p *player) send(cmd protocol.Command, rid string) {
	p.t.Helper()
	payload, err := protocol.EncodeCommand(cmd, rid)
	require.NoError(p.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(p.t, p.conn.Write(ctx, websocket.MessageText, payload))
}

// recv reads frames until one decodes to T.
func recv[T protocol.Event](p *player) T {
	p.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		_, data, err := p.conn.Read(ctx)
		require.NoError(p.t, err)
		ev, err := protocol.DecodeEvent(data)
		require.NoError(p.t, err)
		if v, ok := ev.(T); ok {
			return v
		}
	}
}

func getRooms(t *testing.T, srv *httptest.Server) []protocol.Room {
	t.Helper()
	resp, err := http.Get(srv.URL + "/api/rooms")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Rooms []protocol.Room `json:"rooms"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotNil(t, body.Rooms)
	return body.Rooms
}

func TestHealthzAndCatalog(t *testing.T) {
	srv := newServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/api/characters")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body struct {
		Characters []protocol.Character `json:"characters"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.NotEmpty(t, body.Characters)
}

func TestProtocolOverWebsocket(t *testing.T) {
	srv := newServer(t)
	assert.Empty(t, getRooms(t, srv))

	alice := dial(t, srv, "Alice")
	bob := dial(t, srv, "Bob")

	alice.send(protocol.CreateRoom{Name: "Arena"}, "c1")
	created := recv[protocol.RoomCreated](alice)
	assert.Equal(t, "c1", created.RequestID)
	assert.Equal(t, alice.id, created.Room.HostID)

	avail := recv[protocol.RoomAvailable](bob)
	assert.Equal(t, created.Room.ID, avail.Room.ID)
	rooms := getRooms(t, srv)
	require.Len(t, rooms, 1)
	assert.Equal(t, "Arena", rooms[0].Name)

	bob.send(protocol.JoinRoom{RoomID: "nope"}, "j0")
	jerr := recv[protocol.JoinRoomError](bob)
	assert.Equal(t, "j0", jerr.RequestID)

	bob.send(protocol.JoinRoom{RoomID: created.Room.ID}, "j1")
	joined := recv[protocol.RoomJoined](bob)
	assert.Equal(t, "j1", joined.RequestID)
	assert.Equal(t, []string{alice.id, bob.id}, joined.Room.Players)
	pj := recv[protocol.PlayerJoined](alice)
	assert.Equal(t, "Bob", pj.Player.Name)
	assert.Empty(t, getRooms(t, srv))

	alice.send(protocol.SelectCharacter{Character: protocol.Character{ID: "knight"}}, "s1")
	sel := recv[protocol.CharacterSelected](alice)
	assert.Equal(t, "s1", sel.RequestID)
	bob.send(protocol.SelectCharacter{Character: protocol.Character{ID: "mage"}}, "s2")
	recv[protocol.CharacterSelected](bob)

	alice.send(protocol.PlayerReady{IsReady: true}, "r1")
	bob.send(protocol.PlayerReady{IsReady: true}, "r2")
	started := recv[protocol.GameStarted](bob)
	assert.Equal(t, alice.id, started.GameData.CurrentTurn)

	alice.send(protocol.GameAction{Type: protocol.ActionAttack}, "a1")
	done := recv[protocol.GameActionPerformed](bob)
	assert.Equal(t, alice.id, done.Result.ActingPlayerID)
	assert.Equal(t, bob.id, done.GameData.CurrentTurn)

	bob.send(protocol.SendChat{RoomID: created.Room.ID, Message: "ouch"}, "")
	chat := recv[protocol.ChatMessage](alice)
	assert.Equal(t, "ouch", chat.Message)

	bob.send(protocol.LeaveRoom{RoomID: created.Room.ID}, "l1")
	recv[protocol.PlayerLeft](alice)
	over := recv[protocol.GameOver](alice)
	assert.Equal(t, alice.id, over.WinnerID)
}

func TestUndecodableCommandGetsServerError(t *testing.T) {
	srv := newServer(t)
	p := dial(t, srv, "Carol")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.conn.Write(ctx, websocket.MessageText, []byte(`{"event":"fly","requestId":"x1"}`)))
	serr := recv[protocol.ServerError](p)
	assert.Equal(t, "x1", serr.RequestID)

	p.send(protocol.PlayerReady{IsReady: true}, "x2")
	serr = recv[protocol.ServerError](p)
	assert.Equal(t, "not in a room", serr.Error)
	assert.Equal(t, "x2", serr.RequestID)
}
