package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/duel-sync/internal/client"
	"github.com/DoyleJ11/duel-sync/internal/guard"
	"github.com/DoyleJ11/duel-sync/internal/history"
	"github.com/DoyleJ11/duel-sync/internal/session"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type stubSource struct {
	snap  client.Snapshot
	rooms []protocol.Room
}

func (s stubSource) Snapshot() client.Snapshot { return s.snap }
func (s stubSource) Rooms() []protocol.Room    { return s.rooms }

type stubHistory struct {
	matches []history.Match
	err     error
	limit   int
}

func (h *stubHistory) Recent(ctx context.Context, limit int) ([]history.Match, error) {
	h.limit = limit
	return h.matches, h.err
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func source() stubSource {
	return stubSource{
		snap: client.Snapshot{
			Snapshot: session.Snapshot{
				Phase:    session.PhaseInRoom,
				PlayerID: "P1",
				IsHost:   true,
				Room:     &protocol.Room{ID: "R1", Name: "Arena", Players: []string{"P1"}},
			},
			Connected: true,
			Pending:   map[guard.Kind]bool{guard.SetReady: true},
		},
		rooms: []protocol.Room{{ID: "R2", Name: "Other"}},
	}
}

func TestState(t *testing.T) {
	rec := get(t, SetupRoutes(source(), nil, nil), "/state")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "in-room", body["phase"])
	assert.Equal(t, "P1", body["playerId"])
	assert.Equal(t, true, body["connected"])
	assert.Equal(t, map[string]any{string(guard.SetReady): true}, body["pending"])
	assert.Equal(t, "R1", body["room"].(map[string]any)["id"])
}

func TestRoomsAndHealthz(t *testing.T) {
	h := SetupRoutes(source(), nil, nil)

	var rooms struct {
		Rooms []protocol.Room `json:"rooms"`
	}
	require.NoError(t, json.Unmarshal(get(t, h, "/rooms").Body.Bytes(), &rooms))
	require.Len(t, rooms.Rooms, 1)
	assert.Equal(t, "R2", rooms.Rooms[0].ID)

	rec := get(t, h, "/healthz")
	assert.JSONEq(t, `{"connected":true,"phase":"in-room"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, get(t, h, "/history").Code, "history is optional")
}

func TestHistory(t *testing.T) {
	cases := []struct {
		name      string
		path      string
		hist      *stubHistory
		wantCode  int
		wantLimit int
	}{
		{"default limit", "/history", &stubHistory{matches: []history.Match{{RoomID: "R1"}}}, http.StatusOK, defaultHistoryLimit},
		{"explicit limit", "/history?limit=5", &stubHistory{}, http.StatusOK, 5},
		{"bad limit", "/history?limit=-1", &stubHistory{}, http.StatusBadRequest, 0},
		{"store failure", "/history", &stubHistory{err: errors.New("db down")}, http.StatusInternalServerError, defaultHistoryLimit},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := get(t, SetupRoutes(source(), tc.hist, nil), tc.path)
			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, tc.wantLimit, tc.hist.limit)
			if tc.wantCode != http.StatusOK {
				return
			}
			var body struct {
				Matches []history.Match `json:"matches"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotNil(t, body.Matches)
			assert.Len(t, body.Matches, len(tc.hist.matches))
		})
	}
}
