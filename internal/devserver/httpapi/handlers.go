package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/devserver/engine"
	"github.com/DoyleJ11/duel-sync/internal/devserver/hub"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

const hubTimeout = 2 * time.Second

// ListRooms serves the directory snapshot: {"rooms": [...]}.
func ListRooms(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan []protocol.Room, 1)
		select {
		case h.Inbox() <- hub.ListRooms{Reply: reply}:
		case <-h.Done():
			http.Error(w, "shutting down", http.StatusServiceUnavailable)
			return
		}

		var rooms []protocol.Room
		select {
		case rooms = <-reply:
		case <-time.After(hubTimeout):
			log.Warn("list rooms timed out")
			http.Error(w, "hub busy", http.StatusServiceUnavailable)
			return
		case <-r.Context().Done():
			return
		}

		writeJSON(w, http.StatusOK, struct {
			Rooms []protocol.Room `json:"rooms"`
		}{Rooms: rooms})
	}
}

// Characters lists the playable catalog.
func Characters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Characters []protocol.Character `json:"characters"`
	}{Characters: engine.Catalog()})
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
