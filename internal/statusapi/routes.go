// Package statusapi exposes a running client's state over read-only HTTP
// routes for dashboards and scripts.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/internal/client"
	"github.com/DoyleJ11/duel-sync/internal/history"
	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

const defaultHistoryLimit = 20

// Source is the client being observed. *client.Client implements it.
type Source interface {
	Snapshot() client.Snapshot
	Rooms() []protocol.Room
}

// HistoryLister is implemented by *history.Store.
type HistoryLister interface {
	Recent(ctx context.Context, limit int) ([]history.Match, error)
}

// SetupRoutes mounts /state, /rooms and /healthz, plus /history when hist is
// not nil.
func SetupRoutes(src Source, hist HistoryLister, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()
	r.Get("/healthz", healthz(src))
	r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, src.Snapshot())
	})
	r.Get("/rooms", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, struct {
			Rooms []protocol.Room `json:"rooms"`
		}{Rooms: src.Rooms()})
	})
	if hist != nil {
		r.Get("/history", recent(hist, log))
	}
	return r
}

func healthz(src Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := src.Snapshot()
		writeJSON(w, http.StatusOK, struct {
			Connected bool   `json:"connected"`
			Phase     string `json:"phase"`
		}{Connected: snap.Connected, Phase: string(snap.Phase)})
	}
}

func recent(hist HistoryLister, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultHistoryLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}
		matches, err := hist.Recent(r.Context(), limit)
		if err != nil {
			log.Warn("list history", zap.Error(err))
			http.Error(w, "history unavailable", http.StatusInternalServerError)
			return
		}
		if matches == nil {
			matches = []history.Match{}
		}
		writeJSON(w, http.StatusOK, struct {
			Matches []history.Match `json:"matches"`
		}{Matches: matches})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
