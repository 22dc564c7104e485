package directory

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

const fetchTimeout = 5 * time.Second

type roomsResponse struct {
	Rooms []protocol.Room `json:"rooms"`
}

// Fetcher loads the directory snapshot over HTTP. It fails closed: any
// error yields an empty list.
type Fetcher struct {
	url    string
	client *http.Client
	log    *zap.Logger
	group  singleflight.Group
}

func NewFetcher(roomsURL string, client *http.Client, log *zap.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{url: roomsURL, client: client, log: log}
}

// FetchRooms performs GET {server}/api/rooms. Concurrent callers share one
// request, which is bounded by fetchTimeout rather than by any one caller's
// ctx. A caller whose ctx ends gets an empty list.
func (f *Fetcher) FetchRooms(ctx context.Context) []protocol.Room {
	ch := f.group.DoChan(f.url, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return f.fetch(sctx), nil
	})
	select {
	case r := <-ch:
		rooms, _ := r.Val.([]protocol.Room)
		if rooms == nil {
			return []protocol.Room{}
		}
		return rooms
	case <-ctx.Done():
		return []protocol.Room{}
	}
}

func (f *Fetcher) fetch(ctx context.Context) []protocol.Room {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		f.log.Warn("build rooms request", zap.Error(err))
		return []protocol.Room{}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("fetch rooms", zap.String("url", f.url), zap.Error(err))
		return []protocol.Room{}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.log.Warn("fetch rooms: unexpected status", zap.String("url", f.url), zap.Int("status", resp.StatusCode))
		return []protocol.Room{}
	}

	var body roomsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		f.log.Warn("decode rooms", zap.Error(err))
		return []protocol.Room{}
	}
	if body.Rooms == nil {
		return []protocol.Room{}
	}
	return body.Rooms
}
