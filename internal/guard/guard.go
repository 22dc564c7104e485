// Package guard keeps at most one client-initiated request of each kind in
// flight. Every admission is released by its acknowledgment or, failing
// that, by a grace timer so a lost reply cannot wedge the kind forever.
package guard

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	CreateRoom      Kind = "createRoom"
	JoinRoom        Kind = "joinRoom"
	LeaveRoom       Kind = "leaveRoom"
	SelectCharacter Kind = "selectCharacter"
	SetReady        Kind = "setReady"
)

var Kinds = []Kind{CreateRoom, JoinRoom, LeaveRoom, SelectCharacter, SetReady}

const (
	DefaultCreateJoinGrace = 15 * time.Second
	DefaultOperationGrace  = 5 * time.Second

	settledMemory = 64
)

// ExpireFunc is called from the timer goroutine after a kind's grace period
// ran out. The kind is already released when it runs.
type ExpireFunc func(kind Kind, requestID string)

type ticket struct {
	requestID string
	gen       uint64
	timer     *time.Timer
}

type Guard struct {
	mu              sync.Mutex
	createJoinGrace time.Duration
	operationGrace  time.Duration
	inflight        map[Kind]*ticket
	gen             uint64
	settled         []string // ring of recently settled request ids
	next            int
	onExpire        ExpireFunc
}

type Option func(*Guard)

func WithGrace(createJoin, other time.Duration) Option {
	return func(g *Guard) {
		if createJoin > 0 {
			g.createJoinGrace = createJoin
		}
		if other > 0 {
			g.operationGrace = other
		}
	}
}

func WithExpireFunc(fn ExpireFunc) Option {
	return func(g *Guard) { g.onExpire = fn }
}

func New(opts ...Option) *Guard {
	g := &Guard{
		createJoinGrace: DefaultCreateJoinGrace,
		operationGrace:  DefaultOperationGrace,
		inflight:        make(map[Kind]*ticket),
		settled:         make([]string, settledMemory),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryBegin admits kind if nothing of that kind is in flight. The returned
// request id tags the outgoing frame so the acknowledgment can be matched.
func (g *Guard) TryBegin(kind Kind) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inflight[kind]; busy {
		return "", false
	}
	g.gen++
	gen := g.gen
	t := &ticket{requestID: uuid.NewString(), gen: gen}
	t.timer = time.AfterFunc(g.graceFor(kind), func() { g.expire(kind, gen) })
	g.inflight[kind] = t
	return t.requestID, true
}

// End releases kind without an acknowledgment.
func (g *Guard) End(kind Kind) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.inflight[kind]; ok {
		t.timer.Stop()
		delete(g.inflight, kind)
		g.remember(t.requestID)
	}
}

// Settle records an acknowledgment for kind. It releases the kind when the
// ack belongs to the request in flight (or carries no id) and reports false
// when the same request id was already settled, i.e. the ack is a repeat and
// must not be applied again.
func (g *Guard) Settle(kind Kind, requestID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if requestID != "" && g.wasSettled(requestID) {
		return false
	}
	if t, ok := g.inflight[kind]; ok && (requestID == "" || t.requestID == requestID) {
		t.timer.Stop()
		delete(g.inflight, kind)
	}
	if requestID != "" {
		g.remember(requestID)
	}
	return true
}

// Release ends whichever kind is in flight under requestID. Used for
// generic server errors that echo an id but not a kind.
func (g *Guard) Release(requestID string) (Kind, bool) {
	if requestID == "" {
		return "", false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, t := range g.inflight {
		if t.requestID == requestID {
			t.timer.Stop()
			delete(g.inflight, kind)
			g.remember(requestID)
			return kind, true
		}
	}
	return "", false
}

func (g *Guard) Busy(kind Kind) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, busy := g.inflight[kind]
	return busy
}

// Flags reports every kind and whether it is in flight.
func (g *Guard) Flags() map[Kind]bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[Kind]bool, len(Kinds))
	for _, k := range Kinds {
		_, out[k] = g.inflight[k]
	}
	return out
}

// Reset drops everything in flight without firing expiry callbacks.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for kind, t := range g.inflight {
		t.timer.Stop()
		delete(g.inflight, kind)
	}
}

func (g *Guard) expire(kind Kind, gen uint64) {
	g.mu.Lock()
	t, ok := g.inflight[kind]
	if !ok || t.gen != gen {
		// released or re-admitted since this timer was armed
		g.mu.Unlock()
		return
	}
	delete(g.inflight, kind)
	fn := g.onExpire
	g.mu.Unlock()

	if fn != nil {
		fn(kind, t.requestID)
	}
}

func (g *Guard) graceFor(kind Kind) time.Duration {
	if kind == CreateRoom || kind == JoinRoom {
		return g.createJoinGrace
	}
	return g.operationGrace
}

func (g *Guard) remember(id string) {
	g.settled[g.next] = id
	g.next = (g.next + 1) % len(g.settled)
}

func (g *Guard) wasSettled(id string) bool {
	for _, s := range g.settled {
		if s == id {
			return true
		}
	}
	return false
}
