package dispatch

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/duel-sync/pkg/protocol"
)

type Handler func(protocol.Event)

// Subscription identifies one registration for Unsubscribe.
type Subscription struct {
	id   uint64
	name protocol.Name
}

type registration struct {
	id      uint64
	name    protocol.Name
	handler Handler
}

// Dispatcher fans events out to handlers in registration order. A handler
// registered under protocol.AnyEvent sees every event.
type Dispatcher struct {
	mu     sync.RWMutex
	regs   []registration
	nextID uint64
	log    *zap.Logger
}

func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log}
}

func (d *Dispatcher) On(name protocol.Name, h Handler) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	d.regs = append(d.regs, registration{id: d.nextID, name: name, handler: h})
	return Subscription{id: d.nextID, name: name}
}

// Off drops every handler registered under name.
func (d *Dispatcher) Off(name protocol.Name) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.regs[:0]
	for _, r := range d.regs {
		if r.name != name {
			kept = append(kept, r)
		}
	}
	clear(d.regs[len(kept):])
	d.regs = kept
}

func (d *Dispatcher) Unsubscribe(sub Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, r := range d.regs {
		if r.id == sub.id {
			d.regs = append(d.regs[:i], d.regs[i+1:]...)
			return
		}
	}
}

// Dispatch runs every matching handler. Handlers may register or remove
// handlers while running; the change applies from the next event.
func (d *Dispatcher) Dispatch(ev protocol.Event) {
	name := ev.EventName()

	d.mu.RLock()
	matched := make([]registration, 0, len(d.regs))
	for _, r := range d.regs {
		if r.name == name || r.name == protocol.AnyEvent {
			matched = append(matched, r)
		}
	}
	d.mu.RUnlock()

	for _, r := range matched {
		d.invoke(r, ev)
	}
}

func (d *Dispatcher) invoke(r registration, ev protocol.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("event handler panicked",
				zap.String("event", string(ev.EventName())),
				zap.Uint64("subscription", r.id),
				zap.String("panic", fmt.Sprint(rec)),
			)
		}
	}()
	r.handler(ev)
}

// Len reports the number of registrations.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.regs)
}
