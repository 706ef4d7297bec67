package mission

import (
	"runtime/debug"
	"sync"

	"github.com/entrhq/phaseguard/pkg/types"
)

// Handler receives mission events. Handlers run synchronously on the
// goroutine that caused the event and must not block.
type Handler func(*types.MissionEvent)

type subscription struct {
	id      uint64
	handler Handler
}

// publisher is a small synchronous fan-out. A panicking handler is logged
// and does not stop delivery to the others.
type publisher struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

func (p *publisher) subscribe(h Handler) func() {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subs = append(p.subs, subscription{id: id, handler: h})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, s := range p.subs {
				if s.id == id {
					p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (p *publisher) publish(event *types.MissionEvent) {
	p.mu.RLock()
	subs := make([]subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	for _, s := range subs {
		safeCall(s.handler, event)
	}
}

func (p *publisher) count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

func safeCall(h Handler, event *types.MissionEvent) {
	defer func() {
		if r := recover(); r != nil {
			debugLog.Errorf("Mission event handler panicked for %s: %v\n%s", event.Type, r, debug.Stack())
		}
	}()
	h(event)
}
