// Package autoopen implements the auto-open-links subscriber of spec.md
// §4.3 step 6 and §9: it listens on pipeline1:push and opens link pushes in
// a tab, subject to the autoOpenLinks preference, a per-reconnect cap, and
// unconditional suppression during invalid-cursor recovery / seed runs.
package autoopen

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
)

// Opener is the narrow capability this package needs from the embedding
// host — out of scope per spec.md §1 ("push-composition user flows ...
// context menus"), so it is a caller-supplied function rather than a
// concrete implementation.
type Opener func(url string)

// Subscriber wires itself onto the bus and enforces the auto-open policy.
// The decision of *when* to call SuppressNext (around the cold-bootstrap
// run, and immediately after a reconnect when autoOpenLinksOnReconnect is
// false) belongs to the caller driving the pipelines; seed runs, including
// the one that ends invalid-cursor recovery, emit nothing to suppress. This
// type only enforces the resulting flag plus the preference and the
// per-cycle cap.
type Subscriber struct {
	open        Opener
	autoOpen    func() bool
	maxPerCycle func() int

	mu              sync.Mutex
	openedThisCycle int
	suppressed      atomic.Bool

	log *slog.Logger
}

// New builds a Subscriber. The accessor functions are closures over live
// configuration so a hot-reload takes effect immediately.
func New(open Opener, autoOpen func() bool, maxPerCycle func() int, log *slog.Logger) *Subscriber {
	return &Subscriber{open: open, autoOpen: autoOpen, maxPerCycle: maxPerCycle, log: log}
}

// Attach registers the handler on the bus.
func (s *Subscriber) Attach(b *bus.InProcessBus) {
	b.On(bus.TopicPipeline1Push, func(payload any) {
		push, ok := payload.(model.Push)
		if !ok {
			return
		}
		s.handle(push)
	})
}

// ResetCycle clears the per-reconnect counter; the channel controller calls
// this on every successful WS_CONNECTED.
func (s *Subscriber) ResetCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openedThisCycle = 0
}

// SuppressNext marks the next handled pushes as ineligible for auto-open
// regardless of preference — the orchestrator sets it around the
// cold-bootstrap Pipeline-1 run, and cmd/fx.go around the post-reconnect
// run when autoOpenLinksOnReconnect is off. Invalid-cursor recovery needs no
// call: it ends in a seed run, which emits no pipeline1:push events.
func (s *Subscriber) SuppressNext(v bool) {
	s.suppressed.Store(v)
}

func (s *Subscriber) handle(push model.Push) {
	if s.suppressed.Load() {
		return
	}
	if !s.autoOpen() {
		return
	}
	if push.Type != model.PushTypeLink {
		return
	}
	url := push.URL
	if push.PlaintextView != nil {
		url = push.PlaintextView.URL
	}
	if url == "" {
		return
	}

	s.mu.Lock()
	if s.openedThisCycle >= s.maxPerCycle() {
		s.mu.Unlock()
		s.log.Debug("autoopen: per-cycle cap reached, suppressing", slog.String("push_iden", push.Iden))
		return
	}
	s.openedThisCycle++
	s.mu.Unlock()

	s.open(url)
}
