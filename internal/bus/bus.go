// Package bus implements C7: a typed, synchronous, in-process event bus
// used to decouple the sync pipelines, the channel controller, and the
// lifecycle state machine (spec.md §3 "components communicate only through
// the bus and through ports"). Delivery is synchronous and in-process —
// there is exactly one agent process, so nothing here reaches for an actual
// broker; watermill/AMQP from the teacher's stack are deliberately left
// unwired (see the not-wired ledger) since there is no second process to
// talk to.
package bus

import (
	"fmt"
	"log/slog"
	"sync"
)

// Topic names the recognized bus subjects from spec.md §3/§4.
type Topic string

const (
	TopicPipeline1Push        Topic = "pipeline1:push"
	TopicSessionUpdated       Topic = "session:updated"
	TopicDevicesUpdated       Topic = "devices:updated"
	TopicWebsocketState       Topic = "websocket:state"
	TopicDecryptDiagnostic    Topic = "decrypt:diagnostic"
)

// Handler receives a bus payload. The concrete type depends on the topic;
// handlers type-assert internally, matching the loosely-typed pub/sub
// convention of the original event emitter this design note is grounded on.
type Handler func(payload any)

// Bus is the C7 port.
type Bus interface {
	On(topic Topic, h Handler) (unsubscribe func())
	Once(topic Topic, h Handler) (unsubscribe func())
	Off(topic Topic, h Handler)
	Emit(topic Topic, payload any)
}

type subscription struct {
	id uint64
	h  Handler
}

// InProcessBus is the default Bus adapter.
type InProcessBus struct {
	mu     sync.Mutex
	subs   map[Topic][]*subscription
	nextID uint64
	log    *slog.Logger
}

// New builds an InProcessBus.
func New(log *slog.Logger) *InProcessBus {
	return &InProcessBus{subs: make(map[Topic][]*subscription), log: log}
}

func (b *InProcessBus) On(topic Topic, h Handler) func() {
	return b.subscribe(topic, h, false)
}

func (b *InProcessBus) Once(topic Topic, h Handler) func() {
	return b.subscribe(topic, h, true)
}

func (b *InProcessBus) subscribe(topic Topic, h Handler, oneShot bool) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, h: wrapOnce(h, oneShot, func() { b.removeByID(topic, id) })}
	b.subs[topic] = append(b.subs[topic], sub)
	return func() { b.removeByID(topic, id) }
}

// wrapOnce is a closure trick so Once handlers can unsubscribe themselves
// after their first firing without the bus tracking one-shot state per call.
func wrapOnce(h Handler, oneShot bool, unsub func()) Handler {
	if !oneShot {
		return h
	}
	var fired bool
	return func(payload any) {
		if fired {
			return
		}
		fired = true
		h(payload)
		unsub()
	}
}

func (b *InProcessBus) Off(topic Topic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if fmt.Sprintf("%p", s.h) == fmt.Sprintf("%p", h) {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *InProcessBus) removeByID(topic Topic, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Emit delivers payload to every current subscriber of topic synchronously,
// in subscription order. A panicking handler is recovered and logged so one
// broken subscriber never takes down the emitting call stack or the rest of
// the subscriber list (spec.md §7 "handler isolation").
func (b *InProcessBus) Emit(topic Topic, payload any) {
	b.mu.Lock()
	subs := make([]*subscription, len(b.subs[topic]))
	copy(subs, b.subs[topic])
	b.mu.Unlock()

	for _, s := range subs {
		b.invoke(topic, s.h, payload)
	}
}

func (b *InProcessBus) invoke(topic Topic, h Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("bus handler panicked",
				slog.String("topic", string(topic)),
				slog.Any("recover", r))
		}
	}()
	h(payload)
}
