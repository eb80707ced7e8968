// Package agentfsm implements C11: the agent's single lifecycle authority.
// currentState is the only variable that carries lifecycle meaning
// (spec.md §3 invariant 6); every transition is funneled through Transition
// so concurrent callers are serialized by the same mutex that guards the
// state read.
package agentfsm

import (
	"log/slog"
	"sync"

	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
)

// SideEffect runs after a transition lands in its new state. data carries
// whatever context the event needs (e.g. a token on API_KEY_SET); it may be
// nil.
type SideEffect func(data any)

type transitionKey struct {
	from  model.AgentState
	event model.AgentEvent
}

type transitionRule struct {
	to      model.AgentState
	effect  string // named side effect, looked up in the registered table
}

// Machine is the C11 port implementation: spec.md §4.5's transition table,
// made data-driven so the table itself documents the allowed moves instead
// of a long switch statement.
type Machine struct {
	mu      sync.Mutex
	current model.AgentState
	log     *slog.Logger
	bus     *bus.InProcessBus

	table    map[transitionKey]transitionRule
	wildcard map[model.AgentEvent]transitionRule

	effects map[string]SideEffect

	noopCount uint64
}

// New builds a Machine starting in IDLE and wires the fixed transition
// table from spec.md §4.5. Side effects are registered separately via
// RegisterEffect since they need references to the orchestrator, notifier,
// etc. that don't exist yet at construction time.
func New(log *slog.Logger, b *bus.InProcessBus) *Machine {
	m := &Machine{
		current:  model.StateIdle,
		log:      log,
		bus:      b,
		table:    make(map[transitionKey]transitionRule),
		wildcard: make(map[model.AgentEvent]transitionRule),
		effects:  make(map[string]SideEffect),
	}

	add := func(from model.AgentState, event model.AgentEvent, to model.AgentState, effect string) {
		m.table[transitionKey{from, event}] = transitionRule{to: to, effect: effect}
	}

	add(model.StateIdle, model.EventStartup, model.StateInitializing, "orchestrateInit")
	add(model.StateIdle, model.EventAPIKeySet, model.StateInitializing, "orchestrateInit")
	add(model.StateInitializing, model.EventInitSuccess, model.StateReady, "connectChannel")
	add(model.StateInitializing, model.EventInitFailure, model.StateError, "showErrorNotification")
	add(model.StateReady, model.EventWSDisconnected, model.StateDegraded, "startPolling")
	add(model.StateReady, model.EventWSPermanentError, model.StateError, "showErrorNotification")
	add(model.StateDegraded, model.EventWSConnected, model.StateReady, "stopPolling")
	add(model.StateDegraded, model.EventWSPermanentError, model.StateError, "showErrorNotification")
	add(model.StateError, model.EventAPIKeySet, model.StateInitializing, "orchestrateInit")
	add(model.StateError, model.EventAttemptReconnect, model.StateInitializing, "orchestrateInit")

	// IDLE + STARTUP with no token is a documented no-op to IDLE (spec.md
	// §4.5); omitted from the table deliberately so the default "unknown
	// pair → noop" path handles it without a redundant self-loop entry.

	m.wildcard[model.EventLogout] = transitionRule{to: model.StateIdle, effect: "logoutCleanup"}

	return m
}

// RegisterEffect binds a named side effect to run after landing in its
// target state. Unregistered effect names are logged and skipped rather
// than panicking, so a partially-wired Machine is still safe to drive in
// tests.
func (m *Machine) RegisterEffect(name string, fn SideEffect) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.effects[name] = fn
}

// Current returns the current state.
func (m *Machine) Current() model.AgentState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Transition is the atomic state-machine step from spec.md §4.5: compute
// next state, no onExit/onEnter hooks beyond the registered side effect,
// set currentState, then run the side effect outside the lock so it may
// itself call back into the machine (e.g. orchestrateInit eventually
// calling Transition again) without deadlocking.
func (m *Machine) Transition(event model.AgentEvent, data any) model.AgentState {
	m.mu.Lock()
	from := m.current
	rule, ok := m.table[transitionKey{from, event}]
	if !ok {
		rule, ok = m.wildcard[event]
	}
	if !ok {
		m.noopCount++
		m.log.Debug("agentfsm: unrecognized transition ignored",
			slog.String("from", string(from)), slog.String("event", string(event)))
		m.mu.Unlock()
		return from
	}
	to := rule.to
	m.current = to
	effect := m.effects[rule.effect]
	m.mu.Unlock()

	m.log.Info("agentfsm: transition", slog.String("from", string(from)), slog.String("event", string(event)), slog.String("to", string(to)))
	m.bus.Emit(bus.TopicWebsocketState, to)

	if effect != nil {
		effect(data)
	} else if rule.effect != "" {
		m.log.Debug("agentfsm: side effect not registered", slog.String("effect", rule.effect))
	}
	return to
}

// NoopCount reports how many (state, event) pairs were ignored, for tests
// and diagnostics.
func (m *Machine) NoopCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noopCount
}
