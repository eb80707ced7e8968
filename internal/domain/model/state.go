package model

// AgentState is the agent's single lifecycle variable (spec.md §3 invariant
// 6: no other flag duplicates its meaning).
type AgentState string

const (
	StateIdle         AgentState = "IDLE"
	StateInitializing AgentState = "INITIALIZING"
	StateReady        AgentState = "READY"
	StateDegraded     AgentState = "DEGRADED"
	StateError        AgentState = "ERROR"
)

// AgentEvent is one of the events the state machine's transition table
// reacts to.
type AgentEvent string

const (
	EventStartup           AgentEvent = "STARTUP"
	EventAPIKeySet          AgentEvent = "API_KEY_SET"
	EventInitSuccess        AgentEvent = "INIT_SUCCESS"
	EventInitFailure        AgentEvent = "INIT_FAILURE"
	EventWSConnected        AgentEvent = "WS_CONNECTED"
	EventWSDisconnected     AgentEvent = "WS_DISCONNECTED"
	EventWSPermanentError   AgentEvent = "WS_PERMANENT_ERROR"
	EventLogout             AgentEvent = "LOGOUT"
	EventAttemptReconnect   AgentEvent = "ATTEMPT_RECONNECT"
)
