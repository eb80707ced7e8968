// Package model holds the data entities shared across the agent's
// components: the authenticated user, device roster, chat contacts, pushes,
// the in-memory session cache, and the agent lifecycle state.
package model

// Token is the opaque bearer credential the user obtains from Pushbullet.
// It is never logged, never included in error messages, and lives only in
// the local-only partition of the secrets store (see internal/store).
type Token string

// String satisfies fmt.Stringer without ever revealing the token value,
// so a stray %v in a log line cannot leak it.
func (t Token) String() string {
	if t == "" {
		return "<empty>"
	}
	return "<redacted>"
}

// Empty reports whether no token has been configured.
func (t Token) Empty() bool { return t == "" }
