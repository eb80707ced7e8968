// Package cache implements C8: the in-memory authoritative session view.
// It is the single place the rest of the agent reads user/devices/chats/
// recent-pushes from; every mutation is funneled through here so
// concurrent readers never observe a torn snapshot (spec.md §3 invariant 4).
package cache

import (
	"sync"
	"time"

	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/store"
)

// maxRecentPushes bounds recentPushes to the same default (50) Pipeline-2
// fetches per cycle (spec.md §3 invariant 2, §4.3).
const maxRecentPushes = 50

// Session is the C8 port: a mutation-serialized view over
// model.SessionSnapshot backed by the local store for persistence.
type Session struct {
	mu    sync.RWMutex
	snap  model.SessionSnapshot
	store store.Store
}

// New loads the session cache from the store's last persisted snapshot, if
// any.
func New(st store.Store) *Session {
	s := &Session{store: st}
	if snap, ok := st.SessionCache(); ok {
		s.snap = snap
	}
	return s
}

// Get returns a defensive copy of the current snapshot.
func (s *Session) Get() model.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Fresh reports whether the cache is fresh per spec.md §4.1 (authenticated,
// non-zero cachedAt, within ttl).
func (s *Session) Fresh(now time.Time, ttl time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Fresh(now, ttl)
}

// SetIdentity replaces the user/devices/chats block after a cold bootstrap
// and persists it.
func (s *Session) SetIdentity(user model.User, devices []model.Device, chats []model.ChatContact, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.User = user
	s.snap.Devices = devices
	s.snap.Chats = chats
	s.snap.IsAuthenticated = true
	s.snap.LastUpdated = now
	s.snap.CachedAt = now
	return s.persistLocked()
}

// AppendPushes prepends a directly-arrived push (or pushes) to the recent
// list, trimmed to maxRecentPushes, and persists the result. This is for the
// stream's direct "push" frame arrival path only (spec.md §4.4); Pipeline-2
// call sites must use ReplaceDisplay instead.
func (s *Session) AppendPushes(pushes []model.Push, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := make([]model.Push, 0, len(pushes)+len(s.snap.RecentPushes))
	merged = append(merged, pushes...)
	merged = append(merged, s.snap.RecentPushes...)
	if len(merged) > maxRecentPushes {
		merged = merged[:maxRecentPushes]
	}
	s.snap.RecentPushes = merged
	s.snap.LastUpdated = now
	return s.persistLocked()
}

// ReplaceDisplay replaces recentPushes wholesale with the result of a
// Pipeline-2 fetch (spec.md §4.3: "Result replaces recentPushes wholesale"),
// so pushes the server no longer returns (dismissed, expired) drop out and
// no duplicate prepending occurs across overlapping fetches.
func (s *Session) ReplaceDisplay(pushes []model.Push, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.RecentPushes = pushes
	s.snap.LastUpdated = now
	return s.persistLocked()
}

// SetDevices replaces the device list (devices:updated bus events) without
// disturbing the rest of the snapshot.
func (s *Session) SetDevices(devices []model.Device, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Devices = devices
	s.snap.LastUpdated = now
	return s.persistLocked()
}

// SetPreferences mirrors the agent's current preferences into the snapshot
// so a status query can report them without a second round trip.
func (s *Session) SetPreferences(autoOpen bool, nickname string, cutoff float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.AutoOpenLinks = autoOpen
	s.snap.DeviceNickname = nickname
	s.snap.LastModifiedCutoff = cutoff
	return s.persistLocked()
}

// Clear resets the snapshot to zero value (explicit logout).
func (s *Session) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = model.SessionSnapshot{}
	return s.persistLocked()
}

func (s *Session) persistLocked() error {
	return s.store.SaveSessionCache(s.snap)
}
