package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/store"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	return New(st)
}

const cacheTTL = 5 * time.Minute

func TestFresh_ExactlyAtTTLIsStale(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))

	assert.False(t, s.Fresh(now.Add(cacheTTL), cacheTTL))
}

func TestFresh_OneMillisecondUnderTTLIsFresh(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))

	assert.True(t, s.Fresh(now.Add(cacheTTL-time.Millisecond), cacheTTL))
}

func TestFresh_UnauthenticatedNeverFresh(t *testing.T) {
	s := newTestSession(t)
	assert.False(t, s.Fresh(time.Now(), cacheTTL))
}

// AppendPushes backs the direct stream-arrival path only: each newly
// arrived push is prepended, trimmed to maxRecentPushes.
func TestAppendPushes_TrimsToMaxAndPrepends(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))

	older := []model.Push{{Iden: "old1"}}
	require.NoError(t, s.AppendPushes(older, now))

	newer := []model.Push{{Iden: "new1"}}
	require.NoError(t, s.AppendPushes(newer, now))

	got := s.Get().RecentPushes
	require.Len(t, got, 2)
	assert.Equal(t, "new1", got[0].Iden)
	assert.Equal(t, "old1", got[1].Iden)
}

func TestAppendPushes_CapsAtMaxRecentPushes(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))

	for i := 0; i < maxRecentPushes+5; i++ {
		require.NoError(t, s.AppendPushes([]model.Push{{Iden: "p"}}, now))
	}

	assert.Len(t, s.Get().RecentPushes, maxRecentPushes)
}

// ReplaceDisplay is what Pipeline-2 call sites use: the new fetch result
// wholesale-replaces recentPushes, so a push the server stops returning
// (dismissed, expired) drops out instead of lingering, and an overlapping
// re-fetch of the same top-N pushes never duplicates entries.
func TestReplaceDisplay_DropsStalePushesNotInNewFetch(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))

	require.NoError(t, s.ReplaceDisplay([]model.Push{{Iden: "p1"}, {Iden: "p2"}}, now))
	require.NoError(t, s.ReplaceDisplay([]model.Push{{Iden: "p2"}, {Iden: "p3"}}, now))

	got := s.Get().RecentPushes
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].Iden)
	assert.Equal(t, "p3", got[1].Iden)
}

func TestReplaceDisplay_RepeatedOverlappingFetchDoesNotDuplicate(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))

	same := []model.Push{{Iden: "p1"}, {Iden: "p2"}}
	require.NoError(t, s.ReplaceDisplay(same, now))
	require.NoError(t, s.ReplaceDisplay(same, now))

	assert.Len(t, s.Get().RecentPushes, 2)
}

func TestClear_ResetsSnapshot(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, nil, nil, now))
	require.NoError(t, s.Clear())

	got := s.Get()
	assert.False(t, got.IsAuthenticated)
	assert.Empty(t, got.RecentPushes)
}

func TestGet_ReturnsDefensiveCopy(t *testing.T) {
	s := newTestSession(t)
	now := time.Now()
	require.NoError(t, s.SetIdentity(model.User{Iden: "u1"}, []model.Device{{Iden: "d1"}}, nil, now))

	got := s.Get()
	got.Devices[0].Iden = "mutated"

	again := s.Get()
	assert.Equal(t, "d1", again.Devices[0].Iden)
}
