package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bogorad/pb-agent-core/internal/agentfsm"
	"github.com/bogorad/pb-agent-core/internal/autoopen"
	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/cache"
	"github.com/bogorad/pb-agent-core/internal/channel"
	"github.com/bogorad/pb-agent-core/internal/config"
	"github.com/bogorad/pb-agent-core/internal/crypto"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
	"github.com/bogorad/pb-agent-core/internal/registration"
	"github.com/bogorad/pb-agent-core/internal/scheduler"
	"github.com/bogorad/pb-agent-core/internal/store"
	"github.com/bogorad/pb-agent-core/internal/syncpipe"
	"github.com/bogorad/pb-agent-core/internal/transport"
)

// countingClient answers every request with a well-formed empty body and
// counts calls to /users/me, so the single-flight test can assert exactly
// one cold bootstrap ran regardless of how many goroutines raced in.
type countingClient struct {
	meCalls atomic.Int32
	meDelay time.Duration
}

func (c *countingClient) Request(ctx context.Context, method, path string, query map[string]string, body any) (*httpclient.Response, error) {
	if path == "/users/me" {
		c.meCalls.Add(1)
		if c.meDelay > 0 {
			time.Sleep(c.meDelay)
		}
		data, _ := json.Marshal(struct {
			Iden string `json:"iden"`
		}{Iden: "user-1"})
		return &httpclient.Response{Status: 200, Body: data}, nil
	}
	if path == "/devices" {
		return &httpclient.Response{Status: 200, Body: []byte(`{"devices":[]}`)}, nil
	}
	if path == "/chats" {
		return &httpclient.Response{Status: 200, Body: []byte(`{"chats":[]}`)}, nil
	}
	if path == "/pushes" {
		return &httpclient.Response{Status: 200, Body: []byte(`{"pushes":[]}`)}, nil
	}
	return &httpclient.Response{Status: 200, Body: []byte(`{}`)}, nil
}

// fakeTransport is a no-op Transport: Open succeeds immediately without
// ever firing OnOpen, so the controller's open handler (WS_CONNECTED
// transition, reconnect hooks) never runs mid-test and Close is always safe
// to call.
type fakeTransport struct{ mu sync.Mutex }

func (f *fakeTransport) Open(ctx context.Context, url string) error   { return nil }
func (f *fakeTransport) OnOpen(fn func())                             {}
func (f *fakeTransport) OnMessage(fn func(data []byte))               {}
func (f *fakeTransport) OnError(fn func(err error))                   {}
func (f *fakeTransport) OnClose(fn func(transport.CloseInfo))         {}
func (f *fakeTransport) ReadyState() transport.ReadyState             { return transport.StateOpen }
func (f *fakeTransport) Close(code int, reason string) error          { return nil }

func newTestOrchestrator(t *testing.T, cc *countingClient) *Orchestrator {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(filepath.Join(t.TempDir(), "store.json"))
	require.NoError(t, err)
	require.NoError(t, st.SetToken(model.Token("test-token")))

	cfg, err := config.Load("", nil, log)
	require.NoError(t, err)

	b := bus.New(log)
	cch := cache.New(st)
	fsm := agentfsm.New(log, b)
	clock := scheduler.New()
	api := httpclient.NewAPI(cc)
	dec := crypto.New()

	ctrl := channel.New(func() transport.Transport { return &fakeTransport{} }, clock, fsm, b, log, channel.Callbacks{})
	reg := registration.New(api, st, log)
	p1 := syncpipe.NewPipeline1(api, st, dec, b, log, func() string { return "user-1" }, func() string { return "" })
	p2 := syncpipe.NewPipeline2(api, dec, func() string { return "user-1" }, func() string { return "" })
	auto := autoopen.New(func(url string) {}, func() bool { return false }, func() int { return 5 }, log)
	auto.Attach(b)

	return New(Deps{
		Store: st, Config: cfg, API: api, Cache: cch, FSM: fsm, Bus: b,
		Clock: clock, Channel: ctrl, Registration: reg, Pipeline1: p1, Pipeline2: p2,
		AutoOpen: auto, Log: log,
	})
}

func TestOrchestrateInitialization_SingleFlightOneColdBootstrap(t *testing.T) {
	cc := &countingClient{meDelay: 50 * time.Millisecond}
	o := newTestOrchestrator(t, cc)

	const n = 8
	var wg sync.WaitGroup
	tokens := make([]model.Token, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = o.OrchestrateInitialization(context.Background(), "test")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, model.Token("test-token"), tokens[i])
	}
	assert.Equal(t, int32(1), cc.meCalls.Load())
}

func TestOrchestrateInitialization_EmptyTokenIsNoop(t *testing.T) {
	cc := &countingClient{}
	o := newTestOrchestrator(t, cc)
	require.NoError(t, o.st.ClearToken())

	token, err := o.OrchestrateInitialization(context.Background(), "test")
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Equal(t, int32(0), cc.meCalls.Load())
}

func TestLogout_ClearsCutoffRecentPushesAndAuth(t *testing.T) {
	cc := &countingClient{}
	o := newTestOrchestrator(t, cc)

	require.NoError(t, o.st.SafeSetCutoff(123))
	require.NoError(t, o.cache.SetIdentity(model.User{Iden: "u1"}, nil, nil, time.Now()))
	require.NoError(t, o.cache.AppendPushes([]model.Push{{Iden: "p1"}}, time.Now()))

	require.NoError(t, o.Logout(context.Background()))

	assert.Equal(t, 0.0, o.st.Cutoff())
	snap := o.cache.Get()
	assert.False(t, snap.IsAuthenticated)
	assert.Empty(t, snap.RecentPushes)
	assert.Equal(t, model.StateIdle, o.fsm.Current())
}
