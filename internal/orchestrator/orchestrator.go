// Package orchestrator implements C12: cache-first hydration behind a
// single-flight initialization promise (spec.md §4.6). Every external
// trigger — startup, an install/update, a wake alarm, a UI request, a
// manual force-wake — funnels through OrchestrateInitialization.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bogorad/pb-agent-core/internal/agentfsm"
	"github.com/bogorad/pb-agent-core/internal/autoopen"
	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/cache"
	"github.com/bogorad/pb-agent-core/internal/channel"
	"github.com/bogorad/pb-agent-core/internal/config"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
	"github.com/bogorad/pb-agent-core/internal/registration"
	"github.com/bogorad/pb-agent-core/internal/scheduler"
	"github.com/bogorad/pb-agent-core/internal/store"
	"github.com/bogorad/pb-agent-core/internal/syncpipe"
)

const longSleepThreshold = 1 * time.Hour

// future is the single-flight handle: one unresolved initialization, N
// waiters, resolved exactly once.
type future struct {
	done  chan struct{}
	token model.Token
	err   error
}

// Orchestrator is the C12 port implementation.
type Orchestrator struct {
	st     store.Store
	cfg    *config.Holder
	api    *httpclient.API
	cache  *cache.Session
	fsm    *agentfsm.Machine
	bus    *bus.InProcessBus
	clock  scheduler.Clock
	stream  *channel.Controller
	reg    *registration.Registrar
	p1     *syncpipe.Pipeline1
	p2     *syncpipe.Pipeline2
	auto   *autoopen.Subscriber
	log    *slog.Logger

	mu      sync.Mutex
	current *future
}

// Deps bundles the Orchestrator's collaborators; all are already-wired
// components from the other C-packages.
type Deps struct {
	Store        store.Store
	Config       *config.Holder
	API          *httpclient.API
	Cache        *cache.Session
	FSM          *agentfsm.Machine
	Bus          *bus.InProcessBus
	Clock        scheduler.Clock
	Channel      *channel.Controller
	Registration *registration.Registrar
	Pipeline1    *syncpipe.Pipeline1
	Pipeline2    *syncpipe.Pipeline2
	AutoOpen     *autoopen.Subscriber
	Log          *slog.Logger
}

// New builds an Orchestrator from Deps.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		st: d.Store, cfg: d.Config, api: d.API, cache: d.Cache, fsm: d.FSM, bus: d.Bus,
		clock: d.Clock, stream: d.Channel, reg: d.Registration, p1: d.Pipeline1, p2: d.Pipeline2,
		auto: d.AutoOpen, log: d.Log,
	}
}

// OrchestrateInitialization is the spec.md §4.6 entry point. source is a
// diagnostic label (startup, wake, ui, force-wake); it is not branched on.
func (o *Orchestrator) OrchestrateInitialization(ctx context.Context, source string) (model.Token, error) {
	o.mu.Lock()
	if o.current != nil {
		f := o.current
		o.mu.Unlock()
		<-f.done
		return f.token, f.err
	}
	f := &future{done: make(chan struct{})}
	o.current = f
	o.mu.Unlock()

	token, err := o.runInit(ctx, source)

	f.token, f.err = token, err
	close(f.done)

	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()

	return token, err
}

func (o *Orchestrator) runInit(ctx context.Context, source string) (model.Token, error) {
	token := o.st.Token()
	if token.Empty() {
		return "", nil
	}

	now := o.clock.Now()
	snap := o.cache.Get()
	if snap.Fresh(now, o.cfg.Get().CacheTTL) && now.Sub(snap.CachedAt) <= longSleepThreshold {
		o.log.Info("orchestrator: cache-first hydration", slog.String("source", source))
		go o.refreshInBackground(context.WithoutCancel(ctx), token)
		return token, nil
	}

	if !snap.CachedAt.IsZero() && now.Sub(snap.CachedAt) > longSleepThreshold {
		o.log.Warn("orchestrator: long downtime detected, forcing full re-init", slog.Duration("downtime", now.Sub(snap.CachedAt)))
	}

	if err := o.coldBootstrap(ctx, token); err != nil {
		o.fsm.Transition(model.EventInitFailure, err)
		return "", err
	}
	o.fsm.Transition(model.EventInitSuccess, token)
	return token, nil
}

// coldBootstrap implements spec.md §4.6 step 5.
func (o *Orchestrator) coldBootstrap(ctx context.Context, token model.Token) error {
	g, gctx := errgroup.WithContext(ctx)

	var user model.User
	var devices []model.Device
	var chats []model.ChatContact

	g.Go(func() error {
		u, err := o.api.Me(gctx)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	g.Go(func() error {
		d, err := o.api.Devices(gctx)
		if err != nil {
			return err
		}
		devices = model.FilterActive(d)
		return nil
	})
	g.Go(func() error {
		c, err := o.api.Chats(gctx)
		if err != nil {
			return err
		}
		chats = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	now := o.clock.Now()
	if err := o.cache.SetIdentity(user, devices, chats, now); err != nil {
		return err
	}

	// Seed run: Pipeline-1's first invocation only advances the cutoff, it
	// never emits auto-open candidates (spec.md §4.3).
	o.auto.SuppressNext(true)
	if _, err := o.p1.RefreshIncremental(ctx); err != nil {
		return err
	}
	o.auto.SuppressNext(false)

	displayPushes, err := o.p2.FetchDisplay(ctx, 0)
	if err != nil {
		return err
	}
	if err := o.cache.ReplaceDisplay(displayPushes, now); err != nil {
		return err
	}

	o.reg.EnsureDevice(ctx, o.cfg.Get().DeviceNickname)

	if err := o.stream.Connect(ctx, string(token)); err != nil {
		// A connect failure is transient by construction; the channel
		// controller's own close-code path will pick up the reconnect
		// alarm once the transport reports its close. Bootstrap itself is
		// not considered failed by a connect error alone.
		o.log.Warn("orchestrator: initial channel connect failed, relying on reconnect path", slog.Any("err", err))
	}

	o.stream.StartHeartbeatWatchdog()
	o.clock.SchedulePeriodic(scheduler.AlarmLongSleepRecovery, 5*time.Minute, o.longSleepRecoveryTick)

	if err := o.st.SaveSessionCache(withCachedAt(o.cache.Get(), o.clock.Now())); err != nil {
		return err
	}
	o.bus.Emit(bus.TopicSessionUpdated, o.cache.Get())
	return nil
}

func withCachedAt(snap model.SessionSnapshot, now time.Time) model.SessionSnapshot {
	snap.CachedAt = now
	return snap
}

// refreshInBackground implements spec.md §4.6 step 4's detached task: a
// light Pipeline-2 re-fetch plus a Pipeline-1 run, broadcasting
// session:updated on completion.
func (o *Orchestrator) refreshInBackground(ctx context.Context, token model.Token) {
	if _, err := o.p1.RefreshIncremental(ctx); err != nil {
		o.log.Warn("orchestrator: background pipeline1 refresh failed", slog.Any("err", err))
	}
	pushes, err := o.p2.FetchDisplay(ctx, 0)
	if err != nil {
		o.log.Warn("orchestrator: background pipeline2 refresh failed", slog.Any("err", err))
		return
	}
	if err := o.cache.ReplaceDisplay(pushes, o.clock.Now()); err != nil {
		o.log.Warn("orchestrator: background cache write failed", slog.Any("err", err))
		return
	}
	o.bus.Emit(bus.TopicSessionUpdated, o.cache.Get())
}

// longSleepRecoveryTick implements spec.md §4.4's long-sleep recovery
// periodic: if the agent is IDLE or ERROR and a token exists, attempt
// API_KEY_SET.
func (o *Orchestrator) longSleepRecoveryTick() {
	state := o.fsm.Current()
	if state != model.StateIdle && state != model.StateError {
		return
	}
	if o.st.Token().Empty() {
		return
	}
	o.fsm.Transition(model.EventAPIKeySet, nil)
}

// Logout implements the LOGOUT transition's cleanup contract (spec.md §4.5
// and the testable property in §8: cutoff==0, recentPushes==[],
// isAuthenticated==false, no stream open).
func (o *Orchestrator) Logout(ctx context.Context) error {
	if err := o.stream.Close(); err != nil {
		o.log.Warn("orchestrator: close channel on logout failed", slog.Any("err", err))
	}
	o.clock.Cancel(scheduler.AlarmWebsocketReconnect)
	o.clock.Cancel(scheduler.AlarmPollingFallback)
	o.clock.Cancel(scheduler.AlarmWebsocketHealth)
	o.clock.Cancel(scheduler.AlarmLongSleepRecovery)

	if err := o.cache.Clear(); err != nil {
		return err
	}
	if err := o.st.Reset(); err != nil {
		return err
	}
	o.fsm.Transition(model.EventLogout, nil)
	return nil
}
