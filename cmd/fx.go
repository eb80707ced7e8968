package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"go.uber.org/fx"

	"github.com/bogorad/pb-agent-core/internal/agentfsm"
	"github.com/bogorad/pb-agent-core/internal/autoopen"
	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/cache"
	"github.com/bogorad/pb-agent-core/internal/channel"
	"github.com/bogorad/pb-agent-core/internal/config"
	"github.com/bogorad/pb-agent-core/internal/crypto"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
	"github.com/bogorad/pb-agent-core/internal/notify"
	"github.com/bogorad/pb-agent-core/internal/orchestrator"
	"github.com/bogorad/pb-agent-core/internal/registration"
	"github.com/bogorad/pb-agent-core/internal/scheduler"
	"github.com/bogorad/pb-agent-core/internal/store"
	"github.com/bogorad/pb-agent-core/internal/syncpipe"
	"github.com/bogorad/pb-agent-core/internal/transport"
)

// RunConfig is the subset of CLI flags needed to wire the fx graph.
type RunConfig struct {
	StateDir   string
	ConfigFile string
}

func provideLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

func provideStore(rc RunConfig) (store.Store, error) {
	return store.Open(filepath.Join(rc.StateDir, "agent.json"))
}

func provideConfigHolder(rc RunConfig, log *slog.Logger) (*config.Holder, error) {
	return config.Load(rc.ConfigFile, nil, log)
}

func provideBus(log *slog.Logger) *bus.InProcessBus {
	return bus.New(log)
}

func provideCache(st store.Store) *cache.Session {
	return cache.New(st)
}

func provideFSM(log *slog.Logger, b *bus.InProcessBus) *agentfsm.Machine {
	return agentfsm.New(log, b)
}

func provideClock() scheduler.Clock {
	return scheduler.New()
}

func provideHTTPClient(st store.Store, log *slog.Logger) *httpclient.HTTPClient {
	return httpclient.New(func() model.Token { return st.Token() }, log)
}

func provideAPI(hc *httpclient.HTTPClient) *httpclient.API {
	return httpclient.NewAPI(hc)
}

func provideDecryptor() crypto.Decryptor {
	return crypto.New()
}

func provideNotifier(log *slog.Logger) *notify.LogNotifier {
	return notify.New(log)
}

func providePipeline1(api *httpclient.API, st store.Store, dec crypto.Decryptor, b *bus.InProcessBus, cch *cache.Session, log *slog.Logger) *syncpipe.Pipeline1 {
	iden := func() string { return cch.Get().User.Iden }
	pass := func() string { return st.EncryptionPassword() }
	return syncpipe.NewPipeline1(api, st, dec, b, log, iden, pass)
}

func providePipeline2(api *httpclient.API, dec crypto.Decryptor, st store.Store, cch *cache.Session) *syncpipe.Pipeline2 {
	iden := func() string { return cch.Get().User.Iden }
	pass := func() string { return st.EncryptionPassword() }
	return syncpipe.NewPipeline2(api, dec, iden, pass)
}

func provideRegistrar(api *httpclient.API, st store.Store, log *slog.Logger) *registration.Registrar {
	return registration.New(api, st, log)
}

func provideAutoOpen(cfg *config.Holder, log *slog.Logger) *autoopen.Subscriber {
	open := func(url string) {
		log.Info("autoopen: would open link", slog.String("url", url))
	}
	autoOpen := func() bool { return cfg.Get().AutoOpenLinks }
	maxPerCycle := func() int { return cfg.Get().MaxAutoOpenPerReconnect }
	return autoopen.New(open, autoOpen, maxPerCycle, log)
}

func provideChannel(clock scheduler.Clock, fsm *agentfsm.Machine, b *bus.InProcessBus, log *slog.Logger, cch *cache.Session, notifier *notify.LogNotifier, p1 *syncpipe.Pipeline1, p2 *syncpipe.Pipeline2, auto *autoopen.Subscriber, dec crypto.Decryptor, st store.Store, cfg *config.Holder) *channel.Controller {
	newTransport := func() transport.Transport { return transport.New() }

	cb := channel.Callbacks{
		OnPipeline1Rerun: func(ctx context.Context) {
			if _, err := p1.RefreshIncremental(ctx); err != nil {
				log.Warn("channel: pipeline1 rerun failed", slog.Any("err", err))
			}
		},
		OnPipeline2Rerun: func(ctx context.Context) {
			pushes, err := p2.FetchDisplay(ctx, 0)
			if err != nil {
				log.Warn("channel: pipeline2 rerun failed", slog.Any("err", err))
				return
			}
			if err := cch.ReplaceDisplay(pushes, clock.Now()); err != nil {
				log.Warn("channel: cache replace failed", slog.Any("err", err))
			}
			b.Emit(bus.TopicSessionUpdated, cch.Get())
		},
		OnDevicesTickle: func(ctx context.Context) {
			log.Debug("channel: devices tickle received")
			b.Emit(bus.TopicDevicesUpdated, nil)
		},
		OnPushArrived: func(ctx context.Context, push model.Push) {
			if push.Type == model.PushTypeDismissal {
				notifier.Dismiss(push.Iden)
				return
			}
			push = decryptArrived(push, dec, st.EncryptionPassword(), cch.Get().User.Iden, b)
			if _, err := notifier.Show(ctx, pushToPlaintext(push)); err != nil {
				log.Warn("channel: notify failed", slog.Any("err", err))
			}
			if err := cch.AppendPushes([]model.Push{push}, clock.Now()); err != nil {
				log.Warn("channel: cache append failed", slog.Any("err", err))
			}
			b.Emit(bus.TopicSessionUpdated, cch.Get())
		},
	}

	ctrl := channel.New(newTransport, clock, fsm, b, log, cb)
	ctrl.OnReconnect(auto.ResetCycle)
	ctrl.OnReconnect(func() {
		suppress := !cfg.Get().AutoOpenLinksOnReconnect
		if suppress {
			auto.SuppressNext(true)
		}
		go func() {
			if _, err := p1.RefreshIncremental(context.Background()); err != nil {
				log.Warn("channel: post-reconnect pipeline1 refresh failed", slog.Any("err", err))
			}
			if suppress {
				auto.SuppressNext(false)
			}
		}()
	})
	return ctrl
}

func pushToPlaintext(push model.Push) model.PlaintextPush {
	pushType, title, body, url, encrypted := push.Display()
	return model.PlaintextPush{Iden: push.Iden, Type: pushType, Title: title, Body: body, URL: url, Encrypted: encrypted}
}

// decryptArrived handles a direct "push" stream frame per spec.md §4.4: a
// successful decrypt layers a PlaintextView; a missing password or failed
// decrypt keeps the original envelope and emits a diagnostic instead of
// dropping the push.
func decryptArrived(push model.Push, dec crypto.Decryptor, password, userIden string, b *bus.InProcessBus) model.Push {
	if !push.Encrypted {
		return push
	}
	if password == "" || userIden == "" {
		b.Emit(bus.TopicDecryptDiagnostic, push.Iden)
		return push
	}
	key := dec.DeriveKey(password, userIden)
	plaintext, err := dec.Decrypt(key, push.Ciphertext)
	if err != nil {
		b.Emit(bus.TopicDecryptDiagnostic, push.Iden)
		return push
	}
	_ = push.DecryptInto(plaintext)
	return push
}

func provideOrchestrator(st store.Store, cfg *config.Holder, api *httpclient.API, cch *cache.Session, fsm *agentfsm.Machine, b *bus.InProcessBus, clock scheduler.Clock, ch *channel.Controller, reg *registration.Registrar, p1 *syncpipe.Pipeline1, p2 *syncpipe.Pipeline2, auto *autoopen.Subscriber, log *slog.Logger) *orchestrator.Orchestrator {
	return orchestrator.New(orchestrator.Deps{
		Store: st, Config: cfg, API: api, Cache: cch, FSM: fsm, Bus: b, Clock: clock,
		Channel: ch, Registration: reg, Pipeline1: p1, Pipeline2: p2, AutoOpen: auto, Log: log,
	})
}

func wireFSMEffects(fsm *agentfsm.Machine, orch *orchestrator.Orchestrator, notifier *notify.LogNotifier, ch *channel.Controller, log *slog.Logger) {
	ctx := context.Background()
	fsm.RegisterEffect("orchestrateInit", func(data any) {
		if _, err := orch.OrchestrateInitialization(ctx, "fsm-effect"); err != nil {
			log.Error("fsm: orchestrateInit side effect failed", slog.Any("err", err))
		}
	})
	fsm.RegisterEffect("connectChannel", func(data any) {
		log.Info("fsm: channel connected, agent ready")
	})
	fsm.RegisterEffect("showErrorNotification", func(data any) {
		log.Error("fsm: entering ERROR state", slog.Any("data", data))
	})
	fsm.RegisterEffect("startPolling", func(data any) {
		log.Warn("fsm: entering DEGRADED state")
	})
	fsm.RegisterEffect("stopPolling", func(data any) {
		log.Info("fsm: recovered to READY state")
	})
	fsm.RegisterEffect("logoutCleanup", func(data any) {
		if err := orch.Logout(ctx); err != nil {
			log.Error("fsm: logout cleanup failed", slog.Any("err", err))
		}
	})
}

// Module bundles every provider for the agent's fx graph. cmd.go supplies
// RunConfig and invokes the startup sequence.
var Module = fx.Options(
	fx.Provide(
		provideLogger,
		provideStore,
		provideConfigHolder,
		provideBus,
		provideCache,
		provideFSM,
		provideClock,
		provideHTTPClient,
		provideAPI,
		provideDecryptor,
		provideNotifier,
		providePipeline1,
		providePipeline2,
		provideRegistrar,
		provideAutoOpen,
		provideChannel,
		provideOrchestrator,
	),
	fx.Invoke(func(b *bus.InProcessBus, auto *autoopen.Subscriber) {
		auto.Attach(b)
	}),
	fx.Invoke(wireFSMEffects),
)

// NewApp builds the fx.App for the long-running agent process.
func NewApp(rc RunConfig) *fx.App {
	return fx.New(
		fx.Supply(rc),
		fx.NopLogger,
		Module,
		fx.Invoke(func(fsm *agentfsm.Machine, st store.Store, log *slog.Logger) {
			if st.Token().Empty() {
				log.Info("startup: no token present, staying IDLE")
				return
			}
			fsm.Transition(model.EventStartup, nil)
		}),
	)
}

func ensureStateDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("cmd: empty state directory")
	}
	return os.MkdirAll(dir, 0o700)
}
