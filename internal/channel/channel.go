// Package channel implements C10: the real-time channel controller. It owns
// the single Transport instance (spec.md §3 invariant 5: at most one
// real-time channel open per process), classifies frames and close codes,
// runs the heartbeat watchdog, and falls back to polling during sustained
// outages.
package channel

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bogorad/pb-agent-core/internal/agentfsm"
	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/scheduler"
	"github.com/bogorad/pb-agent-core/internal/transport"
)

const (
	streamBaseURL          = "wss://stream.pushbullet.com/websocket/"
	reconnectDelay         = 30 * time.Second
	healthCheckPeriod      = 1 * time.Minute
	pollingPeriod          = 60 * time.Second
	pollingThreshold       = 3
	heartbeatStaleThreshold = 15 * time.Second
)

type frame struct {
	Type    string      `json:"type"`
	Subtype string      `json:"subtype,omitempty"`
	Push    *model.Push `json:"push,omitempty"`
}

// Callbacks are the high-level, already-classified events the controller
// hands to the rest of the agent. They are injected rather than hardcoded
// so the controller has no direct reference to the pipelines, cache, or
// notifier (spec.md §9 "event bus instead of cyclic references").
type Callbacks struct {
	OnPipeline1Rerun func(ctx context.Context)
	OnPipeline2Rerun func(ctx context.Context)
	OnDevicesTickle  func(ctx context.Context)
	OnPushArrived    func(ctx context.Context, push model.Push)
}

// Controller is the C10 port implementation.
type Controller struct {
	newTransport func() transport.Transport
	clock        scheduler.Clock
	fsm          *agentfsm.Machine
	bus          *bus.InProcessBus
	log          *slog.Logger
	cb           Callbacks

	mu            sync.Mutex
	tr            transport.Transport
	polling       atomic.Bool
	consecutiveFailures atomic.Int32
	lastFrameAt   atomic.Int64 // unix nano

	onReconnect []func()
}

// New builds a Controller. newTransport is a factory so reconnects always
// get a fresh Transport instance rather than reusing a closed one.
func New(newTransport func() transport.Transport, clock scheduler.Clock, fsm *agentfsm.Machine, b *bus.InProcessBus, log *slog.Logger, cb Callbacks) *Controller {
	return &Controller{newTransport: newTransport, clock: clock, fsm: fsm, bus: b, log: log, cb: cb}
}

// OnReconnect registers fn to run every time the transport reaches OPEN,
// including the very first connect. The auto-open subscriber uses this to
// reset its per-cycle counter (spec.md §9's per-reconnect cap).
func (c *Controller) OnReconnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

// Connect opens the stream for the given token, closing any prior instance
// first per invariant 5.
func (c *Controller) Connect(ctx context.Context, token string) error {
	c.mu.Lock()
	prior := c.tr
	c.mu.Unlock()
	if prior != nil {
		_ = prior.Close(1000, "reconnecting")
	}

	tr := c.newTransport()
	tr.OnOpen(c.handleOpen)
	tr.OnMessage(c.handleMessage(ctx))
	tr.OnClose(c.handleClose(ctx))
	tr.OnError(func(err error) { c.log.Warn("channel: transport error", slog.Any("err", err)) })

	c.mu.Lock()
	c.tr = tr
	c.mu.Unlock()

	return tr.Open(ctx, streamBaseURL+token)
}

func (c *Controller) handleOpen() {
	c.consecutiveFailures.Store(0)
	c.clock.Cancel(scheduler.AlarmWebsocketReconnect)
	c.stopPolling()
	c.lastFrameAt.Store(c.clock.Now().UnixNano())
	c.fsm.Transition(model.EventWSConnected, nil)

	c.mu.Lock()
	hooks := append([]func(){}, c.onReconnect...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (c *Controller) handleMessage(ctx context.Context) func([]byte) {
	return func(data []byte) {
		c.lastFrameAt.Store(c.clock.Now().UnixNano())

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("channel: malformed frame", slog.Any("err", err))
			return
		}

		switch f.Type {
		case "nop":
			c.log.Debug("channel: nop")
		case "tickle":
			switch f.Subtype {
			case "push":
				if c.cb.OnPipeline1Rerun != nil {
					c.cb.OnPipeline1Rerun(ctx)
				}
				if c.cb.OnPipeline2Rerun != nil {
					c.cb.OnPipeline2Rerun(ctx)
				}
			case "device":
				if c.cb.OnDevicesTickle != nil {
					c.cb.OnDevicesTickle(ctx)
				}
			default:
				c.log.Warn("channel: unknown tickle subtype", slog.String("subtype", f.Subtype))
			}
		case "push":
			if f.Push != nil && c.cb.OnPushArrived != nil {
				c.cb.OnPushArrived(ctx, *f.Push)
			}
		default:
			c.log.Warn("channel: unknown frame type", slog.String("type", f.Type))
		}
	}
}

// permanentCloseCode reports whether code is one of spec.md §4.4's
// permanent classifications: 1008, 4001, or any code in [4000,5000).
func permanentCloseCode(code int) bool {
	if code == 1008 || code == 4001 {
		return true
	}
	return code >= 4000 && code < 5000
}

func (c *Controller) handleClose(ctx context.Context) func(transport.CloseInfo) {
	return func(info transport.CloseInfo) {
		if permanentCloseCode(info.Code) {
			c.log.Error("channel: permanent close", slog.Int("code", info.Code), slog.String("reason", info.Reason))
			c.clock.Cancel(scheduler.AlarmWebsocketReconnect)
			c.fsm.Transition(model.EventWSPermanentError, nil)
			return
		}

		n := c.consecutiveFailures.Add(1)
		c.log.Warn("channel: transient close", slog.Int("code", info.Code), slog.Int("consecutive_failures", int(n)))

		if n >= pollingThreshold {
			c.startPolling(ctx)
		}

		// Coalescing one-shot alarm: scheduling again under the same name
		// cancels any pending reconnect first (scheduler.Clock contract).
		c.clock.Schedule(scheduler.AlarmWebsocketReconnect, reconnectDelay, func() {
			c.fsm.Transition(model.EventAttemptReconnect, nil)
		})
		c.fsm.Transition(model.EventWSDisconnected, nil)
	}
}

func (c *Controller) startPolling(ctx context.Context) {
	if !c.polling.CompareAndSwap(false, true) {
		return
	}
	c.log.Info("channel: entering polling mode")
	c.clock.SchedulePeriodic(scheduler.AlarmPollingFallback, pollingPeriod, func() {
		if c.cb.OnPipeline2Rerun != nil {
			c.cb.OnPipeline2Rerun(ctx)
		}
	})
}

func (c *Controller) stopPolling() {
	if !c.polling.CompareAndSwap(true, false) {
		return
	}
	c.log.Info("channel: leaving polling mode")
	c.clock.Cancel(scheduler.AlarmPollingFallback)
}

// IsPolling reports whether the controller is currently in polling mode.
func (c *Controller) IsPolling() bool { return c.polling.Load() }

// StartHeartbeatWatchdog registers the periodic monitor from spec.md §4.4:
// it observes staleness but never itself forces a reconnect.
func (c *Controller) StartHeartbeatWatchdog() {
	c.clock.SchedulePeriodic(scheduler.AlarmWebsocketHealth, healthCheckPeriod, func() {
		last := c.lastFrameAt.Load()
		if last == 0 {
			return
		}
		silence := c.clock.Now().Sub(time.Unix(0, last))
		if silence > heartbeatStaleThreshold {
			c.log.Warn("channel: heartbeat stale", slog.Duration("silence", silence))
		}
	})
}

// Close closes the active transport, if any.
func (c *Controller) Close() error {
	c.mu.Lock()
	tr := c.tr
	c.tr = nil
	c.mu.Unlock()
	if tr == nil {
		return nil
	}
	return tr.Close(1000, "shutdown")
}
