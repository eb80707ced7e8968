// Package notify implements C6: local desktop notification delivery plus
// the bounded notification-id→push map spec.md §6 requires so a later
// dismissal push can find and retract the right on-screen notification.
// The bound is enforced with an LRU (github.com/hashicorp/golang-lru/v2), a
// library several repos in the retrieved corpus depend on for exactly this
// kind of capped lookaside cache.
package notify

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bogorad/pb-agent-core/internal/domain/model"
)

const maxTrackedNotifications = 200

// Notifier is the C6 port.
type Notifier interface {
	// Show renders a notification for a renderable push and returns the
	// (platform-local) notification id used to retract it later.
	Show(ctx context.Context, push model.PlaintextPush) (string, error)
	// Dismiss retracts a previously shown notification by push iden, a
	// no-op if the iden was never shown or already evicted.
	Dismiss(pushIden string)
}

// LogNotifier is the default Notifier adapter: slog-backed, since the
// agent's target environments are headless/server contexts where an actual
// desktop toast is provided by a higher-level integration this package
// exposes a clean seam for. It still owns the real LRU bookkeeping spec.md
// mandates.
type LogNotifier struct {
	log     *slog.Logger
	tracked *lru.Cache[string, model.PlaintextPush]
}

// New builds a LogNotifier.
func New(log *slog.Logger) *LogNotifier {
	cache, err := lru.New[string, model.PlaintextPush](maxTrackedNotifications)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// programmer error in the constant above, not a runtime condition.
		panic(err)
	}
	return &LogNotifier{log: log, tracked: cache}
}

func (n *LogNotifier) Show(ctx context.Context, push model.PlaintextPush) (string, error) {
	id := push.Iden
	n.tracked.Add(id, push)
	n.log.InfoContext(ctx, "notification shown",
		slog.String("push_iden", id),
		slog.String("type", string(push.Type)),
		slog.String("title", push.Title))
	return id, nil
}

func (n *LogNotifier) Dismiss(pushIden string) {
	if _, ok := n.tracked.Get(pushIden); !ok {
		return
	}
	n.tracked.Remove(pushIden)
	n.log.Info("notification dismissed", slog.String("push_iden", pushIden))
}

// Tracked reports whether pushIden currently has a live notification
// tracked, used by tests and by the dismissal frame handler.
func (n *LogNotifier) Tracked(pushIden string) bool {
	_, ok := n.tracked.Get(pushIden)
	return ok
}
