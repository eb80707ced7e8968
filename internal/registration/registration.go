// Package registration implements the device-registration logic of
// spec.md §4.6: guarded against concurrent duplicate registration across
// wakes, with drop-and-recreate on rejection and non-fatal treatment of
// 4xx errors other than 401 (those surface as KindUnauthenticated further
// up and are not this package's concern).
package registration

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/bogorad/pb-agent-core/internal/agenterr"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
	"github.com/bogorad/pb-agent-core/internal/store"
)

// Registrar owns device identity registration and renaming.
type Registrar struct {
	api *httpclient.API
	st  store.Store
	log *slog.Logger

	inProgress atomic.Bool
}

// New builds a Registrar.
func New(api *httpclient.API, st store.Store, log *slog.Logger) *Registrar {
	return &Registrar{api: api, st: st, log: log}
}

// EnsureDevice registers a device if none is known, or attempts a nickname
// update if one is. Registration failures are logged and swallowed
// (KindRegistrationFailure is non-fatal for bootstrap, spec.md §7); the
// caller's bootstrap continues regardless.
func (r *Registrar) EnsureDevice(ctx context.Context, nickname string) {
	if !r.inProgress.CompareAndSwap(false, true) {
		r.log.Debug("registration: already in progress, skipping")
		return
	}
	defer r.inProgress.Store(false)

	iden := r.st.DeviceIden()
	if iden == "" {
		r.register(ctx, nickname)
		return
	}
	r.updateNickname(ctx, iden, nickname)
}

func (r *Registrar) register(ctx context.Context, nickname string) {
	device, err := r.api.RegisterDevice(ctx, nickname)
	if err != nil {
		r.log.Warn("registration: create device failed", slog.Any("err", err))
		return
	}
	if err := r.st.SetDeviceIden(device.Iden); err != nil {
		r.log.Error("registration: persist device iden failed", slog.Any("err", err))
	}
}

func (r *Registrar) updateNickname(ctx context.Context, iden, nickname string) {
	err := r.api.UpdateDeviceNickname(ctx, iden, nickname)
	if err == nil {
		return
	}
	if agenterr.Is(err, agenterr.KindUnauthenticated) {
		// Let the caller's 401 handling drive logout; not this package's
		// concern.
		return
	}
	if agenterr.Is(err, agenterr.KindTransient) {
		r.log.Warn("registration: nickname update failed transiently, will retry on next refresh", slog.Any("err", err))
		return
	}
	r.log.Warn("registration: nickname update rejected, dropping and recreating", slog.String("device_iden", iden), slog.Any("err", err))
	if delErr := r.api.DeleteDevice(ctx, iden); delErr != nil {
		r.log.Warn("registration: delete stale device failed", slog.Any("err", delErr))
	}
	if clearErr := r.st.SetDeviceIden(""); clearErr != nil {
		r.log.Error("registration: clear device iden failed", slog.Any("err", clearErr))
		return
	}
	r.register(ctx, nickname)
}
