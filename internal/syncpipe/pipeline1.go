// Package syncpipe implements C9: the two independent sync pipelines over
// the pushes endpoint. Pipeline-1 drives the cutoff watermark and
// auto-open; Pipeline-2 only ever replaces the display list. They share
// nothing but the HTTP Client (spec.md §4.3 "they never share state").
package syncpipe

import (
	"context"
	"log/slog"

	"github.com/bogorad/pb-agent-core/internal/agenterr"
	"github.com/bogorad/pb-agent-core/internal/bus"
	"github.com/bogorad/pb-agent-core/internal/crypto"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
	"github.com/bogorad/pb-agent-core/internal/store"
)

const pushesPageLimit = 100

// Pipeline1Result is the contract of refreshIncremental from spec.md §4.3.
type Pipeline1Result struct {
	Pushes    []model.Push
	IsSeedRun bool
}

// Pipeline1 is the incremental, cutoff-driven, auto-open-emitting sync.
type Pipeline1 struct {
	api   *httpclient.API
	st    store.Store
	dec   crypto.Decryptor
	bus   *bus.InProcessBus
	log   *slog.Logger
	iden  func() string // user iden, for the decrypt salt
	pass  func() string // configured encryption password
}

// NewPipeline1 builds a Pipeline1. iden and pass are read lazily since the
// user identity may not be known yet at construction time.
func NewPipeline1(api *httpclient.API, st store.Store, dec crypto.Decryptor, b *bus.InProcessBus, log *slog.Logger, iden func() string, pass func() string) *Pipeline1 {
	return &Pipeline1{api: api, st: st, dec: dec, bus: b, log: log, iden: iden, pass: pass}
}

// RefreshIncremental implements spec.md §4.3's Pipeline-1 algorithm exactly,
// including seed-run and invalid-cursor recovery.
func (p *Pipeline1) RefreshIncremental(ctx context.Context) (Pipeline1Result, error) {
	cutoff := p.st.Cutoff()

	if cutoff == 0 {
		return p.seedRun(ctx)
	}

	all, err := p.fetchAllSince(ctx, cutoff)
	if err != nil {
		if agenterr.Is(err, agenterr.KindInvalidCursor) {
			if recErr := p.recoverInvalidCursor(ctx); recErr != nil {
				return Pipeline1Result{}, recErr
			}
			return p.seedRun(ctx)
		}
		return Pipeline1Result{}, err
	}

	kept := make([]model.Push, 0, len(all))
	for _, push := range all {
		if push.Dismissed {
			continue
		}
		if !push.Renderable() {
			continue
		}
		kept = append(kept, push)
	}

	nextCutoff := cutoff
	for _, push := range all {
		if push.Modified > nextCutoff {
			nextCutoff = push.Modified
		}
	}
	if nextCutoff != cutoff {
		if err := p.st.SafeSetCutoff(nextCutoff); err != nil {
			p.log.Error("pipeline1: safe-set cutoff rejected", slog.Any("err", err))
			return Pipeline1Result{}, agenterr.Wrap(agenterr.KindInternal, "advance cutoff", err)
		}
	}

	decrypted := make([]model.Push, 0, len(kept))
	for _, push := range kept {
		pp := p.decryptOne(push)
		decrypted = append(decrypted, pp)
		p.bus.Emit(bus.TopicPipeline1Push, pp)
	}

	return Pipeline1Result{Pushes: decrypted, IsSeedRun: false}, nil
}

// seedRun implements spec.md §4.3 step 2: fetch only the newest push to
// learn the current high-water mark, advance the cutoff to it, and return
// without processing or auto-opening anything.
func (p *Pipeline1) seedRun(ctx context.Context) (Pipeline1Result, error) {
	page, err := p.api.Pushes(ctx, 0, "", 1)
	if err != nil {
		return Pipeline1Result{}, err
	}
	var newest float64
	if len(page.Pushes) > 0 {
		newest = page.Pushes[0].Modified
	}
	if newest > 0 {
		if err := p.st.SafeSetCutoff(newest); err != nil && err != store.ErrCutoffNotIncreasing {
			return Pipeline1Result{}, agenterr.Wrap(agenterr.KindInternal, "seed cutoff", err)
		}
	}
	return Pipeline1Result{Pushes: nil, IsSeedRun: true}, nil
}

// recoverInvalidCursor implements spec.md §4.3/§7: unsafe-reset the cutoff
// to 0 and drop the display list. It is the only path besides logout
// allowed to reset the watermark.
func (p *Pipeline1) recoverInvalidCursor(ctx context.Context) error {
	p.log.Warn("pipeline1: invalid cursor, recovering")
	if err := p.st.UnsafeSetCutoff(0); err != nil {
		return agenterr.Wrap(agenterr.KindInternal, "recover invalid cursor", err)
	}
	empty := model.SessionSnapshot{}
	if snap, ok := p.st.SessionCache(); ok {
		empty = snap
		empty.RecentPushes = nil
	}
	return p.st.SaveSessionCache(empty)
}

// fetchAllSince pages through /v2/pushes?modified_after=cutoff until the
// server stops returning a continuation cursor.
func (p *Pipeline1) fetchAllSince(ctx context.Context, cutoff float64) ([]model.Push, error) {
	var all []model.Push
	cursor := ""
	for {
		page, err := p.api.Pushes(ctx, cutoff, cursor, pushesPageLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Pushes...)
		if page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}
	return all, nil
}

// decryptOne layers a PlaintextView onto push when possible. Per spec.md
// §7 "DecryptFailure", a missing password or a failed decrypt never drops
// the push: the original envelope is retained and a diagnostic is emitted.
func (p *Pipeline1) decryptOne(push model.Push) model.Push {
	if !push.Encrypted {
		return push
	}
	password := p.pass()
	iden := p.iden()
	if password == "" || iden == "" {
		p.bus.Emit(bus.TopicDecryptDiagnostic, push.Iden)
		return push
	}
	key := p.dec.DeriveKey(password, iden)
	plaintext, err := p.dec.Decrypt(key, push.Ciphertext)
	if err != nil {
		p.log.Warn("pipeline1: decrypt failed", slog.String("push_iden", push.Iden), slog.Any("err", err))
		p.bus.Emit(bus.TopicDecryptDiagnostic, push.Iden)
		return push
	}
	if err := push.DecryptInto(plaintext); err != nil {
		p.log.Warn("pipeline1: decode decrypted payload", slog.String("push_iden", push.Iden), slog.Any("err", err))
		p.bus.Emit(bus.TopicDecryptDiagnostic, push.Iden)
		return push
	}
	return push
}
