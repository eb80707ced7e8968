package syncpipe

import (
	"context"

	"github.com/bogorad/pb-agent-core/internal/crypto"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
)

const defaultDisplayLimit = 50

// Pipeline2 is the display-history sync: a fixed-size fetch that replaces
// recentPushes wholesale and MUST NOT read or write the cutoff (spec.md
// §4.3 "Pipeline-2 — Display history").
type Pipeline2 struct {
	api  *httpclient.API
	dec  crypto.Decryptor
	iden func() string
	pass func() string
}

// NewPipeline2 builds a Pipeline2.
func NewPipeline2(api *httpclient.API, dec crypto.Decryptor, iden func() string, pass func() string) *Pipeline2 {
	return &Pipeline2{api: api, dec: dec, iden: iden, pass: pass}
}

// FetchDisplay fetches the most recent n pushes (0 selects the default of
// 50) and filters them to renderable, non-dismissed entries, decrypting
// opportunistically. It never touches the cutoff watermark.
func (p *Pipeline2) FetchDisplay(ctx context.Context, n int) ([]model.Push, error) {
	if n <= 0 {
		n = defaultDisplayLimit
	}
	page, err := p.api.Pushes(ctx, 0, "", n)
	if err != nil {
		return nil, err
	}

	out := make([]model.Push, 0, len(page.Pushes))
	for _, push := range page.Pushes {
		if push.Dismissed || !push.Renderable() {
			continue
		}
		out = append(out, p.decryptOne(push))
	}
	return out, nil
}

func (p *Pipeline2) decryptOne(push model.Push) model.Push {
	if !push.Encrypted {
		return push
	}
	password := p.pass()
	iden := p.iden()
	if password == "" || iden == "" {
		return push
	}
	key := p.dec.DeriveKey(password, iden)
	plaintext, err := p.dec.Decrypt(key, push.Ciphertext)
	if err != nil {
		return push
	}
	_ = push.DecryptInto(plaintext)
	return push
}
