package syncpipe

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/bogorad/pb-agent-core/internal/httpclient"
)

func TestFetchDisplay_FiltersDismissedAndNonRenderable(t *testing.T) {
	fc := &fakeHTTPClient{
		pushesPages: map[string]*httpclient.PushPage{
			"": {Pushes: []model.Push{
				{Iden: "note", Type: model.PushTypeNote},
				{Iden: "dismissed", Type: model.PushTypeNote, Dismissed: true},
				{Iden: "sms", Type: model.PushTypeSMSChanged},
			}},
		},
	}
	api := httpclient.NewAPI(fc)
	p2 := NewPipeline2(api, noopDecryptor{}, func() string { return "iden" }, func() string { return "" })

	out, err := p2.FetchDisplay(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "note", out[0].Iden)
}

func TestFetchDisplay_DefaultsLimitWhenNonPositive(t *testing.T) {
	var capturedLimit string
	fc := &capturingClient{
		onRequest: func(query map[string]string) { capturedLimit = query["limit"] },
		page:      &httpclient.PushPage{},
	}
	api := httpclient.NewAPI(fc)
	p2 := NewPipeline2(api, noopDecryptor{}, func() string { return "" }, func() string { return "" })

	_, err := p2.FetchDisplay(context.Background(), -1)
	require.NoError(t, err)
	assert.Equal(t, "50", capturedLimit)
}

func TestFetchDisplay_NeverTouchesCutoff(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.SafeSetCutoff(777))

	fc := &fakeHTTPClient{pushesPages: map[string]*httpclient.PushPage{
		"": {Pushes: []model.Push{{Iden: "p1", Type: model.PushTypeNote, Modified: 9999}}},
	}}
	api := httpclient.NewAPI(fc)
	p2 := NewPipeline2(api, noopDecryptor{}, func() string { return "" }, func() string { return "" })

	_, err := p2.FetchDisplay(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, float64(777), st.Cutoff())
}

type capturingClient struct {
	onRequest func(query map[string]string)
	page      *httpclient.PushPage
}

func (c *capturingClient) Request(ctx context.Context, method, path string, query map[string]string, body any) (*httpclient.Response, error) {
	if c.onRequest != nil {
		c.onRequest(query)
	}
	data, err := json.Marshal(c.page)
	if err != nil {
		return nil, err
	}
	return &httpclient.Response{Status: 200, Body: data}, nil
}
