// Package httpclient implements C2: an authenticated REST client over
// Pushbullet's v2 API with structured error classification (spec.md §6, §7)
// and a circuit breaker (sony/gobreaker) guarding against hammering the API
// during sustained outages — a concrete home for a teacher go.mod
// dependency (github.com/sony/gobreaker) the retrieved source files never
// exercised directly.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bogorad/pb-agent-core/internal/agenterr"
	"github.com/bogorad/pb-agent-core/internal/domain/model"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
)

const (
	// BaseURL is the compatibility-critical Pushbullet REST root (spec.md §6).
	BaseURL = "https://api.pushbullet.com/v2"

	defaultTimeout = 10 * time.Second
)

// Response is the generic C2 port result: `request(method, url, headers,
// body?) → (status, headers, body)`.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Client is the C2 port: authenticated REST calls with structured errors.
type Client interface {
	Request(ctx context.Context, method, path string, query map[string]string, body any) (*Response, error)
}

type errorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// HTTPClient is the default Client adapter: net/http plus a shared circuit
// breaker across all calls for a given token lifetime.
type HTTPClient struct {
	hc      *http.Client
	token   func() model.Token
	breaker *gobreaker.CircuitBreaker
	log     *slog.Logger
}

// New builds an HTTPClient. tokenFn is consulted on every request so a
// logout/re-login is reflected immediately without reconstructing the
// client.
func New(tokenFn func() model.Token, log *slog.Logger) *HTTPClient {
	st := gobreaker.Settings{
		Name:        "pushbullet-rest",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// Trip after 5 consecutive failures, mirroring the Transient
			// backoff policy of spec.md §7 at the client layer rather than
			// the caller layer.
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &HTTPClient{
		hc:      &http.Client{Timeout: defaultTimeout},
		token:   tokenFn,
		breaker: gobreaker.NewCircuitBreaker(st),
		log:     log,
	}
}

// Request performs one authenticated REST call and classifies failures into
// the typed kinds of spec.md §7. A nil body sends no payload; a non-nil
// body is marshaled as JSON.
func (c *HTTPClient) Request(ctx context.Context, method, path string, query map[string]string, body any) (*Response, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doOnce(ctx, method, path, query, body)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, agenterr.Wrap(agenterr.KindTransient, "circuit breaker open", err)
		}
		return nil, err
	}
	return result.(*Response), nil
}

func (c *HTTPClient) doOnce(ctx context.Context, method, path string, query map[string]string, body any) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	url := BaseURL + path
	if len(query) > 0 {
		url += "?"
		first := true
		for k, v := range query {
			if !first {
				url += "&"
			}
			url += k + "=" + v
			first = false
		}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, agenterr.Wrap(agenterr.KindInternal, "marshal request body", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindInternal, "build request", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Access-Token", string(c.token()))
	req.Header.Set("X-Request-Id", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			c.log.Warn("httpclient: request timed out", slog.String("request_id", requestID), slog.String("path", path))
			return nil, agenterr.Wrap(agenterr.KindTransient, "request timed out", err)
		}
		c.log.Warn("httpclient: network error", slog.String("request_id", requestID), slog.String("path", path), slog.Any("err", err))
		return nil, agenterr.Wrap(agenterr.KindTransient, "network error", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, agenterr.Wrap(agenterr.KindTransient, "read response body", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, agenterr.New(agenterr.KindUnauthenticated, "401 from "+path)
	}

	if resp.StatusCode >= 500 {
		return nil, agenterr.New(agenterr.KindTransient, fmt.Sprintf("%d from %s", resp.StatusCode, path))
	}

	if resp.StatusCode >= 400 {
		var eb errorBody
		if jsonErr := json.Unmarshal(data, &eb); jsonErr == nil && eb.Error.Type == "invalid_cursor" {
			return nil, agenterr.New(agenterr.KindInvalidCursor, "invalid_cursor")
		}
		// Other 4xx: treated as non-transient by default; callers that need
		// a softer policy (device registration) inspect the status
		// themselves via the returned *Response error path below.
		return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
	}

	return &Response{Status: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}
