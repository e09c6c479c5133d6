// package dispatch sends authenticated API requests through the cache,
// scope, freshness, and rate-limit pipeline
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bbye98/minim/internal/auth"
	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/ratelimit"
	"github.com/bbye98/minim/internal/shared"
	"github.com/charmbracelet/log"
)

// maxRateWait bounds how long a call blocks on a rate-limit slot before
// giving up with [shared.ErrRateLimitExceeded].
const maxRateWait = 30 * time.Second

// Engine is the credential surface the dispatcher depends on. Implemented
// by [auth.Engine].
type Engine interface {
	EnsureFresh(ctx context.Context) error
	Refresh(ctx context.Context) error
	RequireScopes(endpoint string, scopes ...string) error
	Credential() auth.Credential
}

// Request describes one provider API call.
type Request struct {
	// Name identifies the operation (e.g. "spotify.get_track"). It prefixes
	// the cache key, so invalidation can target operation families.
	Name   string
	Method string
	Path   string // joined to the dispatcher's base URL
	Query  url.Values
	Body   []byte

	// RequiredScopes are checked against the credential before any network
	// access.
	RequiredScopes []string

	// Cacheable marks an idempotent read whose response may be served from
	// and stored in the cache. Only GET requests are ever cached.
	Cacheable     bool
	CacheCategory cache.Category

	// Invalidates lists cache key prefixes this mutating call stales.
	Invalidates []string
}

// Response is a completed provider API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Hooks carries the provider-specific behavior injected into a dispatcher.
type Hooks struct {
	// Decorate attaches the credential to an outbound request. The default
	// sets an Authorization bearer header.
	Decorate func(req *http.Request, cred auth.Credential)

	// InvalidToken reports whether a response means the access token is no
	// longer valid. The default treats HTTP 401 as the signal.
	InvalidToken func(status int, body []byte) bool

	// ClassifyError extracts the provider's error code and message from a
	// failed response body.
	ClassifyError func(status int, body []byte) (code int, message string)
}

// Dispatcher sends requests for one provider client: cache lookup, scope
// check, token freshness, rate limiting, the HTTP round-trip, and
// invalid-token recovery, in that order. Safe for concurrent use.
type Dispatcher struct {
	provider   string
	baseURL    string
	engine     Engine
	cache      *cache.Cache
	limiter    *ratelimit.Limiter
	httpClient *http.Client
	logger     *log.Logger
	hooks      Hooks
}

// New creates a Dispatcher. cache may be nil to disable response caching.
func New(provider, baseURL string, engine Engine, store *cache.Cache, limiter *ratelimit.Limiter, httpClient *http.Client, logger *log.Logger, hooks Hooks) *Dispatcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	if limiter == nil {
		limiter = ratelimit.New(0)
	}
	if hooks.Decorate == nil {
		hooks.Decorate = func(req *http.Request, cred auth.Credential) {
			req.Header.Set("Authorization", cred.TokenType+" "+cred.AccessToken)
		}
	}
	if hooks.InvalidToken == nil {
		hooks.InvalidToken = func(status int, _ []byte) bool {
			return status == http.StatusUnauthorized
		}
	}
	if hooks.ClassifyError == nil {
		hooks.ClassifyError = func(_ int, body []byte) (int, string) {
			return 0, truncate(string(body), 200)
		}
	}

	return &Dispatcher{
		provider:   provider,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		engine:     engine,
		cache:      store,
		limiter:    limiter,
		httpClient: httpClient,
		logger:     logger.With("provider", provider),
		hooks:      hooks,
	}
}

// Call runs one request through the full pipeline.
func (d *Dispatcher) Call(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	cacheable := req.Cacheable && req.Method == http.MethodGet && d.cache != nil
	var key string
	if cacheable {
		key = cache.Key(req.Name, req.Path, req.Query.Encode())
		if value, ok := d.cache.Get(key); ok {
			d.logger.Debug("cache hit", "endpoint", req.Name)
			return value.(*Response), nil
		}
	}

	if err := d.engine.RequireScopes(req.Name, req.RequiredScopes...); err != nil {
		return nil, err
	}
	if err := d.engine.EnsureFresh(ctx); err != nil {
		return nil, err
	}

	resp, err := d.send(ctx, req)
	if err != nil {
		return nil, err
	}

	if d.hooks.InvalidToken(resp.Status, resp.Body) {
		// One recovery attempt: refresh the token and resend. A second
		// invalid-token response is fatal.
		d.logger.Info("access token rejected, refreshing", "endpoint", req.Name)
		if err := d.engine.Refresh(ctx); err != nil {
			return nil, err
		}
		resp, err = d.send(ctx, req)
		if err != nil {
			return nil, err
		}
		if d.hooks.InvalidToken(resp.Status, resp.Body) {
			return nil, fmt.Errorf(
				"%w: %s still rejects the access token after refresh",
				shared.ErrNotAuthenticated, req.Name,
			)
		}
	}

	code, message := d.hooks.ClassifyError(resp.Status, resp.Body)
	if resp.Status < 200 || resp.Status >= 300 || code != 0 {
		return nil, &shared.ProviderAPIError{
			Provider: d.provider,
			Endpoint: req.Name,
			Status:   resp.Status,
			Code:     code,
			Message:  message,
		}
	}

	if cacheable {
		d.cache.Put(key, resp, req.CacheCategory)
	}
	if d.cache != nil {
		for _, prefix := range req.Invalidates {
			d.cache.Invalidate(prefix)
		}
	}
	return resp, nil
}

// send acquires a rate slot and performs exactly one HTTP round-trip.
func (d *Dispatcher) send(ctx context.Context, req Request) (*Response, error) {
	if err := d.limiter.TryAcquire(ctx, maxRateWait); err != nil {
		return nil, err
	}

	httpReq, err := d.build(ctx, req)
	if err != nil {
		return nil, err
	}

	d.logger.Debug("dispatching request", "curl", shared.AsCurl(httpReq))

	httpResp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", req.Name, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to read response: %w", req.Name, err)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   body,
	}, nil
}

func (d *Dispatcher) build(ctx context.Context, req Request) (*http.Request, error) {
	endpoint := d.baseURL + "/" + strings.TrimPrefix(req.Path, "/")
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid request: %w", req.Name, err)
	}
	if len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	d.hooks.Decorate(httpReq, d.engine.Credential())
	return httpReq, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
