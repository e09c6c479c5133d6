package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bbye98/minim/internal/shared"
	"github.com/bbye98/minim/internal/tokens"
	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// Provider describes the authorization surface of one remote API. Optional
// hook fields override the standard OAuth 2.0 behavior for providers with
// non-standard parameter names or wire formats.
type Provider struct {
	Name      string
	EnvPrefix string
	AuthURL   string
	TokenURL  string
	Flows     []Flow

	// BuildAuthURL overrides authorization URL construction. challenge is
	// empty outside the PKCE flow.
	BuildAuthURL func(c *Credential, state, challenge string) string

	// ExchangeCode overrides the authorization code exchange.
	ExchangeCode func(ctx context.Context, client *http.Client, c *Credential, code string) (*TokenResult, error)

	// Mint obtains a token outside OAuth, from an opaque session cookie.
	// Required for the token-mint flow.
	Mint func(ctx context.Context, client *http.Client, c *Credential) (*TokenResult, error)

	// ResolveIdentity returns the provider's identifier for the authorized
	// user ("who am I"). Called exactly once after first authorization when
	// no user identifier was configured.
	ResolveIdentity func(ctx context.Context, client *http.Client, c *Credential) (string, error)
}

// SupportsFlow reports whether the provider allows the given flow.
func (p *Provider) SupportsFlow(f Flow) bool {
	for _, allowed := range p.Flows {
		if allowed == f {
			return true
		}
	}
	return false
}

// Options carries the engine's injected collaborators.
type Options struct {
	Store      *tokens.Store // nil disables persistence
	Receiver   RedirectReceiver
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Engine executes authorization flows for a single provider credential.
// Safe for concurrent use.
type Engine struct {
	provider   Provider
	store      *tokens.Store
	receiver   RedirectReceiver
	httpClient *http.Client
	logger     *log.Logger

	mu               sync.Mutex
	cred             Credential
	forceReauth      bool
	identityResolved bool
	flight           singleflight.Group
	now              func() time.Time
}

// NewEngine validates the client configuration, resolves credentials from
// the environment when unset, and adopts a stored token when one matches the
// identity key. It never performs network I/O; the first Authorize or
// EnsureFresh call does.
func NewEngine(provider Provider, cfg shared.ClientConfig, opts Options) (*Engine, error) {
	flow := Flow(cfg.Flow)
	if !flow.Valid() {
		return nil, fmt.Errorf("%w: unknown flow %q", shared.ErrInvalidConfig, cfg.Flow)
	}
	if !provider.SupportsFlow(flow) {
		return nil, fmt.Errorf(
			"%w: %s does not support the %s flow", shared.ErrInvalidConfig, provider.Name, flow,
		)
	}

	clientID, clientSecret := cfg.ClientID, cfg.ClientSecret
	if clientID == "" {
		clientID, clientSecret = shared.EnvCredentials(provider.EnvPrefix)
	}

	if flow == FlowTokenMint {
		if cfg.SessionCookie == "" {
			return nil, fmt.Errorf(
				"%w: the token-mint flow requires a session cookie", shared.ErrMissingCredentials,
			)
		}
	} else if clientID == "" {
		return nil, fmt.Errorf(
			"%w: a client ID must be provided or set as %s_APP_ID",
			shared.ErrMissingCredentials, provider.EnvPrefix,
		)
	}
	if flow.RequiresSecret() && clientSecret == "" {
		return nil, fmt.Errorf(
			"%w: the %s flow requires a client secret", shared.ErrMissingCredentials, flow,
		)
	}
	if flow.RequiresRedirectURI() && cfg.RedirectURI == "" {
		return nil, fmt.Errorf(
			"%w: the %s flow requires a redirect URI", shared.ErrMissingConfig, flow,
		)
	}

	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	receiver := opts.Receiver
	if receiver == nil {
		receiver = &ManualReceiver{}
	}

	userIdentifier, forceReauth := ParseUserIdentifier(cfg.UserIdentifier)

	e := &Engine{
		provider:    provider,
		store:       opts.Store,
		receiver:    receiver,
		httpClient:  httpClient,
		logger:      logger.With("provider", provider.Name, "flow", flow),
		forceReauth: forceReauth,
		now:         time.Now,
		cred: Credential{
			Flow:           flow,
			ClientID:       clientID,
			ClientSecret:   clientSecret,
			RedirectURI:    cfg.RedirectURI,
			Scopes:         append([]string(nil), cfg.Scopes...),
			UserIdentifier: userIdentifier,
			SessionCookie:  cfg.SessionCookie,
		},
	}

	e.adoptStoredToken()
	return e, nil
}

// ParseUserIdentifier strips the tilde prefix that forces reauthorization.
// The returned bool reports whether the prefix was present.
func ParseUserIdentifier(identifier string) (string, bool) {
	if strings.HasPrefix(identifier, "~") {
		return identifier[1:], true
	}
	return identifier, false
}

// adoptStoredToken loads a persisted token matching the identity key.
// Storage read failures degrade to an unauthenticated credential.
func (e *Engine) adoptStoredToken() {
	if e.store == nil || e.forceReauth {
		return
	}

	rec, err := e.store.Get(
		e.provider.Name, e.cred.Flow.String(), e.cred.ClientID, e.cred.UserIdentifier,
	)
	if err != nil {
		e.logger.Warn("failed to read stored token, will authorize fresh", "err", err)
		return
	}
	if rec == nil || rec.ClientID != e.cred.ClientID {
		return
	}

	e.cred.AccessToken = rec.AccessToken
	e.cred.TokenType = rec.TokenType
	e.cred.RefreshToken = rec.RefreshToken
	e.cred.ExpiresAt = rec.ExpiresAt
	e.cred.UserIdentifier = rec.UserIdentifier
	e.cred.Extras = rec.Extras
	if rec.ClientSecret != "" && e.cred.ClientSecret == "" {
		e.cred.ClientSecret = rec.ClientSecret
	}
	if len(rec.Scopes) > 0 {
		e.cred.Scopes = rec.Scopes
	}
	if rec.RedirectURI != "" && e.cred.RedirectURI == "" {
		e.cred.RedirectURI = rec.RedirectURI
	}
	e.identityResolved = rec.UserIdentifier != ""

	if err := e.store.Touch(
		rec.Provider, rec.Flow, rec.ClientID, rec.UserIdentifier,
	); err != nil {
		e.logger.Warn("failed to touch stored token", "err", err)
	}
}

// Credential returns a snapshot of the current credential.
func (e *Engine) Credential() Credential {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := e.cred
	snapshot.Scopes = append([]string(nil), e.cred.Scopes...)
	return snapshot
}

// State reports the credential's lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cred.State(e.now())
}

// RequireScopes verifies that every required scope was granted, failing fast
// with a [shared.PermissionError] before any network access.
func (e *Engine) RequireScopes(endpoint string, scopes ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var missing []string
	for _, scope := range scopes {
		if !e.cred.HasScope(scope) {
			missing = append(missing, scope)
		}
	}
	if len(missing) > 0 {
		return &shared.PermissionError{Endpoint: endpoint, Missing: missing}
	}
	return nil
}

// SetAccessToken replaces the current token and related information,
// bypassing authorization. Refresh tokens are rejected for flows without a
// refresh path.
func (e *Engine) SetAccessToken(accessToken, tokenType, refreshToken string, expiresAt time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if refreshToken != "" && !e.cred.Flow.SupportsRefreshToken() {
		return fmt.Errorf(
			"%w: the %s flow does not support refresh tokens", shared.ErrInvalidArgument, e.cred.Flow,
		)
	}
	if tokenType == "" {
		tokenType = "Bearer"
	}

	e.cred.AccessToken = accessToken
	e.cred.TokenType = tokenType
	e.cred.RefreshToken = refreshToken
	e.cred.ExpiresAt = expiresAt
	return nil
}

// Authorize runs the configured flow and replaces the credential's token.
// Interactive flows are serialized; only one authorization round-trip can be
// in flight per engine.
func (e *Engine) Authorize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.authorizeLocked(ctx)
}

// EnsureFresh authorizes an unauthenticated credential and refreshes an
// expired one. It is the cheap pre-request check the dispatcher calls.
func (e *Engine) EnsureFresh(ctx context.Context) error {
	e.mu.Lock()
	state := e.cred.State(e.now())
	e.mu.Unlock()

	switch state {
	case StateAuthorized:
		return nil
	case StateUnauthenticated:
		return e.Authorize(ctx)
	default:
		return e.Refresh(ctx)
	}
}

// Refresh renews the access token. Concurrent callers collapse into a single
// token-endpoint round-trip and all observe its result. Preference order: a
// refresh-token grant when available, then a non-interactive re-run of the
// original flow. Interactive flows without a refresh token report
// [shared.ErrTokenExpired]; the caller must re-authorize explicitly.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err, _ := e.flight.Do("refresh", func() (any, error) {
		e.mu.Lock()
		defer e.mu.Unlock()

		if e.cred.RefreshToken != "" && e.cred.Flow.SupportsRefreshToken() {
			result, err := e.refreshGrant(ctx)
			if err == nil {
				e.applyResult(ctx, result)
				return nil, nil
			}
			var retrieveErr *oauth2.RetrieveError
			if !errors.As(err, &retrieveErr) {
				return nil, fmt.Errorf("%w: %v", shared.ErrAuthentication, err)
			}
			// The provider rejected the refresh token; fall through to a
			// full re-authorization.
			e.logger.Warn("refresh token rejected, reauthorizing", "err", err)
		}

		if e.cred.Flow.Interactive() && e.cred.RefreshToken == "" {
			return nil, fmt.Errorf(
				"%w: the %s flow cannot renew tokens without user interaction",
				shared.ErrTokenExpired, e.cred.Flow,
			)
		}

		return nil, e.authorizeLocked(ctx)
	})
	return err
}

// Logout clears the in-memory credential and removes its stored record.
func (e *Engine) Logout(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.store != nil && e.cred.AccessToken != "" {
		err := e.store.Delete(tokens.Filter{
			Providers:       []string{e.provider.Name},
			Flows:           []string{e.cred.Flow.String()},
			ClientIDs:       []string{e.cred.ClientID},
			UserIdentifiers: []string{e.cred.UserIdentifier},
		})
		if err != nil {
			return err
		}
	}

	e.cred.AccessToken = ""
	e.cred.TokenType = ""
	e.cred.RefreshToken = ""
	e.cred.ExpiresAt = time.Time{}
	e.cred.Extras = nil
	e.identityResolved = false
	return nil
}

// authorizeLocked runs the configured flow. Callers hold e.mu.
func (e *Engine) authorizeLocked(ctx context.Context) error {
	var (
		result *TokenResult
		err    error
	)

	switch e.cred.Flow {
	case FlowClientCredentials:
		result, err = e.clientCredentialsGrant(ctx)
	case FlowAuthCode:
		result, err = e.authorizationCodeGrant(ctx, false)
	case FlowPKCE:
		result, err = e.authorizationCodeGrant(ctx, true)
	case FlowImplicit:
		result, err = e.implicitGrant(ctx)
	case FlowTokenMint:
		result, err = e.mintToken(ctx)
	default:
		err = fmt.Errorf("%w: unknown flow %q", shared.ErrInvalidConfig, e.cred.Flow)
	}
	if err != nil {
		return err
	}

	e.applyResult(ctx, result)
	return nil
}

// applyResult atomically installs a token result, resolves the user
// identity when needed, and persists the credential. Callers hold e.mu.
func (e *Engine) applyResult(ctx context.Context, result *TokenResult) {
	e.cred.AccessToken = result.AccessToken
	e.cred.TokenType = result.TokenType
	if e.cred.TokenType == "" {
		e.cred.TokenType = "Bearer"
	}
	if result.RefreshToken != "" {
		e.cred.RefreshToken = result.RefreshToken
	}
	e.cred.ExpiresAt = result.ExpiresAt
	if len(result.Scopes) > 0 {
		e.cred.Scopes = result.Scopes
	}
	if len(result.Extras) > 0 {
		e.cred.Extras = result.Extras
	}

	e.resolveIdentity(ctx)
	e.persist()
	e.forceReauth = false
}

// resolveIdentity asks the provider who the authorized user is, exactly once
// per engine, for user-authenticated flows with no configured identifier.
func (e *Engine) resolveIdentity(ctx context.Context) {
	if e.identityResolved || e.cred.UserIdentifier != "" ||
		e.cred.Flow == FlowClientCredentials || e.provider.ResolveIdentity == nil {
		return
	}

	identifier, err := e.provider.ResolveIdentity(ctx, e.httpClient, &e.cred)
	if err != nil {
		e.logger.Warn("failed to resolve user identity", "err", err)
		return
	}
	e.cred.UserIdentifier = identifier
	e.identityResolved = true
}

// persist writes the credential to the token store. Write failures surface
// as warnings only; the fresh in-memory credential is always kept.
func (e *Engine) persist() {
	if e.store == nil {
		return
	}

	err := e.store.Put(&tokens.Record{
		Provider:       e.provider.Name,
		Flow:           e.cred.Flow.String(),
		ClientID:       e.cred.ClientID,
		ClientSecret:   e.cred.ClientSecret,
		UserIdentifier: e.cred.UserIdentifier,
		RedirectURI:    e.cred.RedirectURI,
		Scopes:         e.cred.Scopes,
		TokenType:      e.cred.TokenType,
		AccessToken:    e.cred.AccessToken,
		RefreshToken:   e.cred.RefreshToken,
		ExpiresAt:      e.cred.ExpiresAt,
		Extras:         e.cred.Extras,
	})
	if err != nil {
		e.logger.Warn("failed to persist token", "err", err)
	}
}

func (e *Engine) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     e.cred.ClientID,
		ClientSecret: e.cred.ClientSecret,
		RedirectURL:  e.cred.RedirectURI,
		Scopes:       e.cred.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  e.provider.AuthURL,
			TokenURL: e.provider.TokenURL,
		},
	}
}

// clientCredentialsGrant requests an app-only token directly from the token
// endpoint. Transient network failures are retried once.
func (e *Engine) clientCredentialsGrant(ctx context.Context) (*TokenResult, error) {
	conf := &clientcredentials.Config{
		ClientID:     e.cred.ClientID,
		ClientSecret: e.cred.ClientSecret,
		TokenURL:     e.provider.TokenURL,
		Scopes:       e.cred.Scopes,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	tok, err := retryOnce(func() (*oauth2.Token, error) { return conf.Token(ctx) })
	if err != nil {
		return nil, fmt.Errorf("%w: client credentials grant: %v", shared.ErrAuthentication, err)
	}
	return resultFromToken(tok), nil
}

// authorizationCodeGrant runs the shared acquisition protocol for the
// authorization-code and PKCE flows: state nonce, redirect round-trip,
// denial and state checks, then the code exchange. The state check is
// mandatory and short-circuits before any token exchange.
func (e *Engine) authorizationCodeGrant(ctx context.Context, pkce bool) (*TokenResult, error) {
	state, err := nonce()
	if err != nil {
		return nil, err
	}

	var verifier, challenge string
	if pkce {
		verifier = oauth2.GenerateVerifier()
		challenge = oauth2.S256ChallengeFromVerifier(verifier)
	}

	conf := e.oauthConfig()
	authURL := ""
	if e.provider.BuildAuthURL != nil {
		authURL = e.provider.BuildAuthURL(&e.cred, state, challenge)
	} else {
		opts := []oauth2.AuthCodeOption{}
		if pkce {
			opts = append(opts, oauth2.S256ChallengeOption(verifier))
		}
		authURL = conf.AuthCodeURL(state, opts...)
	}

	params, err := e.receiver.Receive(ctx, authURL, PartQuery)
	if err != nil {
		return nil, fmt.Errorf("redirect handling failed: %w", err)
	}

	if errCode := firstNonEmpty(params, "error", "error_reason"); errCode != "" {
		return nil, fmt.Errorf(
			"%w: %s (%s)", shared.ErrAuthorizationDenied, errCode, params.Get("error_description"),
		)
	}
	if params.Get("state") != state {
		return nil, fmt.Errorf("%w: redirect state does not match", shared.ErrStateMismatch)
	}

	code := params.Get("code")
	if code == "" {
		return nil, fmt.Errorf("%w: redirect carried no authorization code", shared.ErrAuthentication)
	}

	if e.provider.ExchangeCode != nil {
		result, err := e.provider.ExchangeCode(ctx, e.httpClient, &e.cred, code)
		if err != nil {
			return nil, fmt.Errorf("%w: code exchange: %v", shared.ErrAuthentication, err)
		}
		return result, nil
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	opts := []oauth2.AuthCodeOption{}
	if pkce {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := retryOnce(func() (*oauth2.Token, error) { return conf.Exchange(ctx, code, opts...) })
	if err != nil {
		return nil, fmt.Errorf("%w: code exchange: %v", shared.ErrAuthentication, err)
	}
	return resultFromToken(tok), nil
}

// implicitGrant receives the token directly from the redirect fragment.
func (e *Engine) implicitGrant(ctx context.Context) (*TokenResult, error) {
	state, err := nonce()
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"client_id":     {e.cred.ClientID},
		"redirect_uri":  {e.cred.RedirectURI},
		"response_type": {"token"},
		"state":         {state},
	}
	if len(e.cred.Scopes) > 0 {
		params.Set("scope", strings.Join(e.cred.Scopes, " "))
	}
	authURL := e.provider.AuthURL + "?" + params.Encode()
	if e.provider.BuildAuthURL != nil {
		authURL = e.provider.BuildAuthURL(&e.cred, state, "")
	}

	fragment, err := e.receiver.Receive(ctx, authURL, PartFragment)
	if err != nil {
		return nil, fmt.Errorf("redirect handling failed: %w", err)
	}

	if errCode := firstNonEmpty(fragment, "error", "error_reason"); errCode != "" {
		return nil, fmt.Errorf(
			"%w: %s (%s)", shared.ErrAuthorizationDenied, errCode, fragment.Get("error_description"),
		)
	}
	if fragment.Get("state") != state {
		return nil, fmt.Errorf("%w: redirect state does not match", shared.ErrStateMismatch)
	}

	accessToken := fragment.Get("access_token")
	if accessToken == "" {
		return nil, fmt.Errorf("%w: redirect fragment carried no token", shared.ErrAuthentication)
	}

	result := &TokenResult{
		AccessToken: accessToken,
		TokenType:   fragment.Get("token_type"),
	}
	if raw := fragment.Get("expires_in"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			result.ExpiresAt = e.now().Add(time.Duration(seconds) * time.Second)
		}
	}
	if raw := fragment.Get("scope"); raw != "" {
		result.Scopes = strings.Fields(raw)
	}
	return result, nil
}

// mintToken re-mints a token from the configured session cookie.
func (e *Engine) mintToken(ctx context.Context) (*TokenResult, error) {
	if e.provider.Mint == nil {
		return nil, fmt.Errorf(
			"%w: %s has no token-mint support", shared.ErrInvalidConfig, e.provider.Name,
		)
	}

	result, err := retryOnce(func() (*TokenResult, error) {
		return e.provider.Mint(ctx, e.httpClient, &e.cred)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: token mint: %v", shared.ErrAuthentication, err)
	}
	return result, nil
}

// refreshGrant exchanges the refresh token for a new access token.
func (e *Engine) refreshGrant(ctx context.Context) (*TokenResult, error) {
	conf := e.oauthConfig()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	stale := &oauth2.Token{
		RefreshToken: e.cred.RefreshToken,
		// Zero expiry would mark the token as valid forever; backdate it so
		// the token source performs the refresh round-trip.
		Expiry: e.now().Add(-time.Hour),
	}

	source := conf.TokenSource(ctx, stale)
	tok, err := retryOnce(source.Token)
	if err != nil {
		return nil, err
	}

	result := resultFromToken(tok)
	if result.RefreshToken == "" {
		result.RefreshToken = e.cred.RefreshToken
	}
	return result, nil
}

// retryOnce runs fn, repeating it a single time when the failure looks
// transient (anything but a provider rejection). Callers wanting backoff
// wrap their own around the engine.
func retryOnce[T any](fn func() (T, error)) (T, error) {
	value, err := fn()
	if err == nil {
		return value, nil
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return value, err
	}
	return fn()
}

func resultFromToken(tok *oauth2.Token) *TokenResult {
	result := &TokenResult{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.Type(),
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		result.Scopes = strings.Fields(raw)
	}
	return result
}

func firstNonEmpty(params url.Values, keys ...string) string {
	for _, key := range keys {
		if v := params.Get(key); v != "" {
			return v
		}
	}
	return ""
}

// nonce returns a cryptographically random, URL-safe state value.
func nonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate state nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
