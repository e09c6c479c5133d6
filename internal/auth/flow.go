package auth

import (
	"slices"
	"time"
)

// Flow is one OAuth 2.0 grant variant the engine can execute.
type Flow string

const (
	FlowClientCredentials Flow = "client_credentials"
	FlowAuthCode          Flow = "auth_code"
	FlowPKCE              Flow = "pkce"
	FlowImplicit          Flow = "implicit"
	FlowTokenMint         Flow = "token_mint"
)

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	switch f {
	case FlowClientCredentials, FlowAuthCode, FlowPKCE, FlowImplicit, FlowTokenMint:
		return true
	}
	return false
}

// Interactive reports whether the flow requires a user's browser round-trip.
func (f Flow) Interactive() bool {
	switch f {
	case FlowAuthCode, FlowPKCE, FlowImplicit:
		return true
	}
	return false
}

// SupportsRefreshToken reports whether the flow can use a refresh-token
// grant. Client-credentials and token-mint tokens are re-requested instead;
// implicit tokens cannot be renewed without re-running the full flow.
func (f Flow) SupportsRefreshToken() bool {
	return f == FlowAuthCode || f == FlowPKCE
}

// RequiresSecret reports whether the flow cannot run without a client secret.
func (f Flow) RequiresSecret() bool {
	return f == FlowAuthCode || f == FlowClientCredentials
}

// RequiresRedirectURI reports whether the flow needs a redirect URI.
func (f Flow) RequiresRedirectURI() bool { return f.Interactive() }

// String returns the wire name of the flow.
func (f Flow) String() string { return string(f) }

// State describes where a credential is in its lifecycle.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthorized      State = "authorized"
	StateExpired         State = "expired"
)

// Credential is one authenticated session. It is owned by a single Engine
// and mutated only under the engine's lock.
type Credential struct {
	Flow           Flow
	ClientID       string
	ClientSecret   string
	RedirectURI    string
	Scopes         []string
	AccessToken    string
	TokenType      string
	RefreshToken   string
	ExpiresAt      time.Time // zero when the token does not expire
	UserIdentifier string
	SessionCookie  string
	Extras         map[string]string
}

// HasScope reports whether the credential was granted the named scope.
func (c *Credential) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Expired reports whether the access token's expiry has passed. Tokens
// without a recorded expiry never report as expired here; the provider's
// invalid-token response is the only signal for those.
func (c *Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// State derives the lifecycle state from the credential's fields.
func (c *Credential) State(now time.Time) State {
	if c.AccessToken == "" {
		return StateUnauthenticated
	}
	if c.Expired(now) {
		return StateExpired
	}
	return StateAuthorized
}

// TokenResult is the normalized outcome of any token acquisition: a code
// exchange, a refresh grant, an implicit redirect, or a provider mint.
type TokenResult struct {
	AccessToken  string
	TokenType    string
	RefreshToken string
	ExpiresAt    time.Time
	Scopes       []string
	Extras       map[string]string
}
