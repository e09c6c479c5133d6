// Package auth executes OAuth 2.0 authorization flows and manages the
// lifecycle of one provider credential.
//
// # Flows
//
// [Flow] is a closed set of grant variants: client credentials,
// authorization code, authorization code with PKCE, implicit grant, and
// token mint (a cookie-derived pseudo-flow for providers whose web players
// issue tokens outside OAuth).
//
// # Engine
//
// [Engine] owns exactly one [Credential] and is the only component that
// mutates it. The credential moves between unauthenticated, authorized, and
// expired states; refreshing is atomic, so concurrent callers observe either
// the old token or the new token and expiry together, never a mix.
//
// Concurrent refreshes of the same account collapse into a single
// token-endpoint round-trip via singleflight; interactive authorization is
// serialized because only one redirect listener can bind a given port.
//
// # Redirect handling
//
// Browser-based flows hand their authorization URL to a [RedirectReceiver],
// which blocks until it observes the provider redirect and returns its
// parameters. [ManualReceiver] prompts the operator to paste the redirect
// URL; the loopback HTTP listener lives in the server package.
//
// # Storage
//
// Tokens persist through a tokens.Store keyed by (provider, flow, client ID,
// user identifier). Prefixing the configured user identifier with a tilde
// ("~alice") skips retrieval, forces a fresh authorization, and persists the
// result under the stripped identifier. Storage read failures degrade to a
// fresh authorization; write failures are logged and never block returning
// the in-memory credential.
package auth
