// Package server provides the loopback redirect server used during
// interactive OAuth authorization, plus the small router and middleware
// infrastructure it is built on.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Redirect Capture
//
// [ListenerReceiver] implements the redirect backend for interactive flows.
// When an authorization starts, a temporary HTTP server binds the loopback
// host and port from the configured redirect URI, the operator's browser
// opens at the authorization URL, and the server captures the single
// redirect before shutting down.
//
// The receiver transports raw redirect parameters only. State validation,
// denial classification, and the code exchange happen in the flow engine, so
// every redirect backend (listener or manual paste) is checked identically.
//
// # Fragment Relay
//
// Implicit-grant responses arrive in the URL fragment, which browsers never
// send to servers. The first request to the redirect path is answered with a
// tiny HTML page whose script rewrites the fragment into a query string and
// re-requests the same path, making the token visible to the capture
// handler.
//
// Each capture handler processes exactly one redirect; replays receive an
// HTTP 400.
package server
