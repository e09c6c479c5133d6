package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/bbye98/minim/internal/auth"
	"github.com/bbye98/minim/internal/shared"
	"github.com/charmbracelet/log"
)

// result carries the captured redirect parameters or the reason none arrived.
type result struct {
	params url.Values
	err    error
}

// ListenerReceiver implements [auth.RedirectReceiver] with a short-lived
// loopback HTTP server. It binds the host and port of the configured redirect
// URI, opens the operator's browser at the authorization URL, captures the
// single redirect, and shuts the server down.
//
// State validation and code exchange belong to the flow engine; the receiver
// only transports redirect parameters.
type ListenerReceiver struct {
	RedirectURI string
	Logger      *log.Logger

	// OpenBrowser launches the operator's browser. Defaults to
	// [shared.OpenBrowser]; a launch failure degrades to printing the URL.
	OpenBrowser func(url string) error
}

// NewListenerReceiver validates that the redirect URI targets a loopback
// host and returns a receiver bound to it.
func NewListenerReceiver(redirectURI string, logger *log.Logger) (*ListenerReceiver, error) {
	if !auth.LoopbackHost(redirectURI) {
		return nil, fmt.Errorf(
			"%w: redirect URI %q is not a loopback address", shared.ErrInvalidConfig, redirectURI,
		)
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &ListenerReceiver{RedirectURI: redirectURI, Logger: logger}, nil
}

// Receive starts the loopback server, opens the authorization URL, and blocks
// until the redirect arrives or ctx is done.
func (l *ListenerReceiver) Receive(ctx context.Context, authURL string, part auth.RedirectPart) (url.Values, error) {
	target, err := url.Parse(l.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid redirect URI: %v", shared.ErrInvalidConfig, err)
	}

	listener, err := net.Listen("tcp", target.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", target.Host, err)
	}

	capture := newCaptureHandler(target.EscapedPath(), part)

	router := NewBasicRouter()
	router.Use(LogRequests(l.Logger))
	router.Handler(capture)

	srv := &http.Server{Handler: router}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			capture.send(result{err: fmt.Errorf("redirect server failed: %w", err)})
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	l.openBrowser(authURL)

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-capture.results():
		return res.params, res.err
	}
}

func (l *ListenerReceiver) openBrowser(authURL string) {
	open := l.OpenBrowser
	if open == nil {
		open = shared.OpenBrowser
	}
	if err := open(authURL); err != nil {
		l.Logger.Warn("could not open browser", "err", err)
		fmt.Printf("Open the following link in your web browser:\n\n%s\n\n", authURL)
	}
}

// captureHandler serves the redirect path and captures its parameters.
// Implements the [Handler] interface for registration with a [Router].
type captureHandler struct {
	path       string
	part       auth.RedirectPart
	resultChan chan result
	once       sync.Once
	mu         sync.Mutex
	hit        bool
}

func newCaptureHandler(path string, part auth.RedirectPart) *captureHandler {
	if path == "" {
		path = "/"
	}
	return &captureHandler{
		path:       path,
		part:       part,
		resultChan: make(chan result, 1),
	}
}

// Routes returns the HTTP routes this handler serves.
func (h *captureHandler) Routes() []string {
	return []string{h.path}
}

// ServeHTTP captures the redirect parameters and renders the closing page.
//
// Implicit-grant responses arrive in the URL fragment, which never reaches
// the server; the first request gets a relay page whose script re-requests
// the same path with the fragment rewritten into the query string.
func (h *captureHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	if h.part == auth.PartFragment && len(params) == 0 {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, relayPage)
		return
	}

	// Only handle the redirect once
	h.mu.Lock()
	if h.hit {
		h.mu.Unlock()
		http.Error(w, "Redirect already processed", http.StatusBadRequest)
		return
	}
	h.hit = true
	h.mu.Unlock()

	h.send(result{params: params})

	w.Header().Set("Content-Type", "text/html")
	fmt.Fprint(w, successPage)
}

// send delivers the result through the channel (only once).
func (h *captureHandler) send(res result) {
	h.once.Do(func() {
		h.resultChan <- res
		close(h.resultChan)
	})
}

// results returns the channel that receives exactly one captured redirect.
func (h *captureHandler) results() <-chan result {
	return h.resultChan
}

// relayPage rewrites the URL fragment into a query string so the access
// token an implicit grant places after "#" becomes visible to the server.
const relayPage = `<!DOCTYPE html>
<html>
<head>
    <title>Completing Authorization</title>
    <script>
        var fragment = window.location.hash.substring(1);
        window.location.replace(
            window.location.pathname + "?" + (fragment || "error=missing_fragment")
        );
    </script>
</head>
<body>
    <p>Completing authorization&hellip;</p>
</body>
</html>
`

const successPage = `<!DOCTYPE html>
<html>
<head>
    <title>Authorization Complete</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif;
               display: flex; align-items: center; justify-content: center; height: 100vh;
               margin: 0; background: #f5f5f5; }
        .container { text-align: center; background: white; padding: 2rem;
                     border-radius: 8px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        h1 { color: #1DB954; margin: 0 0 1rem 0; }
        p { color: #666; margin: 0; }
    </style>
</head>
<body>
    <div class="container">
        <h1>&#10003; Authorization Complete</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`
