package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// RedirectPart selects which component of the redirect URL carries the
// authorization response.
type RedirectPart int

const (
	// PartQuery extracts the query string (authorization code flows).
	PartQuery RedirectPart = iota
	// PartFragment extracts the URL fragment (implicit grant).
	PartFragment
)

// RedirectReceiver observes the provider's OAuth redirect and returns the
// parameters from the requested part of the redirect URL. Implementations
// block until the redirect arrives or ctx is done.
type RedirectReceiver interface {
	Receive(ctx context.Context, authURL string, part RedirectPart) (url.Values, error)
}

// ManualReceiver prompts the operator to open the authorization URL and
// paste the final redirect URL back into the terminal. It is the fallback
// for non-loopback redirect URIs, where no local listener can observe the
// redirect.
type ManualReceiver struct {
	In  io.Reader // defaults to os.Stdin
	Out io.Writer // defaults to os.Stderr
}

// Receive prints the authorization URL, reads one line, and parses the
// requested part of the pasted redirect URL.
func (m *ManualReceiver) Receive(ctx context.Context, authURL string, part RedirectPart) (url.Values, error) {
	in := m.In
	if in == nil {
		in = os.Stdin
	}
	out := m.Out
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "Open the following link in your web browser:\n\n%s\n\n", authURL)
	fmt.Fprint(out, "After authorizing access, paste the full redirect URL below.\n\nURL: ")

	lineCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			errCh <- err
			return
		}
		lineCh <- strings.TrimSpace(line)
	}()

	var raw string
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, fmt.Errorf("failed to read redirect URL: %w", err)
	case raw = <-lineCh:
	}

	return ParseRedirectURL(raw, part)
}

// ParseRedirectURL extracts the parameters from the requested part of a
// redirect URL.
func ParseRedirectURL(raw string, part RedirectPart) (url.Values, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URL: %w", err)
	}

	var params url.Values
	if part == PartFragment {
		params, err = url.ParseQuery(parsed.Fragment)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect fragment: %w", err)
		}
	} else {
		params = parsed.Query()
	}

	return params, nil
}

// LoopbackHost reports whether the redirect URI's host is eligible for a
// local listener backend. Only loopback hosts qualify; anything else must
// fall back to manual handling.
func LoopbackHost(redirectURI string) bool {
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return false
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
