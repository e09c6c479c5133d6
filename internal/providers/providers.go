// package providers defines the supported streaming service profiles and
// the client facade tying the flow engine and request dispatcher together
package providers

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/bbye98/minim/internal/auth"
	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/dispatch"
	"github.com/bbye98/minim/internal/ratelimit"
	"github.com/bbye98/minim/internal/server"
	"github.com/bbye98/minim/internal/shared"
	"github.com/bbye98/minim/internal/tokens"
	"github.com/charmbracelet/log"
)

// Profile describes one remote API: its authorization surface, base URL,
// scope catalog, and request decoration.
type Profile struct {
	auth.Provider

	BaseURL   string
	RateLimit float64 // default requests per second

	// Scopes maps catalog categories to the scopes they contain.
	Scopes map[string][]string

	// Hooks carries the provider's token decoration and error
	// classification for the dispatcher.
	Hooks dispatch.Hooks
}

// ResolveScopes expands category names and substrings into scopes from the
// profile's catalog. "all" or no matches returns every scope; an exact
// category name returns that category; anything else matches scopes by
// substring. The result is sorted and deduplicated.
func (p *Profile) ResolveScopes(matches ...string) []string {
	set := make(map[string]struct{})

	if len(matches) == 0 {
		matches = []string{"all"}
	}
	for _, match := range matches {
		if match == "all" {
			for _, scopes := range p.Scopes {
				for _, scope := range scopes {
					set[scope] = struct{}{}
				}
			}
			continue
		}
		if scopes, ok := p.Scopes[match]; ok {
			for _, scope := range scopes {
				set[scope] = struct{}{}
			}
			continue
		}
		for _, scopes := range p.Scopes {
			for _, scope := range scopes {
				if strings.Contains(scope, match) {
					set[scope] = struct{}{}
				}
			}
		}
	}

	resolved := make([]string, 0, len(set))
	for scope := range set {
		resolved = append(resolved, scope)
	}
	sort.Strings(resolved)
	return resolved
}

// Options carries shared infrastructure injected into every client.
type Options struct {
	Store      *tokens.Store
	Cache      *cache.Cache
	HTTPClient *http.Client
	Logger     *log.Logger
}

// Client binds one provider profile to a flow engine and a dispatcher. The
// typed provider clients embed it and add their endpoint methods.
type Client struct {
	Profile    Profile
	Engine     *auth.Engine
	Dispatcher *dispatch.Dispatcher
}

// NewClient wires a provider client from its profile and configuration:
// redirect backend selection, flow engine construction, and the dispatch
// pipeline (cache, rate limiter, HTTP).
func NewClient(profile Profile, cfg shared.ClientConfig, opts Options) (*Client, error) {
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	receiver, err := selectReceiver(cfg, logger)
	if err != nil {
		return nil, err
	}

	engine, err := auth.NewEngine(profile.Provider, cfg, auth.Options{
		Store:      opts.Store,
		Receiver:   receiver,
		HTTPClient: opts.HTTPClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	perSecond := cfg.RateLimit
	if perSecond <= 0 {
		perSecond = profile.RateLimit
	}

	dispatcher := dispatch.New(
		profile.Name, profile.BaseURL, engine, opts.Cache,
		ratelimit.New(perSecond), opts.HTTPClient, logger, profile.Hooks,
	)

	return &Client{Profile: profile, Engine: engine, Dispatcher: dispatcher}, nil
}

// selectReceiver picks the redirect backend: an explicit configuration wins,
// otherwise a loopback redirect URI gets the listener and everything else
// falls back to manual paste.
func selectReceiver(cfg shared.ClientConfig, logger *log.Logger) (auth.RedirectReceiver, error) {
	switch cfg.Backend {
	case "manual":
		return &auth.ManualReceiver{}, nil
	case "listener", "browser":
		return server.NewListenerReceiver(cfg.RedirectURI, logger)
	case "":
		if auth.LoopbackHost(cfg.RedirectURI) {
			return server.NewListenerReceiver(cfg.RedirectURI, logger)
		}
		return &auth.ManualReceiver{}, nil
	default:
		return nil, fmt.Errorf(
			"%w: unknown redirect backend %q", shared.ErrInvalidConfig, cfg.Backend,
		)
	}
}

// ByName returns the profile registered under the given provider name.
func ByName(name string) (Profile, error) {
	switch name {
	case "spotify":
		return SpotifyProfile(), nil
	case "deezer":
		return DeezerProfile(), nil
	case "qobuz":
		return QobuzProfile(), nil
	default:
		return Profile{}, fmt.Errorf("%w: unknown provider %q", shared.ErrInvalidArgument, name)
	}
}

// Names lists the registered provider names.
func Names() []string {
	return []string{"spotify", "deezer", "qobuz"}
}
