package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/bbye98/minim/internal/auth"
	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/dispatch"
	"github.com/bbye98/minim/internal/shared"
)

const (
	spotifyAPIURL   = "https://api.spotify.com/v1"
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"

	// The Web API caps most batch endpoints at 50 IDs per call.
	spotifyIDLimit = 50
)

// spotifyScopes groups the Web API authorization scopes by category.
var spotifyScopes = map[string][]string{
	"images": {"ugc-image-upload"},
	"connect": {
		"user-read-playback-state", "user-modify-playback-state",
		"user-read-currently-playing",
	},
	"playback": {"app-remote-control", "streaming"},
	"playlists": {
		"playlist-read-private", "playlist-read-collaborative",
		"playlist-modify-private", "playlist-modify-public",
	},
	"follow": {"user-follow-modify", "user-follow-read"},
	"history": {
		"user-read-playback-position", "user-top-read",
		"user-read-recently-played",
	},
	"library": {"user-library-modify", "user-library-read"},
	"users":   {"user-read-email", "user-read-private"},
}

// SpotifyProfile returns the Spotify Web API profile. A 401 response is the
// invalid-token signal; tokens travel as bearer headers.
func SpotifyProfile() Profile {
	return Profile{
		Provider: auth.Provider{
			Name:      "spotify",
			EnvPrefix: "SPOTIFY_WEB_API",
			AuthURL:   spotifyAuthURL,
			TokenURL:  spotifyTokenURL,
			Flows: []auth.Flow{
				auth.FlowClientCredentials, auth.FlowAuthCode,
				auth.FlowPKCE, auth.FlowImplicit,
			},
			ResolveIdentity: spotifyIdentity,
		},
		BaseURL:   spotifyAPIURL,
		RateLimit: 10,
		Scopes:    spotifyScopes,
		Hooks: dispatch.Hooks{
			ClassifyError: func(status int, body []byte) (int, string) {
				if status >= 200 && status < 300 {
					return 0, ""
				}
				var envelope struct {
					Error struct {
						Message string `json:"message"`
					} `json:"error"`
				}
				if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
					return 0, envelope.Error.Message
				}
				return 0, http.StatusText(status)
			},
		},
	}
}

// spotifyIdentity resolves the authorized user's Spotify ID from /me.
func spotifyIdentity(ctx context.Context, client *http.Client, c *auth.Credential) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spotifyAPIURL+"/me", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.TokenType+" "+c.AccessToken)

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("profile request returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var profile struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", fmt.Errorf("failed to decode profile: %w", err)
	}
	if profile.ID == "" {
		return "", fmt.Errorf("profile carried no user ID")
	}
	return profile.ID, nil
}

// Spotify is the Spotify Web API client facade.
type Spotify struct {
	*Client
}

// NewSpotify creates a Spotify client from configuration.
func NewSpotify(cfg shared.ClientConfig, opts Options) (*Spotify, error) {
	client, err := NewClient(SpotifyProfile(), cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Spotify{Client: client}, nil
}

// GetTrack returns catalog information for a single track.
func (s *Spotify) GetTrack(ctx context.Context, id string) (json.RawMessage, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: track ID", shared.ErrMissingArgument)
	}
	resp, err := s.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "spotify.get_track",
		Path:          "/tracks/" + url.PathEscape(id),
		Cacheable:     true,
		CacheCategory: cache.Static,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// GetTracks returns catalog information for up to 50 tracks.
func (s *Spotify) GetTracks(ctx context.Context, ids any) (json.RawMessage, error) {
	joined, _, err := cache.ParseIDList(ids, spotifyIDLimit)
	if err != nil {
		return nil, err
	}
	resp, err := s.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "spotify.get_tracks",
		Path:          "/tracks",
		Query:         url.Values{"ids": {joined}},
		Cacheable:     true,
		CacheCategory: cache.Static,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Search queries the catalog for the given item types.
func (s *Spotify) Search(ctx context.Context, query, types string, limit int) (json.RawMessage, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	values := url.Values{"q": {query}, "type": {types}}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	resp, err := s.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "spotify.search",
		Path:          "/search",
		Query:         values,
		Cacheable:     true,
		CacheCategory: cache.Search,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SavedTracks returns a page of the user's saved tracks.
func (s *Spotify) SavedTracks(ctx context.Context, limit, offset int) (json.RawMessage, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		values.Set("offset", strconv.Itoa(offset))
	}
	resp, err := s.Dispatcher.Call(ctx, dispatch.Request{
		Name:           "spotify.saved_tracks",
		Path:           "/me/tracks",
		Query:          values,
		RequiredScopes: []string{"user-library-read"},
		Cacheable:      true,
		CacheCategory:  cache.User,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// SaveTracks adds tracks to the user's library and invalidates the cached
// saved-track pages they stale.
func (s *Spotify) SaveTracks(ctx context.Context, ids any) error {
	joined, _, err := cache.ParseIDList(ids, spotifyIDLimit)
	if err != nil {
		return err
	}
	_, err = s.Dispatcher.Call(ctx, dispatch.Request{
		Name:           "spotify.save_tracks",
		Method:         http.MethodPut,
		Path:           "/me/tracks",
		Query:          url.Values{"ids": {joined}},
		RequiredScopes: []string{"user-library-modify"},
		Invalidates:    []string{"spotify.saved_tracks"},
	})
	return err
}
