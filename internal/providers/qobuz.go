package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"

	"github.com/bbye98/minim/internal/auth"
	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/dispatch"
	"github.com/bbye98/minim/internal/shared"
)

const (
	qobuzAPIURL       = "https://www.qobuz.com/api.json/0.2"
	qobuzWebPlayerURL = "https://play.qobuz.com"

	qobuzIDLimit = 50
)

// The web player's login page references a versioned bundle that embeds the
// production application ID.
var (
	qobuzBundlePattern = regexp.MustCompile(`/resources/[^"]+/bundle\.js`)
	qobuzAppIDPattern  = regexp.MustCompile(`production:\{api:\{appId:"(.*?)",appSecret`)
)

// QobuzProfile returns the private Qobuz API profile. There is no OAuth
// surface: a user authentication token is minted from a browser session
// cookie, and every request carries X-App-Id and X-User-Auth-Token headers.
func QobuzProfile() Profile {
	return Profile{
		Provider: auth.Provider{
			Name:      "qobuz",
			EnvPrefix: "PRIVATE_QOBUZ_API",
			Flows:     []auth.Flow{auth.FlowTokenMint},
			Mint:      qobuzMint,
			ResolveIdentity: func(_ context.Context, _ *http.Client, c *auth.Credential) (string, error) {
				if id := c.Extras["user_id"]; id != "" {
					return id, nil
				}
				return "", fmt.Errorf("minted token carried no user ID")
			},
		},
		BaseURL:   qobuzAPIURL,
		RateLimit: 10,
		Hooks: dispatch.Hooks{
			Decorate: func(req *http.Request, cred auth.Credential) {
				req.Header.Set("X-App-Id", cred.ClientID)
				if cred.AccessToken != "" {
					req.Header.Set("X-User-Auth-Token", cred.AccessToken)
				}
			},
			ClassifyError: func(status int, body []byte) (int, string) {
				if status >= 200 && status < 300 {
					return 0, ""
				}
				var envelope struct {
					Status  string `json:"status"`
					Code    int    `json:"code"`
					Message string `json:"message"`
				}
				if err := json.Unmarshal(body, &envelope); err == nil && envelope.Message != "" {
					return envelope.Code, envelope.Message
				}
				return 0, http.StatusText(status)
			},
		},
	}
}

// qobuzMint obtains a user authentication token from a browser session
// cookie. The application ID is resolved from the web player bundle when not
// configured.
func qobuzMint(ctx context.Context, client *http.Client, c *auth.Credential) (*auth.TokenResult, error) {
	cookie, err := resolveSessionCookie(c.SessionCookie)
	if err != nil {
		return nil, err
	}

	if c.ClientID == "" {
		appID, err := resolveQobuzAppID(ctx, client)
		if err != nil {
			return nil, err
		}
		c.ClientID = appID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, qobuzAPIURL+"/user/login", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-App-Id", c.ClientID)
	req.Header.Set("Cookie", cookie)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login returned %d: %s", resp.StatusCode, body)
	}

	var login struct {
		UserAuthToken string `json:"user_auth_token"`
		User          struct {
			ID    int64  `json:"id"`
			Login string `json:"login"`
		} `json:"user"`
	}
	if err := json.Unmarshal(body, &login); err != nil {
		return nil, fmt.Errorf("failed to decode login response: %w", err)
	}
	if login.UserAuthToken == "" {
		return nil, fmt.Errorf("login response carried no user auth token")
	}

	return &auth.TokenResult{
		AccessToken: login.UserAuthToken,
		TokenType:   "Bearer",
		Extras: map[string]string{
			"app_id":  c.ClientID,
			"user_id": strconv.FormatInt(login.User.ID, 10),
		},
	}, nil
}

// resolveSessionCookie returns the configured cookie value. A value naming
// an existing file is treated as a browser-captured "Copy as cURL" dump and
// its Cookie header is extracted.
func resolveSessionCookie(value string) (string, error) {
	if value == "" {
		return "", fmt.Errorf("%w: session cookie", shared.ErrMissingCredentials)
	}
	if _, err := os.Stat(value); err != nil {
		return value, nil
	}

	parsed, err := shared.ParseCurlFile(value)
	if err != nil {
		return "", fmt.Errorf("failed to extract cookie from %s: %w", value, err)
	}
	if parsed.Cookie == "" {
		return "", fmt.Errorf("%w: %s carries no cookie", shared.ErrInvalidCredentials, value)
	}
	return parsed.Cookie, nil
}

// resolveQobuzAppID recovers the production application ID from the web
// player's JavaScript bundle.
func resolveQobuzAppID(ctx context.Context, client *http.Client) (string, error) {
	page, err := fetch(ctx, client, qobuzWebPlayerURL+"/login")
	if err != nil {
		return "", fmt.Errorf("failed to fetch web player login page: %w", err)
	}

	bundlePath := qobuzBundlePattern.FindString(string(page))
	if bundlePath == "" {
		return "", fmt.Errorf("no bundle reference on the login page")
	}

	bundle, err := fetch(ctx, client, qobuzWebPlayerURL+bundlePath)
	if err != nil {
		return "", fmt.Errorf("failed to fetch bundle: %w", err)
	}

	match := qobuzAppIDPattern.FindSubmatch(bundle)
	if match == nil {
		return "", fmt.Errorf("no application ID in bundle")
	}
	return string(match[1]), nil
}

func fetch(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// Qobuz is the private Qobuz API client facade.
type Qobuz struct {
	*Client
}

// NewQobuz creates a Qobuz client from configuration.
func NewQobuz(cfg shared.ClientConfig, opts Options) (*Qobuz, error) {
	client, err := NewClient(QobuzProfile(), cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Qobuz{Client: client}, nil
}

// GetTrack returns catalog information for a single track.
func (q *Qobuz) GetTrack(ctx context.Context, id int64) (json.RawMessage, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: track ID", shared.ErrMissingArgument)
	}
	resp, err := q.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "qobuz.get_track",
		Path:          "/track/get",
		Query:         url.Values{"track_id": {strconv.FormatInt(id, 10)}},
		Cacheable:     true,
		CacheCategory: cache.Static,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Search queries the catalog.
func (q *Qobuz) Search(ctx context.Context, query string, limit int) (json.RawMessage, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: search query", shared.ErrMissingArgument)
	}
	values := url.Values{"query": {query}}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	resp, err := q.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "qobuz.search",
		Path:          "/catalog/search",
		Query:         values,
		Cacheable:     true,
		CacheCategory: cache.Search,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Favorites returns the user's favorites of the given type (albums, tracks,
// or artists).
func (q *Qobuz) Favorites(ctx context.Context, kind string, limit, offset int) (json.RawMessage, error) {
	values := url.Values{}
	if kind != "" {
		values.Set("type", kind)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		values.Set("offset", strconv.Itoa(offset))
	}
	resp, err := q.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "qobuz.favorites",
		Path:          "/favorite/getUserFavorites",
		Query:         values,
		Cacheable:     true,
		CacheCategory: cache.User,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// AddFavoriteTracks adds tracks to the user's favorites and invalidates the
// cached favorite pages.
func (q *Qobuz) AddFavoriteTracks(ctx context.Context, ids any) error {
	joined, _, err := cache.ParseIDList(ids, qobuzIDLimit)
	if err != nil {
		return err
	}
	_, err = q.Dispatcher.Call(ctx, dispatch.Request{
		Name:        "qobuz.add_favorite_tracks",
		Method:      http.MethodPost,
		Path:        "/favorite/create",
		Query:       url.Values{"track_ids": {joined}},
		Invalidates: []string{"qobuz.favorites"},
	})
	return err
}
