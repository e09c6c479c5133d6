package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bbye98/minim/internal/auth"
	"github.com/bbye98/minim/internal/cache"
	"github.com/bbye98/minim/internal/dispatch"
	"github.com/bbye98/minim/internal/shared"
)

const (
	deezerAPIURL   = "https://api.deezer.com"
	deezerAuthURL  = "https://connect.deezer.com/oauth/auth.php"
	deezerTokenURL = "https://connect.deezer.com/oauth/access_token.php"

	// deezerInvalidTokenCode is the envelope error code Deezer returns for a
	// rejected access token, regardless of the HTTP status.
	deezerInvalidTokenCode = 300
)

// deezerScopes lists the OAuth permissions, keyed by their own names so both
// exact and substring resolution work.
var deezerScopes = map[string][]string{
	"basic_access":      {"basic_access"},
	"email":             {"email"},
	"offline_access":    {"offline_access"},
	"manage_library":    {"manage_library"},
	"manage_community":  {"manage_community"},
	"delete_library":    {"delete_library"},
	"listening_history": {"listening_history"},
}

// DeezerProfile returns the Deezer API profile. Deezer deviates from
// standard OAuth in three ways: the authorization endpoint takes app_id and
// perms instead of client_id and scope, the token endpoint answers with a
// query string instead of JSON, and the access token travels as a query
// parameter on every request.
func DeezerProfile() Profile {
	return Profile{
		Provider: auth.Provider{
			Name:            "deezer",
			EnvPrefix:       "DEEZER_API",
			AuthURL:         deezerAuthURL,
			TokenURL:        deezerTokenURL,
			Flows:           []auth.Flow{auth.FlowAuthCode, auth.FlowImplicit},
			BuildAuthURL:    deezerAuthorizationURL,
			ExchangeCode:    deezerExchangeCode,
			ResolveIdentity: deezerIdentity,
		},
		BaseURL:   deezerAPIURL,
		RateLimit: 10,
		Scopes:    deezerScopes,
		Hooks: dispatch.Hooks{
			Decorate: func(req *http.Request, cred auth.Credential) {
				if cred.AccessToken == "" {
					return
				}
				q := req.URL.Query()
				q.Set("access_token", cred.AccessToken)
				req.URL.RawQuery = q.Encode()
			},
			InvalidToken: func(_ int, body []byte) bool {
				code, _ := deezerEnvelopeError(body)
				return code == deezerInvalidTokenCode
			},
			ClassifyError: func(status int, body []byte) (int, string) {
				if code, message := deezerEnvelopeError(body); code != 0 {
					return code, message
				}
				if status < 200 || status >= 300 {
					return 0, http.StatusText(status)
				}
				return 0, ""
			},
		},
	}
}

// deezerEnvelopeError extracts Deezer's error envelope. A zero code means
// the body carried no error.
func deezerEnvelopeError(body []byte) (int, string) {
	if !strings.Contains(string(body), "error") {
		return 0, ""
	}
	var envelope struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Code == 0 {
		return 0, ""
	}
	return envelope.Error.Code, envelope.Error.Type + " " + envelope.Error.Message
}

// deezerAuthorizationURL builds the authorization URL with Deezer's app_id
// and perms parameter naming.
func deezerAuthorizationURL(c *auth.Credential, state, _ string) string {
	params := url.Values{
		"app_id":       {c.ClientID},
		"redirect_uri": {c.RedirectURI},
		"perms":        {strings.Join(c.Scopes, ",")},
		"state":        {state},
	}
	if c.Flow == auth.FlowImplicit {
		params.Set("response_type", "token")
	}
	return deezerAuthURL + "?" + params.Encode()
}

// deezerExchangeCode posts the authorization code and parses the
// query-string token response.
func deezerExchangeCode(ctx context.Context, client *http.Client, c *auth.Credential, code string) (*auth.TokenResult, error) {
	return exchangeDeezerCode(ctx, client, deezerTokenURL, c, code)
}

func exchangeDeezerCode(ctx context.Context, client *http.Client, endpoint string, c *auth.Credential, code string) (*auth.TokenResult, error) {
	form := url.Values{
		"app_id": {c.ClientID},
		"secret": {c.ClientSecret},
		"code":   {code},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

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
		return nil, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, body)
	}

	values, err := url.ParseQuery(strings.TrimSpace(string(body)))
	if err != nil || values.Get("access_token") == "" {
		return nil, fmt.Errorf("token endpoint returned no access token: %s", body)
	}

	result := &auth.TokenResult{
		AccessToken: values.Get("access_token"),
		TokenType:   "Bearer",
		Scopes:      c.Scopes,
	}
	// expires=0 marks a non-expiring token (offline_access).
	if seconds, err := strconv.Atoi(values.Get("expires")); err == nil && seconds > 0 {
		result.ExpiresAt = time.Now().Add(time.Duration(seconds) * time.Second)
	}
	return result, nil
}

// deezerIdentity resolves the authorized user's Deezer ID from /user/me.
func deezerIdentity(ctx context.Context, client *http.Client, c *auth.Credential) (string, error) {
	endpoint := deezerAPIURL + "/user/me?access_token=" + url.QueryEscape(c.AccessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if code, message := deezerEnvelopeError(body); code != 0 {
		return "", fmt.Errorf("profile request failed: %d %s", code, message)
	}

	var profile struct {
		ID int64 `json:"id"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", fmt.Errorf("failed to decode profile: %w", err)
	}
	if profile.ID == 0 {
		return "", fmt.Errorf("profile carried no user ID")
	}
	return strconv.FormatInt(profile.ID, 10), nil
}

// Deezer is the Deezer API client facade.
type Deezer struct {
	*Client
}

// NewDeezer creates a Deezer client from configuration.
func NewDeezer(cfg shared.ClientConfig, opts Options) (*Deezer, error) {
	client, err := NewClient(DeezerProfile(), cfg, opts)
	if err != nil {
		return nil, err
	}
	return &Deezer{Client: client}, nil
}

// GetTrack returns catalog information for a single track.
func (d *Deezer) GetTrack(ctx context.Context, id int64) (json.RawMessage, error) {
	if id == 0 {
		return nil, fmt.Errorf("%w: track ID", shared.ErrMissingArgument)
	}
	resp, err := d.Dispatcher.Call(ctx, dispatch.Request{
		Name:          "deezer.get_track",
		Path:          "/track/" + strconv.FormatInt(id, 10),
		Cacheable:     true,
		CacheCategory: cache.Static,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// FavoriteTracks returns a page of the user's favorite tracks.
func (d *Deezer) FavoriteTracks(ctx context.Context, limit, index int) (json.RawMessage, error) {
	values := url.Values{}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	if index > 0 {
		values.Set("index", strconv.Itoa(index))
	}
	resp, err := d.Dispatcher.Call(ctx, dispatch.Request{
		Name:           "deezer.favorite_tracks",
		Path:           "/user/me/tracks",
		Query:          values,
		RequiredScopes: []string{"basic_access"},
		Cacheable:      true,
		CacheCategory:  cache.User,
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// AddFavoriteTrack adds a track to the user's favorites and invalidates the
// cached favorite pages.
func (d *Deezer) AddFavoriteTrack(ctx context.Context, id int64) error {
	if id == 0 {
		return fmt.Errorf("%w: track ID", shared.ErrMissingArgument)
	}
	_, err := d.Dispatcher.Call(ctx, dispatch.Request{
		Name:           "deezer.add_favorite_track",
		Method:         http.MethodPost,
		Path:           "/user/me/tracks",
		Query:          url.Values{"track_id": {strconv.FormatInt(id, 10)}},
		RequiredScopes: []string{"manage_library"},
		Invalidates:    []string{"deezer.favorite_tracks"},
	})
	return err
}
