package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bbye98/minim/internal/shared"
	"github.com/bbye98/minim/internal/tokens"
	_ "github.com/mattn/go-sqlite3"
)

// fakeReceiver satisfies RedirectReceiver with a canned response builder.
type fakeReceiver struct {
	calls   int
	receive func(authURL string, part RedirectPart) (url.Values, error)
}

func (f *fakeReceiver) Receive(_ context.Context, authURL string, part RedirectPart) (url.Values, error) {
	f.calls++
	return f.receive(authURL, part)
}

// echoState extracts the state parameter the engine embedded in the
// authorization URL, mimicking a provider that echoes it back.
func echoState(authURL string) string {
	parsed, err := url.Parse(authURL)
	if err != nil {
		return ""
	}
	return parsed.Query().Get("state")
}

// newTokenServer returns an httptest server answering token requests with a
// fixed JSON grant, counting the requests it serves.
func newTokenServer(t *testing.T, calls *atomic.Int64, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  token,
			"token_type":    "Bearer",
			"refresh_token": "refresh_" + token,
			"expires_in":    3600,
			"scope":         "user-library-read",
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestTokenStore(t *testing.T) *tokens.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := tokens.NewStore(db)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func testProvider(tokenURL string) Provider {
	return Provider{
		Name:      "testprov",
		EnvPrefix: "TESTPROV_API",
		AuthURL:   "https://auth.example.com/authorize",
		TokenURL:  tokenURL,
		Flows: []Flow{
			FlowClientCredentials, FlowAuthCode, FlowPKCE, FlowImplicit,
		},
	}
}

func TestNewEngine(t *testing.T) {
	base := shared.ClientConfig{
		Flow:         "auth_code",
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:8888/callback",
	}

	t.Run("Valid Configuration", func(t *testing.T) {
		engine, err := NewEngine(testProvider("https://token.example.com"), base, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if engine.State() != StateUnauthenticated {
			t.Errorf("expected unauthenticated state, got %s", engine.State())
		}
	})

	t.Run("Unknown Flow", func(t *testing.T) {
		cfg := base
		cfg.Flow = "device_code"
		_, err := NewEngine(testProvider(""), cfg, Options{})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Unsupported Flow", func(t *testing.T) {
		provider := testProvider("")
		provider.Flows = []Flow{FlowClientCredentials}
		_, err := NewEngine(provider, base, Options{})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Missing Client ID", func(t *testing.T) {
		cfg := base
		cfg.ClientID = ""
		_, err := NewEngine(testProvider(""), cfg, Options{})
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("Environment Credential Fallback", func(t *testing.T) {
		t.Setenv("TESTPROV_API_APP_ID", "env_client")
		t.Setenv("TESTPROV_API_APP_SECRET", "env_secret")

		cfg := base
		cfg.ClientID = ""
		cfg.ClientSecret = ""
		engine, err := NewEngine(testProvider(""), cfg, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if engine.Credential().ClientID != "env_client" {
			t.Errorf("expected env client ID, got %s", engine.Credential().ClientID)
		}
	})

	t.Run("Missing Secret For Auth Code", func(t *testing.T) {
		cfg := base
		cfg.ClientSecret = ""
		_, err := NewEngine(testProvider(""), cfg, Options{})
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})

	t.Run("PKCE Needs No Secret", func(t *testing.T) {
		cfg := base
		cfg.Flow = "pkce"
		cfg.ClientSecret = ""
		if _, err := NewEngine(testProvider(""), cfg, Options{}); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("Missing Redirect URI For Interactive Flow", func(t *testing.T) {
		cfg := base
		cfg.RedirectURI = ""
		_, err := NewEngine(testProvider(""), cfg, Options{})
		if !errors.Is(err, shared.ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})
}

func TestAuthorize(t *testing.T) {
	t.Run("Authorization Code Flow", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "access_1")

		receiver := &fakeReceiver{receive: func(authURL string, part RedirectPart) (url.Values, error) {
			if part != PartQuery {
				t.Errorf("expected query part, got %v", part)
			}
			return url.Values{"code": {"grant_code"}, "state": {echoState(authURL)}}, nil
		}}

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "auth_code",
			ClientID:     "client",
			ClientSecret: "secret",
			RedirectURI:  "http://localhost:8888/callback",
			Scopes:       []string{"user-library-read"},
		}, Options{Receiver: receiver})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		cred := engine.Credential()
		if cred.AccessToken != "access_1" {
			t.Errorf("expected access_1, got %s", cred.AccessToken)
		}
		if cred.RefreshToken != "refresh_access_1" {
			t.Errorf("expected refresh token, got %s", cred.RefreshToken)
		}
		if engine.State() != StateAuthorized {
			t.Errorf("expected authorized state, got %s", engine.State())
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 token request, got %d", calls.Load())
		}
	})

	t.Run("State Mismatch Short Circuits Before Exchange", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "never")

		receiver := &fakeReceiver{receive: func(_ string, _ RedirectPart) (url.Values, error) {
			return url.Values{"code": {"grant_code"}, "state": {"forged"}}, nil
		}}

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:        "pkce",
			ClientID:    "client",
			RedirectURI: "http://localhost:8888/callback",
		}, Options{Receiver: receiver})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		err = engine.Authorize(context.Background())
		if !errors.Is(err, shared.ErrStateMismatch) {
			t.Fatalf("expected ErrStateMismatch, got %v", err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected zero token requests, got %d", calls.Load())
		}
		if engine.State() != StateUnauthenticated {
			t.Errorf("expected unauthenticated state, got %s", engine.State())
		}
	})

	t.Run("Denial", func(t *testing.T) {
		receiver := &fakeReceiver{receive: func(_ string, _ RedirectPart) (url.Values, error) {
			return url.Values{"error": {"access_denied"}}, nil
		}}

		engine, err := NewEngine(testProvider("https://token.example.com"), shared.ClientConfig{
			Flow:        "pkce",
			ClientID:    "client",
			RedirectURI: "http://localhost:8888/callback",
		}, Options{Receiver: receiver})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); !errors.Is(err, shared.ErrAuthorizationDenied) {
			t.Errorf("expected ErrAuthorizationDenied, got %v", err)
		}
	})

	t.Run("Implicit Grant Reads Fragment", func(t *testing.T) {
		receiver := &fakeReceiver{receive: func(authURL string, part RedirectPart) (url.Values, error) {
			if part != PartFragment {
				t.Errorf("expected fragment part, got %v", part)
			}
			return url.Values{
				"access_token": {"frag_token"},
				"token_type":   {"Bearer"},
				"expires_in":   {"3600"},
				"state":        {echoState(authURL)},
			}, nil
		}}

		engine, err := NewEngine(testProvider(""), shared.ClientConfig{
			Flow:        "implicit",
			ClientID:    "client",
			RedirectURI: "http://localhost:8888/callback",
		}, Options{Receiver: receiver})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		cred := engine.Credential()
		if cred.AccessToken != "frag_token" {
			t.Errorf("expected frag_token, got %s", cred.AccessToken)
		}
		if cred.ExpiresAt.IsZero() {
			t.Error("expected a derived expiry")
		}
	})

	t.Run("Client Credentials", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "app_token")

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if engine.Credential().AccessToken != "app_token" {
			t.Errorf("expected app_token, got %s", engine.Credential().AccessToken)
		}
	})

	t.Run("Token Mint", func(t *testing.T) {
		provider := Provider{
			Name:  "mintprov",
			Flows: []Flow{FlowTokenMint},
			Mint: func(_ context.Context, _ *http.Client, c *Credential) (*TokenResult, error) {
				return &TokenResult{
					AccessToken: "minted",
					TokenType:   "Bearer",
					Extras:      map[string]string{"user_id": "42"},
				}, nil
			},
			ResolveIdentity: func(_ context.Context, _ *http.Client, c *Credential) (string, error) {
				return c.Extras["user_id"], nil
			},
		}

		engine, err := NewEngine(provider, shared.ClientConfig{
			Flow:          "token_mint",
			SessionCookie: "session=abc",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		cred := engine.Credential()
		if cred.AccessToken != "minted" {
			t.Errorf("expected minted token, got %s", cred.AccessToken)
		}
		if cred.UserIdentifier != "42" {
			t.Errorf("expected resolved identity, got %q", cred.UserIdentifier)
		}
	})

	t.Run("Token Mint Requires Session Cookie", func(t *testing.T) {
		provider := Provider{Name: "mintprov", Flows: []Flow{FlowTokenMint}}
		_, err := NewEngine(provider, shared.ClientConfig{Flow: "token_mint"}, Options{})
		if !errors.Is(err, shared.ErrMissingCredentials) {
			t.Errorf("expected ErrMissingCredentials, got %v", err)
		}
	})
}

func TestRefresh(t *testing.T) {
	t.Run("Single Flight", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "refreshed",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		t.Cleanup(srv.Close)

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:        "pkce",
			ClientID:    "client",
			RedirectURI: "http://localhost:8888/callback",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		engine.cred.AccessToken = "stale"
		engine.cred.RefreshToken = "refresh_1"
		engine.cred.ExpiresAt = time.Now().Add(-time.Minute)

		var wg sync.WaitGroup
		errs := make([]error, 5)
		for i := range errs {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs[i] = engine.Refresh(context.Background())
			}()
		}
		wg.Wait()

		for i, err := range errs {
			if err != nil {
				t.Errorf("caller %d: expected no error, got %v", i, err)
			}
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 refresh request, got %d", calls.Load())
		}
		if engine.Credential().AccessToken != "refreshed" {
			t.Errorf("expected refreshed token, got %s", engine.Credential().AccessToken)
		}
		// The provider kept the refresh token; the old one must survive.
		if engine.Credential().RefreshToken != "refresh_1" {
			t.Errorf("expected retained refresh token, got %s", engine.Credential().RefreshToken)
		}
	})

	t.Run("Interactive Flow Without Refresh Token", func(t *testing.T) {
		engine, err := NewEngine(testProvider(""), shared.ClientConfig{
			Flow:        "implicit",
			ClientID:    "client",
			RedirectURI: "http://localhost:8888/callback",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		engine.cred.AccessToken = "stale"
		engine.cred.ExpiresAt = time.Now().Add(-time.Minute)

		if err := engine.Refresh(context.Background()); !errors.Is(err, shared.ErrTokenExpired) {
			t.Errorf("expected ErrTokenExpired, got %v", err)
		}
	})

	t.Run("Non Interactive Flow Rerequests", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "app_token_2")

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		engine.cred.AccessToken = "stale"
		engine.cred.ExpiresAt = time.Now().Add(-time.Minute)

		if err := engine.Refresh(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if engine.Credential().AccessToken != "app_token_2" {
			t.Errorf("expected a fresh token, got %s", engine.Credential().AccessToken)
		}
	})
}

// flakyTransport fails the first n round trips with a network error, then
// delegates to the default transport.
type flakyTransport struct {
	failures atomic.Int64
	n        int64
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if f.failures.Add(1) <= f.n {
		return nil, fmt.Errorf("connection reset")
	}
	return http.DefaultTransport.RoundTrip(req)
}

func TestRetry(t *testing.T) {
	t.Run("Transient Failure Retried Once", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "after_retry")

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{HTTPClient: &http.Client{Transport: &flakyTransport{n: 1}}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if engine.Credential().AccessToken != "after_retry" {
			t.Errorf("expected token from retry, got %s", engine.Credential().AccessToken)
		}
	})

	t.Run("Persistent Failure Surfaces", func(t *testing.T) {
		engine, err := NewEngine(testProvider("http://127.0.0.1:1"), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{HTTPClient: &http.Client{Transport: &flakyTransport{n: 1 << 30}}})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); !errors.Is(err, shared.ErrAuthentication) {
			t.Errorf("expected ErrAuthentication, got %v", err)
		}
	})

	t.Run("Provider Rejection Not Retried", func(t *testing.T) {
		var calls atomic.Int64
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, `{"error":"invalid_client"}`, http.StatusBadRequest)
		}))
		t.Cleanup(srv.Close)

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.Authorize(context.Background()); err == nil {
			t.Fatal("expected error for rejected credentials")
		}
		if calls.Load() != 1 {
			t.Errorf("expected 1 token request for a provider rejection, got %d", calls.Load())
		}
	})
}

func TestStoredTokens(t *testing.T) {
	seed := func(t *testing.T, store *tokens.Store, user, token string) {
		t.Helper()
		err := store.Put(&tokens.Record{
			Provider:       "testprov",
			Flow:           "pkce",
			ClientID:       "client",
			UserIdentifier: user,
			TokenType:      "Bearer",
			AccessToken:    token,
			RefreshToken:   "stored_refresh",
			ExpiresAt:      time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("failed to seed store: %v", err)
		}
	}

	cfg := shared.ClientConfig{
		Flow:        "pkce",
		ClientID:    "client",
		RedirectURI: "http://localhost:8888/callback",
	}

	t.Run("Adopts Stored Token", func(t *testing.T) {
		store := newTestTokenStore(t)
		seed(t, store, "alice", "stored_token")

		engine, err := NewEngine(testProvider(""), cfg, Options{Store: store})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		cred := engine.Credential()
		if cred.AccessToken != "stored_token" {
			t.Errorf("expected adopted token, got %q", cred.AccessToken)
		}
		if cred.UserIdentifier != "alice" {
			t.Errorf("expected adopted identity, got %q", cred.UserIdentifier)
		}
		if engine.State() != StateAuthorized {
			t.Errorf("expected authorized state, got %s", engine.State())
		}
	})

	t.Run("Tilde Prefix Forces Reauthorization", func(t *testing.T) {
		store := newTestTokenStore(t)
		seed(t, store, "alice", "stored_token")

		tildeCfg := cfg
		tildeCfg.UserIdentifier = "~alice"
		engine, err := NewEngine(testProvider(""), tildeCfg, Options{Store: store})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if engine.Credential().AccessToken != "" {
			t.Error("expected the stored token to be bypassed")
		}
		if engine.Credential().UserIdentifier != "alice" {
			t.Errorf("expected stripped identifier, got %q", engine.Credential().UserIdentifier)
		}
		if engine.State() != StateUnauthenticated {
			t.Errorf("expected unauthenticated state, got %s", engine.State())
		}
	})

	t.Run("Persists After Authorization", func(t *testing.T) {
		store := newTestTokenStore(t)
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "fresh_token")

		receiver := &fakeReceiver{receive: func(authURL string, _ RedirectPart) (url.Values, error) {
			return url.Values{"code": {"grant"}, "state": {echoState(authURL)}}, nil
		}}

		engine, err := NewEngine(testProvider(srv.URL), cfg, Options{Store: store, Receiver: receiver})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := engine.Authorize(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		rec, err := store.Get("testprov", "pkce", "client", "")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rec == nil || rec.AccessToken != "fresh_token" {
			t.Errorf("expected persisted token, got %+v", rec)
		}
	})

	t.Run("Logout Removes Stored Token", func(t *testing.T) {
		store := newTestTokenStore(t)
		seed(t, store, "alice", "stored_token")

		engine, err := NewEngine(testProvider(""), cfg, Options{Store: store})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := engine.Logout(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if engine.State() != StateUnauthenticated {
			t.Errorf("expected unauthenticated state, got %s", engine.State())
		}
		rec, err := store.Get("testprov", "pkce", "client", "alice")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if rec != nil {
			t.Errorf("expected the stored token to be removed, got %+v", rec)
		}
	})
}

func TestSetAccessToken(t *testing.T) {
	t.Run("Rejects Refresh Token For Flows Without Refresh Path", func(t *testing.T) {
		engine, err := NewEngine(testProvider(""), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		err = engine.SetAccessToken("tok", "Bearer", "refresh", time.Now().Add(time.Hour))
		if !errors.Is(err, shared.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})

	t.Run("Accepts Token Directly", func(t *testing.T) {
		engine, err := NewEngine(testProvider(""), shared.ClientConfig{
			Flow:        "pkce",
			ClientID:    "client",
			RedirectURI: "http://localhost:8888/callback",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.SetAccessToken("tok", "", "refresh", time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		cred := engine.Credential()
		if cred.AccessToken != "tok" || cred.TokenType != "Bearer" {
			t.Errorf("unexpected credential: %+v", cred)
		}
		if engine.State() != StateAuthorized {
			t.Errorf("expected authorized state, got %s", engine.State())
		}
	})
}

func TestRequireScopes(t *testing.T) {
	engine, err := NewEngine(testProvider(""), shared.ClientConfig{
		Flow:        "pkce",
		ClientID:    "client",
		RedirectURI: "http://localhost:8888/callback",
		Scopes:      []string{"user-library-read"},
	}, Options{})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	t.Run("Granted", func(t *testing.T) {
		if err := engine.RequireScopes("op", "user-library-read"); err != nil {
			t.Errorf("expected no error, got %v", err)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		err := engine.RequireScopes("op", "user-library-read", "user-library-modify")
		if !errors.Is(err, shared.ErrPermission) {
			t.Fatalf("expected ErrPermission, got %v", err)
		}
		var permErr *shared.PermissionError
		if !errors.As(err, &permErr) {
			t.Fatal("expected a PermissionError")
		}
		if permErr.Endpoint != "op" || len(permErr.Missing) != 1 {
			t.Errorf("unexpected PermissionError: %+v", permErr)
		}
	})
}

func TestEnsureFresh(t *testing.T) {
	t.Run("Authorized Is A No Op", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "unused")

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		engine.cred.AccessToken = "live"
		engine.cred.ExpiresAt = time.Now().Add(time.Hour)

		if err := engine.EnsureFresh(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if calls.Load() != 0 {
			t.Errorf("expected no token requests, got %d", calls.Load())
		}
	})

	t.Run("Unauthenticated Authorizes", func(t *testing.T) {
		var calls atomic.Int64
		srv := newTokenServer(t, &calls, "first")

		engine, err := NewEngine(testProvider(srv.URL), shared.ClientConfig{
			Flow:         "client_credentials",
			ClientID:     "client",
			ClientSecret: "secret",
		}, Options{})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if err := engine.EnsureFresh(context.Background()); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if engine.Credential().AccessToken != "first" {
			t.Errorf("expected a token, got %q", engine.Credential().AccessToken)
		}
	})
}
