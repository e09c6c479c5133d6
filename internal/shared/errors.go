package shared

import (
	"fmt"
	"strings"
)

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")

	// Authorization flow errors
	ErrAuthorizationDenied = fmt.Errorf("authorization denied")
	ErrStateMismatch       = fmt.Errorf("state mismatch")
	ErrAuthentication      = fmt.Errorf("authentication failed")
	ErrNotAuthenticated    = fmt.Errorf("not authenticated")
	ErrTokenExpired        = fmt.Errorf("access token expired and not refreshable")
	ErrNoRefreshToken      = fmt.Errorf("no refresh token available")

	// Request dispatch errors
	ErrPermission        = fmt.Errorf("missing required scope")
	ErrRateLimitExceeded = fmt.Errorf("rate limit exceeded")
	ErrProviderAPI       = fmt.Errorf("provider API error")

	// Storage errors
	ErrStorage = fmt.Errorf("token storage failure")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// PermissionError reports an endpoint call made without every required
// authorization scope. It is raised before any network access.
type PermissionError struct {
	Endpoint string
	Missing  []string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf(
		"%s requires the %q scope(s)", e.Endpoint, strings.Join(e.Missing, ", "),
	)
}

func (e *PermissionError) Unwrap() error { return ErrPermission }

// ProviderAPIError carries a non-success upstream response. Code is the
// provider's own error code when it differs from the HTTP status (e.g.,
// Deezer's envelope codes); it is zero otherwise.
type ProviderAPIError struct {
	Provider string
	Endpoint string
	Status   int
	Code     int
	Message  string
}

func (e *ProviderAPIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf(
			"%s %s: %d (code %d): %s",
			e.Provider, e.Endpoint, e.Status, e.Code, e.Message,
		)
	}
	return fmt.Sprintf("%s %s: %d: %s", e.Provider, e.Endpoint, e.Status, e.Message)
}

func (e *ProviderAPIError) Unwrap() error { return ErrProviderAPI }
