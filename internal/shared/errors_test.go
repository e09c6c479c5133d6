package shared

import (
	"errors"
	"strings"
	"testing"
)

func TestErrors(t *testing.T) {
	t.Run("Permission Error Unwraps", func(t *testing.T) {
		err := error(&PermissionError{
			Endpoint: "spotify.saved_tracks",
			Missing:  []string{"user-library-read"},
		})
		if !errors.Is(err, ErrPermission) {
			t.Error("expected errors.Is to match ErrPermission")
		}
		if !strings.Contains(err.Error(), "user-library-read") {
			t.Errorf("expected the missing scope in the message, got %s", err)
		}

		var perm *PermissionError
		if !errors.As(err, &perm) || perm.Endpoint != "spotify.saved_tracks" {
			t.Error("expected errors.As to recover the endpoint")
		}
	})

	t.Run("Provider API Error Unwraps", func(t *testing.T) {
		err := error(&ProviderAPIError{
			Provider: "deezer",
			Endpoint: "deezer.get_track",
			Status:   200,
			Code:     300,
			Message:  "Invalid token",
		})
		if !errors.Is(err, ErrProviderAPI) {
			t.Error("expected errors.Is to match ErrProviderAPI")
		}
		if !strings.Contains(err.Error(), "code 300") {
			t.Errorf("expected the envelope code in the message, got %s", err)
		}

		plain := &ProviderAPIError{Provider: "spotify", Endpoint: "spotify.search", Status: 404, Message: "Not Found"}
		if strings.Contains(plain.Error(), "code") {
			t.Errorf("expected no code clause for plain HTTP errors, got %s", plain)
		}
	})
}
