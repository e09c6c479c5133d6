package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bbye98/minim/internal/providers"
	"github.com/bbye98/minim/internal/shared"
	"github.com/urfave/cli/v3"
)

// AuthLogin runs the configured authorization flow for a provider.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("provider")
	if name == "" {
		return fmt.Errorf("%w: provider name", shared.ErrMissingArgument)
	}

	if matches := cmd.String("scopes"); matches != "" {
		// Resolving scope categories requires rebuilding the client config,
		// so it happens before the client is memoized.
		profile, err := providers.ByName(name)
		if err != nil {
			return err
		}
		cfg := r.config.Provider(name)
		cfg.Scopes = profile.ResolveScopes(strings.Split(matches, ",")...)
		if r.config.Providers == nil {
			r.config.Providers = map[string]shared.ClientConfig{}
		}
		r.config.Providers[name] = cfg
	}

	client, err := r.client(name)
	if err != nil {
		return err
	}

	r.logger.Info("starting authorization", "provider", name)
	if err := client.Engine.Authorize(ctx); err != nil {
		return err
	}

	cred := client.Engine.Credential()
	r.writePlain("✓ Authorized with %s\n", name)
	if cred.UserIdentifier != "" {
		r.writePlain("Account: %s\n", cred.UserIdentifier)
	}
	if len(cred.Scopes) > 0 {
		r.writePlain("Scopes: %s\n", strings.Join(cred.Scopes, ", "))
	}
	return nil
}

// AuthStatus shows the credential state for a provider.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("provider")
	if name == "" {
		return fmt.Errorf("%w: provider name", shared.ErrMissingArgument)
	}

	client, err := r.client(name)
	if err != nil {
		return err
	}

	cred := client.Engine.Credential()
	state := client.Engine.State()

	r.writePlain("Provider: %s\n", name)
	r.writePlain("Flow: %s\n", cred.Flow)
	r.writePlain("State: %s\n", state)
	if cred.UserIdentifier != "" {
		r.writePlain("Account: %s\n", cred.UserIdentifier)
	}
	if !cred.ExpiresAt.IsZero() {
		r.writePlain("Expires: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	}
	if len(cred.Scopes) > 0 {
		r.writePlain("Scopes: %s\n", strings.Join(cred.Scopes, ", "))
	}
	return nil
}

// AuthLogout clears the in-memory credential and removes the stored token.
func (r *Runner) AuthLogout(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("provider")
	if name == "" {
		return fmt.Errorf("%w: provider name", shared.ErrMissingArgument)
	}

	client, err := r.client(name)
	if err != nil {
		return err
	}

	if err := client.Engine.Logout(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Logged out of %s\n", name)
}

// AuthScopes resolves scope categories and substrings against a provider's
// catalog.
func (r *Runner) AuthScopes(ctx context.Context, cmd *cli.Command) error {
	name := cmd.StringArg("provider")
	if name == "" {
		return fmt.Errorf("%w: provider name", shared.ErrMissingArgument)
	}

	profile, err := providers.ByName(name)
	if err != nil {
		return err
	}

	var matches []string
	if raw := cmd.StringArg("matches"); raw != "" {
		matches = strings.Split(raw, ",")
	}

	scopes := profile.ResolveScopes(matches...)
	if len(scopes) == 0 {
		return r.writePlain("no scopes match\n")
	}
	for _, scope := range scopes {
		r.writePlain("%s\n", scope)
	}
	return nil
}
