package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bbye98/minim/internal/shared"
	"github.com/bbye98/minim/internal/tokens"
	"github.com/urfave/cli/v3"
)

// AccountsList lists stored tokens, most recently used first.
func (r *Runner) AccountsList(ctx context.Context, cmd *cli.Command) error {
	store := r.openStore()
	if store == nil {
		return fmt.Errorf("%w: token storage is unavailable", shared.ErrStorage)
	}

	filter := tokens.Filter{}
	if provider := cmd.String("provider"); provider != "" {
		filter.Providers = []string{provider}
	}

	records, err := store.List(filter)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		type entry struct {
			Provider       string    `json:"provider"`
			Flow           string    `json:"flow"`
			ClientID       string    `json:"client_id"`
			UserIdentifier string    `json:"user_identifier,omitempty"`
			Scopes         []string  `json:"scopes,omitempty"`
			ExpiresAt      time.Time `json:"expires_at,omitzero"`
			AccessedAt     time.Time `json:"accessed_at"`
		}
		entries := make([]entry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, entry{
				Provider:       rec.Provider,
				Flow:           rec.Flow,
				ClientID:       rec.ClientID,
				UserIdentifier: rec.UserIdentifier,
				Scopes:         rec.Scopes,
				ExpiresAt:      rec.ExpiresAt,
				AccessedAt:     rec.AccessedAt,
			})
		}
		return r.writeJSON(entries, true)
	}

	if len(records) == 0 {
		return r.writePlain("no stored tokens\n")
	}
	for _, rec := range records {
		user := rec.UserIdentifier
		if user == "" {
			user = "(no user)"
		}
		r.writePlain(
			"%s  %s  %s  %s  last used %s\n",
			rec.Provider, rec.Flow, rec.ClientID, user,
			rec.AccessedAt.Format(time.RFC3339),
		)
	}
	return nil
}

// AccountsRemove removes stored tokens matching the given filters. Removing
// everything requires the explicit --all flag.
func (r *Runner) AccountsRemove(ctx context.Context, cmd *cli.Command) error {
	store := r.openStore()
	if store == nil {
		return fmt.Errorf("%w: token storage is unavailable", shared.ErrStorage)
	}

	filter := tokens.Filter{}
	if provider := cmd.String("provider"); provider != "" {
		filter.Providers = []string{provider}
	}
	if flow := cmd.String("flow"); flow != "" {
		filter.Flows = []string{flow}
	}
	if clientID := cmd.String("client-id"); clientID != "" {
		filter.ClientIDs = []string{clientID}
	}
	if user := cmd.String("user"); user != "" {
		filter.UserIdentifiers = []string{user}
	}

	empty := len(filter.Providers) == 0 && len(filter.Flows) == 0 &&
		len(filter.ClientIDs) == 0 && len(filter.UserIdentifiers) == 0
	if empty && !cmd.Bool("all") {
		return fmt.Errorf(
			"%w: no filter given; pass --all to remove every stored token",
			shared.ErrMissingArgument,
		)
	}

	if err := store.Delete(filter); err != nil {
		return err
	}
	return r.writePlain("✓ Tokens removed\n")
}
